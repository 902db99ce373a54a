/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package googlellm implements llm.Port against the Gemini API. It is a
// single-turn, tool-free client: every caller hands Send the full
// message history and gets back the complete text reply.
package googlellm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"google.golang.org/genai"

	"github.com/argus-bot/argus/agents/agenttrace"
	"github.com/argus-bot/argus/agents/executor/retry"
	"github.com/argus-bot/argus/agents/metrics"
	"github.com/argus-bot/argus/llm"
)

// Client implements llm.Port using the Gemini API.
type Client struct {
	client          *genai.Client
	model           string
	temperature     float32
	maxOutputTokens int32
	retryConfig     retry.RetryConfig
	genaiMetrics    *metrics.GenAI
}

// Option configures a Client.
type Option func(*Client) error

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) error {
		if !strings.HasPrefix(model, "gemini-") {
			return fmt.Errorf("model %q does not appear to be a Gemini model (expected gemini-* format)", model)
		}
		c.model = model
		return nil
	}
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(temperature float32) Option {
	return func(c *Client) error {
		if temperature < 0.0 || temperature > 2.0 {
			return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", temperature)
		}
		c.temperature = temperature
		return nil
	}
}

// WithMaxOutputTokens overrides the default response token budget.
func WithMaxOutputTokens(tokens int32) Option {
	return func(c *Client) error {
		if tokens <= 0 || tokens > 32768 {
			return fmt.Errorf("max output tokens must be in (0, 32768], got %d", tokens)
		}
		c.maxOutputTokens = tokens
		return nil
	}
}

// WithRetryConfig overrides the default retry behavior for transient
// Gemini API errors (rate limit, resource exhausted, overloaded).
func WithRetryConfig(cfg retry.RetryConfig) Option {
	return func(c *Client) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.retryConfig = cfg
		return nil
	}
}

// New creates a Client wrapping the given Gemini SDK client.
func New(genaiClient *genai.Client, opts ...Option) (*Client, error) {
	c := &Client{
		client:          genaiClient,
		model:           "gemini-2.5-flash",
		temperature:     0.1,
		maxOutputTokens: 8192,
		retryConfig:     retry.DefaultRetryConfig(),
		genaiMetrics:    metrics.NewGenAI("chainguard.ai.agents"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	return c, nil
}

var _ llm.Port = (*Client)(nil)

// Send implements llm.Port. The first llm.RoleSystem message, if any,
// becomes the system instruction; every other message becomes a turn
// in the content history, in order.
func (c *Client) Send(ctx context.Context, messages []llm.Message) (text string, err error) {
	log := clog.FromContext(ctx)

	trace := agenttrace.StartTrace[string](ctx, summarizeMessages(messages))
	defer func() { trace.Complete(text, err) }()

	var system string
	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case llm.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(history) == 0 {
		return "", errors.New("googlellm: no user or assistant turns in message history")
	}

	config := &genai.GenerateContentConfig{
		Temperature:     ptr(c.temperature),
		MaxOutputTokens: c.maxOutputTokens,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	log.With("model", c.model).With("turns", len(history)).Info("sending Gemini request")

	resp, err := retry.RetryWithBackoff(ctx, c.retryConfig, "google_send", isRetryableVertexError, func() (*genai.GenerateContentResponse, error) {
		return c.client.Models.GenerateContent(ctx, c.model, history, config)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("googlellm: no content in response")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if !part.Thought && part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return "", errors.New("googlellm: empty text response")
	}

	if resp.UsageMetadata != nil {
		c.genaiMetrics.RecordTokens(ctx, c.model, int64(resp.UsageMetadata.PromptTokenCount), int64(resp.UsageMetadata.CandidatesTokenCount))
		trace.RecordTokenUsage(c.model, int64(resp.UsageMetadata.PromptTokenCount), int64(resp.UsageMetadata.CandidatesTokenCount))
	}
	return text, nil
}

// summarizeMessages renders a short prompt label for the trace without
// carrying the full conversation into span/log storage.
func summarizeMessages(messages []llm.Message) string {
	if len(messages) == 0 {
		return ""
	}
	last := messages[len(messages)-1].Content
	const max = 200
	if len(last) > max {
		return last[:max] + "...[truncated]"
	}
	return last
}

func ptr[T any](v T) *T { return &v }

// isRetryableVertexError reports whether err is a transient Gemini /
// Vertex AI error (rate limit, resource exhaustion, overloaded).
func isRetryableVertexError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Resource exhausted") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "Overloaded") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "Internal error") ||
		strings.Contains(errStr, "server error")
}
