/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package anthropicllm implements llm.Port against the Anthropic Messages
// API. It is a single-turn, tool-free client: every caller hands Send
// the full message history and gets back the complete text reply, with
// no dispatch loop in between.
package anthropicllm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"

	"github.com/argus-bot/argus/agents/agenttrace"
	"github.com/argus-bot/argus/agents/executor/retry"
	"github.com/argus-bot/argus/agents/metrics"
	"github.com/argus-bot/argus/llm"
)

// Client implements llm.Port using the Anthropic Messages API.
type Client struct {
	client       anthropic.Client
	model        string
	maxTokens    int64
	temperature  float64
	retryConfig  retry.RetryConfig
	genaiMetrics *metrics.GenAI
}

// Option configures a Client.
type Option func(*Client) error

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) error {
		if model == "" {
			return errors.New("model cannot be empty")
		}
		c.model = model
		return nil
	}
}

// WithMaxTokens overrides the default response token budget.
func WithMaxTokens(tokens int64) Option {
	return func(c *Client) error {
		if tokens <= 0 || tokens > 32000 {
			return fmt.Errorf("max tokens must be in (0, 32000], got %d", tokens)
		}
		c.maxTokens = tokens
		return nil
	}
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(temp float64) Option {
	return func(c *Client) error {
		if temp < 0.0 || temp > 1.0 {
			return fmt.Errorf("temperature must be between 0.0 and 1.0, got %f", temp)
		}
		c.temperature = temp
		return nil
	}
}

// WithRetryConfig overrides the default retry behavior for transient
// Claude API errors (rate limit, overloaded).
func WithRetryConfig(cfg retry.RetryConfig) Option {
	return func(c *Client) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.retryConfig = cfg
		return nil
	}
}

// New creates a Client wrapping the given Anthropic SDK client.
func New(anthropicClient anthropic.Client, opts ...Option) (*Client, error) {
	c := &Client{
		client:       anthropicClient,
		model:        "claude-sonnet-4@20250514",
		maxTokens:    8192,
		temperature:  0.1,
		retryConfig:  retry.DefaultRetryConfig(),
		genaiMetrics: metrics.NewGenAI("chainguard.ai.agents"),
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
// is lifted into the request's system slot; every other message is
// carried through as a user or assistant turn in order.
func (c *Client) Send(ctx context.Context, messages []llm.Message) (text string, err error) {
	log := clog.FromContext(ctx)

	trace := agenttrace.StartTrace[string](ctx, summarizeMessages(messages))
	defer func() { trace.Complete(text, err) }()

	var system string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case llm.RoleAssistant:
			turns = append(turns, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		default:
			turns = append(turns, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		}
	}
	if len(turns) == 0 {
		return "", errors.New("anthropicllm: no user or assistant turns in message history")
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages:    turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	log.With("model", c.model).With("turns", len(turns)).Info("sending Anthropic request")

	message, err := retry.RetryWithBackoff(ctx, c.retryConfig, "anthropic_send", isRetryableClaudeError, func() (anthropic.Message, error) {
		stream := c.client.Messages.NewStreaming(ctx, params)
		var msg anthropic.Message
		for stream.Next() {
			if err := msg.Accumulate(stream.Current()); err != nil {
				return msg, fmt.Errorf("accumulating stream event: %w", err)
			}
		}
		if err := stream.Err(); err != nil {
			return msg, err
		}
		return msg, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}

	for _, content := range message.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}
	if text == "" {
		return "", errors.New("anthropicllm: empty text response")
	}

	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		c.genaiMetrics.RecordTokens(ctx, c.model, message.Usage.InputTokens, message.Usage.OutputTokens)
		trace.RecordTokenUsage(c.model, message.Usage.InputTokens, message.Usage.OutputTokens)
	}
	return text, nil
}

// summarizeMessages renders a short prompt label for the trace without
// carrying the full (possibly sanitized-but-still-large) conversation
// into span/log storage.
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

// isRetryableClaudeError reports whether err is a transient Anthropic
// API error (rate limit, overloaded, transient server error).
func isRetryableClaudeError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 504, 529:
			return true
		}
	}
	return false
}
