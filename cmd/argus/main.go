/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main wires Argus's identity layer, forge client, LLM
// provider, and orchestrator together and runs the per-repository
// polling loops until an operator stops the process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/sethvargo/go-envconfig"
	"google.golang.org/genai"

	"github.com/argus-bot/argus/crypto"
	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/forge/githubforge"
	"github.com/argus-bot/argus/llm"
	"github.com/argus-bot/argus/llm/anthropicllm"
	"github.com/argus-bot/argus/llm/googlellm"
	"github.com/argus-bot/argus/loopdetector"
	"github.com/argus-bot/argus/pipeline"
	"github.com/argus-bot/argus/security"
	"github.com/argus-bot/argus/store/memstore"
)

type config struct {
	// Repos is a comma-separated list of "owner/name" pairs to poll.
	Repos string `env:"ARGUS_REPOS,required"`

	// GitHub authentication. Prefer OctoIdentity; the app installation
	// credentials are the fallback for deployments without an octo-sts
	// issuer available, mirroring the teacher's reconciler wiring.
	OctoIdentity         string `env:"OCTO_IDENTITY"`
	GitHubAppID          int64  `env:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `env:"GITHUB_INSTALLATION_ID"`
	GitHubAppPrivateKey  string `env:"GITHUB_APP_PRIVATE_KEY"`

	// LLM provider selection: "anthropic" or "google". Empty disables the
	// LLM entirely, which the orchestrator treats as every call failing
	// with llm.ErrUnavailable - issues move to stuck rather than being
	// silently approved.
	LLMProvider  string `env:"ARGUS_LLM_PROVIDER,default=anthropic"`
	ClaudeModel  string `env:"ARGUS_CLAUDE_MODEL,default=claude-sonnet-4@20250514"`
	GeminiModel  string `env:"ARGUS_GEMINI_MODEL,default=gemini-2.0-flash"`
	GCPProjectID string `env:"GCP_PROJECT_ID"`
	GCPRegion    string `env:"GCP_REGION,default=us-central1"`

	MaxConcurrentIssues int64         `env:"ARGUS_MAX_CONCURRENT_ISSUES,default=3"`
	PollInterval        time.Duration `env:"ARGUS_POLL_INTERVAL,default=5m"`
	DryRun              bool          `env:"ARGUS_DRY_RUN,default=false"`

	NonceRetention time.Duration `env:"ARGUS_NONCE_RETENTION,default=168h"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	repos, err := parseRepos(cfg.Repos)
	if err != nil {
		clog.FatalContextf(ctx, "parsing ARGUS_REPOS: %v", err)
	}

	forgePort, err := newForgePort(ctx, &cfg, repos)
	if err != nil {
		clog.FatalContextf(ctx, "building forge client: %v", err)
	}

	llmPort, err := newLLMPort(ctx, &cfg)
	if err != nil {
		clog.FatalContextf(ctx, "building LLM client: %v", err)
	}
	if llmPort == nil {
		clog.WarnContextf(ctx, "no LLM provider configured; every merit/coding/moderation call will fail open or stay stuck")
	}

	kv := memstore.New()
	keys, err := crypto.LoadOrGenerate(ctx, kv, kv)
	if err != nil {
		clog.FatalContextf(ctx, "loading identity keys: %v", err)
	}
	clog.InfoContextf(ctx, "Argus instance %s ready", keys.InstanceID())

	nonces, err := crypto.NewNonceRegistry(ctx, kv, cfg.NonceRetention)
	if err != nil {
		clog.FatalContextf(ctx, "loading nonce registry: %v", err)
	}
	stamper := crypto.NewStamper(keys, nonces)

	auditLog, err := crypto.OpenAuditLog(ctx, kv, keys)
	if err != nil {
		clog.FatalContextf(ctx, "opening audit log: %v", err)
	}

	deps := pipeline.Deps{
		Forge:    forgePort,
		LLM:      llmPort,
		Resolver: security.NewResolver(),
		Keys:     keys,
		Stamper:  stamper,
		Audit:    auditLog,
		Loop:     loopdetector.NewTracker(stamper),
		Activity: pipeline.NewActivityLog(),
	}
	orchestrator := pipeline.New(deps, pipeline.Config{
		MaxConcurrentIssues: cfg.MaxConcurrentIssues,
		PollInterval:        cfg.PollInterval,
		DryRun:              cfg.DryRun,
	})

	clog.InfoContextf(ctx, "starting Argus over %d repositories (dry_run=%v, max_concurrent=%d, poll_interval=%s)",
		len(repos), cfg.DryRun, cfg.MaxConcurrentIssues, cfg.PollInterval)

	if err := orchestrator.Run(ctx, repos); err != nil && ctx.Err() == nil {
		clog.FatalContextf(ctx, "orchestrator exited: %v", err)
	}

	if err := auditLog.Verify(ctx); err != nil {
		clog.ErrorContextf(ctx, "audit chain verification failed at shutdown: %v", err)
	}
	clog.InfoContextf(ctx, "Argus stopped")
}

func parseRepos(spec string) ([]forge.RepoRef, error) {
	var repos []forge.RepoRef
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid repo %q, want owner/name", entry)
		}
		repos = append(repos, forge.RepoRef{Platform: "github", Owner: parts[0], Name: parts[1]})
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("no repositories named")
	}
	return repos, nil
}

// newForgePort prefers octo-sts federated credentials scoped to the
// first configured repo's org; a GitHub App installation token is the
// fallback when no octo-sts identity is set. A single Client serves
// every repo the process polls.
func newForgePort(ctx context.Context, cfg *config, repos []forge.RepoRef) (forge.Port, error) {
	if cfg.OctoIdentity != "" {
		client, err := githubforge.NewFromOctoSTS(ctx, cfg.OctoIdentity, repos[0].Owner, repos[0].Name)
		if err != nil {
			return nil, fmt.Errorf("octo-sts client: %w", err)
		}
		return client, nil
	}
	if cfg.GitHubAppID != 0 {
		client, err := githubforge.NewFromAppInstallation(cfg.GitHubAppID, cfg.GitHubInstallationID, []byte(cfg.GitHubAppPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("app installation client: %w", err)
		}
		return client, nil
	}
	return nil, fmt.Errorf("neither OCTO_IDENTITY nor GITHUB_APP_ID configured")
}

// newLLMPort builds the configured provider's client the same way the
// evaluation agents do: Claude and Gemini both authenticate through
// Vertex AI rather than a bare API key, so both branches need a GCP
// project and region.
func newLLMPort(ctx context.Context, cfg *config) (llm.Port, error) {
	switch cfg.LLMProvider {
	case "", "none":
		return nil, nil
	case "anthropic":
		if cfg.GCPProjectID == "" {
			return nil, fmt.Errorf("GCP_PROJECT_ID is required for the anthropic LLM provider")
		}
		anthropicClient := anthropic.NewClient(vertex.WithGoogleAuth(ctx, cfg.GCPRegion, cfg.GCPProjectID))
		client, err := anthropicllm.New(anthropicClient, anthropicllm.WithModel(cfg.ClaudeModel))
		if err != nil {
			return nil, fmt.Errorf("anthropic client: %w", err)
		}
		return client, nil
	case "google":
		if cfg.GCPProjectID == "" {
			return nil, fmt.Errorf("GCP_PROJECT_ID is required for the google LLM provider")
		}
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			Project: cfg.GCPProjectID, Location: cfg.GCPRegion, Backend: genai.BackendVertexAI,
		})
		if err != nil {
			return nil, fmt.Errorf("genai client: %w", err)
		}
		client, err := googlellm.New(genaiClient, googlellm.WithModel(cfg.GeminiModel))
		if err != nil {
			return nil, fmt.Errorf("google llm client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown ARGUS_LLM_PROVIDER %q", cfg.LLMProvider)
	}
}
