/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubforge is the GitHub implementation of forge.Port. It
// authenticates either as a GitHub App installation (via ghinstallation)
// or, preferably, via short-lived octo-sts federated tokens scoped to a
// single org/repo and identity - the same pattern the teacher's
// reconcilers use to avoid holding a long-lived installation key per
// process.
package githubforge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v84/github"
	"github.com/octo-sts/app/pkg/octosts"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/argus-bot/argus/agents/executor/retry"
)

// Client is a forge.Port backed by the GitHub REST and GraphQL APIs.
// A single Client may serve many repositories; TokenSource decides
// which credential backs each outbound request.
type Client struct {
	rest        *github.Client
	graphql     *githubv4.Client
	retryConfig retry.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithRetryConfig overrides the exponential-backoff policy used for
// transient GitHub errors (rate limits, 5xx responses).
func WithRetryConfig(cfg retry.RetryConfig) Option {
	return func(c *Client) { c.retryConfig = cfg }
}

// NewWithTokenSource builds a Client around an oauth2.TokenSource, the
// shape both ghinstallation and octo-sts federated credentials satisfy.
func NewWithTokenSource(ts oauth2.TokenSource, opts ...Option) *Client {
	httpClient := oauth2.NewClient(context.Background(), ts)
	c := &Client{
		rest:        github.NewClient(httpClient),
		graphql:     githubv4.NewClient(httpClient),
		retryConfig: retry.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromOctoSTS builds a Client authenticated with a short-lived
// octo-sts federated token scoped to identity against org/repo. This is
// the preferred credential: it never materializes a long-lived
// installation private key in the process.
func NewFromOctoSTS(ctx context.Context, identity, org, repo string, opts ...Option) (*Client, error) {
	ts, err := octosts.TokenSource(ctx, identity, org, repo)
	if err != nil {
		return nil, fmt.Errorf("octo-sts token source for identity %q (%s/%s): %w", identity, org, repo, err)
	}
	return NewWithTokenSource(ts, opts...), nil
}

// NewFromAppInstallation builds a Client authenticated as a GitHub App
// installation using a private key held in memory - the fallback path
// for deployments without an octo-sts issuer available.
func NewFromAppInstallation(appID, installationID int64, privateKeyPEM []byte, opts ...Option) (*Client, error) {
	tr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("building installation transport: %w", err)
	}
	httpClient := &http.Client{Transport: tr}
	c := &Client{
		rest:        github.NewClient(httpClient),
		graphql:     githubv4.NewClient(httpClient),
		retryConfig: retry.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func isRetryableGitHubError(err error) bool {
	if err == nil {
		return false
	}
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return true
	}
	var resp *github.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		return resp.Response.StatusCode >= 500
	}
	return false
}
