/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubforge

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"

	"github.com/argus-bot/argus/agents/executor/retry"
	"github.com/argus-bot/argus/forge"
)

func (c *Client) SearchCode(ctx context.Context, repo forge.RepoRef, query string) ([]forge.File, error) {
	fullQuery := fmt.Sprintf("repo:%s/%s %s", repo.Owner, repo.Name, query)
	result, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_search_code", isRetryableGitHubError, func() (*github.CodeSearchResult, error) {
		result, _, err := c.rest.Search.Code(ctx, fullQuery, &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 100}})
		return result, err
	})
	if err != nil {
		return nil, fmt.Errorf("searching code in %s/%s for %q: %w", repo.Owner, repo.Name, query, err)
	}

	files := make([]forge.File, 0, len(result.CodeResults))
	for _, r := range result.CodeResults {
		files = append(files, forge.File{Path: r.GetPath()})
	}
	return files, nil
}

func (c *Client) GetRepoRole(ctx context.Context, repo forge.RepoRef, user string) (forge.Role, error) {
	perm, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_permission_level", isRetryableGitHubError, func() (*github.RepositoryPermissionLevel, error) {
		perm, _, err := c.rest.Repositories.GetPermissionLevel(ctx, repo.Owner, repo.Name, user)
		return perm, err
	})
	if err != nil {
		var ge *github.ErrorResponse
		if errors.As(err, &ge) && ge.Response != nil && ge.Response.StatusCode == 404 {
			return forge.RoleNone, nil
		}
		return forge.RoleNone, fmt.Errorf("getting permission level for %s on %s/%s: %w", user, repo.Owner, repo.Name, err)
	}
	return forge.MapRole(perm.GetPermission()), nil
}

// GetUserHistory aggregates a user's prior standing against this repo
// from search, since neither REST nor GraphQL expose a single endpoint
// for "this user's track record here."
func (c *Client) GetUserHistory(ctx context.Context, repo forge.RepoRef, user string) (forge.UserHistory, error) {
	merged, err := c.countSearchResults(ctx, fmt.Sprintf("repo:%s/%s type:pr author:%s is:merged", repo.Owner, repo.Name, user))
	if err != nil {
		return forge.UserHistory{}, fmt.Errorf("counting merged PRs for %s on %s/%s: %w", user, repo.Owner, repo.Name, err)
	}
	closedIssues, err := c.countSearchResults(ctx, fmt.Sprintf("repo:%s/%s type:issue author:%s is:closed", repo.Owner, repo.Name, user))
	if err != nil {
		return forge.UserHistory{}, fmt.Errorf("counting closed issues for %s on %s/%s: %w", user, repo.Owner, repo.Name, err)
	}
	comments, err := c.countSearchResults(ctx, fmt.Sprintf("repo:%s/%s commenter:%s", repo.Owner, repo.Name, user))
	if err != nil {
		return forge.UserHistory{}, fmt.Errorf("counting comments for %s on %s/%s: %w", user, repo.Owner, repo.Name, err)
	}
	return forge.UserHistory{MergedPRs: merged, ClosedValidIssues: closedIssues, TotalComments: comments}, nil
}

func (c *Client) countSearchResults(ctx context.Context, query string) (int, error) {
	result, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_search_issues_count", isRetryableGitHubError, func() (*github.IssuesSearchResult, error) {
		result, _, err := c.rest.Search.Issues(ctx, query, &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 1}})
		return result, err
	})
	if err != nil {
		return 0, err
	}
	return result.GetTotal(), nil
}

func (c *Client) DeleteComment(ctx context.Context, repo forge.RepoRef, commentID int64) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_delete_comment", isRetryableGitHubError, func() (*github.Response, error) {
		return c.rest.Issues.DeleteComment(ctx, repo.Owner, repo.Name, commentID)
	})
	if err != nil {
		return fmt.Errorf("deleting comment %d on %s/%s: %w", commentID, repo.Owner, repo.Name, err)
	}
	return nil
}

// BlockUser blocks user at the organization level - GitHub has no
// repo-scoped block, only Organizations.BlockUser against the owner org.
// Calling this against a personal-account repo.Owner will fail; callers
// should treat that failure as "moderation unsupported here," not a
// transient error.
func (c *Client) BlockUser(ctx context.Context, repo forge.RepoRef, user string) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_block_user", isRetryableGitHubError, func() (*github.Response, error) {
		return c.rest.Organizations.BlockUser(ctx, repo.Owner, user)
	})
	if err != nil {
		return fmt.Errorf("blocking %s at org %s: %w", user, repo.Owner, err)
	}
	return nil
}

func (c *Client) UnblockUser(ctx context.Context, repo forge.RepoRef, user string) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_unblock_user", isRetryableGitHubError, func() (*github.Response, error) {
		return c.rest.Organizations.UnblockUser(ctx, repo.Owner, user)
	})
	if err != nil {
		return fmt.Errorf("unblocking %s at org %s: %w", user, repo.Owner, err)
	}
	return nil
}

// ReportUser has no native GitHub primitive: there is no "report this
// user to platform trust & safety" API call available to an app
// installation. This logs the report for audit purposes and returns
// forge.ErrAdvisoryOnly so callers can distinguish "recorded but not
// enforced" from an actual failure and proceed rather than retry.
func (c *Client) ReportUser(ctx context.Context, repo forge.RepoRef, user, reason string) error {
	clog.FromContext(ctx).Warnf("advisory report for %s on %s/%s: %s", user, repo.Owner, repo.Name, reason)
	return fmt.Errorf("reporting %s on %s/%s: %w", user, repo.Owner, repo.Name, forge.ErrAdvisoryOnly)
}

func (c *Client) ValidateTokenScopes(ctx context.Context, repo forge.RepoRef) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_validate_token", isRetryableGitHubError, func() (*github.Repository, error) {
		gr, _, err := c.rest.Repositories.Get(ctx, repo.Owner, repo.Name)
		return gr, err
	})
	if err != nil {
		return fmt.Errorf("validating token scopes against %s/%s: %w", repo.Owner, repo.Name, err)
	}
	return nil
}
