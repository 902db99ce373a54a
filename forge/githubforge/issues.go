/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubforge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v84/github"

	"github.com/argus-bot/argus/agents/executor/retry"
	"github.com/argus-bot/argus/forge"
)

func (c *Client) ListIssuesUpdatedSince(ctx context.Context, repo forge.RepoRef, since time.Time) ([]forge.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Since:       since,
		Sort:        "updated",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []forge.Issue
	for {
		issues, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_list_issues", isRetryableGitHubError, func() ([]*github.Issue, error) {
			issues, resp, err := c.rest.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
			if err != nil {
				return nil, err
			}
			opts.ListOptions.Page = resp.NextPage
			return issues, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing issues for %s/%s: %w", repo.Owner, repo.Name, err)
		}
		for _, gi := range issues {
			if gi.IsPullRequest() {
				continue
			}
			all = append(all, toIssue(gi))
		}
		if opts.ListOptions.Page == 0 {
			break
		}
	}
	return all, nil
}

func (c *Client) GetIssue(ctx context.Context, repo forge.RepoRef, number int) (forge.Issue, error) {
	gi, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_get_issue", isRetryableGitHubError, func() (*github.Issue, error) {
		gi, _, err := c.rest.Issues.Get(ctx, repo.Owner, repo.Name, number)
		return gi, err
	})
	if err != nil {
		return forge.Issue{}, fmt.Errorf("getting issue %s/%s#%d: %w", repo.Owner, repo.Name, number, err)
	}
	return toIssue(gi), nil
}

func (c *Client) ListIssueComments(ctx context.Context, repo forge.RepoRef, number int) ([]forge.Comment, error) {
	return c.listIssueComments(ctx, repo, number, nil)
}

func (c *Client) ListIssueCommentsSince(ctx context.Context, repo forge.RepoRef, number int, since time.Time) ([]forge.Comment, error) {
	return c.listIssueComments(ctx, repo, number, &since)
}

func (c *Client) listIssueComments(ctx context.Context, repo forge.RepoRef, number int, since *time.Time) ([]forge.Comment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	if since != nil {
		opts.Since = *since
	}

	var all []forge.Comment
	for {
		comments, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_list_issue_comments", isRetryableGitHubError, func() ([]*github.IssueComment, error) {
			comments, resp, err := c.rest.Issues.ListComments(ctx, repo.Owner, repo.Name, number, opts)
			if err != nil {
				return nil, err
			}
			opts.ListOptions.Page = resp.NextPage
			return comments, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing comments for %s/%s#%d: %w", repo.Owner, repo.Name, number, err)
		}
		for _, gc := range comments {
			all = append(all, forge.Comment{
				ID:        gc.GetID(),
				Author:    gc.GetUser().GetLogin(),
				Body:      gc.GetBody(),
				CreatedAt: gc.GetCreatedAt().Time,
			})
		}
		if opts.ListOptions.Page == 0 {
			break
		}
	}
	return all, nil
}

func (c *Client) AddLabel(ctx context.Context, repo forge.RepoRef, number int, label string) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_add_label", isRetryableGitHubError, func() (*github.Response, error) {
		_, resp, err := c.rest.Issues.AddLabelsToIssue(ctx, repo.Owner, repo.Name, number, []string{label})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("adding label %q to %s/%s#%d: %w", label, repo.Owner, repo.Name, number, err)
	}
	return nil
}

func (c *Client) RemoveLabel(ctx context.Context, repo forge.RepoRef, number int, label string) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_remove_label", isRetryableGitHubError, func() (*github.Response, error) {
		return c.rest.Issues.RemoveLabelForIssue(ctx, repo.Owner, repo.Name, number, label)
	})
	if err != nil {
		return fmt.Errorf("removing label %q from %s/%s#%d: %w", label, repo.Owner, repo.Name, number, err)
	}
	return nil
}

func (c *Client) AddComment(ctx context.Context, repo forge.RepoRef, number int, body string) (forge.Comment, error) {
	gc, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_add_comment", isRetryableGitHubError, func() (*github.IssueComment, error) {
		gc, _, err := c.rest.Issues.CreateComment(ctx, repo.Owner, repo.Name, number, &github.IssueComment{Body: github.Ptr(body)})
		return gc, err
	})
	if err != nil {
		return forge.Comment{}, fmt.Errorf("commenting on %s/%s#%d: %w", repo.Owner, repo.Name, number, err)
	}
	return forge.Comment{
		ID:        gc.GetID(),
		Author:    gc.GetUser().GetLogin(),
		Body:      gc.GetBody(),
		CreatedAt: gc.GetCreatedAt().Time,
	}, nil
}

func (c *Client) UpdateIssueBody(ctx context.Context, repo forge.RepoRef, number int, body string) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_update_issue_body", isRetryableGitHubError, func() (*github.Issue, error) {
		gi, _, err := c.rest.Issues.Edit(ctx, repo.Owner, repo.Name, number, &github.IssueRequest{Body: github.Ptr(body)})
		return gi, err
	})
	if err != nil {
		return fmt.Errorf("updating body of %s/%s#%d: %w", repo.Owner, repo.Name, number, err)
	}
	return nil
}

func (c *Client) ListRepoLabels(ctx context.Context, repo forge.RepoRef) ([]string, error) {
	opts := &github.ListOptions{PerPage: 100}
	var names []string
	for {
		labels, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_list_repo_labels", isRetryableGitHubError, func() ([]*github.Label, error) {
			labels, resp, err := c.rest.Issues.ListLabels(ctx, repo.Owner, repo.Name, opts)
			if err != nil {
				return nil, err
			}
			opts.Page = resp.NextPage
			return labels, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing labels for %s/%s: %w", repo.Owner, repo.Name, err)
		}
		for _, l := range labels {
			names = append(names, l.GetName())
		}
		if opts.Page == 0 {
			break
		}
	}
	return names, nil
}

func toIssue(gi *github.Issue) forge.Issue {
	labels := make([]string, 0, len(gi.Labels))
	for _, l := range gi.Labels {
		labels = append(labels, l.GetName())
	}
	return forge.Issue{
		Number:    gi.GetNumber(),
		Title:     gi.GetTitle(),
		Body:      gi.GetBody(),
		State:     gi.GetState(),
		Labels:    labels,
		Author:    gi.GetUser().GetLogin(),
		UpdatedAt: gi.GetUpdatedAt().Time,
		CreatedAt: gi.GetCreatedAt().Time,
	}
}
