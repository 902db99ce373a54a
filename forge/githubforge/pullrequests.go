/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubforge

import (
	"context"
	"fmt"

	"github.com/google/go-github/v84/github"

	"github.com/argus-bot/argus/agents/executor/retry"
	"github.com/argus-bot/argus/forge"
)

func (c *Client) ListOpenPullRequests(ctx context.Context, repo forge.RepoRef) ([]forge.PullRequest, error) {
	opts := &github.PullRequestListOptions{State: "open", ListOptions: github.ListOptions{PerPage: 100}}

	var all []forge.PullRequest
	for {
		prs, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_list_open_prs", isRetryableGitHubError, func() ([]*github.PullRequest, error) {
			prs, resp, err := c.rest.PullRequests.List(ctx, repo.Owner, repo.Name, opts)
			if err != nil {
				return nil, err
			}
			opts.ListOptions.Page = resp.NextPage
			return prs, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing open pull requests for %s/%s: %w", repo.Owner, repo.Name, err)
		}
		for _, gp := range prs {
			all = append(all, toPullRequest(gp))
		}
		if opts.ListOptions.Page == 0 {
			break
		}
	}
	return all, nil
}

// ListPullRequestsForIssue finds pull requests that reference issueNumber
// via GitHub's "Fixes #N" / "Closes #N" linking convention. The REST API
// has no direct issue-to-PR index, so this searches instead.
func (c *Client) ListPullRequestsForIssue(ctx context.Context, repo forge.RepoRef, issueNumber int) ([]forge.PullRequest, error) {
	query := fmt.Sprintf("repo:%s/%s type:pr in:body %d", repo.Owner, repo.Name, issueNumber)
	result, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_search_prs_for_issue", isRetryableGitHubError, func() (*github.IssuesSearchResult, error) {
		result, _, err := c.rest.Search.Issues(ctx, query, &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 50}})
		return result, err
	})
	if err != nil {
		return nil, fmt.Errorf("searching pull requests referencing %s/%s#%d: %w", repo.Owner, repo.Name, issueNumber, err)
	}

	var prs []forge.PullRequest
	for _, gi := range result.Issues {
		if !gi.IsPullRequest() {
			continue
		}
		pr, err := c.GetPullRequest(ctx, repo, gi.GetNumber())
		if err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	return prs, nil
}

func (c *Client) GetPullRequest(ctx context.Context, repo forge.RepoRef, number int) (forge.PullRequest, error) {
	gp, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_get_pr", isRetryableGitHubError, func() (*github.PullRequest, error) {
		gp, _, err := c.rest.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
		return gp, err
	})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("getting pull request %s/%s#%d: %w", repo.Owner, repo.Name, number, err)
	}
	return toPullRequest(gp), nil
}

func (c *Client) ListConversationComments(ctx context.Context, repo forge.RepoRef, number int) ([]forge.Comment, error) {
	return c.ListIssueComments(ctx, repo, number)
}

func (c *Client) ListReviewComments(ctx context.Context, repo forge.RepoRef, number int) ([]forge.Comment, error) {
	opts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}

	var all []forge.Comment
	for {
		comments, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_list_review_comments", isRetryableGitHubError, func() ([]*github.PullRequestComment, error) {
			comments, resp, err := c.rest.PullRequests.ListComments(ctx, repo.Owner, repo.Name, number, opts)
			if err != nil {
				return nil, err
			}
			opts.ListOptions.Page = resp.NextPage
			return comments, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing review comments for %s/%s#%d: %w", repo.Owner, repo.Name, number, err)
		}
		for _, gc := range comments {
			all = append(all, forge.Comment{
				ID:          gc.GetID(),
				Author:      gc.GetUser().GetLogin(),
				Body:        gc.GetBody(),
				CreatedAt:   gc.GetCreatedAt().Time,
				Path:        gc.GetPath(),
				Line:        gc.GetLine(),
				Side:        gc.GetSide(),
				DiffHunk:    gc.GetDiffHunk(),
				InReplyToID: gc.GetInReplyTo(),
			})
		}
		if opts.ListOptions.Page == 0 {
			break
		}
	}
	return all, nil
}

func (c *Client) ListPullRequestFiles(ctx context.Context, repo forge.RepoRef, number int) ([]forge.File, error) {
	opts := &github.ListOptions{PerPage: 100}

	var all []forge.File
	for {
		files, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_list_pr_files", isRetryableGitHubError, func() ([]*github.CommitFile, error) {
			files, resp, err := c.rest.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, number, opts)
			if err != nil {
				return nil, err
			}
			opts.Page = resp.NextPage
			return files, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing changed files for %s/%s#%d: %w", repo.Owner, repo.Name, number, err)
		}
		for _, f := range files {
			all = append(all, forge.File{
				Path:      f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if opts.Page == 0 {
			break
		}
	}
	return all, nil
}

func (c *Client) CreatePullRequest(ctx context.Context, repo forge.RepoRef, title, body, head, base string, draft bool) (forge.PullRequest, error) {
	gp, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_create_pr", isRetryableGitHubError, func() (*github.PullRequest, error) {
		gp, _, err := c.rest.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
			Title: github.Ptr(title),
			Body:  github.Ptr(body),
			Head:  github.Ptr(head),
			Base:  github.Ptr(base),
			Draft: github.Ptr(draft),
		})
		return gp, err
	})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("creating pull request %s -> %s on %s/%s: %w", head, base, repo.Owner, repo.Name, err)
	}
	return toPullRequest(gp), nil
}

func (c *Client) AddPullRequestComment(ctx context.Context, repo forge.RepoRef, number int, body string) (forge.Comment, error) {
	return c.AddComment(ctx, repo, number, body)
}

func (c *Client) UpdatePullRequestBody(ctx context.Context, repo forge.RepoRef, number int, body string) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_update_pr_body", isRetryableGitHubError, func() (*github.PullRequest, error) {
		gp, _, err := c.rest.PullRequests.Edit(ctx, repo.Owner, repo.Name, number, &github.PullRequest{Body: github.Ptr(body)})
		return gp, err
	})
	if err != nil {
		return fmt.Errorf("updating body of pull request %s/%s#%d: %w", repo.Owner, repo.Name, number, err)
	}
	return nil
}

func toPullRequest(gp *github.PullRequest) forge.PullRequest {
	labels := make([]string, 0, len(gp.Labels))
	for _, l := range gp.Labels {
		labels = append(labels, l.GetName())
	}
	var mergeable *bool
	if gp.Mergeable != nil {
		m := gp.GetMergeable()
		mergeable = &m
	}
	return forge.PullRequest{
		Number:    gp.GetNumber(),
		Title:     gp.GetTitle(),
		Body:      gp.GetBody(),
		State:     gp.GetState(),
		Draft:     gp.GetDraft(),
		HeadRef:   gp.GetHead().GetRef(),
		BaseRef:   gp.GetBase().GetRef(),
		HeadSHA:   gp.GetHead().GetSHA(),
		Labels:    labels,
		Author:    gp.GetUser().GetLogin(),
		Mergeable: mergeable,
		HTMLURL:   gp.GetHTMLURL(),
		CreatedAt: gp.GetCreatedAt().Time,
		UpdatedAt: gp.GetUpdatedAt().Time,
	}
}
