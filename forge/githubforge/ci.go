/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubforge

import (
	"context"
	"fmt"

	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"

	"github.com/argus-bot/argus/agents/executor/retry"
	"github.com/argus-bot/argus/forge"
)

// gqlCheckRunNode mirrors the fields the orchestrator needs out of a
// CheckRun node; kept separate from forge.CheckRun so a GraphQL schema
// change never leaks into the port-neutral type.
type gqlCheckRunNode struct {
	DatabaseId githubv4.Int
	Name       githubv4.String
	Status     githubv4.String
	Conclusion githubv4.String
	DetailsUrl githubv4.String
	Title      githubv4.String
	Summary    githubv4.String
	Text       githubv4.String
}

type gqlCheckRunsConnection struct {
	PageInfo struct {
		HasNextPage githubv4.Boolean
		EndCursor   githubv4.String
	}
	Nodes []gqlCheckRunNode
}

// GetCombinedStatus fuses the legacy commit-status API with check-run
// state: either surface alone can miss coverage on repos migrated from
// one to the other mid-history.
func (c *Client) GetCombinedStatus(ctx context.Context, repo forge.RepoRef, ref string) (forge.CIStatus, error) {
	status, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_combined_status", isRetryableGitHubError, func() (*github.CombinedStatus, error) {
		status, _, err := c.rest.Repositories.GetCombinedStatus(ctx, repo.Owner, repo.Name, ref, &github.ListOptions{PerPage: 100})
		return status, err
	})
	if err != nil {
		return forge.CIStatus{}, fmt.Errorf("getting combined status for %s/%s@%s: %w", repo.Owner, repo.Name, ref, err)
	}

	runs, err := c.GetCheckRuns(ctx, repo, ref)
	if err != nil {
		return forge.CIStatus{}, err
	}

	if status.GetTotalCount() == 0 && len(runs) == 0 {
		return forge.CIStatus{State: "pending", NoCIFound: true}, nil
	}

	state := status.GetState()
	if state == "" {
		state = "pending"
	}
	for _, r := range runs {
		if r.Status != "completed" {
			state = "pending"
			break
		}
		if r.Conclusion != "" && r.Conclusion != "success" && r.Conclusion != "neutral" && r.Conclusion != "skipped" {
			state = "failure"
		}
	}

	return forge.CIStatus{State: state, CheckRuns: runs}, nil
}

// GetCheckRuns fetches every check run attached to ref's commit via a
// single paginated GraphQL query, following the check-suite pagination
// shape the reconciler's PR session builder uses for PR status
// aggregation.
func (c *Client) GetCheckRuns(ctx context.Context, repo forge.RepoRef, ref string) ([]forge.CheckRun, error) {
	var query struct {
		Repository struct {
			Object struct {
				Commit struct {
					CheckSuites struct {
						PageInfo struct {
							HasNextPage githubv4.Boolean
							EndCursor   githubv4.String
						}
						Nodes []struct {
							CheckRuns gqlCheckRunsConnection `graphql:"checkRuns(first: 100)"`
						}
					} `graphql:"checkSuites(first: 100, after: $cursor)"`
				} `graphql:"... on Commit"`
			} `graphql:"object(expression: $ref)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}

	var runs []forge.CheckRun
	cursor := ""
	for {
		variables := map[string]any{
			"owner":  githubv4.String(repo.Owner),
			"repo":   githubv4.String(repo.Name),
			"ref":    githubv4.String(ref),
			"cursor": (*githubv4.String)(nil),
		}
		if cursor != "" {
			variables["cursor"] = githubv4.NewString(githubv4.String(cursor))
		}

		if err := c.graphql.Query(ctx, &query, variables); err != nil {
			return nil, fmt.Errorf("querying check runs for %s/%s@%s: %w", repo.Owner, repo.Name, ref, err)
		}

		for _, suite := range query.Repository.Object.Commit.CheckSuites.Nodes {
			for _, run := range suite.CheckRuns.Nodes {
				runs = append(runs, forge.CheckRun{
					ID:         int64(run.DatabaseId),
					Name:       string(run.Name),
					Status:     string(run.Status),
					Conclusion: string(run.Conclusion),
					DetailsURL: string(run.DetailsUrl),
					Title:      string(run.Title),
					Summary:    string(run.Summary),
					Text:       string(run.Text),
				})
			}
		}

		if !query.Repository.Object.Commit.CheckSuites.PageInfo.HasNextPage {
			break
		}
		cursor = string(query.Repository.Object.Commit.CheckSuites.PageInfo.EndCursor)
	}
	return runs, nil
}

func (c *Client) GetCheckRunAnnotations(ctx context.Context, repo forge.RepoRef, checkRunID int64) ([]forge.Annotation, error) {
	opts := &github.ListOptions{PerPage: 100}

	var all []forge.Annotation
	for {
		annotations, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_check_annotations", isRetryableGitHubError, func() ([]*github.CheckRunAnnotation, error) {
			annotations, resp, err := c.rest.Checks.ListCheckRunAnnotations(ctx, repo.Owner, repo.Name, checkRunID, opts)
			if err != nil {
				return nil, err
			}
			opts.Page = resp.NextPage
			return annotations, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing annotations for check run %d on %s/%s: %w", checkRunID, repo.Owner, repo.Name, err)
		}
		for _, a := range annotations {
			all = append(all, forge.Annotation{
				Path:            a.GetPath(),
				StartLine:       a.GetStartLine(),
				EndLine:         a.GetEndLine(),
				AnnotationLevel: a.GetAnnotationLevel(),
				Message:         a.GetMessage(),
				Title:           a.GetTitle(),
			})
		}
		if opts.Page == 0 {
			break
		}
	}
	return all, nil
}
