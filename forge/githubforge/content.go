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

func (c *Client) GetDefaultBranch(ctx context.Context, repo forge.RepoRef) (string, error) {
	gr, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_get_repo", isRetryableGitHubError, func() (*github.Repository, error) {
		gr, _, err := c.rest.Repositories.Get(ctx, repo.Owner, repo.Name)
		return gr, err
	})
	if err != nil {
		return "", fmt.Errorf("getting default branch for %s/%s: %w", repo.Owner, repo.Name, err)
	}
	return gr.GetDefaultBranch(), nil
}

// CreateBranchFrom creates newBranch pointing at base's current tip. It is
// a no-op, not an error, if newBranch already exists - the coder retries
// its own branch across fix attempts within one issue's lifetime.
func (c *Client) CreateBranchFrom(ctx context.Context, repo forge.RepoRef, base, newBranch string) error {
	_, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_get_ref", isRetryableGitHubError, func() (*github.Reference, error) {
		ref, _, err := c.rest.Git.GetRef(ctx, repo.Owner, repo.Name, "refs/heads/"+newBranch)
		return ref, err
	})
	if err == nil {
		return nil
	}

	baseRef, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_get_base_ref", isRetryableGitHubError, func() (*github.Reference, error) {
		ref, _, err := c.rest.Git.GetRef(ctx, repo.Owner, repo.Name, "refs/heads/"+base)
		return ref, err
	})
	if err != nil {
		return fmt.Errorf("base branch %q not found on %s/%s: %w", base, repo.Owner, repo.Name, err)
	}

	_, err = retry.RetryWithBackoff(ctx, c.retryConfig, "github_create_ref", isRetryableGitHubError, func() (*github.Reference, error) {
		ref, _, err := c.rest.Git.CreateRef(ctx, repo.Owner, repo.Name, &github.Reference{
			Ref:    github.Ptr("refs/heads/" + newBranch),
			Object: &github.GitObject{SHA: baseRef.Object.SHA},
		})
		return ref, err
	})
	if err != nil {
		return fmt.Errorf("creating branch %q from %q on %s/%s: %w", newBranch, base, repo.Owner, repo.Name, err)
	}
	return nil
}

func (c *Client) GetFileContent(ctx context.Context, repo forge.RepoRef, branch, path string) ([]byte, string, error) {
	type fileResult struct {
		content []byte
		sha     string
	}
	result, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_get_contents", isRetryableGitHubError, func() (fileResult, error) {
		file, _, _, err := c.rest.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, &github.RepositoryContentGetOptions{Ref: branch})
		if err != nil {
			return fileResult{}, err
		}
		decoded, err := file.GetContent()
		if err != nil {
			return fileResult{}, fmt.Errorf("decoding content of %s: %w", path, err)
		}
		return fileResult{content: []byte(decoded), sha: file.GetSHA()}, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("getting %s@%s on %s/%s: %w", path, branch, repo.Owner, repo.Name, err)
	}
	return result.content, result.sha, nil
}

// CreateOrUpdateFile writes content to path on branch, looking up the
// existing blob SHA first when the file already exists so the update is
// a fast-forward rather than a conflicting blind write.
func (c *Client) CreateOrUpdateFile(ctx context.Context, repo forge.RepoRef, branch, path string, content []byte, message string) error {
	var existingSHA *string
	file, _, resp, err := c.rest.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, &github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && file != nil:
		sha := file.GetSHA()
		existingSHA = &sha
	case resp != nil && resp.StatusCode == 404:
		// File does not exist yet; existingSHA stays nil and CreateFile runs.
	case err != nil:
		return fmt.Errorf("checking existing content of %s@%s on %s/%s: %w", path, branch, repo.Owner, repo.Name, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: content,
		Branch:  github.Ptr(branch),
		SHA:     existingSHA,
	}

	_, err = retry.RetryWithBackoff(ctx, c.retryConfig, "github_write_contents", isRetryableGitHubError, func() (*github.RepositoryContentResponse, error) {
		var rc *github.RepositoryContentResponse
		var err error
		if existingSHA == nil {
			rc, _, err = c.rest.Repositories.CreateFile(ctx, repo.Owner, repo.Name, path, opts)
		} else {
			rc, _, err = c.rest.Repositories.UpdateFile(ctx, repo.Owner, repo.Name, path, opts)
		}
		return rc, err
	})
	if err != nil {
		return fmt.Errorf("writing %s@%s on %s/%s: %w", path, branch, repo.Owner, repo.Name, err)
	}
	return nil
}

func (c *Client) ListTree(ctx context.Context, repo forge.RepoRef, branch, path string, recursive bool) ([]forge.File, error) {
	_, dirContents, _, err := c.rest.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err == nil {
		files := make([]forge.File, 0, len(dirContents))
		for _, entry := range dirContents {
			files = append(files, forge.File{Path: entry.GetPath(), Status: entry.GetType()})
		}
		return files, nil
	}

	// path names a tree too deep or too large for the contents listing
	// endpoint (or recursive was requested); fall back to the git trees API.
	tree, _, err := retry.RetryWithBackoff(ctx, c.retryConfig, "github_get_tree", isRetryableGitHubError, func() (*github.Tree, error) {
		tree, _, err := c.rest.Git.GetTree(ctx, repo.Owner, repo.Name, branch, recursive)
		return tree, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing tree %s@%s on %s/%s: %w", path, branch, repo.Owner, repo.Name, err)
	}

	files := make([]forge.File, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if path != "" && !hasPathPrefix(entry.GetPath(), path) {
			continue
		}
		files = append(files, forge.File{Path: entry.GetPath(), Status: entry.GetType()})
	}
	return files, nil
}

func hasPathPrefix(p, prefix string) bool {
	if p == prefix {
		return true
	}
	return len(p) > len(prefix) && p[:len(prefix)+1] == prefix+"/"
}
