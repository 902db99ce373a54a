/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package forge is the remote content-API boundary every orchestrator
// component programs against. githubforge is the only implementation;
// a second platform only needs a second package satisfying Port.
package forge

import (
	"context"
	"errors"
	"time"
)

// ErrAdvisoryOnly wraps the error returned by moderation operations that
// have no native platform primitive behind them (ReportUser on GitHub).
// Implementations return it alongside a nil-equivalent success so callers
// log the advisory instead of treating it as an operation failure.
var ErrAdvisoryOnly = errors.New("forge: this platform has no native primitive for this operation; recorded as advisory only")

// Role is the canonical permission tier every platform's native role
// string is mapped onto.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleMaintainer Role = "maintainer"
	RoleWrite      Role = "write"
	RoleTriage     Role = "triage"
	RoleRead       Role = "read"
	RoleNone       Role = "none"
)

// RepoRef names one repository on one forge.
type RepoRef struct {
	Platform string
	Owner    string
	Name     string
}

// Issue is the forge-neutral projection of an issue or PR-as-issue.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	Author    string
	UpdatedAt time.Time
	CreatedAt time.Time
}

// Comment is one issue, PR conversation, or PR review comment.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time

	// Review-comment-only fields; zero value for a plain conversation
	// comment.
	Path         string
	Line         int
	Side         string
	DiffHunk     string
	InReplyToID  int64
}

// PullRequest is the forge-neutral projection of a pull request.
type PullRequest struct {
	Number    int
	Title     string
	Body      string
	State     string
	Draft     bool
	HeadRef   string
	BaseRef   string
	HeadSHA   string
	Labels    []string
	Author    string
	Mergeable *bool
	HTMLURL   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File is one entry in a PR's changed-file list or a tree listing.
// Patch is populated only by ListPullRequestFiles (a unified diff
// hunk), empty for a plain tree/code-search entry.
type File struct {
	Path      string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// CIStatus is the aggregate CI verdict for a ref, combined across the
// legacy commit-status API and check runs.
type CIStatus struct {
	State      string // "pending", "passing", "failing"
	CheckRuns  []CheckRun
	NoCIFound  bool
}

// CheckRun is one named CI job's result.
type CheckRun struct {
	ID         int64
	Name       string
	Status     string
	Conclusion string
	DetailsURL string
	Title      string
	Summary    string
	Text       string
}

// Annotation is one inline CI annotation (e.g. a lint finding) attached
// to a check run.
type Annotation struct {
	Path            string
	StartLine       int
	EndLine         int
	AnnotationLevel string
	Message         string
	Title           string
}

// UserHistory is the prior-interaction record a trust resolver folds
// into a user's effective score.
type UserHistory struct {
	MergedPRs         int
	ClosedValidIssues int
	TotalComments     int
	PriorFlags        int
	PriorBlocks       int
}

// Port is every operation an orchestrator, evaluator, coder, or
// moderation component may perform against a forge. Every method takes
// a RepoRef first so a single implementation instance can serve many
// repositories under one GitHub App installation or API token pool.
type Port interface {
	// Issues.
	ListIssuesUpdatedSince(ctx context.Context, repo RepoRef, since time.Time) ([]Issue, error)
	GetIssue(ctx context.Context, repo RepoRef, number int) (Issue, error)
	ListIssueComments(ctx context.Context, repo RepoRef, number int) ([]Comment, error)
	ListIssueCommentsSince(ctx context.Context, repo RepoRef, number int, since time.Time) ([]Comment, error)
	AddLabel(ctx context.Context, repo RepoRef, number int, label string) error
	RemoveLabel(ctx context.Context, repo RepoRef, number int, label string) error
	AddComment(ctx context.Context, repo RepoRef, number int, body string) (Comment, error)
	UpdateIssueBody(ctx context.Context, repo RepoRef, number int, body string) error
	ListRepoLabels(ctx context.Context, repo RepoRef) ([]string, error)

	// Pull requests.
	ListOpenPullRequests(ctx context.Context, repo RepoRef) ([]PullRequest, error)
	ListPullRequestsForIssue(ctx context.Context, repo RepoRef, issueNumber int) ([]PullRequest, error)
	GetPullRequest(ctx context.Context, repo RepoRef, number int) (PullRequest, error)
	ListConversationComments(ctx context.Context, repo RepoRef, number int) ([]Comment, error)
	ListReviewComments(ctx context.Context, repo RepoRef, number int) ([]Comment, error)
	ListPullRequestFiles(ctx context.Context, repo RepoRef, number int) ([]File, error)
	CreatePullRequest(ctx context.Context, repo RepoRef, title, body, head, base string, draft bool) (PullRequest, error)
	AddPullRequestComment(ctx context.Context, repo RepoRef, number int, body string) (Comment, error)
	UpdatePullRequestBody(ctx context.Context, repo RepoRef, number int, body string) error

	// Branches and files.
	GetDefaultBranch(ctx context.Context, repo RepoRef) (string, error)
	CreateBranchFrom(ctx context.Context, repo RepoRef, base, newBranch string) error
	GetFileContent(ctx context.Context, repo RepoRef, branch, path string) ([]byte, string, error) // content, blob sha
	CreateOrUpdateFile(ctx context.Context, repo RepoRef, branch, path string, content []byte, message string) error
	ListTree(ctx context.Context, repo RepoRef, branch, path string, recursive bool) ([]File, error)

	// CI.
	GetCombinedStatus(ctx context.Context, repo RepoRef, ref string) (CIStatus, error)
	GetCheckRuns(ctx context.Context, repo RepoRef, ref string) ([]CheckRun, error)
	GetCheckRunAnnotations(ctx context.Context, repo RepoRef, checkRunID int64) ([]Annotation, error)

	// Code search.
	SearchCode(ctx context.Context, repo RepoRef, query string) ([]File, error)

	// Users.
	GetRepoRole(ctx context.Context, repo RepoRef, user string) (Role, error)
	GetUserHistory(ctx context.Context, repo RepoRef, user string) (UserHistory, error)

	// Moderation. Callers must check trust-resolver immunity before
	// calling any of these against an owner; the port itself does not
	// re-derive trust.
	DeleteComment(ctx context.Context, repo RepoRef, commentID int64) error
	BlockUser(ctx context.Context, repo RepoRef, user string) error
	UnblockUser(ctx context.Context, repo RepoRef, user string) error
	ReportUser(ctx context.Context, repo RepoRef, user, reason string) error

	// Token introspection.
	ValidateTokenScopes(ctx context.Context, repo RepoRef) error
}

// MapRole normalizes a platform's native role string to the canonical
// tier set. Implementations call this from GetRepoRole so the trust
// resolver never sees a platform-specific string.
func MapRole(native string) Role {
	switch native {
	case "owner", "OWNER":
		return RoleOwner
	case "admin", "ADMIN":
		return RoleAdmin
	case "maintain", "MAINTAIN", "maintainer":
		return RoleMaintainer
	case "write", "WRITE":
		return RoleWrite
	case "triage", "TRIAGE":
		return RoleTriage
	case "read", "READ":
		return RoleRead
	default:
		return RoleNone
	}
}
