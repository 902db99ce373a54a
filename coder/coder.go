/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package coder runs one fix iteration: a single LLM call producing a
// candidate changeset, output validation as the sole gate on writing
// it, a push on success, and a bounded CI wait before the next
// iteration decides whether to try again, per spec.md §4.4.
package coder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/argus-bot/argus/agents/result"
	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/llm"
	"github.com/argus-bot/argus/security"
)

// DefaultIterationCap is the coder's default fix-attempt budget per
// issue.
const DefaultIterationCap = 5

const (
	ciPollInterval  = 30 * time.Second
	ciWaitDeadline  = 10 * time.Minute
	noCIGracePeriod = 2 * time.Minute
	maxFailingLogs  = 3
)

// Deps are the coder's external collaborators, injected so tests can
// run the iteration loop without real time passing or a real forge.
type Deps struct {
	LLM   llm.Port
	Forge forge.Port
	Sleep func(time.Duration)
	Now   func() time.Time
}

func (d Deps) sleep(dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(dur)
		return
	}
	time.Sleep(dur)
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// IterationInput is everything one fix iteration needs to build its
// prompt: the evaluation and investigation context, the current
// repository snippets for the files under discussion, and - from the
// second iteration on - the previous attempt's CI log and changeset.
type IterationInput struct {
	Repo              forge.RepoRef
	Branch            string
	IssueTitle        string
	IssueBody         string
	EvaluationSummary string
	InvestigatorNotes string
	ExistingSnippets  map[string]string
	PreviousCILog     string
	PreviousChangeset string
	IterationNumber   int // 1-indexed
}

// FileWrite is one file the model asked to create or update.
type FileWrite struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type modelResponse struct {
	Files         []FileWrite `json:"files"`
	CommitMessage string      `json:"commit_message"`
	Reasoning     string      `json:"reasoning"`
	SelfReview    string      `json:"self_review"`
}

// Outcome is the terminal status of one iteration.
type Outcome string

const (
	OutcomeBlocked  Outcome = "blocked"   // validation failed; nothing was pushed
	OutcomeCIPassed Outcome = "ci-passed" // pushed and CI came back green (or absent)
	OutcomeCIFailed Outcome = "ci-failed" // pushed and CI came back red; another iteration may help
	OutcomeFatal    Outcome = "fatal"     // an unrecoverable error (LLM/forge failure)
)

// IterationResult is the full record of one iteration, enough for the
// orchestrator to produce both a BLOCKED and a pushed audit entry and
// to decide whether to run another iteration.
type IterationResult struct {
	Outcome          Outcome
	Files            []FileWrite
	CommitMessage    string
	Reasoning        string
	SelfReview       string
	ValidationIssues []security.Issue
	CILog            string
	Changeset        string
}

// RunIteration executes exactly one fix attempt: call the model,
// validate its output, write on success, then wait for CI before
// returning. A nil port is llm.ErrUnavailable.
func RunIteration(ctx context.Context, deps Deps, in IterationInput) (IterationResult, error) {
	if deps.LLM == nil {
		return IterationResult{}, llm.ErrUnavailable
	}

	resp, err := callModel(ctx, deps.LLM, in)
	if err != nil {
		return IterationResult{Outcome: OutcomeFatal}, err
	}

	files := make([]security.File, 0, len(resp.Files))
	for _, f := range resp.Files {
		files = append(files, security.File{Path: f.Path, Content: f.Content})
	}
	validation := security.Validate(files)
	if !validation.Valid {
		return IterationResult{
			Outcome:          OutcomeBlocked,
			Files:            resp.Files,
			CommitMessage:    resp.CommitMessage,
			Reasoning:        resp.Reasoning,
			SelfReview:       resp.SelfReview,
			ValidationIssues: validation.Issues,
			CILog:            renderValidationLog(validation.Issues),
		}, nil
	}

	for _, f := range resp.Files {
		message := fmt.Sprintf("%s\n\nargus: %s", resp.CommitMessage, f.Path)
		if err := deps.Forge.CreateOrUpdateFile(ctx, in.Repo, in.Branch, f.Path, []byte(f.Content), message); err != nil {
			return IterationResult{Outcome: OutcomeFatal}, fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}

	status, log, err := waitForCI(ctx, deps, in.Repo, in.Branch)
	if err != nil {
		return IterationResult{Outcome: OutcomeFatal}, err
	}

	outcome := OutcomeCIPassed
	if status == "failure" {
		outcome = OutcomeCIFailed
	}

	return IterationResult{
		Outcome:          outcome,
		Files:            resp.Files,
		CommitMessage:    resp.CommitMessage,
		Reasoning:        resp.Reasoning,
		SelfReview:       resp.SelfReview,
		ValidationIssues: validation.Issues,
		CILog:            log,
		Changeset:        renderChangeset(resp.Files),
	}, nil
}

func callModel(ctx context.Context, port llm.Port, in IterationInput) (modelResponse, error) {
	guard, err := llm.NewGuard()
	if err != nil {
		return modelResponse{}, fmt.Errorf("generating guard: %w", err)
	}

	var sys strings.Builder
	sys.WriteString(guard.Instructions())
	sys.WriteString("\n\nYou are Argus's coder for ")
	sys.WriteString(in.Repo.Owner + "/" + in.Repo.Name)
	sys.WriteString(". Produce the smallest changeset that resolves the issue below.\n")
	if in.IterationNumber > 1 {
		sys.WriteString("This is a repeat attempt. The previous attempt's CI output and changeset\n")
		sys.WriteString("are included below the boundary; fix what CI actually reported rather than\n")
		sys.WriteString("guessing at a different problem.\n")
	}
	sys.WriteString("Reply with a single JSON object matching this schema and nothing else:\n")
	sys.WriteString(`{"files":[{"path":"...","content":"..."}],"commit_message":"...","reasoning":"...","self_review":"..."}`)

	var body strings.Builder
	body.WriteString("Issue:\n")
	body.WriteString(guard.Wrap(security.Sanitize(in.IssueTitle).Sanitized + "\n" + security.Sanitize(in.IssueBody).Sanitized))
	body.WriteString("\n\nEvaluation summary:\n" + in.EvaluationSummary)
	body.WriteString("\n\nInvestigator notes:\n" + in.InvestigatorNotes)
	body.WriteString("\n\nExisting code:\n")
	for path, content := range in.ExistingSnippets {
		body.WriteString("File: " + path + "\n" + content + "\n\n")
	}
	if in.IterationNumber > 1 {
		body.WriteString("Previous CI log:\n")
		body.WriteString(guard.Wrap(in.PreviousCILog))
		body.WriteString("\n\nPrevious changeset:\n")
		body.WriteString(guard.Wrap(in.PreviousChangeset))
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: body.String()},
	}

	reply, err := port.Send(ctx, messages)
	if err != nil {
		return modelResponse{}, fmt.Errorf("coder call: %w", err)
	}
	if !guard.CanaryEchoed(reply) {
		return modelResponse{}, fmt.Errorf("coder reply missing expected canary: possible hijack of the coding call")
	}

	resp, err := result.Extract[modelResponse](reply)
	if err != nil {
		return modelResponse{}, fmt.Errorf("parsing coder reply: %w", err)
	}
	if len(resp.Files) == 0 {
		return modelResponse{}, fmt.Errorf("coder reply named no files")
	}
	return resp, nil
}

// waitForCI polls GetCombinedStatus at ciPollInterval until it passes,
// fails, or ciWaitDeadline elapses. If nothing appears within
// noCIGracePeriod, it reports a pass with an explanatory log rather
// than waiting out the full deadline for a repo with no CI configured.
func waitForCI(ctx context.Context, deps Deps, repo forge.RepoRef, ref string) (string, string, error) {
	start := deps.now()
	for {
		status, err := deps.Forge.GetCombinedStatus(ctx, repo, ref)
		if err != nil {
			return "", "", fmt.Errorf("polling CI status: %w", err)
		}

		elapsed := deps.now().Sub(start)

		if status.NoCIFound && elapsed >= noCIGracePeriod {
			return "success", "no CI configured", nil
		}

		if !status.NoCIFound && status.State != "pending" {
			if status.State == "failure" {
				return "failure", renderFailingChecks(ctx, deps, repo, status), nil
			}
			return "success", "CI passed", nil
		}

		if elapsed >= ciWaitDeadline {
			return "failure", "CI wait deadline exceeded with status still pending", nil
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		default:
		}
		deps.sleep(ciPollInterval)
	}
}

func renderFailingChecks(ctx context.Context, deps Deps, repo forge.RepoRef, status forge.CIStatus) string {
	var b strings.Builder
	count := 0
	for _, run := range status.CheckRuns {
		if run.Conclusion == "success" || run.Conclusion == "neutral" || run.Conclusion == "skipped" || run.Conclusion == "" {
			continue
		}
		if count >= maxFailingLogs {
			break
		}
		count++
		b.WriteString(fmt.Sprintf("Check %q: %s\n%s\n", run.Name, run.Conclusion, run.Summary))
		if run.ID != 0 {
			if annotations, err := deps.Forge.GetCheckRunAnnotations(ctx, repo, run.ID); err == nil {
				for _, a := range annotations {
					b.WriteString(fmt.Sprintf("  %s:%d: %s\n", a.Path, a.StartLine, a.Message))
				}
			}
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "CI reported failure with no per-check detail available"
	}
	return b.String()
}

func renderValidationLog(issues []security.Issue) string {
	var b strings.Builder
	b.WriteString("Output validation blocked this changeset:\n")
	for _, issue := range issues {
		b.WriteString(fmt.Sprintf("- [%s] %s: %s (%s)\n", issue.Severity, issue.Path, issue.Detail, issue.Rule))
	}
	return b.String()
}

func renderChangeset(files []FileWrite) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("=== " + f.Path + " ===\n")
		b.WriteString(f.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
