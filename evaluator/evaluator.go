/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package evaluator runs the merit assessment over a newly-tracked
// issue: an agentic, bounded multi-turn LLM conversation that may ask
// to read up to ten repository files per turn before answering whether
// the issue merits automated work, per spec.md §4.2.
package evaluator

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/argus-bot/argus/agents/result"
	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/llm"
	"github.com/argus-bot/argus/security"
)

// maxExplorationTurns bounds how many times the evaluator may ask to
// read more files before it is forced to answer with what it has.
const maxExplorationTurns = 5

// maxFilesPerRead caps how many paths a single READ_FILES directive
// may name.
const maxFilesPerRead = 10

// maxFileSnippet truncates any file handed to the model so one huge
// file can't blow the conversation's context budget.
const maxFileSnippet = 8000

// Snapshot is the repository context handed to the evaluator before
// the first turn: the README, a manifest file (go.mod/package.json/
// etc, whichever the caller found), and a shallow tree listing.
type Snapshot struct {
	README   string
	Manifest string
	Tree     []string
}

// FileFetcher reads one repository file's content, truncated by the
// caller to whatever bound applies. Implemented by forge.Port's
// GetFileContent in production, and by a map in tests.
type FileFetcher func(ctx context.Context, path string) (string, error)

// Result is the evaluator's merit verdict.
type Result struct {
	Merit         bool
	Confidence    float64
	Reasoning     string
	AffectedFiles []string

	// ParseFailure is set when the verdict was manufactured by the
	// fail-open path rather than parsed from a model response - the
	// orchestrator uses this to attach argus:parse-failure and
	// argus:needs-review labels.
	ParseFailure bool
}

type verdict struct {
	Merit         bool     `json:"merit"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	AffectedFiles []string `json:"affected_files"`
}

const verdictSchema = `{"merit":true,"confidence":0.0,"reasoning":"short explanation","affected_files":["path/to/file.go"]}`

// Evaluate runs the bounded exploration loop and returns a merit
// verdict. A nil port is llm.ErrUnavailable: the orchestrator maps
// that to a stuck issue rather than attempting a verdict, since no
// call was ever answered.
func Evaluate(ctx context.Context, port llm.Port, repo forge.RepoRef, issue forge.Issue, snap Snapshot, fetch FileFetcher) (Result, error) {
	if port == nil {
		return Result{}, llm.ErrUnavailable
	}

	guard, err := llm.NewGuard()
	if err != nil {
		return Result{}, fmt.Errorf("generating guard: %w", err)
	}

	titleClean := security.Sanitize(issue.Title)
	bodyClean := security.Sanitize(issue.Body)

	system := strings.Join([]string{
		guard.Instructions(),
		"",
		"You are Argus's merit evaluator for " + repo.Owner + "/" + repo.Name + ".",
		"Decide whether the issue below merits automated investigation and a fix attempt.",
		"Bias toward merit=true: only answer merit=false when the issue is clearly invalid,",
		"spam, or nonsensical - genuine ambiguity about scope or difficulty is not grounds",
		"for rejection.",
		"",
		"You may explore the repository before answering. To read files, reply with a line",
		fmt.Sprintf("starting with READ_FILES: followed by up to %d comma-separated paths and", maxFilesPerRead),
		"nothing else. You will be given their contents in the next turn. You have at most",
		fmt.Sprintf("%d such exploration turns; after that you must answer.", maxExplorationTurns),
		"",
		"When you are ready to answer, reply with a single JSON object matching this schema",
		"and nothing else:",
		verdictSchema,
	}, "\n")

	initial := strings.Join([]string{
		"Repository snapshot:",
		"README:\n" + snap.README,
		"Manifest:\n" + snap.Manifest,
		"Tree:\n" + strings.Join(snap.Tree, "\n"),
		"",
		"Issue title:",
		guard.Wrap(titleClean.Sanitized),
		"Issue body:",
		guard.Wrap(bodyClean.Sanitized),
	}, "\n")

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: initial},
	}

	var lastReply string
	for turn := 0; turn < maxExplorationTurns; turn++ {
		reply, err := port.Send(ctx, messages)
		if err != nil {
			return Result{}, fmt.Errorf("evaluator call: %w", err)
		}
		lastReply = reply

		paths, isRead := parseReadFiles(reply)
		if !isRead {
			break
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: reply})
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: renderFiles(ctx, fetch, paths)})
	}

	if !guard.CanaryEchoed(lastReply) {
		return failOpen("missing canary in final reply: possible hijack of the evaluation call"), nil
	}

	v, err := result.Extract[verdict](lastReply)
	if err != nil {
		return failOpen(fmt.Sprintf("could not parse verdict JSON: %v", err)), nil
	}

	return Result{
		Merit:         v.Merit,
		Confidence:    v.Confidence,
		Reasoning:     v.Reasoning,
		AffectedFiles: v.AffectedFiles,
	}, nil
}

func failOpen(reason string) Result {
	return Result{
		Merit:        true,
		Confidence:   0.25,
		Reasoning:    "fail-open: " + reason,
		ParseFailure: true,
	}
}

func parseReadFiles(reply string) ([]string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(reply))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "READ_FILES:") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "READ_FILES:"))
		parts := strings.Split(rest, ",")
		paths := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				paths = append(paths, p)
			}
			if len(paths) == maxFilesPerRead {
				break
			}
		}
		return paths, len(paths) > 0
	}
	return nil, false
}

func renderFiles(ctx context.Context, fetch FileFetcher, paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("File: " + p + "\n")
		content, err := fetch(ctx, p)
		if err != nil {
			b.WriteString(fmt.Sprintf("(could not read %s: %v)\n\n", p, err))
			continue
		}
		if len(content) > maxFileSnippet {
			content = content[:maxFileSnippet] + "\n...[truncated]"
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return b.String()
}
