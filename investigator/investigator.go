/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package investigator turns an approved issue into a concrete set of
// suggested code changes: it fetches the files the evaluator named,
// runs a handful of code searches derived from the issue text, and
// asks the model for a change plan, per spec.md §4.3.
package investigator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/argus-bot/argus/agents/result"
	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/llm"
	"github.com/argus-bot/argus/security"
)

const (
	maxAffectedFiles = 10
	maxSearches      = 5
	maxFileSnippet   = 5000
)

// FileFetcher reads one repository file's content.
type FileFetcher func(ctx context.Context, path string) (string, error)

// CodeSearcher runs one code search query and returns matching paths.
type CodeSearcher func(ctx context.Context, query string) ([]forge.File, error)

// Change is one file the investigator believes needs work.
type Change struct {
	Path        string `json:"path"`
	Action      string `json:"action"` // "modify", "add", or "delete"
	Description string `json:"description"`
}

// Result is the investigator's change plan.
type Result struct {
	SuggestedChanges []Change `json:"suggested_changes"`
	Dependencies     []string `json:"dependencies"`
	Confidence       float64  `json:"confidence"`
	Notes            string   `json:"notes"`
}

var identifierPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]{2,}\b`)

// salientWords are common English/markdown filler words excluded from
// the keyword set derived from the issue text, so searches target
// actual nouns rather than "the", "this", "should".
var salientStopwords = map[string]bool{
	"the": true, "this": true, "that": true, "should": true, "when": true,
	"with": true, "from": true, "into": true, "have": true, "would": true,
	"could": true, "there": true, "which": true, "issue": true, "error": true,
}

// Investigate fetches up to ten affected files and runs up to five
// derived code searches before asking the model for a change plan. A
// nil port degrades to the heuristic fallback: every affected file
// becomes a "modify" suggestion at confidence 0.3, no search, no call.
func Investigate(ctx context.Context, port llm.Port, repo forge.RepoRef, issue forge.Issue, affectedFiles []string, fetch FileFetcher, search CodeSearcher) (Result, error) {
	if len(affectedFiles) > maxAffectedFiles {
		affectedFiles = affectedFiles[:maxAffectedFiles]
	}

	if port == nil {
		return heuristicFallback(affectedFiles), nil
	}

	snippets := make(map[string]string, len(affectedFiles))
	for _, path := range affectedFiles {
		content, err := fetch(ctx, path)
		if err != nil {
			continue
		}
		if len(content) > maxFileSnippet {
			content = content[:maxFileSnippet] + "\n...[truncated]"
		}
		snippets[path] = content
	}

	searchResults := runDerivedSearches(ctx, search, issue)

	guard, err := llm.NewGuard()
	if err != nil {
		return Result{}, fmt.Errorf("generating guard: %w", err)
	}

	system := strings.Join([]string{
		guard.Instructions(),
		"",
		"You are Argus's investigator for " + repo.Owner + "/" + repo.Name + ".",
		"Produce a concrete plan of file changes that would address the issue below.",
		"Reply with a single JSON object matching this schema and nothing else:",
		`{"suggested_changes":[{"path":"...","action":"modify|add|delete","description":"..."}],"dependencies":["pkg/name"],"confidence":0.0,"notes":"..."}`,
	}, "\n")

	var body strings.Builder
	body.WriteString("Issue:\n")
	body.WriteString(guard.Wrap(security.Sanitize(issue.Title).Sanitized + "\n" + security.Sanitize(issue.Body).Sanitized))
	body.WriteString("\n\nAffected file snippets:\n")
	for _, path := range affectedFiles {
		body.WriteString("File: " + path + "\n")
		if content, ok := snippets[path]; ok {
			body.WriteString(content)
		} else {
			body.WriteString("(not found)")
		}
		body.WriteString("\n\n")
	}
	if len(searchResults) > 0 {
		body.WriteString("Code search results:\n")
		for _, path := range searchResults {
			body.WriteString("- " + path + "\n")
		}
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: body.String()},
	}

	reply, err := port.Send(ctx, messages)
	if err != nil {
		return Result{}, fmt.Errorf("investigator call: %w", err)
	}
	if !guard.CanaryEchoed(reply) {
		return heuristicFallback(affectedFiles), nil
	}

	r, err := result.Extract[Result](reply)
	if err != nil {
		return heuristicFallback(affectedFiles), nil
	}
	return r, nil
}

func heuristicFallback(affectedFiles []string) Result {
	changes := make([]Change, 0, len(affectedFiles))
	for _, path := range affectedFiles {
		changes = append(changes, Change{Path: path, Action: "modify", Description: "surfaced by merit evaluation as affected"})
	}
	return Result{SuggestedChanges: changes, Confidence: 0.3, Notes: "heuristic fallback: no LLM configured"}
}

func runDerivedSearches(ctx context.Context, search CodeSearcher, issue forge.Issue) []string {
	if search == nil {
		return nil
	}
	queries := derivedQueries(issue)
	var all []string
	seen := make(map[string]bool)
	for i, q := range queries {
		if i >= maxSearches {
			break
		}
		files, err := search(ctx, q)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !seen[f.Path] {
				seen[f.Path] = true
				all = append(all, f.Path)
			}
		}
	}
	return all
}

// derivedQueries extracts capitalized identifiers and salient keywords
// from the issue title/body to use as code-search terms.
func derivedQueries(issue forge.Issue) []string {
	text := issue.Title + " " + issue.Body
	seen := make(map[string]bool)
	var queries []string

	for _, m := range identifierPattern.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			queries = append(queries, m)
		}
	}

	words := strings.Fields(strings.ToLower(issue.Title))
	sort.Strings(words)
	for _, w := range words {
		w = strings.Trim(w, ".,:;!?()[]{}\"'")
		if len(w) < 4 || salientStopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		queries = append(queries, w)
	}

	return queries
}
