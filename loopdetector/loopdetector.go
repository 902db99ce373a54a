/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package loopdetector builds the chain graph over currently open pull
// requests, computes each node's depth, and decides which PRs must
// disengage because they are too deep in a chain or are trading the
// same review feedback back and forth, per spec.md §4.12.
package loopdetector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/argus-bot/argus/crypto"
	"github.com/argus-bot/argus/forge"
)

// MaxChainDepth is the deepest a PR may sit in a chain before it
// disengages. Nodes unreachable from a root because they sit on a
// cycle are assigned MaxChainDepth+1, the same fate as a too-deep PR.
const MaxChainDepth = 3

// branchParentPattern extracts a parent PR number from a branch name
// like "sub-pr-12" or "pr-12" or "pr/12".
var branchParentPattern = regexp.MustCompile(`(?:sub-pr-|pr[-/])(\d+)`)

// issueRefPattern matches "#N" references inside a PR body.
var issueRefPattern = regexp.MustCompile(`#(\d+)`)

// Node is one open PR's position in the chain graph.
type Node struct {
	PR       forge.PullRequest
	Parents  []int // indices into the slice Build was called with
	Children []int
	Depth    int
}

// Graph is the chain graph over one repository's currently open PRs.
type Graph struct {
	Nodes []Node
}

// Build infers edges across prs from the three signals spec.md names
// (shared base/head branch, branch-name parent pattern, in-body #N
// reference to an older open PR) and computes each node's BFS depth
// from the roots (nodes with no parents). Nodes unreachable from any
// root because they sit on a cycle receive depth MaxChainDepth+1,
// same as a node that is simply too deep.
func Build(prs []forge.PullRequest) Graph {
	nodes := make([]Node, len(prs))
	for i, pr := range prs {
		nodes[i] = Node{PR: pr, Depth: -1}
	}

	byHeadBranch := make(map[string]int, len(prs))
	byNumber := make(map[int]int, len(prs))
	for i, pr := range prs {
		byHeadBranch[pr.HeadRef] = i
		byNumber[pr.Number] = i
	}

	link := func(child, parent int) {
		if child == parent {
			return
		}
		nodes[child].Parents = appendUnique(nodes[child].Parents, parent)
		nodes[parent].Children = appendUnique(nodes[parent].Children, child)
	}

	for i, pr := range prs {
		if parent, ok := byHeadBranch[pr.BaseRef]; ok {
			link(i, parent)
		}
		if m := branchParentPattern.FindStringSubmatch(pr.HeadRef); m != nil {
			if parentNumber, ok := parseIntSafe(m[1]); ok {
				if parent, ok := byNumber[parentNumber]; ok {
					link(i, parent)
				}
			}
		}
		for _, m := range issueRefPattern.FindAllStringSubmatch(pr.Body, -1) {
			if refNumber, ok := parseIntSafe(m[1]); ok {
				if parent, ok := byNumber[refNumber]; ok && prs[parent].CreatedAt.Before(pr.CreatedAt) {
					link(i, parent)
				}
			}
		}
	}

	computeDepths(nodes)
	return Graph{Nodes: nodes}
}

func computeDepths(nodes []Node) {
	var roots []int
	for i, n := range nodes {
		if len(n.Parents) == 0 {
			roots = append(roots, i)
		}
	}

	queue := append([]int(nil), roots...)
	for _, r := range roots {
		nodes[r].Depth = 0
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range nodes[cur].Children {
			if nodes[child].Depth != -1 {
				continue
			}
			nodes[child].Depth = nodes[cur].Depth + 1
			queue = append(queue, child)
		}
	}

	for i := range nodes {
		if nodes[i].Depth == -1 {
			nodes[i].Depth = MaxChainDepth + 1
		}
	}
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func parseIntSafe(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// IsWIP reports whether pr should be skipped entirely: platform draft
// flag, a WIP-style title prefix, or a construction emoji anywhere in
// the title.
func IsWIP(pr forge.PullRequest) bool {
	if pr.Draft {
		return true
	}
	title := strings.TrimSpace(pr.Title)
	for _, prefix := range []string{"[WIP]", "WIP:", "Draft:", "[Draft]"} {
		if strings.HasPrefix(title, prefix) {
			return true
		}
	}
	return strings.Contains(pr.Title, "🚧")
}

// codeFencePattern and inlineCodePattern strip code from review
// comments before the feedback-repetition heuristic compares phrases,
// so two reviewers quoting the same code snippet doesn't look like
// them repeating the same feedback.
var codeFencePattern = regexp.MustCompile("(?s)```.*?```")
var inlineCodePattern = regexp.MustCompile("`[^`]*`")

const phrasePrefixLength = 120

// phraseSet returns the lowercased first ~120 characters of comment,
// with code fences and inline code stripped, split into a word set for
// Jaccard comparison.
func phraseSet(comment string) map[string]bool {
	stripped := codeFencePattern.ReplaceAllString(comment, "")
	stripped = inlineCodePattern.ReplaceAllString(stripped, "")
	stripped = strings.ToLower(strings.TrimSpace(stripped))
	if len(stripped) > phrasePrefixLength {
		stripped = stripped[:phrasePrefixLength]
	}

	set := make(map[string]bool)
	for _, w := range strings.Fields(stripped) {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

const feedbackRepetitionThreshold = 0.5
const minChainLengthForFeedbackHeuristic = 3
const minDepthForFeedbackHeuristic = 2
const consecutiveOverlapPairsToDisengage = 2

// feedbackRepeats reports whether chain (ordered root-to-leaf, each
// entry's external review comments already fetched) shows at least
// consecutiveOverlapPairsToDisengage consecutive adjacent-PR pairs
// with phrase overlap above feedbackRepetitionThreshold.
func feedbackRepeats(chainComments [][]string, depth int) bool {
	if len(chainComments) < minChainLengthForFeedbackHeuristic || depth < minDepthForFeedbackHeuristic {
		return false
	}

	sets := make([]map[string]bool, len(chainComments))
	for i, comments := range chainComments {
		merged := make(map[string]bool)
		for _, c := range comments {
			for w := range phraseSet(c) {
				merged[w] = true
			}
		}
		sets[i] = merged
	}

	consecutive := 0
	for i := 1; i < len(sets); i++ {
		if jaccard(sets[i-1], sets[i]) > feedbackRepetitionThreshold {
			consecutive++
			if consecutive >= consecutiveOverlapPairsToDisengage {
				return true
			}
		} else {
			consecutive = 0
		}
	}
	return false
}

// RateLimiter enforces the complementary safety net: at most
// maxAcksPerWindow acknowledgment comments per PR within window.
type RateLimiter struct {
	mu              sync.Mutex
	window          time.Duration
	maxPerWindow    int
	acks            map[int][]time.Time
	now             func() time.Time
}

const defaultAckWindow = 2 * time.Hour
const defaultMaxAcksPerWindow = 3

// NewRateLimiter returns a limiter using spec.md's defaults (3 acks
// per 2-hour window).
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{window: defaultAckWindow, maxPerWindow: defaultMaxAcksPerWindow, acks: make(map[int][]time.Time), now: time.Now}
}

// Allow reports whether prNumber may receive another acknowledgment
// right now, and if so records the attempt.
func (r *RateLimiter) Allow(prNumber int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	var kept []time.Time
	for _, t := range r.acks[prNumber] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= r.maxPerWindow {
		r.acks[prNumber] = kept
		return false
	}
	r.acks[prNumber] = append(kept, now)
	return true
}

// Tracker owns the per-session disengaged set: once a PR's chain
// disengages, it never re-engages for the lifetime of this tracker,
// matching spec.md's "final per chain for the current session" rule.
type Tracker struct {
	mu          sync.Mutex
	disengaged  map[int]bool
	stamper     *crypto.Stamper
	rateLimiter *RateLimiter
}

// NewTracker builds a Tracker backed by stamper for the disengagement
// comment and a fresh RateLimiter for acknowledgments.
func NewTracker(stamper *crypto.Stamper) *Tracker {
	return &Tracker{disengaged: make(map[int]bool), stamper: stamper, rateLimiter: NewRateLimiter()}
}

// IsDisengaged reports whether prNumber's chain has already
// disengaged this session.
func (t *Tracker) IsDisengaged(prNumber int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disengaged[prNumber]
}

// Evaluate decides what to do about node (part of graph, at its
// computed depth) given the external review comments on its PR (for
// the feedback-repetition heuristic) and the comments of its ancestor
// chain in root-to-node order (comments per ancestor PR, same order).
// It returns true if this call triggered a fresh disengagement - the
// caller should post exactly one stamped comment in that case.
func (t *Tracker) Evaluate(node Node, ownComments []string, chainComments [][]string) (disengage bool) {
	prNumber := node.PR.Number

	t.mu.Lock()
	if t.disengaged[prNumber] {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	trigger := node.Depth > MaxChainDepth
	if !trigger {
		allComments := append(append([][]string(nil), chainComments...), ownComments)
		trigger = feedbackRepeats(allComments, node.Depth)
	}
	if !trigger {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disengaged[prNumber] {
		return false
	}
	t.disengaged[prNumber] = true
	return true
}

// DisengagementComment renders and stamps the single comment posted
// when Evaluate returns true, carrying the chain trace from root to
// this node.
func (t *Tracker) DisengagementComment(ctx context.Context, node Node, chain []forge.PullRequest) (string, error) {
	var trace strings.Builder
	trace.WriteString("Argus has stopped engaging with this pull request: it sits too deep in a PR chain or is repeating prior review feedback.\n\nChain trace:\n")
	for _, pr := range chain {
		trace.WriteString(fmt.Sprintf("- #%d: %s\n", pr.Number, pr.Title))
	}
	trace.WriteString(fmt.Sprintf("- #%d: %s (depth %d, disengaged here)\n", node.PR.Number, node.PR.Title, node.Depth))

	stamped, err := t.stamper.Emit(trace.String())
	if err != nil {
		return "", fmt.Errorf("stamping disengagement comment for PR #%d: %w", node.PR.Number, err)
	}
	return stamped, nil
}

// AllowAck is the rate limiter's gate for the orchestrator's PR-comment
// acknowledgment sweep: every ack, loop-detected or not, is subject to
// the 3-per-2h cap.
func (t *Tracker) AllowAck(prNumber int) bool {
	return t.rateLimiter.Allow(prNumber)
}

// ChainTrace walks graph from node back to its roots, returning the
// ancestor PRs in root-to-node order (node itself excluded).
func ChainTrace(graph Graph, nodeIndex int) []forge.PullRequest {
	var chain []forge.PullRequest
	visited := make(map[int]bool)
	cur := nodeIndex
	for {
		visited[cur] = true
		if len(graph.Nodes[cur].Parents) == 0 {
			break
		}
		parent := graph.Nodes[cur].Parents[0]
		if visited[parent] {
			break
		}
		cur = parent
	}

	// Re-walk forward from the discovered root down to nodeIndex's
	// immediate parent, in root-to-node order.
	var reversed []int
	walk := cur
	seen := make(map[int]bool)
	for walk != nodeIndex && !seen[walk] {
		seen[walk] = true
		reversed = append(reversed, walk)
		found := false
		for _, child := range graph.Nodes[walk].Children {
			if pathTo(graph, child, nodeIndex) {
				walk = child
				found = true
				break
			}
		}
		if !found {
			break
		}
	}
	for _, idx := range reversed {
		chain = append(chain, graph.Nodes[idx].PR)
	}
	return chain
}

func pathTo(graph Graph, from, to int) bool {
	if from == to {
		return true
	}
	visited := make(map[int]bool)
	queue := []int{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == to {
			return true
		}
		queue = append(queue, graph.Nodes[cur].Children...)
	}
	return false
}
