/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pranalyzer scores competing pull requests against the same
// issue and, when a competitor clearly outperforms ours or the field
// of competitors collectively contributes more than we did, plans a
// synthesis drawing the best parts of each into a posted plan - never
// an auto-merge - per spec.md §4.11.
package pranalyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/waigani/diffparser"

	"github.com/argus-bot/argus/agents/result"
	"github.com/argus-bot/argus/crypto"
	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/llm"
)

// issueRefPattern matches "#N" issue references inside a PR title or
// body, the convention ListPullRequestsForIssue and FindCompeting both
// rely on to associate a PR with the issue it claims to resolve.
var issueRefPattern = regexp.MustCompile(`#(\d+)`)

// FindCompeting returns every open PR referencing issueNumber other
// than ourPRNumber.
func FindCompeting(ctx context.Context, port forge.Port, repo forge.RepoRef, issueNumber, ourPRNumber int) ([]forge.PullRequest, error) {
	candidates, err := port.ListPullRequestsForIssue(ctx, repo, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("finding competing pull requests for issue %d: %w", issueNumber, err)
	}

	var out []forge.PullRequest
	for _, pr := range candidates {
		if pr.Number == ourPRNumber {
			continue
		}
		if referencesIssue(pr, issueNumber) {
			out = append(out, pr)
		}
	}
	return out, nil
}

func referencesIssue(pr forge.PullRequest, issueNumber int) bool {
	for _, m := range issueRefPattern.FindAllStringSubmatch(pr.Title+" "+pr.Body, -1) {
		if m[1] == fmt.Sprintf("%d", issueNumber) {
			return true
		}
	}
	return false
}

// compositeWeights are the §4.11 weights for correctness, completeness,
// code quality, test coverage, and minimal-invasiveness respectively.
var compositeWeights = [5]float64{0.30, 0.20, 0.20, 0.15, 0.15}

// Score is one PR's scored standing.
type Score struct {
	Correctness          float64 `json:"correctness"`
	Completeness         float64 `json:"completeness"`
	CodeQuality          float64 `json:"code_quality"`
	TestCoverage         float64 `json:"test_coverage"`
	MinimalInvasiveness  float64 `json:"minimal_invasiveness"`
	Composite            float64 `json:"-"`
	IsOtherArgusInstance bool    `json:"-"`
}

// ours's own short instance ID (from crypto.KeyManager.InstanceID) lets
// the synthesis planner tell our own PR apart from a different Argus
// instance's, by checking whether a competitor's body carries a
// stamped short ID at all - it has no way to verify a stamp it cannot
// hold the signing key for.

// Analysis pairs one PR with its score and changed files, the unit
// the synthesis planner compares pairwise.
type Analysis struct {
	PR    forge.PullRequest
	Score Score
	Files []forge.File
}

const scoreSchema = `{"correctness":0.0,"completeness":0.0,"code_quality":0.0,"test_coverage":0.0,"minimal_invasiveness":0.0}`

// ScorePR runs the canary-guarded scoring call over one PR and folds
// in the CI-failing penalty and trust bonus per §4.11's composite
// formula.
func ScorePR(ctx context.Context, port llm.Port, repo forge.RepoRef, pr forge.PullRequest, files []forge.File, ciFailing bool, trust float64) (Score, error) {
	if port == nil {
		return heuristicScore(files, ciFailing), nil
	}

	guard, err := llm.NewGuard()
	if err != nil {
		return Score{}, fmt.Errorf("generating guard: %w", err)
	}

	system := strings.Join([]string{
		guard.Instructions(),
		"",
		"You are Argus's pull request analyzer for " + repo.Owner + "/" + repo.Name + ".",
		"Score the pull request below on five axes, each in [0,1].",
		"Reply with a single JSON object matching this schema and nothing else:",
		scoreSchema,
	}, "\n")

	var body strings.Builder
	body.WriteString(guard.Wrap(fmt.Sprintf("Title: %s\n\nBody:\n%s\n\nChanged files:\n", pr.Title, pr.Body)))
	for _, f := range files {
		body.WriteString(fmt.Sprintf("- %s (+%d/-%d)\n", f.Path, f.Additions, f.Deletions))
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: body.String()},
	}

	reply, err := port.Send(ctx, messages)
	if err != nil {
		return Score{}, fmt.Errorf("scoring call for %s/%s#%d: %w", repo.Owner, repo.Name, pr.Number, err)
	}
	if !guard.CanaryEchoed(reply) {
		return heuristicScore(files, ciFailing), nil
	}

	score, err := result.Extract[Score](reply)
	if err != nil {
		return heuristicScore(files, ciFailing), nil
	}

	score.Composite = composite(score, ciFailing, trust)
	if shortID, ok := crypto.ParseShortInstanceID(pr.Body); ok && shortID != "" {
		score.IsOtherArgusInstance = true
	}
	return score, nil
}

func heuristicScore(files []forge.File, ciFailing bool) Score {
	s := Score{Correctness: 0.5, Completeness: 0.5, CodeQuality: 0.5, TestCoverage: 0.3, MinimalInvasiveness: 0.5}
	s.Composite = composite(s, ciFailing, 0)
	return s
}

func composite(s Score, ciFailing bool, trust float64) float64 {
	c := compositeWeights[0]*s.Correctness +
		compositeWeights[1]*s.Completeness +
		compositeWeights[2]*s.CodeQuality +
		compositeWeights[3]*s.TestCoverage +
		compositeWeights[4]*s.MinimalInvasiveness
	if ciFailing {
		c -= 0.2
	}
	c += 0.05 * trust
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// SynthesisPlan is what the planner posts when no single PR is clearly
// best: an ordered list of source PRs to draw from, the strengths
// pulled from each, a projected composite score, and any file-level
// conflicts between sources a human must resolve by hand.
type SynthesisPlan struct {
	SourcePRs         []int
	SelectedStrengths map[int]string
	ProjectedScore    float64
	Conflicts         []string
}

const synthesisMarginThreshold = 0.15
const synthesisUniqueContributionThreshold = 3

// ShouldSynthesize reports whether the field of competitors warrants a
// synthesis plan: either the best competitor beats ours by at least
// synthesisMarginThreshold, or together the competitors contribute at
// least synthesisUniqueContributionThreshold files we did not
// ourselves touch.
func ShouldSynthesize(ours Analysis, competitors []Analysis) bool {
	if len(competitors) == 0 {
		return false
	}

	ourPaths := pathSet(ours.Files)
	uniqueContributions := make(map[string]bool)

	best := 0.0
	for _, c := range competitors {
		if c.Score.Composite > best {
			best = c.Score.Composite
		}
		for _, f := range c.Files {
			if !ourPaths[f.Path] {
				uniqueContributions[f.Path] = true
			}
		}
	}

	if best-ours.Score.Composite >= synthesisMarginThreshold {
		return true
	}
	return len(uniqueContributions) >= synthesisUniqueContributionThreshold
}

// PlanSynthesis builds the plan once ShouldSynthesize has said yes:
// sources ordered best-first, one selected strength per source, a
// projected score, and conflicts detected from overlapping patch hunks
// on files more than one source touches.
func PlanSynthesis(ours Analysis, competitors []Analysis) SynthesisPlan {
	all := append([]Analysis{ours}, competitors...)
	ordered := orderByComposite(all)

	plan := SynthesisPlan{
		SelectedStrengths: make(map[int]string),
	}
	var weighted float64
	for _, a := range ordered {
		plan.SourcePRs = append(plan.SourcePRs, a.PR.Number)
		plan.SelectedStrengths[a.PR.Number] = strengthSummary(a.Score)
		weighted += a.Score.Composite
	}
	plan.ProjectedScore = weighted / float64(len(ordered))
	plan.Conflicts = detectConflicts(all)
	return plan
}

func orderByComposite(analyses []Analysis) []Analysis {
	ordered := append([]Analysis(nil), analyses...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Score.Composite > ordered[j-1].Score.Composite; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}

func strengthSummary(s Score) string {
	best, bestName := s.Correctness, "correctness"
	for name, v := range map[string]float64{
		"completeness":         s.Completeness,
		"code quality":         s.CodeQuality,
		"test coverage":        s.TestCoverage,
		"minimal invasiveness": s.MinimalInvasiveness,
	} {
		if v > best {
			best, bestName = v, name
		}
	}
	return fmt.Sprintf("strongest on %s (%.2f)", bestName, best)
}

func pathSet(files []forge.File) map[string]bool {
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[f.Path] = true
	}
	return set
}

// detectConflicts finds files touched by more than one source and, for
// each, parses both patches with diffparser to see whether their
// changed-line ranges overlap. A parse failure on either side falls
// back to reporting "touches the same file" without a line-range
// claim, rather than silently dropping the conflict.
func detectConflicts(analyses []Analysis) []string {
	byPath := make(map[string][]struct {
		pr    int
		patch string
	})
	for _, a := range analyses {
		for _, f := range a.Files {
			byPath[f.Path] = append(byPath[f.Path], struct {
				pr    int
				patch string
			}{a.PR.Number, f.Patch})
		}
	}

	var conflicts []string
	for path, touches := range byPath {
		if len(touches) < 2 {
			continue
		}
		for i := 0; i < len(touches); i++ {
			for j := i + 1; j < len(touches); j++ {
				if rangesOverlap(path, touches[i].patch, touches[j].patch) {
					conflicts = append(conflicts, fmt.Sprintf("%s: PR #%d and PR #%d both modify overlapping ranges", path, touches[i].pr, touches[j].pr))
				}
			}
		}
	}
	return conflicts
}

func rangesOverlap(path, patchA, patchB string) bool {
	rangesA, okA := parseHunkRanges(path, patchA)
	rangesB, okB := parseHunkRanges(path, patchB)
	if !okA || !okB {
		// Could not parse one side's patch; still surface the collision,
		// just without precise line-range evidence.
		return true
	}
	for _, a := range rangesA {
		for _, b := range rangesB {
			if a.start <= b.start+b.length && b.start <= a.start+a.length {
				return true
			}
		}
	}
	return false
}

type lineRange struct {
	start  int
	length int
}

func parseHunkRanges(path, patch string) ([]lineRange, bool) {
	if patch == "" {
		return nil, false
	}
	synthetic := fmt.Sprintf("diff --git a/%s b/%s\n--- a/%s\n+++ b/%s\n%s\n", path, path, path, path, patch)
	diff, err := diffparser.Parse(synthetic)
	if err != nil || len(diff.Files) == 0 {
		return nil, false
	}
	var ranges []lineRange
	for _, hunk := range diff.Files[0].Hunks {
		ranges = append(ranges, lineRange{start: hunk.NewRange.Start, length: hunk.NewRange.Length})
	}
	return ranges, len(ranges) > 0
}
