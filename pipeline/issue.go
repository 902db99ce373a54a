/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pipeline is the orchestrator: it owns the state machine one
// tracked issue moves through from first sighting to a merged PR (or
// a terminal rejection/stuck/flagged/skipped state), the bounded work
// queue that bounds how many issues are active at once, and the
// per-repo polling loop that drives both forward.
package pipeline

import (
	"fmt"
	"time"

	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/security"
)

// State is one point in a tracked issue's lifecycle.
type State string

const (
	StatePending            State = "pending"
	StateEvaluating         State = "evaluating"
	StateRejected           State = "rejected"
	StateApproved           State = "approved"
	StateBranching          State = "branching"
	StateCoding             State = "coding"
	StateWaitingCI          State = "waiting-ci"
	StateIterating          State = "iterating"
	StatePROpen             State = "pr-open"
	StateAnalyzingCompeting State = "analyzing-competing"
	StateSynthesizing       State = "synthesizing"
	StateDone               State = "done"
	StateStuck              State = "stuck"
	StateFlagged            State = "flagged"
	StateSkipped            State = "skipped"
)

// terminal is the set of states process_next and the poll loop must
// never try to advance further.
var terminal = map[State]bool{
	StateRejected: true,
	StateDone:     true,
	StateStuck:    true,
	StateFlagged:  true,
	StateSkipped:  true,
}

// IsTerminal reports whether s is a terminal state: no further
// transition fires without operator intervention.
func (s State) IsTerminal() bool {
	return terminal[s]
}

// transitions enumerates every edge the state machine allows. A
// transition not listed here is a bug in the orchestrator, not a
// legitimate retry path - CanTransition exists so a single call site
// enforces that invariant instead of scattering switch statements.
var transitions = map[State]map[State]bool{
	StatePending:            {StateEvaluating: true, StateSkipped: true},
	StateEvaluating:         {StateRejected: true, StateApproved: true, StateStuck: true},
	StateApproved:           {StateBranching: true},
	StateBranching:          {StateCoding: true, StateStuck: true},
	StateCoding:             {StateWaitingCI: true, StateFlagged: true, StateStuck: true},
	StateWaitingCI:          {StateIterating: true, StatePROpen: true, StateStuck: true},
	StateIterating:          {StateWaitingCI: true, StateCoding: true, StatePROpen: true, StateFlagged: true, StateStuck: true},
	StatePROpen:             {StateAnalyzingCompeting: true, StateFlagged: true, StateEvaluating: true},
	StateAnalyzingCompeting: {StateSynthesizing: true, StateDone: true, StateStuck: true},
	StateSynthesizing:       {StateDone: true, StateStuck: true},
}

// CanTransition reports whether from -> to is a legal edge. The one
// exception the table can't express as a flat edge is the re-entry
// loop pr-open -> analyzing-competing -> synthesizing -> (back to)
// pr-open once synthesis posts its plan and waits for the next poll;
// that loop is expressed by StatePROpen appearing as a valid
// predecessor of itself via the Synthesizing->Done->(new tracked
// cycle via RecordEvaluation) path, not as a raw self-edge.
func CanTransition(from, to State) bool {
	if from == to {
		return false
	}
	return transitions[from][to]
}

// CompetingAnalysis is one competitor's scored standing against a
// tracked issue's own PR, cached so repeated polls don't re-run the
// LLM scoring call against an unchanged competitor.
type CompetingAnalysis struct {
	PRNumber             int
	Correctness          float64
	Completeness         float64
	CodeQuality          float64
	TestCoverage         float64
	MinimalInvasiveness  float64
	Composite            float64
	IsOtherArgusInstance bool
	EvaluatedAt          time.Time
}

// Evaluation is the evaluator's cached merit verdict for a tracked
// issue, kept so a later edit-check or low-confidence override can
// inspect the decision without re-running the LLM call.
type Evaluation struct {
	Merit           bool
	Confidence      float64
	Reasoning       string
	AffectedFiles   []string
	LowConfOverride bool
	ParseFailure    bool
}

// TrackedIssue is the orchestrator's full view of one issue across its
// entire lifetime: identity, current state, the body hash pinned at
// evaluation time for edit detection, the branch/PR it produced, its
// iteration budget, and the cached evaluation/competing-PR analyses
// later stages consult instead of re-deriving.
type TrackedIssue struct {
	Repo   forge.RepoRef
	Number int
	Title  string
	URL    string

	State State

	// BodyHashAtEvaluation is the SHA-256 hex digest of the issue body
	// as of the most recent evaluation; editdetector recomputes and
	// compares this on every poll once the issue has left pending.
	BodyHashAtEvaluation string

	BranchName string
	PRNumber   int
	PRURL      string

	IterationCount int
	IterationCap   int

	Evaluation       *Evaluation
	CompetingResults []CompetingAnalysis

	LastError    string
	LastPollAt   time.Time
	LastActionAt time.Time

	// DisengagedLoop is set once the loop detector disengages this
	// issue's PR chain; the orchestrator must never re-engage it for
	// the lifetime of the process.
	DisengagedLoop bool
}

// defaultIterationCap is the coder's default fix-attempt budget per
// issue, per §4.4.
const defaultIterationCap = 5

// NewTrackedIssue seeds a freshly-polled issue at StatePending with the
// default iteration cap.
func NewTrackedIssue(repo forge.RepoRef, iss forge.Issue) *TrackedIssue {
	return &TrackedIssue{
		Repo:         repo,
		Number:       iss.Number,
		Title:        iss.Title,
		State:        StatePending,
		IterationCap: defaultIterationCap,
	}
}

// Transition moves the issue to to, returning an error if the edge is
// not in the state table. Every orchestrator stage that changes State
// must go through this so an invalid edge fails loudly instead of
// silently corrupting the tracked issue.
func (t *TrackedIssue) Transition(to State) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("pipeline: illegal transition %s -> %s for %s#%d", t.State, to, t.Repo.Name, t.Number)
	}
	t.State = to
	t.LastActionAt = now()
	return nil
}

// now is a var so tests can pin wall-clock time.
var now = time.Now

// TrustIdentity builds the security.Identity a trust resolver caches
// scores under for a user interacting with this issue's repo.
func (t *TrackedIssue) TrustIdentity(user string) security.Identity {
	return security.Identity{Platform: t.Repo.Platform, Repo: t.Repo.Owner + "/" + t.Repo.Name, User: user}
}
