/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/argus-bot/argus/agents/agenttrace"
	"github.com/argus-bot/argus/coder"
	"github.com/argus-bot/argus/commenthandler"
	"github.com/argus-bot/argus/crypto"
	"github.com/argus-bot/argus/editdetector"
	"github.com/argus-bot/argus/evaluator"
	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/investigator"
	"github.com/argus-bot/argus/llm"
	"github.com/argus-bot/argus/loopdetector"
	"github.com/argus-bot/argus/pranalyzer"
	"github.com/argus-bot/argus/security"
)

// Labels the orchestrator applies as it makes decisions a maintainer
// should be able to see without reading the audit log.
const (
	LabelLowConfidenceOverride = "argus:low-confidence-override"
	LabelParseFailure          = "argus:parse-failure"
	LabelNeedsReview           = "argus:needs-review"
)

// lowConfidenceThreshold: a merit=false verdict below this confidence
// is flipped to merit=true and labeled rather than trusted outright.
// The evaluator is already biased toward merit=true in its prompt, so
// a confident false is a considered rejection; an unconfident one
// looks more like the model hedging than a real verdict.
const lowConfidenceThreshold = 0.7

// defaultMaxConcurrentIssues and defaultPollInterval are the process
// defaults; Config overrides them per deployment.
const (
	defaultMaxConcurrentIssues = 3
	defaultPollInterval        = 5 * time.Minute
)

// Config holds the orchestrator's runtime tunables.
type Config struct {
	MaxConcurrentIssues int64
	PollInterval        time.Duration
	DryRun              bool
}

// Deps are every collaborator the orchestrator drives. All fields are
// required except Loop, which defaults to a fresh tracker if nil.
type Deps struct {
	Forge    forge.Port
	LLM      llm.Port
	Resolver *security.Resolver
	Keys     *crypto.KeyManager
	Stamper  *crypto.Stamper
	Audit    *crypto.AuditLog
	Loop     *loopdetector.Tracker
	Activity *ActivityLog
}

// Orchestrator drives one polling goroutine per repository, each
// bounded to Config.MaxConcurrentIssues simultaneously active issues
// per §5's concurrency model.
type Orchestrator struct {
	deps   Deps
	config Config

	mu     sync.Mutex
	queues map[string]*Queue
}

// New builds an Orchestrator. Zero-valued Config fields take the
// package defaults.
func New(deps Deps, config Config) *Orchestrator {
	if config.MaxConcurrentIssues <= 0 {
		config.MaxConcurrentIssues = defaultMaxConcurrentIssues
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if deps.Activity == nil {
		deps.Activity = NewActivityLog()
	}
	if deps.Loop == nil {
		deps.Loop = loopdetector.NewTracker(deps.Stamper)
	}
	return &Orchestrator{deps: deps, config: config, queues: make(map[string]*Queue)}
}

func repoKey(repo forge.RepoRef) string { return repo.Owner + "/" + repo.Name }

func (o *Orchestrator) queueFor(repo forge.RepoRef) *Queue {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := repoKey(repo)
	q, ok := o.queues[key]
	if !ok {
		q = NewQueue(o.config.MaxConcurrentIssues)
		o.queues[key] = q
	}
	return q
}

// Run starts one polling goroutine per repo and blocks until every
// goroutine returns - which happens only when ctx is cancelled, the
// emergency-stop path of §5.
func (o *Orchestrator) Run(ctx context.Context, repos []forge.RepoRef) error {
	var wg sync.WaitGroup
	for _, repo := range repos {
		wg.Add(1)
		go func(repo forge.RepoRef) {
			defer wg.Done()
			o.repoLoop(ctx, repo)
		}(repo)
	}
	wg.Wait()
	return ctx.Err()
}

// repoLoop is one repository's scheduler: an immediate first tick,
// then poll/process_next/poll_pr_comments on its own interval, per
// §4.1 and §5.
func (o *Orchestrator) repoLoop(ctx context.Context, repo forge.RepoRef) {
	log := clog.FromContext(ctx)
	queue := o.queueFor(repo)
	var lastPoll time.Time

	for {
		tickStart := time.Now()

		if err := o.poll(ctx, repo, queue, lastPoll); err != nil {
			log.Errorf("polling %s: %v", repoKey(repo), err)
			o.deps.Activity.Error(repoKey(repo), "poll", err.Error())
		}
		lastPoll = tickStart

		if err := o.processNext(ctx, repo, queue); err != nil {
			log.Errorf("processing %s: %v", repoKey(repo), err)
			o.deps.Activity.Error(repoKey(repo), "process_next", err.Error())
		}

		if err := o.pollPRComments(ctx, repo, queue); err != nil {
			log.Errorf("sweeping PR comments for %s: %v", repoKey(repo), err)
			o.deps.Activity.Error(repoKey(repo), "poll_pr_comments", err.Error())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.config.PollInterval):
		}
	}
}

// poll fetches issues updated since the last tick and tracks any not
// already known. Existing tracked issues are left alone here; edit
// detection against their current body happens in process_next once
// they are dequeued, so a still-pending issue's edits are simply
// reflected in the next evaluation rather than needing a separate
// check.
func (o *Orchestrator) poll(ctx context.Context, repo forge.RepoRef, queue *Queue, since time.Time) error {
	issues, err := o.deps.Forge.ListIssuesUpdatedSince(ctx, repo, since)
	if err != nil {
		return fmt.Errorf("listing updated issues: %w", err)
	}
	for _, iss := range issues {
		t := NewTrackedIssue(repo, iss)
		t.BodyHashAtEvaluation = editdetector.Hash(iss.Body)
		if queue.Track(t) {
			o.deps.Activity.Record("🆕", repoKey(repo), fmt.Sprintf("#%d", iss.Number), "tracked")
		}
	}
	return nil
}

// processNext dequeues at most one issue and advances it one step.
func (o *Orchestrator) processNext(ctx context.Context, repo forge.RepoRef, queue *Queue) error {
	t, release, ok := queue.Acquire(ctx)
	if !ok {
		return nil
	}
	defer release()

	t.LastPollAt = time.Now()
	o.process(ctx, repo, t, queue)
	return nil
}

// process advances t by exactly one state-machine step. Each branch is
// responsible for calling t.Transition itself so an illegal edge fails
// loudly instead of corrupting t.
func (o *Orchestrator) process(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue) {
	switch t.State {
	case StatePending:
		o.checkEditThenEvaluate(ctx, repo, t, queue)
	case StateApproved:
		o.processApproved(ctx, repo, t, queue)
	case StateBranching:
		o.processBranching(ctx, repo, t, queue)
	case StateCoding, StateIterating:
		o.processCodingCycle(ctx, repo, t, queue)
	case StatePROpen:
		o.processPROpen(ctx, repo, t, queue)
	case StateAnalyzingCompeting:
		o.processAnalyzingCompeting(ctx, repo, t, queue)
	case StateSynthesizing:
		o.processSynthesizing(ctx, repo, t, queue)
	}
}

func (o *Orchestrator) checkEditThenEvaluate(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue) {
	issue, err := o.deps.Forge.GetIssue(ctx, repo, t.Number)
	if err != nil {
		o.recordError(ctx, repo, t, "fetching issue", err)
		return
	}

	if err := t.Transition(StateEvaluating); err != nil {
		o.recordError(ctx, repo, t, "transitioning to evaluating", err)
		return
	}

	snap := evaluator.Snapshot{} // repository snapshot is fetched lazily by the evaluator's own READ_FILES turns
	fetch := func(ctx context.Context, path string) (string, error) {
		b, _, err := o.deps.Forge.GetFileContent(ctx, repo, "", path)
		return string(b), err
	}

	result, err := evaluator.Evaluate(ctx, o.deps.LLM, repo, issue, snap, fetch)
	if err != nil {
		o.stuck(ctx, repo, t, queue, fmt.Sprintf("evaluator: %v", err))
		return
	}

	if result.ParseFailure {
		_ = o.deps.Forge.AddLabel(ctx, repo, t.Number, LabelParseFailure)
	}

	merit := result.Merit
	override := false
	if !merit && result.Confidence < lowConfidenceThreshold {
		merit = true
		override = true
		_ = o.deps.Forge.AddLabel(ctx, repo, t.Number, LabelLowConfidenceOverride)
	}

	t.Evaluation = &Evaluation{
		Merit: merit, Confidence: result.Confidence, Reasoning: result.Reasoning,
		AffectedFiles: result.AffectedFiles, LowConfOverride: override, ParseFailure: result.ParseFailure,
	}
	t.BodyHashAtEvaluation = editdetector.Hash(issue.Body)

	o.audit(ctx, repo, t, "evaluate", fmt.Sprintf("merit=%v confidence=%.2f", merit, result.Confidence))

	if !merit {
		if err := t.Transition(StateRejected); err != nil {
			o.recordError(ctx, repo, t, "transitioning to rejected", err)
			return
		}
		o.deps.Activity.Rejected(repoKey(repo), fmt.Sprintf("#%d", t.Number), result.Reasoning)
		o.requeuePendingOrDrop(queue, t)
		return
	}

	if err := t.Transition(StateApproved); err != nil {
		o.recordError(ctx, repo, t, "transitioning to approved", err)
		return
	}
	o.deps.Activity.Approved(repoKey(repo), fmt.Sprintf("#%d", t.Number), result.Reasoning)
}

func (o *Orchestrator) processApproved(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue) {
	if err := t.Transition(StateBranching); err != nil {
		o.recordError(ctx, repo, t, "transitioning to branching", err)
		return
	}
	o.processBranching(ctx, repo, t, queue)
}

func (o *Orchestrator) processBranching(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue) {
	base, err := o.deps.Forge.GetDefaultBranch(ctx, repo)
	if err != nil {
		o.recordError(ctx, repo, t, "getting default branch", err)
		return
	}
	branch := fmt.Sprintf("argus/issue-%d", t.Number)
	if !o.config.DryRun {
		if err := o.deps.Forge.CreateBranchFrom(ctx, repo, base, branch); err != nil {
			o.stuck(ctx, repo, t, queue, fmt.Sprintf("creating branch: %v", err))
			return
		}
	}
	t.BranchName = branch

	if err := t.Transition(StateCoding); err != nil {
		o.recordError(ctx, repo, t, "transitioning to coding", err)
		return
	}
}

// processCodingCycle runs one investigator call (first attempt only)
// and one coder iteration, then advances the state machine based on
// the outcome. A blocked iteration (validation rejected the output
// before anything was pushed) and a failed-CI iteration are treated
// the same way for transition purposes - both represent "this attempt
// did not land, try again if budget remains" - routed through
// StateWaitingCI exactly as a genuine CI result would be, since the
// state graph has no edge for "retry without waiting."
func (o *Orchestrator) processCodingCycle(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue) {
	issue, err := o.deps.Forge.GetIssue(ctx, repo, t.Number)
	if err != nil {
		o.recordError(ctx, repo, t, "fetching issue", err)
		return
	}

	if editAction := o.checkEdit(ctx, repo, t, issue.Body); editAction == editdetector.ActionHalt {
		return
	}

	var investigatorNotes string
	if t.IterationCount == 0 && t.Evaluation != nil {
		invResult, err := investigator.Investigate(ctx, o.deps.LLM, repo, issue, t.Evaluation.AffectedFiles,
			func(ctx context.Context, path string) (string, error) {
				b, _, err := o.deps.Forge.GetFileContent(ctx, repo, t.BranchName, path)
				return string(b), err
			},
			func(ctx context.Context, query string) ([]forge.File, error) {
				return o.deps.Forge.SearchCode(ctx, repo, query)
			},
		)
		if err == nil {
			var b strings.Builder
			for _, c := range invResult.SuggestedChanges {
				b.WriteString(fmt.Sprintf("- %s (%s): %s\n", c.Path, c.Action, c.Description))
			}
			investigatorNotes = b.String()
		}
	}

	snippets := make(map[string]string)
	if t.Evaluation != nil {
		for _, path := range t.Evaluation.AffectedFiles {
			b, _, err := o.deps.Forge.GetFileContent(ctx, repo, t.BranchName, path)
			if err == nil {
				snippets[path] = string(b)
			}
		}
	}

	summary := ""
	if t.Evaluation != nil {
		summary = t.Evaluation.Reasoning
	}

	in := coder.IterationInput{
		Repo: repo, Branch: t.BranchName,
		IssueTitle: issue.Title, IssueBody: issue.Body,
		EvaluationSummary: summary, InvestigatorNotes: investigatorNotes,
		ExistingSnippets: snippets,
		IterationNumber:  t.IterationCount + 1,
	}
	t.IterationCount++

	if o.config.DryRun {
		o.deps.Activity.Iterating(repoKey(repo), fmt.Sprintf("#%d", t.Number), "dry-run: skipped coder call")
		if err := t.Transition(StatePROpen); err != nil {
			o.recordError(ctx, repo, t, "transitioning to pr-open (dry-run)", err)
		}
		return
	}

	deps := coder.Deps{LLM: o.deps.LLM, Forge: o.deps.Forge}
	result, err := coder.RunIteration(ctx, deps, in)
	if err != nil || result.Outcome == coder.OutcomeFatal {
		o.stuck(ctx, repo, t, queue, fmt.Sprintf("coder: %v", err))
		return
	}

	if err := t.Transition(StateWaitingCI); err != nil {
		o.recordError(ctx, repo, t, "transitioning to waiting-ci", err)
		return
	}

	switch result.Outcome {
	case coder.OutcomeCIPassed:
		o.audit(ctx, repo, t, "coder-iteration", "ci passed")
		o.openOrUpdatePR(ctx, repo, t, queue, result)
	case coder.OutcomeBlocked, coder.OutcomeCIFailed:
		o.audit(ctx, repo, t, "coder-iteration", fmt.Sprintf("%s: %s", result.Outcome, summarize(result.CILog)))
		if t.IterationCount >= t.IterationCap {
			o.stuck(ctx, repo, t, queue, "iteration cap reached without a passing build")
			return
		}
		if err := t.Transition(StateIterating); err != nil {
			o.recordError(ctx, repo, t, "transitioning to iterating", err)
			return
		}
		o.deps.Activity.Iterating(repoKey(repo), fmt.Sprintf("#%d", t.Number), fmt.Sprintf("attempt %d/%d", t.IterationCount, t.IterationCap))
	}
}

func (o *Orchestrator) openOrUpdatePR(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue, result coder.IterationResult) {
	if t.PRNumber == 0 {
		body := fmt.Sprintf("Resolves #%d.\n\n%s\n\n%s", t.Number, result.Reasoning, result.SelfReview)
		stamped, err := o.deps.Stamper.Emit(body)
		if err != nil {
			o.stuck(ctx, repo, t, queue, fmt.Sprintf("stamping PR body: %v", err))
			return
		}
		pr, err := o.deps.Forge.CreatePullRequest(ctx, repo, fmt.Sprintf("Fix #%d", t.Number), stamped, t.BranchName, "", false)
		if err != nil {
			o.stuck(ctx, repo, t, queue, fmt.Sprintf("opening pull request: %v", err))
			return
		}
		t.PRNumber = pr.Number
		t.PRURL = pr.HTMLURL
		o.deps.Activity.PROpened(repoKey(repo), fmt.Sprintf("#%d", t.Number), pr.HTMLURL)
	}
	if err := t.Transition(StatePROpen); err != nil {
		o.recordError(ctx, repo, t, "transitioning to pr-open", err)
	}
}

// processPROpen moves an open-PR issue into competing-PR analysis each
// time it is dequeued, the re-entry point spec.md describes as
// pr-open -> analyzing-competing -> synthesizing.
func (o *Orchestrator) processPROpen(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue) {
	issue, err := o.deps.Forge.GetIssue(ctx, repo, t.Number)
	if err != nil {
		o.recordError(ctx, repo, t, "fetching issue", err)
		return
	}
	if action := o.checkEdit(ctx, repo, t, issue.Body); action == editdetector.ActionReevaluate {
		if err := t.Transition(StateEvaluating); err == nil {
			o.checkEditThenEvaluate(ctx, repo, t, queue)
		}
		return
	}

	if err := t.Transition(StateAnalyzingCompeting); err != nil {
		o.recordError(ctx, repo, t, "transitioning to analyzing-competing", err)
		return
	}
	o.processAnalyzingCompeting(ctx, repo, t, queue)
}

func (o *Orchestrator) processAnalyzingCompeting(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue) {
	competitors, err := pranalyzer.FindCompeting(ctx, o.deps.Forge, repo, t.Number, t.PRNumber)
	if err != nil {
		o.stuck(ctx, repo, t, queue, fmt.Sprintf("finding competing PRs: %v", err))
		return
	}

	ourPR, err := o.deps.Forge.GetPullRequest(ctx, repo, t.PRNumber)
	if err != nil {
		o.stuck(ctx, repo, t, queue, fmt.Sprintf("getting our PR: %v", err))
		return
	}
	ourFiles, err := o.deps.Forge.ListPullRequestFiles(ctx, repo, t.PRNumber)
	if err != nil {
		o.stuck(ctx, repo, t, queue, fmt.Sprintf("listing our PR files: %v", err))
		return
	}
	ourStatus, _ := o.deps.Forge.GetCombinedStatus(ctx, repo, ourPR.HeadSHA)
	ourScore, err := pranalyzer.ScorePR(ctx, o.deps.LLM, repo, ourPR, ourFiles, ourStatus.State == "failure", 0)
	if err != nil {
		o.stuck(ctx, repo, t, queue, fmt.Sprintf("scoring our PR: %v", err))
		return
	}
	ours := pranalyzer.Analysis{PR: ourPR, Score: ourScore, Files: ourFiles}

	var analyses []pranalyzer.Analysis
	t.CompetingResults = nil
	for _, c := range competitors {
		files, err := o.deps.Forge.ListPullRequestFiles(ctx, repo, c.Number)
		if err != nil {
			continue
		}
		status, _ := o.deps.Forge.GetCombinedStatus(ctx, repo, c.HeadSHA)
		role, _ := o.deps.Forge.GetRepoRole(ctx, repo, c.Author)
		trust := o.deps.Resolver.Resolve(ctx, t.TrustIdentity(c.Author), mapForgeRole(role), security.History{})
		score, err := pranalyzer.ScorePR(ctx, o.deps.LLM, repo, c, files, status.State == "failure", trust.Effective)
		if err != nil {
			continue
		}
		analyses = append(analyses, pranalyzer.Analysis{PR: c, Score: score, Files: files})
		t.CompetingResults = append(t.CompetingResults, CompetingAnalysis{
			PRNumber: c.Number, Correctness: score.Correctness, Completeness: score.Completeness,
			CodeQuality: score.CodeQuality, TestCoverage: score.TestCoverage,
			MinimalInvasiveness: score.MinimalInvasiveness, Composite: score.Composite,
			IsOtherArgusInstance: score.IsOtherArgusInstance, EvaluatedAt: time.Now(),
		})
	}

	o.deps.Activity.CompetingAnalyzed(repoKey(repo), fmt.Sprintf("#%d", t.Number), fmt.Sprintf("%d competitors scored", len(analyses)))
	o.audit(ctx, repo, t, "analyze-competing", fmt.Sprintf("%d competitors, our composite %.2f", len(analyses), ourScore.Composite))

	if !pranalyzer.ShouldSynthesize(ours, analyses) {
		if err := t.Transition(StateDone); err != nil {
			o.recordError(ctx, repo, t, "transitioning to done", err)
		}
		return
	}

	if err := t.Transition(StateSynthesizing); err != nil {
		o.recordError(ctx, repo, t, "transitioning to synthesizing", err)
		return
	}
	o.synthesize(ctx, repo, t, queue, ours, analyses)
}

func (o *Orchestrator) processSynthesizing(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue) {
	// Reached only if a prior tick was interrupted mid-synthesis; simply
	// re-run analysis, which recomputes the same plan deterministically
	// enough to post it again.
	if err := t.Transition(StateDone); err != nil {
		o.recordError(ctx, repo, t, "transitioning to done", err)
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue, ours pranalyzer.Analysis, competitors []pranalyzer.Analysis) {
	plan := pranalyzer.PlanSynthesis(ours, competitors)

	var b strings.Builder
	b.WriteString("Argus analyzed the competing pull requests for this issue and proposes combining their strengths:\n\n")
	for _, pr := range plan.SourcePRs {
		b.WriteString(fmt.Sprintf("- #%d: %s\n", pr, plan.SelectedStrengths[pr]))
	}
	b.WriteString(fmt.Sprintf("\nProjected composite score: %.2f\n", plan.ProjectedScore))
	if len(plan.Conflicts) > 0 {
		b.WriteString("\nConflicts requiring manual resolution:\n")
		for _, c := range plan.Conflicts {
			b.WriteString("- " + c + "\n")
		}
	}
	b.WriteString("\nThis is a proposal only; no changes have been merged automatically.")

	if !o.config.DryRun {
		stamped, err := o.deps.Stamper.Emit(b.String())
		if err != nil {
			o.stuck(ctx, repo, t, queue, fmt.Sprintf("stamping synthesis plan: %v", err))
			return
		}
		if _, err := o.deps.Forge.AddPullRequestComment(ctx, repo, t.PRNumber, stamped); err != nil {
			o.stuck(ctx, repo, t, queue, fmt.Sprintf("posting synthesis plan: %v", err))
			return
		}
	}

	o.audit(ctx, repo, t, "synthesize", fmt.Sprintf("plan over %d sources, projected %.2f", len(plan.SourcePRs), plan.ProjectedScore))
	if err := t.Transition(StateDone); err != nil {
		o.recordError(ctx, repo, t, "transitioning to done", err)
	}
}

// pollPRComments sweeps every currently pr-open issue for new external
// review/conversation comments, running each through commenthandler
// and, independently, the loop detector's chain/rate-limit veto before
// any acknowledgment is posted.
func (o *Orchestrator) pollPRComments(ctx context.Context, repo forge.RepoRef, queue *Queue) error {
	open, err := o.deps.Forge.ListOpenPullRequests(ctx, repo)
	if err != nil {
		return fmt.Errorf("listing open pull requests: %w", err)
	}

	var tracked []*TrackedIssue
	for _, t := range queue.All() {
		if t.State == StatePROpen {
			tracked = append(tracked, t)
		}
	}
	if len(tracked) == 0 {
		return nil
	}

	graph := loopdetector.Build(open)
	byNumber := make(map[int]int, len(open))
	for i, pr := range open {
		byNumber[pr.Number] = i
	}

	for _, t := range tracked {
		idx, ok := byNumber[t.PRNumber]
		if !ok {
			continue
		}
		node := graph.Nodes[idx]
		if loopdetector.IsWIP(node.PR) {
			continue
		}

		comments, err := o.deps.Forge.ListConversationComments(ctx, repo, t.PRNumber)
		if err != nil {
			continue
		}
		var bodies []string
		for _, c := range comments {
			bodies = append(bodies, c.Body)
		}

		chain := loopdetector.ChainTrace(graph, idx)
		var chainComments [][]string
		for _, ancestor := range chain {
			if ai, ok := byNumber[ancestor.Number]; ok {
				ancestorComments, err := o.deps.Forge.ListConversationComments(ctx, repo, graph.Nodes[ai].PR.Number)
				if err == nil {
					var ab []string
					for _, c := range ancestorComments {
						ab = append(ab, c.Body)
					}
					chainComments = append(chainComments, ab)
				}
			}
		}

		if o.deps.Loop.Evaluate(node, bodies, chainComments) {
			t.DisengagedLoop = true
			comment, err := o.deps.Loop.DisengagementComment(ctx, node, chain)
			if err == nil && !o.config.DryRun {
				_, _ = o.deps.Forge.AddPullRequestComment(ctx, repo, t.PRNumber, comment)
			}
			o.deps.Activity.LoopDetected(repoKey(repo), fmt.Sprintf("#%d", t.PRNumber), fmt.Sprintf("depth %d", node.Depth))
			o.audit(ctx, repo, t, "loop-detected", fmt.Sprintf("chain depth %d", node.Depth))
			continue
		}
		if t.DisengagedLoop {
			continue
		}

		since := t.LastPollAt
		newComments, err := o.deps.Forge.ListIssueCommentsSince(ctx, repo, t.PRNumber, since)
		if err != nil {
			continue
		}
		for _, c := range newComments {
			role, _ := o.deps.Forge.GetRepoRole(ctx, repo, c.Author)
			history, _ := o.deps.Forge.GetUserHistory(ctx, repo, c.Author)
			if !o.deps.Loop.AllowAck(t.PRNumber) {
				continue
			}
			deps := commenthandler.Deps{LLM: o.deps.LLM, Forge: o.deps.Forge, Resolver: o.deps.Resolver}
			if o.config.DryRun {
				continue
			}
			decision, err := commenthandler.Handle(ctx, deps, repo, t.PRNumber, c, role, history)
			if err != nil {
				o.deps.Activity.Error(repoKey(repo), fmt.Sprintf("#%d", t.PRNumber), err.Error())
				continue
			}
			if containsAction(decision.Actions, commenthandler.ActionFlag) || containsAction(decision.Actions, commenthandler.ActionBlock) {
				o.deps.Activity.ThreatDetected(repoKey(repo), fmt.Sprintf("#%d", t.PRNumber), decision.Reason)
			}
			o.audit(ctx, repo, t, "comment-handled", decision.Reason)
		}
	}
	return nil
}

// checkEdit recomputes the issue body hash and returns the detector's
// action, halting and flagging t when work is in flight against a body
// that has since changed underneath it.
func (o *Orchestrator) checkEdit(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, currentBody string) editdetector.Action {
	result := editdetector.Check(currentBody, t.BodyHashAtEvaluation, string(t.State))
	if !result.BodyChanged {
		return editdetector.ActionNone
	}
	o.audit(ctx, repo, t, "edit-detected", fmt.Sprintf("%s -> %s: %s", result.OldHash, result.NewHash, result.Action))
	if result.Action == editdetector.ActionHalt {
		_ = o.deps.Forge.AddLabel(ctx, repo, t.Number, LabelNeedsReview)
		if err := t.Transition(StateFlagged); err != nil {
			clog.FromContext(ctx).Errorf("transitioning to flagged after edit halt: %v", err)
		}
	}
	return result.Action
}

func (o *Orchestrator) requeuePendingOrDrop(queue *Queue, t *TrackedIssue) {
	if t.State != StatePending {
		return
	}
	_ = queue.Requeue(t.Number)
}

func (o *Orchestrator) stuck(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, queue *Queue, reason string) {
	t.LastError = reason
	if err := t.Transition(StateStuck); err != nil {
		clog.FromContext(ctx).Errorf("transitioning to stuck: %v", err)
		return
	}
	_ = o.deps.Forge.AddLabel(ctx, repo, t.Number, LabelNeedsReview)
	o.deps.Activity.Error(repoKey(repo), fmt.Sprintf("#%d", t.Number), reason)
	o.audit(ctx, repo, t, "stuck", reason)
}

func (o *Orchestrator) recordError(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, action string, err error) {
	t.LastError = err.Error()
	clog.FromContext(ctx).Errorf("%s for %s#%d: %v", action, repo.Name, t.Number, err)
	o.deps.Activity.Error(repoKey(repo), fmt.Sprintf("#%d", t.Number), fmt.Sprintf("%s: %v", action, err))
}

// audit records a state-transition decision both in the append-only
// audit log and as an OpenTelemetry span, with details folded into the
// span's reasoning so a trace backend shows the same explanation a
// maintainer would see in the audit log.
func (o *Orchestrator) audit(ctx context.Context, repo forge.RepoRef, t *TrackedIssue, action, details string) {
	trace := agenttrace.StartTrace[string](ctx, fmt.Sprintf("%s: %s#%d -> %s", action, repoKey(repo), t.Number, t.State))
	trace.Reasoning = append(trace.Reasoning, agenttrace.ReasoningContent{Thinking: details})
	trace.Complete(details, nil)

	entry := crypto.AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Repo:      repoKey(repo),
		Target:    fmt.Sprintf("#%d", t.Number),
		Decision:  string(t.State),
		Details:   details,
	}
	if _, err := o.deps.Audit.Append(ctx, entry); err != nil {
		clog.FromContext(ctx).Errorf("appending audit entry: %v", err)
	}
}

func mapForgeRole(r forge.Role) security.Role {
	switch r {
	case forge.RoleOwner:
		return security.RoleOwner
	case forge.RoleAdmin:
		return security.RoleAdmin
	case forge.RoleMaintainer:
		return security.RoleMaintainer
	case forge.RoleWrite:
		return security.RoleWrite
	case forge.RoleTriage:
		return security.RoleTriage
	case forge.RoleRead:
		return security.RoleRead
	default:
		return security.RoleNone
	}
}

func containsAction(actions []commenthandler.Action, target commenthandler.Action) bool {
	for _, a := range actions {
		if a == target {
			return true
		}
	}
	return false
}

func summarize(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}
