/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package loopdetector_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/argus-bot/argus/crypto"
	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/loopdetector"
	"github.com/argus-bot/argus/store/memstore"
)

func TestBuildLinksByBaseHeadBranch(t *testing.T) {
	prs := []forge.PullRequest{
		{Number: 1, HeadRef: "argus/issue-1", BaseRef: "main"},
		{Number: 2, HeadRef: "sub-pr-1-fixup", BaseRef: "argus/issue-1"},
	}
	g := loopdetector.Build(prs)

	if g.Nodes[0].Depth != 0 {
		t.Fatalf("root expected depth 0, got %d", g.Nodes[0].Depth)
	}
	if g.Nodes[1].Depth != 1 {
		t.Fatalf("child expected depth 1, got %d", g.Nodes[1].Depth)
	}
}

func TestBuildLinksByBranchNamePattern(t *testing.T) {
	prs := []forge.PullRequest{
		{Number: 5, HeadRef: "main-work", BaseRef: "main"},
		{Number: 6, HeadRef: "pr-5-followup", BaseRef: "main"},
	}
	g := loopdetector.Build(prs)
	if len(g.Nodes[1].Parents) != 1 || g.Nodes[1].Parents[0] != 0 {
		t.Fatalf("expected PR #6 linked to PR #5 via branch pattern, got parents %v", g.Nodes[1].Parents)
	}
}

func TestBuildLinksByIssueReferenceOnlyToOlderPR(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	prs := []forge.PullRequest{
		{Number: 20, BaseRef: "main", HeadRef: "a", CreatedAt: older},
		{Number: 21, BaseRef: "main", HeadRef: "b", Body: "continues #20", CreatedAt: newer},
	}
	g := loopdetector.Build(prs)
	if len(g.Nodes[1].Parents) != 1 || g.Nodes[1].Parents[0] != 0 {
		t.Fatalf("expected #21 to link to older #20 via issue reference, got %v", g.Nodes[1].Parents)
	}

	// A reference to a newer PR must not create a backward edge.
	prsReversed := []forge.PullRequest{
		{Number: 30, BaseRef: "main", HeadRef: "c", Body: "continues #31", CreatedAt: older},
		{Number: 31, BaseRef: "main", HeadRef: "d", CreatedAt: newer},
	}
	g2 := loopdetector.Build(prsReversed)
	if len(g2.Nodes[0].Parents) != 0 {
		t.Fatalf("expected no backward link to a newer PR, got parents %v", g2.Nodes[0].Parents)
	}
}

func TestBuildAssignsMaxDepthPlusOneToCycles(t *testing.T) {
	prs := []forge.PullRequest{
		{Number: 1, HeadRef: "pr-2-a", BaseRef: "main"},
		{Number: 2, HeadRef: "pr-1-b", BaseRef: "main"},
	}
	g := loopdetector.Build(prs)
	for _, n := range g.Nodes {
		if n.Depth != loopdetector.MaxChainDepth+1 {
			t.Fatalf("expected cyclic node depth %d, got %d", loopdetector.MaxChainDepth+1, n.Depth)
		}
	}
}

func TestIsWIP(t *testing.T) {
	cases := []struct {
		pr   forge.PullRequest
		want bool
	}{
		{forge.PullRequest{Draft: true}, true},
		{forge.PullRequest{Title: "[WIP] add feature"}, true},
		{forge.PullRequest{Title: "WIP: quick patch"}, true},
		{forge.PullRequest{Title: "🚧 still cooking"}, true},
		{forge.PullRequest{Title: "Fix the bug"}, false},
	}
	for _, c := range cases {
		if got := loopdetector.IsWIP(c.pr); got != c.want {
			t.Errorf("IsWIP(%q, draft=%v) = %v, want %v", c.pr.Title, c.pr.Draft, got, c.want)
		}
	}
}

func newTestTracker(t *testing.T) *loopdetector.Tracker {
	t.Helper()
	kv := memstore.New()
	keys, err := crypto.LoadOrGenerate(context.Background(), kv, kv)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	nonces, err := crypto.NewNonceRegistry(context.Background(), kv, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewNonceRegistry: %v", err)
	}
	stamper := crypto.NewStamper(keys, nonces)
	return loopdetector.NewTracker(stamper)
}

func TestTrackerEvaluateDisengagesTooDeepChainExactlyOnce(t *testing.T) {
	tracker := newTestTracker(t)
	node := loopdetector.Node{PR: forge.PullRequest{Number: 100}, Depth: loopdetector.MaxChainDepth + 1}

	if !tracker.Evaluate(node, nil, nil) {
		t.Fatalf("expected first Evaluate call past max depth to trigger disengagement")
	}
	if tracker.Evaluate(node, nil, nil) {
		t.Fatalf("expected second Evaluate call to not re-trigger")
	}
	if !tracker.IsDisengaged(100) {
		t.Fatalf("expected PR #100 to be marked disengaged")
	}
}

func TestTrackerEvaluateDisengagesOnRepeatedFeedback(t *testing.T) {
	tracker := newTestTracker(t)
	node := loopdetector.Node{PR: forge.PullRequest{Number: 200}, Depth: 2}

	repeated := []string{"please rename this variable to something clearer before merging"}
	chainComments := [][]string{repeated, repeated, repeated}

	if !tracker.Evaluate(node, nil, chainComments) {
		t.Fatalf("expected repeated feedback across a long enough chain to trigger disengagement")
	}
}

func TestTrackerEvaluateDoesNotTriggerOnShallowChain(t *testing.T) {
	tracker := newTestTracker(t)
	node := loopdetector.Node{PR: forge.PullRequest{Number: 300}, Depth: 1}

	if tracker.Evaluate(node, nil, nil) {
		t.Fatalf("shallow, non-repetitive chain must not disengage")
	}
}

func TestDisengagementCommentIncludesChainTraceAndStamp(t *testing.T) {
	tracker := newTestTracker(t)
	node := loopdetector.Node{PR: forge.PullRequest{Number: 5, Title: "leaf"}, Depth: 4}
	chain := []forge.PullRequest{{Number: 3, Title: "root"}, {Number: 4, Title: "middle"}}

	comment, err := tracker.DisengagementComment(context.Background(), node, chain)
	if err != nil {
		t.Fatalf("DisengagementComment: %v", err)
	}
	if !strings.Contains(comment, "#3: root") || !strings.Contains(comment, "#4: middle") || !strings.Contains(comment, "#5: leaf") {
		t.Fatalf("expected chain trace with all three PRs, got %q", comment)
	}
	if !strings.Contains(comment, "🔏 Argus") {
		t.Fatalf("expected a stamped footer, got %q", comment)
	}
}

func TestRateLimiterCapsAcksPerWindow(t *testing.T) {
	limiter := loopdetector.NewRateLimiter()
	for i := 0; i < 3; i++ {
		if !limiter.Allow(1) {
			t.Fatalf("ack %d should be allowed within the window", i)
		}
	}
	if limiter.Allow(1) {
		t.Fatalf("4th ack within the window should be rejected")
	}
}

func TestChainTraceReturnsAncestorsInRootToNodeOrder(t *testing.T) {
	prs := []forge.PullRequest{
		{Number: 1, HeadRef: "root-branch", BaseRef: "main"},
		{Number: 2, HeadRef: "pr-1-child", BaseRef: "main"},
		{Number: 3, HeadRef: "pr-2-grandchild", BaseRef: "main"},
	}
	g := loopdetector.Build(prs)

	chain := loopdetector.ChainTrace(g, 2)
	if len(chain) != 2 || chain[0].Number != 1 || chain[1].Number != 2 {
		t.Fatalf("expected chain [#1, #2] leading to #3, got %+v", chain)
	}
}
