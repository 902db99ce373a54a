/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package security_test

import (
	"context"
	"math"
	"testing"

	"github.com/argus-bot/argus/security"
)

func TestResolveOwnerIsImmune(t *testing.T) {
	r := security.NewResolver()
	score := r.Resolve(context.Background(), security.Identity{Platform: "github", Repo: "o/r", User: "alice"}, security.RoleOwner, security.History{})
	if !score.Immune {
		t.Fatal("Immune = false, want true for an owner role")
	}
	if score.Effective != 1.0 {
		t.Errorf("Effective = %v, want 1.0", score.Effective)
	}
}

func TestResolveBaseScoreByTier(t *testing.T) {
	r := security.NewResolver()
	score := r.Resolve(context.Background(), security.Identity{Platform: "github", Repo: "o/r", User: "bob"}, security.RoleWrite, security.History{})
	if score.Tier != security.TierReviewer {
		t.Errorf("Tier = %q, want reviewer", score.Tier)
	}
	if score.Effective != 0.75 {
		t.Errorf("Effective = %v, want 0.75 with no history modifier", score.Effective)
	}
}

func TestResolveAppliesHistoryCapsAndClamps(t *testing.T) {
	r := security.NewResolver()
	history := security.History{MergedPRs: 50, ClosedValidIssues: 50, TotalComments: 200}
	score := r.Resolve(context.Background(), security.Identity{Platform: "github", Repo: "o/r", User: "carol"}, security.RoleNone, history)
	// base 0.0 + capped merged (0.1) + capped closed (0.05) + comment bump (0.04) = 0.19
	want := 0.19
	if math.Abs(score.Effective-want) > 1e-9 {
		t.Errorf("Effective = %v, want %v", score.Effective, want)
	}
}

func TestResolveClampsPriorBlocksToZero(t *testing.T) {
	r := security.NewResolver()
	history := security.History{PriorBlocks: 10}
	score := r.Resolve(context.Background(), security.Identity{Platform: "github", Repo: "o/r", User: "dave"}, security.RoleRead, history)
	if score.Effective != 0 {
		t.Errorf("Effective = %v, want 0 (clamped after a heavy prior-block penalty)", score.Effective)
	}
}

func TestResolveCachesByIdentity(t *testing.T) {
	r := security.NewResolver()
	id := security.Identity{Platform: "github", Repo: "o/r", User: "erin"}
	first := r.Resolve(context.Background(), id, security.RoleTriage, security.History{MergedPRs: 1})
	second := r.Resolve(context.Background(), id, security.RoleOwner, security.History{})
	if second.Tier != first.Tier {
		t.Errorf("second Resolve() returned Tier %q, want the cached %q (role change should not matter until cache expiry)", second.Tier, first.Tier)
	}
}

func TestResolveInvalidateForcesRecompute(t *testing.T) {
	r := security.NewResolver()
	id := security.Identity{Platform: "github", Repo: "o/r", User: "frank"}
	r.Resolve(context.Background(), id, security.RoleTriage, security.History{})
	r.Invalidate(id)
	score := r.Resolve(context.Background(), id, security.RoleOwner, security.History{})
	if !score.Immune {
		t.Error("Immune = false after Invalidate() and a role change to owner, want true")
	}
}

func TestThresholdsIncreaseWithEffectiveScore(t *testing.T) {
	r := security.NewResolver()
	low := r.Resolve(context.Background(), security.Identity{Platform: "github", Repo: "o/r", User: "low"}, security.RoleNone, security.History{})
	high := r.Resolve(context.Background(), security.Identity{Platform: "github", Repo: "o/r", User: "high"}, security.RoleMaintainer, security.History{})
	if high.Thresholds.Flag <= low.Thresholds.Flag {
		t.Errorf("high-trust Flag threshold %v should exceed low-trust Flag threshold %v", high.Thresholds.Flag, low.Thresholds.Flag)
	}
	if high.Thresholds.Block <= low.Thresholds.Block {
		t.Errorf("high-trust Block threshold %v should exceed low-trust Block threshold %v", high.Thresholds.Block, low.Thresholds.Block)
	}
}
