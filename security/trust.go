/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package security

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Role is the forge-reported permission level for a user against a
// repository, before it is mapped to a Tier.
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

// Tier is the trust resolver's internal bucket for a Role.
type Tier string

const (
	TierOwner       Tier = "owner"
	TierMaintainer  Tier = "maintainer"
	TierReviewer    Tier = "reviewer"
	TierContributor Tier = "contributor"
	TierParticipant Tier = "participant"
	TierUnknown     Tier = "unknown"
)

var tierBaseScore = map[Tier]float64{
	TierOwner:       1.0,
	TierMaintainer:  0.85,
	TierReviewer:    0.75,
	TierContributor: 0.50,
	TierParticipant: 0.30,
	TierUnknown:     0.00,
}

func tierForRole(role Role) Tier {
	switch role {
	case RoleOwner, RoleAdmin:
		return TierOwner
	case RoleMaintainer:
		return TierMaintainer
	case RoleWrite:
		return TierReviewer
	case RoleTriage:
		return TierContributor
	case RoleRead:
		return TierParticipant
	default:
		return TierUnknown
	}
}

// History is the user's prior-interaction record a repository's forge
// adapter assembles before asking the resolver for a trust score.
type History struct {
	MergedPRs        int
	ClosedValidIssues int
	TotalComments    int
	PriorFlags       int
	PriorBlocks      int
}

// historyModifier folds History into the additive adjustment applied to
// a tier's base score, clamped overall to [-0.3, +0.2].
func historyModifier(h History) float64 {
	modifier := 0.0

	modifier += capped(float64(h.MergedPRs)*0.02, 0.1)
	modifier += capped(float64(h.ClosedValidIssues)*0.01, 0.05)

	if h.TotalComments >= 100 {
		modifier += 0.04
	} else if h.TotalComments >= 20 {
		modifier += 0.02
	}

	modifier -= capped(float64(h.PriorFlags)*0.05, 0.15)
	modifier -= capped(float64(h.PriorBlocks)*0.15, 0.3)

	if modifier > 0.2 {
		return 0.2
	}
	if modifier < -0.3 {
		return -0.3
	}
	return modifier
}

func capped(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

// Thresholds are the moderation cutoffs derived from one user's
// effective trust score. A classifier confidence at or above Flag (but
// below Block) flags the content; at or above Block, blocks it. Report
// is the confidence above which a human is paged regardless of the
// other two - it is infinite for established users so routine flags
// never escalate to a page.
type Thresholds struct {
	Flag   float64
	Block  float64
	Report float64
}

func thresholdsFor(t float64) Thresholds {
	report := 0.95
	if t >= 0.75 {
		report = posInf
	}
	return Thresholds{
		Flag:   0.5 + 0.3*t,
		Block:  0.8 + 0.19*t,
		Report: report,
	}
}

// posInf stands in for +Infinity without importing math for one value;
// any confidence score, which the classifier bounds to [0,1], compares
// less than it.
const posInf = 1e308 * 10

// Identity names the (platform, repository, user) a trust score is
// cached under.
type Identity struct {
	Platform string
	Repo     string
	User     string
}

// Score is a resolved trust assessment: the tier, the effective score,
// and the thresholds it implies.
type Score struct {
	Tier       Tier
	Effective  float64
	Thresholds Thresholds
	Immune     bool
}

type cacheEntry struct {
	score     Score
	expiresAt time.Time
}

const trustCacheTTL = 10 * time.Minute

// Resolver maps forge roles and history into cached trust scores.
// Owners short-circuit to an immune, clean verdict before any of the
// arithmetic below runs, since the owner account is used to exercise
// the system against itself.
type Resolver struct {
	mu    sync.Mutex
	cache map[Identity]cacheEntry
	now   func() time.Time
}

// NewResolver constructs a Resolver with an empty cache.
func NewResolver() *Resolver {
	return &Resolver{
		cache: make(map[Identity]cacheEntry),
		now:   time.Now,
	}
}

// Resolve returns the cached score for id if still fresh, otherwise
// computes and caches a new one from role and history.
func (r *Resolver) Resolve(_ context.Context, id Identity, role Role, history History) Score {
	r.mu.Lock()
	if entry, ok := r.cache[id]; ok && r.now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.score
	}
	r.mu.Unlock()

	tier := tierForRole(role)
	score := computeScore(tier, history)

	r.mu.Lock()
	r.cache[id] = cacheEntry{score: score, expiresAt: r.now().Add(trustCacheTTL)}
	r.mu.Unlock()

	return score
}

func computeScore(tier Tier, history History) Score {
	if tier == TierOwner {
		return Score{
			Tier:       TierOwner,
			Effective:  1.0,
			Thresholds: Thresholds{Flag: posInf, Block: posInf, Report: posInf},
			Immune:     true,
		}
	}

	effective := tierBaseScore[tier] + historyModifier(history)
	if effective < 0 {
		effective = 0
	}
	if effective > 1 {
		effective = 1
	}

	return Score{
		Tier:       tier,
		Effective:  effective,
		Thresholds: thresholdsFor(effective),
		Immune:     false,
	}
}

// Invalidate drops any cached score for id, forcing the next Resolve
// to recompute - used after a flag/block action changes the user's
// history mid-session.
func (r *Resolver) Invalidate(id Identity) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// String renders a Score for audit-log details.
func (s Score) String() string {
	return fmt.Sprintf("tier=%s effective=%.2f immune=%t", s.Tier, s.Effective, s.Immune)
}
