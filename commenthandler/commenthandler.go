/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package commenthandler runs every new issue/PR comment through the
// sanitizer, threat classifier, and trust resolver, then carries out
// whatever moderation actions the resulting confidence and the
// commenter's trust thresholds call for, per spec.md §4.9.
package commenthandler

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/argus-bot/argus/forge"
	"github.com/argus-bot/argus/llm"
	"github.com/argus-bot/argus/security"
)

// Action is one moderation step the handler decided to take.
type Action string

const (
	ActionNone     Action = "none"
	ActionFlag     Action = "flag"
	ActionDelete   Action = "delete"
	ActionBlock    Action = "block"
	ActionReport   Action = "report"
	ActionUpdatePR Action = "update_pr" // the comment is legitimate review feedback; the orchestrator should feed it to another coder iteration
)

// FlagLabel is applied to the issue/PR when a comment is flagged but
// not removed - visible to a maintainer without silently deleting
// content a human should be able to review.
const FlagLabel = "argus:flagged-comment"

// Decision is the handler's verdict and the actions it took (or
// attempted) for one comment.
type Decision struct {
	Actions    []Action
	Assessment security.ThreatAssessment
	Trust      security.Score
	Reason     string
}

// Deps are the handler's collaborators.
type Deps struct {
	LLM      llm.Port
	Forge    forge.Port
	Resolver *security.Resolver
}

// Handle classifies comment, resolves the author's trust, and carries
// out the moderation actions that follow. role and history are the
// forge's view of the author against repo; issueNumber identifies
// where the comment lives, for the flag label and for feeding
// update_pr decisions back to the orchestrator. Owners are immune and
// never reach the classifier.
func Handle(ctx context.Context, deps Deps, repo forge.RepoRef, issueNumber int, comment forge.Comment, role forge.Role, history forge.UserHistory) (Decision, error) {
	identity := security.Identity{Platform: repo.Platform, Repo: repo.Owner + "/" + repo.Name, User: comment.Author}
	trustRole := mapRole(role)
	trust := deps.Resolver.Resolve(ctx, identity, trustRole, mapHistory(history))

	if trust.Immune {
		return Decision{Actions: []Action{ActionNone}, Trust: trust, Reason: "owner is immune to moderation"}, nil
	}

	sanitized := security.Sanitize(comment.Body)
	assessment, err := security.Classify(ctx, deps.LLM, sanitized)
	if err != nil {
		return Decision{}, fmt.Errorf("classifying comment %d: %w", comment.ID, err)
	}

	actions := decideActions(assessment, trust)
	decision := Decision{Actions: actions, Assessment: assessment, Trust: trust, Reason: assessment.Reason}

	if err := execute(ctx, deps, repo, issueNumber, comment, actions); err != nil {
		return decision, err
	}

	if len(actions) > 1 || (len(actions) == 1 && actions[0] != ActionNone) {
		deps.Resolver.Invalidate(identity)
	}

	return decision, nil
}

func decideActions(a security.ThreatAssessment, trust security.Score) []Action {
	var actions []Action
	switch {
	case a.Confidence >= trust.Thresholds.Block:
		actions = append(actions, ActionDelete, ActionBlock)
	case a.Confidence >= trust.Thresholds.Flag:
		actions = append(actions, ActionFlag)
	}
	if a.Confidence >= trust.Thresholds.Report {
		actions = append(actions, ActionReport)
	}
	if len(actions) == 0 {
		actions = append(actions, ActionNone)
	}
	return actions
}

func execute(ctx context.Context, deps Deps, repo forge.RepoRef, issueNumber int, comment forge.Comment, actions []Action) error {
	for _, action := range actions {
		switch action {
		case ActionNone, ActionUpdatePR:
			// ActionUpdatePR carries no forge side effect here; the
			// orchestrator reads it off the Decision to trigger another
			// coder iteration.
		case ActionFlag:
			if err := deps.Forge.AddLabel(ctx, repo, issueNumber, FlagLabel); err != nil {
				return fmt.Errorf("flagging comment %d: %w", comment.ID, err)
			}
		case ActionDelete:
			if err := deps.Forge.DeleteComment(ctx, repo, comment.ID); err != nil {
				return fmt.Errorf("deleting comment %d: %w", comment.ID, err)
			}
		case ActionBlock:
			if err := deps.Forge.BlockUser(ctx, repo, comment.Author); err != nil {
				return fmt.Errorf("blocking %s: %w", comment.Author, err)
			}
		case ActionReport:
			if err := deps.Forge.ReportUser(ctx, repo, comment.Author, "threat classifier escalated to report threshold"); err != nil {
				if errors.Is(err, forge.ErrAdvisoryOnly) {
					clog.FromContext(ctx).Warnf("report of %s on %s/%s recorded as advisory only", comment.Author, repo.Owner, repo.Name)
					continue
				}
				return fmt.Errorf("reporting %s: %w", comment.Author, err)
			}
		}
	}
	return nil
}

func mapRole(r forge.Role) security.Role {
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

func mapHistory(h forge.UserHistory) security.History {
	return security.History{
		MergedPRs:         h.MergedPRs,
		ClosedValidIssues: h.ClosedValidIssues,
		TotalComments:     h.TotalComments,
		PriorFlags:        h.PriorFlags,
		PriorBlocks:       h.PriorBlocks,
	}
}
