/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package editdetector_test

import (
	"testing"

	"github.com/argus-bot/argus/editdetector"
)

func TestCheckNoneWhenBodyUnchanged(t *testing.T) {
	body := "original report"
	result := editdetector.Check(body, editdetector.Hash(body), "pending")
	if result.Action != editdetector.ActionNone || result.BodyChanged {
		t.Fatalf("expected no-op result for an unchanged body, got %+v", result)
	}
}

func TestCheckReevaluatesOutsideHaltStates(t *testing.T) {
	result := editdetector.Check("edited body", editdetector.Hash("original"), "pending")
	if result.Action != editdetector.ActionReevaluate {
		t.Fatalf("expected reevaluate for a pending issue, got %v", result.Action)
	}
	if !result.BodyChanged {
		t.Fatalf("expected BodyChanged true")
	}
}

func TestCheckHaltsDuringActiveCoding(t *testing.T) {
	for _, state := range []string{"coding", "iterating"} {
		result := editdetector.Check("edited body", editdetector.Hash("original"), state)
		if result.Action != editdetector.ActionHalt {
			t.Errorf("state %q: expected halt, got %v", state, result.Action)
		}
	}
}

func TestHashIsDeterministicAndSensitiveToContent(t *testing.T) {
	if editdetector.Hash("a") != editdetector.Hash("a") {
		t.Fatalf("expected identical hashes for identical content")
	}
	if editdetector.Hash("a") == editdetector.Hash("b") {
		t.Fatalf("expected different hashes for different content")
	}
}
