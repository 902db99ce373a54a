/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package crypto_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/argus-bot/argus/crypto"
	"github.com/argus-bot/argus/store/memstore"
)

func newStamper(t *testing.T) (*crypto.Stamper, *crypto.KeyManager) {
	t.Helper()
	ctx := context.Background()
	kv := memstore.New()
	km, err := crypto.LoadOrGenerate(ctx, kv, kv)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}
	nonces, err := crypto.NewNonceRegistry(ctx, kv, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewNonceRegistry() error = %v", err)
	}
	return crypto.NewStamper(km, nonces), km
}

func TestEmitAndVerifyRoundTrip(t *testing.T) {
	stamper, _ := newStamper(t)

	stamped, err := stamper.Emit("PR description body")
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if !strings.Contains(stamped, "🔏 Argus v") {
		t.Fatalf("stamped content missing footer: %q", stamped)
	}

	stamp, err := stamper.Verify(context.Background(), stamped, "comment-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if stamp.Nonce == "" {
		t.Error("verified stamp has empty nonce")
	}
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	stamper, _ := newStamper(t)

	stamped, err := stamper.Emit("original body")
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	tampered := strings.Replace(stamped, "original body", "tampered body", 1)

	if _, err := stamper.Verify(context.Background(), tampered, "comment-1"); err != crypto.ErrBadSignature {
		t.Errorf("Verify() error = %v, want ErrBadSignature", err)
	}
}

func TestVerifyDetectsReplayAgainstDifferentComment(t *testing.T) {
	stamper, _ := newStamper(t)

	stamped, err := stamper.Emit("body")
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if _, err := stamper.Verify(context.Background(), stamped, "comment-1"); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	if _, err := stamper.Verify(context.Background(), stamped, "comment-2"); err != crypto.ErrReplayed {
		t.Errorf("second Verify() against a different comment error = %v, want ErrReplayed", err)
	}
}

func TestVerifyAcceptsRepeatedVerificationOfSameComment(t *testing.T) {
	stamper, _ := newStamper(t)

	stamped, err := stamper.Emit("body")
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if _, err := stamper.Verify(context.Background(), stamped, "comment-1"); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	if _, err := stamper.Verify(context.Background(), stamped, "comment-1"); err != nil {
		t.Errorf("second Verify() against the same comment error = %v, want nil", err)
	}
}

func TestVerifyRejectsMissingStamp(t *testing.T) {
	stamper, _ := newStamper(t)

	if _, err := stamper.Verify(context.Background(), "plain body with no footer", "comment-1"); err != crypto.ErrNoStamp {
		t.Errorf("Verify() error = %v, want ErrNoStamp", err)
	}
}

func TestVerifySucceedsAfterRotationGracePeriod(t *testing.T) {
	stamper, km := newStamper(t)

	stamped, err := stamper.Emit("body")
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if err := km.Rotate(context.Background()); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	if _, err := stamper.Verify(context.Background(), stamped, "comment-1"); err != nil {
		t.Errorf("Verify() after rotation error = %v, want nil (previous key should still validate)", err)
	}
}
