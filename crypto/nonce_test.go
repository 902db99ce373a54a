/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package crypto_test

import (
	"context"
	"testing"
	"time"

	"github.com/argus-bot/argus/crypto"
	"github.com/argus-bot/argus/store/memstore"
)

func TestNonceRegistryDetectsReplay(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()
	r, err := crypto.NewNonceRegistry(ctx, kv, time.Hour)
	if err != nil {
		t.Fatalf("NewNonceRegistry() error = %v", err)
	}

	entry := crypto.NonceEntry{Nonce: "abc123", CommentID: "c1", Action: "stamp-verify", Timestamp: time.Now()}
	if err := r.Register(ctx, entry); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	// Same nonce, same comment: not a replay.
	if err := r.Register(ctx, entry); err != nil {
		t.Errorf("Register() for the same comment error = %v, want nil", err)
	}

	// Same nonce, different comment: replay.
	entry.CommentID = "c2"
	if err := r.Register(ctx, entry); err != crypto.ErrReplayed {
		t.Errorf("Register() for a different comment error = %v, want ErrReplayed", err)
	}
}

func TestNonceRegistryPrunesByAge(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()
	r, err := crypto.NewNonceRegistry(ctx, kv, time.Hour)
	if err != nil {
		t.Fatalf("NewNonceRegistry() error = %v", err)
	}

	old := crypto.NonceEntry{Nonce: "old", CommentID: "c1", Timestamp: time.Now().Add(-2 * time.Hour)}
	fresh := crypto.NonceEntry{Nonce: "fresh", CommentID: "c2", Timestamp: time.Now()}
	if err := r.Register(ctx, old); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(ctx, fresh); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := r.Prune(ctx); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() after Prune() = %d, want 1", r.Len())
	}
}

func TestNonceRegistryReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()
	r, err := crypto.NewNonceRegistry(ctx, kv, time.Hour)
	if err != nil {
		t.Fatalf("NewNonceRegistry() error = %v", err)
	}
	if err := r.Register(ctx, crypto.NonceEntry{Nonce: "abc", CommentID: "c1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	reloaded, err := crypto.NewNonceRegistry(ctx, kv, time.Hour)
	if err != nil {
		t.Fatalf("NewNonceRegistry() reload error = %v", err)
	}
	if reloaded.Len() != 1 {
		t.Errorf("reloaded Len() = %d, want 1", reloaded.Len())
	}
}
