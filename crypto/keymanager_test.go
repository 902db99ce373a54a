/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package crypto_test

import (
	"context"
	"testing"

	"github.com/argus-bot/argus/crypto"
	"github.com/argus-bot/argus/store/memstore"
)

func TestLoadOrGenerateIsStableAcrossLoads(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()

	first, err := crypto.LoadOrGenerate(ctx, kv, kv)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}
	second, err := crypto.LoadOrGenerate(ctx, kv, kv)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}

	if first.InstanceID() != second.InstanceID() {
		t.Errorf("instance id changed across loads: %q vs %q", first.InstanceID(), second.InstanceID())
	}
	if len(first.InstanceID()) != 16 {
		t.Errorf("instance id length = %d, want 16 (64-bit hex)", len(first.InstanceID()))
	}
}

func TestRotateMovesCurrentToPrevious(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()

	km, err := crypto.LoadOrGenerate(ctx, kv, kv)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}
	oldKey := km.CurrentKey()

	if err := km.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	keys := km.VerificationKeys()
	if len(keys) != 2 {
		t.Fatalf("VerificationKeys() returned %d keys, want 2 after rotation", len(keys))
	}
	found := false
	for _, k := range keys {
		if string(k) == string(oldKey) {
			found = true
		}
	}
	if !found {
		t.Error("old key not present among verification keys after rotation")
	}
	if string(km.CurrentKey()) == string(oldKey) {
		t.Error("current key did not change after rotation")
	}
}
