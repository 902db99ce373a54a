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

func newAuditLog(t *testing.T) (*crypto.AuditLog, *crypto.KeyManager, *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	kv := memstore.New()
	km, err := crypto.LoadOrGenerate(ctx, kv, kv)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}
	log, err := crypto.OpenAuditLog(ctx, kv, km)
	if err != nil {
		t.Fatalf("OpenAuditLog() error = %v", err)
	}
	return log, km, kv
}

func TestAuditLogChainsEntries(t *testing.T) {
	ctx := context.Background()
	log, _, _ := newAuditLog(t)

	first, err := log.Append(ctx, crypto.AuditEntry{Action: "evaluate", Repo: "owner/repo", Decision: "approved"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	second, err := log.Append(ctx, crypto.AuditEntry{Action: "pr-create", Repo: "owner/repo", Decision: "created"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if second.PreviousEntryHash == "" {
		t.Fatal("second entry has empty previous_entry_hash")
	}
	if second.PreviousEntryHash == first.PreviousEntryHash {
		t.Error("second entry's previous_entry_hash did not advance past the first entry's")
	}

	if err := log.Verify(ctx); err != nil {
		t.Errorf("Verify() error = %v, want nil on an untampered chain", err)
	}
}

func TestAuditLogVerifyDetectsTamperedEntry(t *testing.T) {
	ctx := context.Background()
	log, _, kv := newAuditLog(t)

	if _, err := log.Append(ctx, crypto.AuditEntry{Action: "evaluate", Repo: "owner/repo", Decision: "approved"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := log.Append(ctx, crypto.AuditEntry{Action: "pr-create", Repo: "owner/repo", Decision: "created"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Tamper with the first entry directly in the store, bypassing Append.
	tampered := []byte(`{"id":1,"action":"evaluate","repo":"owner/repo","decision":"rejected","previous_entry_hash":"","signature":"deadbeef"}`)
	if err := kv.Put(ctx, "argus/crypto/audit/entry/1", tampered); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var chainBroken *crypto.ErrChainBroken
	err := log.Verify(ctx)
	if err == nil {
		t.Fatal("Verify() error = nil, want ErrChainBroken")
	}
	if !errorsAs(err, &chainBroken) {
		t.Fatalf("Verify() error = %v, want *crypto.ErrChainBroken", err)
	}
	if chainBroken.EntryID != 1 {
		t.Errorf("ErrChainBroken.EntryID = %d, want 1", chainBroken.EntryID)
	}
}

func TestAuditLogPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	log, km, kv := newAuditLog(t)

	if _, err := log.Append(ctx, crypto.AuditEntry{Action: "evaluate", Repo: "owner/repo", Decision: "approved"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	reopened, err := crypto.OpenAuditLog(ctx, kv, km)
	if err != nil {
		t.Fatalf("OpenAuditLog() error = %v", err)
	}
	if reopened.Len() != 1 {
		t.Errorf("reopened Len() = %d, want 1", reopened.Len())
	}

	if _, err := reopened.Append(ctx, crypto.AuditEntry{Action: "pr-create", Repo: "owner/repo", Decision: "created"}); err != nil {
		t.Fatalf("Append() on reopened log error = %v", err)
	}
	if err := reopened.Verify(ctx); err != nil {
		t.Errorf("Verify() on reopened log error = %v, want nil", err)
	}
}

// errorsAs avoids importing errors just for this one As call site across
// two tests with different target types.
func errorsAs(err error, target **crypto.ErrChainBroken) bool {
	chainBroken, ok := err.(*crypto.ErrChainBroken)
	if !ok {
		return false
	}
	*target = chainBroken
	return true
}
