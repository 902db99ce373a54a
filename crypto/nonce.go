/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/argus-bot/argus/store"
)

const nonceRegistryKey = "argus/crypto/nonces"

// NonceEntry records one use of a nonce: which repo and comment it was
// bound to, what action produced it, and when. A nonce seen again
// bound to a different comment ID is a replay.
type NonceEntry struct {
	Nonce     string    `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
	Repo      string    `json:"repo"`
	CommentID string    `json:"comment_id"`
	Action    string    `json:"action"`
}

// NonceRegistry is a bounded, age-pruned set of nonces keyed by nonce
// value, used to detect replayed stamps. It is safe for concurrent use;
// pruning never blocks a concurrent Check/Register call for long.
type NonceRegistry struct {
	kv        store.KV
	retention time.Duration

	mu      sync.Mutex
	entries map[string]NonceEntry
}

// NewNonceRegistry loads a previously persisted registry, or starts
// empty. retention bounds how long an entry is kept before pruning.
func NewNonceRegistry(ctx context.Context, kv store.KV, retention time.Duration) (*NonceRegistry, error) {
	r := &NonceRegistry{kv: kv, retention: retention, entries: make(map[string]NonceEntry)}

	b, err := kv.Get(ctx, nonceRegistryKey)
	if err != nil {
		if err == store.ErrNotFound {
			return r, nil
		}
		return nil, fmt.Errorf("loading nonce registry: %w", err)
	}
	var entries []NonceEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("unmarshaling nonce registry: %w", err)
	}
	for _, e := range entries {
		r.entries[e.Nonce] = e
	}
	return r, nil
}

// ErrReplayed is returned by Register when the nonce has already been
// seen bound to a different comment ID.
var ErrReplayed = fmt.Errorf("crypto: nonce replayed")

// Register records a nonce's use. If the nonce was already registered
// against a different comment ID, Register returns ErrReplayed and
// leaves the original entry untouched. Re-registering the same nonce
// against the same comment ID is a no-op success, since a retried
// verification of the same artifact is not a replay.
func (r *NonceRegistry) Register(ctx context.Context, entry NonceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[entry.Nonce]; ok {
		if existing.CommentID != entry.CommentID {
			return ErrReplayed
		}
		return nil
	}
	r.entries[entry.Nonce] = entry
	return r.persistLocked(ctx)
}

// Prune removes entries older than the registry's retention window.
// Safe to call concurrently with Register; never blocks a caller.
func (r *NonceRegistry) Prune(ctx context.Context) error {
	cutoff := now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	for nonce, entry := range r.entries {
		if entry.Timestamp.Before(cutoff) {
			delete(r.entries, nonce)
		}
	}
	return r.persistLocked(ctx)
}

func (r *NonceRegistry) persistLocked(ctx context.Context) error {
	entries := make([]NonceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling nonce registry: %w", err)
	}
	return r.kv.Put(ctx, nonceRegistryKey, b)
}

// Len reports the number of registered nonces. Mostly useful for tests
// and operator diagnostics.
func (r *NonceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
