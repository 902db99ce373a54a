/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/argus-bot/argus/store"
)

const (
	auditCounterKey  = "argus/crypto/audit/counter"
	auditEntryKeyFmt = "argus/crypto/audit/entry/%d"
)

// AuditEntry is one append-only, hash-chained record of a decision
// Argus made. The signature payload concatenates
// id|timestamp|action|repo|target|input_hash|output_hash|decision|previous_entry_hash,
// so any field change invalidates everything appended after it.
type AuditEntry struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Action            string    `json:"action"`
	Repo              string    `json:"repo"`
	Target            string    `json:"target"`
	InputHash         string    `json:"input_hash"`
	OutputHash        string    `json:"output_hash"`
	Decision          string    `json:"decision"`
	Details           string    `json:"details"`
	PreviousEntryHash string    `json:"previous_entry_hash"`
	Signature         string    `json:"signature"`
}

// AuditLog is the append-only, hash-chained, HMAC-signed record of
// every decision Argus makes. Its counter and last-entry hash are the
// only cross-call mutable state critical to correctness; every append
// is serialized behind a single mutex.
type AuditLog struct {
	kv   store.KV
	keys *KeyManager

	mu            sync.Mutex
	counter       int64
	lastEntryHash string
}

// genesisHash is the previous_entry_hash of the first entry in a chain.
const genesisHash = ""

// OpenAuditLog loads the persisted counter and recomputes the last
// entry hash from the most recently appended entry, or starts a fresh
// chain at genesis.
func OpenAuditLog(ctx context.Context, kv store.KV, keys *KeyManager) (*AuditLog, error) {
	log := &AuditLog{kv: kv, keys: keys, lastEntryHash: genesisHash}

	b, err := kv.Get(ctx, auditCounterKey)
	if err != nil {
		if err == store.ErrNotFound {
			return log, nil
		}
		return nil, fmt.Errorf("loading audit counter: %w", err)
	}
	counter, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing audit counter: %w", err)
	}
	log.counter = counter

	if counter > 0 {
		entry, err := log.getEntry(ctx, counter)
		if err != nil {
			return nil, fmt.Errorf("loading last audit entry: %w", err)
		}
		log.lastEntryHash = serializedHash(entry)
	}
	return log, nil
}

// Append signs and persists a new entry, linking it to the previous
// entry's serialized hash. Mutates the counter and last-entry hash
// atomically with respect to every other Append call.
func (l *AuditLog) Append(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counter++
	entry.ID = l.counter
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now()
	}
	entry.PreviousEntryHash = l.lastEntryHash
	entry.Signature = l.sign(entry, l.keys.CurrentKey())

	b, err := json.Marshal(entry)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("marshaling audit entry: %w", err)
	}
	if err := l.kv.Put(ctx, fmt.Sprintf(auditEntryKeyFmt, entry.ID), b); err != nil {
		return AuditEntry{}, fmt.Errorf("persisting audit entry: %w", err)
	}
	if err := l.kv.Put(ctx, auditCounterKey, []byte(strconv.FormatInt(l.counter, 10))); err != nil {
		return AuditEntry{}, fmt.Errorf("persisting audit counter: %w", err)
	}

	l.lastEntryHash = serializedHash(entry)

	clog.FromContext(ctx).With("audit_id", entry.ID).
		With("action", entry.Action).
		With("repo", entry.Repo).
		With("decision", entry.Decision).
		Info(entry.Details)

	return entry, nil
}

func (l *AuditLog) getEntry(ctx context.Context, id int64) (AuditEntry, error) {
	b, err := l.kv.Get(ctx, fmt.Sprintf(auditEntryKeyFmt, id))
	if err != nil {
		return AuditEntry{}, err
	}
	var entry AuditEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return AuditEntry{}, fmt.Errorf("unmarshaling audit entry %d: %w", id, err)
	}
	return entry, nil
}

func (l *AuditLog) sign(entry AuditEntry, key []byte) string {
	payload := strings.Join([]string{
		strconv.FormatInt(entry.ID, 10),
		entry.Timestamp.UTC().Format(time.RFC3339),
		entry.Action,
		entry.Repo,
		entry.Target,
		entry.InputHash,
		entry.OutputHash,
		entry.Decision,
		entry.PreviousEntryHash,
	}, "|")
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func serializedHash(entry AuditEntry) string {
	b, _ := json.Marshal(entry)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ErrChainBroken is returned by Verify with the offending entry ID
// when the hash chain or a signature fails to verify. Per the error
// taxonomy this is fatal: the caller must alert an operator and stop
// appending.
type ErrChainBroken struct {
	EntryID int64
	Reason  string
}

func (e *ErrChainBroken) Error() string {
	return fmt.Sprintf("crypto: audit chain broken at entry %d: %s", e.EntryID, e.Reason)
}

// Verify walks the chain from genesis to the current counter,
// re-deriving each expected previous-entry hash and checking each
// entry's signature against every verification key. It returns the
// first broken entry, if any.
func (l *AuditLog) Verify(ctx context.Context) error {
	l.mu.Lock()
	counter := l.counter
	l.mu.Unlock()

	prevHash := genesisHash
	for id := int64(1); id <= counter; id++ {
		entry, err := l.getEntry(ctx, id)
		if err != nil {
			return &ErrChainBroken{EntryID: id, Reason: fmt.Sprintf("missing entry: %v", err)}
		}
		if entry.PreviousEntryHash != prevHash {
			return &ErrChainBroken{EntryID: id, Reason: "previous_entry_hash mismatch"}
		}

		valid := false
		for _, key := range l.keys.VerificationKeys() {
			if subtle.ConstantTimeCompare([]byte(l.sign(entry, key)), []byte(entry.Signature)) == 1 {
				valid = true
				break
			}
		}
		if !valid {
			return &ErrChainBroken{EntryID: id, Reason: "signature does not verify against any known key"}
		}

		prevHash = serializedHash(entry)
	}
	return nil
}

// Len reports the number of appended entries.
func (l *AuditLog) Len() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}
