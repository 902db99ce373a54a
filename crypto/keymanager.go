/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package crypto is Argus's identity layer: a per-instance HMAC signing
// key (KeyManager), content stamps on every emitted artifact (Stamper),
// a nonce registry for anti-replay (NonceRegistry), and a hash-chained
// audit log (AuditLog). None of it depends on an external certificate
// authority or transparency log - the trust boundary is "this process
// holds a secret," not "this process was vouched for by a third party."
package crypto

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/argus-bot/argus/store"
)

const (
	keyInstanceIDKey  = "argus/crypto/instance_id"
	keyCurrentKey     = "argus/crypto/key/current"
	keyPreviousKey    = "argus/crypto/key/previous"
	keyMetadataKey    = "argus/crypto/key/metadata"
	hmacKeySize       = 32
	instanceIDHexSize = 8 // 64-bit hex
)

// KeyMetadata records when the current key was created, so an
// operator-facing report can recommend rotation once a key has aged
// past a configured threshold.
type KeyMetadata struct {
	CreatedAt time.Time `json:"created_at"`
}

// KeyManager owns the instance's stable identity and its HMAC signing
// key. The instance ID is public and appears in every stamp; the key
// itself never leaves the Secrets store in plaintext except to be held
// in memory by this type.
type KeyManager struct {
	kv      store.KV
	secrets store.Secrets

	mu         sync.RWMutex
	instanceID string
	current    []byte
	previous   []byte
	metadata   KeyMetadata
}

// LoadOrGenerate loads a previously persisted instance ID and key pair,
// or generates and persists new ones on first run. The instance ID is
// stable across restarts; the key is not regenerated unless Rotate is
// called.
func LoadOrGenerate(ctx context.Context, kv store.KV, secrets store.Secrets) (*KeyManager, error) {
	km := &KeyManager{kv: kv, secrets: secrets}

	instanceID, err := loadOrGenerateInstanceID(ctx, kv)
	if err != nil {
		return nil, fmt.Errorf("loading instance id: %w", err)
	}
	km.instanceID = instanceID

	current, err := secrets.GetSecret(ctx, keyCurrentKey)
	if err != nil {
		if err != store.ErrNotFound {
			return nil, fmt.Errorf("loading current key: %w", err)
		}
		current, err = randomBytes(hmacKeySize)
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		if err := secrets.PutSecret(ctx, keyCurrentKey, current); err != nil {
			return nil, fmt.Errorf("persisting key: %w", err)
		}
		if err := km.putMetadata(ctx, KeyMetadata{CreatedAt: now()}); err != nil {
			return nil, err
		}
	}
	km.current = current

	previous, err := secrets.GetSecret(ctx, keyPreviousKey)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("loading previous key: %w", err)
	}
	km.previous = previous

	meta, err := km.loadMetadata(ctx)
	if err != nil {
		return nil, err
	}
	km.metadata = meta

	return km, nil
}

func loadOrGenerateInstanceID(ctx context.Context, kv store.KV) (string, error) {
	b, err := kv.Get(ctx, keyInstanceIDKey)
	if err == nil {
		return string(b), nil
	}
	if err != store.ErrNotFound {
		return "", err
	}
	id, err := randomBytes(instanceIDHexSize)
	if err != nil {
		return "", err
	}
	hexID := hex.EncodeToString(id)
	if err := kv.Put(ctx, keyInstanceIDKey, []byte(hexID)); err != nil {
		return "", err
	}
	return hexID, nil
}

// InstanceID returns the public, stable 64-bit hex identifier for this
// instance.
func (km *KeyManager) InstanceID() string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.instanceID
}

// CurrentKey returns the active HMAC key used to sign new artifacts.
func (km *KeyManager) CurrentKey() []byte {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return append([]byte(nil), km.current...)
}

// VerificationKeys returns the current key and, if one exists, the
// previous key - a stamp or audit entry is valid if it verifies
// against either, which is what makes rotation non-disruptive to
// in-flight artifacts.
func (km *KeyManager) VerificationKeys() [][]byte {
	km.mu.RLock()
	defer km.mu.RUnlock()
	keys := [][]byte{append([]byte(nil), km.current...)}
	if len(km.previous) > 0 {
		keys = append(keys, append([]byte(nil), km.previous...))
	}
	return keys
}

// Age reports how long the current key has been in use.
func (km *KeyManager) Age() time.Duration {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return now().Sub(km.metadata.CreatedAt)
}

// Rotate moves the current key to previous and generates a new current
// key. Exclusive with respect to every other KeyManager operation: no
// stamp or audit append may observe a half-rotated state.
func (km *KeyManager) Rotate(ctx context.Context) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	newKey, err := randomBytes(hmacKeySize)
	if err != nil {
		return fmt.Errorf("generating rotated key: %w", err)
	}
	if err := km.secrets.PutSecret(ctx, keyPreviousKey, km.current); err != nil {
		return fmt.Errorf("persisting previous key: %w", err)
	}
	if err := km.secrets.PutSecret(ctx, keyCurrentKey, newKey); err != nil {
		return fmt.Errorf("persisting rotated key: %w", err)
	}
	meta := KeyMetadata{CreatedAt: now()}
	if err := km.putMetadataLocked(ctx, meta); err != nil {
		return err
	}

	km.previous = km.current
	km.current = newKey
	km.metadata = meta
	return nil
}

func (km *KeyManager) putMetadata(ctx context.Context, meta KeyMetadata) error {
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.putMetadataLocked(ctx, meta)
}

func (km *KeyManager) putMetadataLocked(ctx context.Context, meta KeyMetadata) error {
	b, err := marshalMetadata(meta)
	if err != nil {
		return err
	}
	return km.kv.Put(ctx, keyMetadataKey, b)
}

func (km *KeyManager) loadMetadata(ctx context.Context) (KeyMetadata, error) {
	b, err := km.kv.Get(ctx, keyMetadataKey)
	if err != nil {
		if err == store.ErrNotFound {
			meta := KeyMetadata{CreatedAt: now()}
			return meta, km.putMetadata(ctx, meta)
		}
		return KeyMetadata{}, err
	}
	return unmarshalMetadata(b)
}

func marshalMetadata(meta KeyMetadata) ([]byte, error) {
	return json.Marshal(meta)
}

func unmarshalMetadata(b []byte) (KeyMetadata, error) {
	var meta KeyMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return KeyMetadata{}, fmt.Errorf("unmarshaling key metadata: %w", err)
	}
	return meta, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// now is a var so tests can pin wall-clock time without the forbidden
// time.Now call spreading through the package.
var now = time.Now
