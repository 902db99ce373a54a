/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package memstore implements store.KV and store.Secrets in process
// memory. It is the store used by tests and single-process runs; a
// durable deployment swaps in a database-backed implementation
// against the same interfaces.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/argus-bot/argus/store"
)

// Store is an in-memory, mutex-guarded implementation of store.KV and
// store.Secrets.
type Store struct {
	mu      sync.RWMutex
	values  map[string][]byte
	secrets map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		values:  make(map[string][]byte),
		secrets: make(map[string][]byte),
	}
}

var (
	_ store.KV      = (*Store)(nil)
	_ store.Secrets = (*Store)(nil)
)

// Get implements store.KV.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements store.KV.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements store.KV.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// GetSecret implements store.Secrets.
func (s *Store) GetSecret(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// PutSecret implements store.Secrets.
func (s *Store) PutSecret(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = append([]byte(nil), value...)
	return nil
}

// Snapshot returns a copy of all non-secret keys, for tests that need
// to assert on persisted state without racing the store's own lock.
func (s *Store) Snapshot() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.values))
	maps.Copy(out, s.values)
	return out
}
