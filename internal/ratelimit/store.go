// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore is the shared counter primitive behind the limiter. Both
// operations must be atomic per key.
type CounterStore interface {
	// Increment adds delta to key and (re)sets its TTL, returning the new
	// count. A missing or expired key starts from zero.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Seed raises key to at least count with the given TTL. It never lowers
	// an existing count.
	Seed(ctx context.Context, key string, count int64, ttl time.Duration) error
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a single-process CounterStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry), now: time.Now}
}

// Increment implements CounterStore.
func (s *MemoryStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.count += delta
	e.expiresAt = now.Add(ttl)
	return e.count, nil
}

// Seed implements CounterStore.
func (s *MemoryStore) Seed(_ context.Context, key string, count int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		s.entries[key] = &memoryEntry{count: count, expiresAt: now.Add(ttl)}
		return nil
	}
	if e.count < count {
		e.count = count
	}
	e.expiresAt = now.Add(ttl)
	return nil
}

// Cleanup drops expired windows and returns how many were removed. Expired
// entries are already ignored by Increment, so this only reclaims memory.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored windows, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
