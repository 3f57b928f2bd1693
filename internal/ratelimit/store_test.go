// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	c := &clock{now: windowStart}
	s := NewMemoryStore()
	s.now = c.Now
	ctx := context.Background()

	if n, _ := s.Increment(ctx, "k", 1, time.Second); n != 1 {
		t.Fatalf("Increment() = %d, want 1", n)
	}
	if n, _ := s.Increment(ctx, "k", 2, time.Second); n != 3 {
		t.Fatalf("Increment() = %d, want 3", n)
	}

	c.Advance(2 * time.Second)
	if n, _ := s.Increment(ctx, "k", 1, time.Second); n != 1 {
		t.Errorf("Increment() after expiry = %d, want 1", n)
	}

	_, _ = s.Increment(ctx, "other", 1, time.Second)
	c.Advance(2 * time.Second)
	if removed := s.Cleanup(); removed != 2 {
		t.Errorf("Cleanup() = %d, want 2", removed)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestMemoryStoreSeedNeverLowers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Increment(ctx, "k", 20, time.Minute)
	if err := s.Seed(ctx, "k", 10, time.Minute); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Increment(ctx, "k", 1, time.Minute); n != 21 {
		t.Errorf("count after Seed = %d, want 21", n)
	}
}

func TestBreakerStoreTripsAndWrapsErrors(t *testing.T) {
	inner := &failingStore{}
	b := NewBreakerStore(inner, BreakerConfig{Name: "test-breaker", FailureThreshold: 3, OpenTimeout: time.Hour, HalfOpenRequests: 1})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Increment(ctx, "k", 1, time.Minute)
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("call %d error = %v, want ErrStoreUnavailable", i, err)
		}
	}
	if inner.calls != 3 {
		t.Errorf("inner store called %d times, want 3 before the breaker opened", inner.calls)
	}
	if b.State() != "open" {
		t.Errorf("State() = %s, want open", b.State())
	}
}
