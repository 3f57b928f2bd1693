// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

//go:build integration

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/campusguard/internal/testinfra"
)

func TestRedisStoreIntegration(t *testing.T) {
	testinfra.SkipIfNoDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rc, err := testinfra.StartRedis(ctx, t)
	if err != nil {
		t.Fatalf("StartRedis() error = %v", err)
	}
	store, err := NewRedisStore(ctx, RedisConfig{Addr: rc.Addr, KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Increment(ctx, "concurrent", 1, time.Minute); err != nil {
				t.Errorf("Increment() error = %v", err)
			}
		}()
	}
	wg.Wait()

	n, err := store.Increment(ctx, "concurrent", 0, time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if n != 100 {
		t.Errorf("count = %d, want 100", n)
	}

	if err := store.Seed(ctx, "seeded", 10, time.Minute); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := store.Seed(ctx, "seeded", 3, time.Minute); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if n, _ := store.Increment(ctx, "seeded", 1, time.Minute); n != 11 {
		t.Errorf("seeded count = %d, want 11", n)
	}

	ps, _ := NewPolicySet(DefaultPolicies())
	l := NewLimiter(ps, store)
	for i := 0; i < 6; i++ {
		if d, err := l.Check(ctx, PolicyLogin, "it-actor"); err != nil || !d.Allowed {
			t.Fatalf("attempt %d: %+v, %v", i+1, d, err)
		}
	}
	if d, _ := l.Check(ctx, PolicyLogin, "it-actor"); d.Allowed {
		t.Error("seventh login attempt allowed")
	}
}
