// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var t0 = time.Date(2026, 5, 11, 14, 0, 0, 0, time.UTC)

func newManager(t *testing.T, store Store) (*Manager, *time.Time) {
	t.Helper()
	now := t0
	m := NewManager(store, Config{})
	m.now = func() time.Time { return now }
	return m, &now
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("badger.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(db),
	}
}

func TestLockAccount(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m, now := newManager(t, store)
			ctx := context.Background()

			if err := m.LockAccount(ctx, "Alice@Uni.edu ", t0.Add(30*time.Minute), "brute_force"); err != nil {
				t.Fatalf("LockAccount() error = %v", err)
			}
			locked, remaining, err := m.CheckLocked(ctx, "alice@uni.edu")
			if err != nil || !locked || remaining != 30*time.Minute {
				t.Fatalf("CheckLocked() = %v, %v, %v", locked, remaining, err)
			}

			// a shorter lock never shortens an existing one
			if err := m.LockAccount(ctx, "alice@uni.edu", t0.Add(5*time.Minute), "other"); err != nil {
				t.Fatalf("LockAccount() error = %v", err)
			}
			if _, remaining, _ := m.CheckLocked(ctx, "alice@uni.edu"); remaining != 30*time.Minute {
				t.Errorf("remaining = %v, want 30m kept", remaining)
			}

			*now = t0.Add(31 * time.Minute)
			if locked, _, _ := m.CheckLocked(ctx, "alice@uni.edu"); locked {
				t.Error("lock did not expire")
			}

			locked, _, err = m.CheckLocked(ctx, "nobody@uni.edu")
			if err != nil || locked {
				t.Errorf("unknown account = %v, %v", locked, err)
			}
		})
	}
}

func TestLockIsCapped(t *testing.T) {
	m, _ := newManager(t, NewMemoryStore())
	ctx := context.Background()
	if err := m.LockAccount(ctx, "bob@uni.edu", t0.Add(72*time.Hour), "test"); err != nil {
		t.Fatalf("LockAccount() error = %v", err)
	}
	if _, remaining, _ := m.CheckLocked(ctx, "bob@uni.edu"); remaining != 24*time.Hour {
		t.Errorf("remaining = %v, want capped at 24h", remaining)
	}
}

func TestRequire2FAAndUnlock(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m, _ := newManager(t, store)
			ctx := context.Background()

			if err := m.Require2FA(ctx, "carol@uni.edu", "geographic_anomaly"); err != nil {
				t.Fatalf("Require2FA() error = %v", err)
			}
			if err := m.LockAccount(ctx, "carol@uni.edu", t0.Add(time.Hour), "brute_force"); err != nil {
				t.Fatalf("LockAccount() error = %v", err)
			}
			if err := m.Unlock(ctx, "carol@uni.edu"); err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			if locked, _, _ := m.CheckLocked(ctx, "carol@uni.edu"); locked {
				t.Error("still locked after Unlock")
			}
			if need, _ := m.Requires2FA(ctx, "carol@uni.edu"); !need {
				t.Error("Unlock cleared the step-up flag")
			}
			if err := m.Complete2FA(ctx, "carol@uni.edu"); err != nil {
				t.Fatalf("Complete2FA() error = %v", err)
			}
			if need, _ := m.Requires2FA(ctx, "carol@uni.edu"); need {
				t.Error("step-up flag not cleared")
			}
		})
	}
}

func TestInvalidUser(t *testing.T) {
	m, _ := newManager(t, NewMemoryStore())
	ctx := context.Background()
	if err := m.LockAccount(ctx, "  ", t0.Add(time.Hour), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("LockAccount(blank) error = %v, want ErrInvalidInput", err)
	}
	if err := m.Require2FA(ctx, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Require2FA(blank) error = %v, want ErrInvalidInput", err)
	}
}

func TestLockedAndCleanup(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m, now := newManager(t, store)
			ctx := context.Background()

			_ = m.LockAccount(ctx, "locked@uni.edu", t0.Add(48*time.Hour), "x")
			_ = m.LockAccount(ctx, "expired@uni.edu", t0.Add(time.Minute), "x")
			_ = m.Require2FA(ctx, "flagged@uni.edu", "x")

			locked, err := m.Locked(ctx)
			if err != nil || len(locked) != 2 {
				t.Fatalf("Locked() = %d, %v; want 2", len(locked), err)
			}

			*now = t0.Add(25 * time.Hour)
			_ = m.LockAccount(ctx, "locked@uni.edu", now.Add(time.Hour), "again")
			removed, err := m.Cleanup(ctx)
			if err != nil {
				t.Fatalf("Cleanup() error = %v", err)
			}
			if removed != 1 {
				t.Errorf("Cleanup() = %d, want 1 (only the expired lock)", removed)
			}
			if need, _ := m.Requires2FA(ctx, "flagged@uni.edu"); !need {
				t.Error("flagged account state was removed")
			}
		})
	}
}
