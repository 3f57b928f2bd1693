// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package account holds the security state that automated responses put on
// user accounts: temporary locks and step-up (2FA) requirements. The login
// flow consults it through CheckLocked and Requires2FA.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
)

// ErrNotFound is returned by stores for unknown accounts.
var ErrNotFound = errors.New("account state not found")

// ErrInvalidInput is returned for an empty user id or a lock in the past.
var ErrInvalidInput = errors.New("invalid account input")

// State is the security state of one account.
type State struct {
	UserID       string    `json:"user_id"`
	LockedUntil  time.Time `json:"locked_until"`
	LockReason   string    `json:"lock_reason,omitempty"`
	LockCount    int       `json:"lock_count"`
	Requires2FA  bool      `json:"requires_2fa"`
	StepUpReason string    `json:"step_up_reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LockedAt reports whether the account is locked at now.
func (s *State) LockedAt(now time.Time) bool {
	return now.Before(s.LockedUntil)
}

// Store persists account state.
type Store interface {
	Get(ctx context.Context, userID string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*State, error)
}

// Config tunes the manager.
type Config struct {
	// MaxLock caps any lock requested by a rule.
	MaxLock time.Duration `koanf:"max_lock"`
	// Idle is how long an unlocked state without a 2FA flag is kept.
	Idle            time.Duration `koanf:"idle"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// DefaultConfig caps locks at 24 hours and forgets idle state after a day.
func DefaultConfig() Config {
	return Config{
		MaxLock:         24 * time.Hour,
		Idle:            24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// Manager applies and answers account security state.
type Manager struct {
	mu     sync.Mutex
	store  Store
	config Config
	now    func() time.Time
}

// NewManager creates a manager over store.
func NewManager(store Store, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxLock <= 0 {
		cfg.MaxLock = def.MaxLock
	}
	if cfg.Idle <= 0 {
		cfg.Idle = def.Idle
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &Manager{store: store, config: cfg, now: time.Now}
}

func normalizeUser(userID string) (string, error) {
	userID = strings.ToLower(strings.TrimSpace(userID))
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return userID, nil
}

// update loads or creates the state for userID, applies fn and saves it.
func (m *Manager) update(ctx context.Context, userID string, fn func(st *State, now time.Time)) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		st = &State{UserID: userID}
	} else if err != nil {
		return nil, fmt.Errorf("load account state: %w", err)
	}
	now := m.now()
	fn(st, now)
	st.UpdatedAt = now
	if err := m.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save account state: %w", err)
	}
	return st, nil
}

// LockAccount locks userID until the given time. An existing longer lock is
// kept; locks beyond MaxLock are capped.
func (m *Manager) LockAccount(ctx context.Context, userID string, until time.Time, reason string) error {
	userID, err := normalizeUser(userID)
	if err != nil {
		return err
	}
	st, err := m.update(ctx, userID, func(st *State, now time.Time) {
		if limit := now.Add(m.config.MaxLock); until.After(limit) {
			until = limit
		}
		if until.After(st.LockedUntil) {
			st.LockedUntil = until
			st.LockReason = reason
		}
		st.LockCount++
	})
	if err != nil {
		return err
	}

	metrics.AccountActions.WithLabelValues("lock").Inc()
	logging.Ctx(ctx).Warn().
		Str("user", logging.SanitizeEmail(userID)).
		Time("locked_until", st.LockedUntil).
		Int("lock_count", st.LockCount).
		Str("reason", reason).
		Msg("Account locked")
	return nil
}

// Require2FA flags userID for step-up authentication on the next login.
func (m *Manager) Require2FA(ctx context.Context, userID, reason string) error {
	userID, err := normalizeUser(userID)
	if err != nil {
		return err
	}
	if _, err := m.update(ctx, userID, func(st *State, _ time.Time) {
		st.Requires2FA = true
		st.StepUpReason = reason
	}); err != nil {
		return err
	}

	metrics.AccountActions.WithLabelValues("require_2fa").Inc()
	logging.Ctx(ctx).Info().
		Str("user", logging.SanitizeEmail(userID)).
		Str("reason", reason).
		Msg("Step-up authentication required")
	return nil
}

// CheckLocked reports whether userID is locked and for how much longer.
func (m *Manager) CheckLocked(ctx context.Context, userID string) (bool, time.Duration, error) {
	st, err := m.get(ctx, userID)
	if err != nil || st == nil {
		return false, 0, err
	}
	now := m.now()
	if !st.LockedAt(now) {
		return false, 0, nil
	}
	return true, st.LockedUntil.Sub(now), nil
}

// Requires2FA reports whether userID must complete step-up authentication.
func (m *Manager) Requires2FA(ctx context.Context, userID string) (bool, error) {
	st, err := m.get(ctx, userID)
	if err != nil || st == nil {
		return false, err
	}
	return st.Requires2FA, nil
}

func (m *Manager) get(ctx context.Context, userID string) (*State, error) {
	userID, err := normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	st, err := m.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check account state: %w", err)
	}
	return st, nil
}

// Unlock clears a lock (admin action). The step-up flag is kept.
func (m *Manager) Unlock(ctx context.Context, userID string) error {
	userID, err := normalizeUser(userID)
	if err != nil {
		return err
	}
	if _, err := m.update(ctx, userID, func(st *State, _ time.Time) {
		st.LockedUntil = time.Time{}
		st.LockReason = ""
	}); err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("user", logging.SanitizeEmail(userID)).Msg("Account lock cleared")
	return nil
}

// Complete2FA clears the step-up flag after a successful second factor.
func (m *Manager) Complete2FA(ctx context.Context, userID string) error {
	userID, err := normalizeUser(userID)
	if err != nil {
		return err
	}
	_, err = m.update(ctx, userID, func(st *State, _ time.Time) {
		st.Requires2FA = false
		st.StepUpReason = ""
	})
	return err
}

// Locked returns accounts that are currently locked.
func (m *Manager) Locked(ctx context.Context) ([]*State, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list account state: %w", err)
	}
	now := m.now()
	var out []*State
	for _, st := range all {
		if st.LockedAt(now) {
			out = append(out, st)
		}
	}
	return out, nil
}

// Cleanup removes unlocked, non-flagged state idle for longer than Idle.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list account state: %w", err)
	}
	now := m.now()
	threshold := now.Add(-m.config.Idle)
	removed := 0
	for _, st := range all {
		if st.LockedAt(now) || st.Requires2FA || !st.UpdatedAt.Before(threshold) {
			continue
		}
		if err := m.store.Delete(ctx, st.UserID); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, fmt.Errorf("delete account state: %w", err)
		}
		removed++
	}
	if removed > 0 {
		logging.Info().Int("count", removed).Msg("Cleaned up idle account state")
	}
	return removed, nil
}

// Interval returns how often Cleanup should run.
func (m *Manager) Interval() time.Duration { return m.config.CleanupInterval }
