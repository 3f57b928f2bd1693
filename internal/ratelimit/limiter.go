// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Policy    string    `json:"policy"`
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is whole seconds until the window resets; set only when
	// the request is denied.
	RetryAfter int `json:"retry_after,omitempty"`
	// Degraded is true when the store failed and the policy's fail mode
	// decided the outcome.
	Degraded bool `json:"degraded,omitempty"`
}

// Limiter checks actors against named policies.
type Limiter struct {
	policies *PolicySet
	store    CounterStore
	now      func() time.Time
}

// NewLimiter creates a limiter over store.
func NewLimiter(policies *PolicySet, store CounterStore) *Limiter {
	return &Limiter{policies: policies, store: store, now: time.Now}
}

// Policies returns the configured policy set.
func (l *Limiter) Policies() *PolicySet {
	return l.policies
}

type window struct {
	key     string
	start   time.Time
	resetAt time.Time
}

func (l *Limiter) window(p Policy, actorKey string, now time.Time) window {
	size := p.Window.Milliseconds()
	idx := now.UnixMilli() / size
	start := time.UnixMilli(idx * size)
	return window{
		key:     fmt.Sprintf("%s:%s:%d", p.Name, actorKey, idx),
		start:   start,
		resetAt: start.Add(p.Window),
	}
}

// retryAfter is ceil((windowEnd - now) / 1s), never below 1.
func retryAfter(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Check counts one request by actorKey against policyName.
//
// An unknown policy returns ErrPolicyNotFound and no decision. When the store
// fails, the decision follows the policy's fail mode, Degraded is set, and the
// error wraps ErrStoreUnavailable.
func (l *Limiter) Check(ctx context.Context, policyName, actorKey string) (Decision, error) {
	p, err := l.policies.Get(policyName)
	if err != nil {
		return Decision{}, err
	}

	now := l.now()
	w := l.window(p, actorKey, now)

	count, err := l.store.Increment(ctx, w.key, 1, p.Window)
	if err != nil {
		return l.degraded(ctx, p, w, now, err)
	}

	remaining := p.Limit - int(count)
	d := Decision{
		Policy:    p.Name,
		Allowed:   remaining >= 0,
		Limit:     p.Limit,
		Remaining: max(0, remaining),
		ResetAt:   w.resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(w.resetAt, now)
		metrics.RateLimitDecisions.WithLabelValues(p.Name, "denied").Inc()
		logging.Ctx(ctx).Debug().
			Str("policy", p.Name).
			Int64("count", count).
			Int("retry_after", d.RetryAfter).
			Msg("rate limit exceeded")
		return d, nil
	}
	metrics.RateLimitDecisions.WithLabelValues(p.Name, "allowed").Inc()
	return d, nil
}

func (l *Limiter) degraded(ctx context.Context, p Policy, w window, now time.Time, cause error) (Decision, error) {
	d := Decision{
		Policy:   p.Name,
		Limit:    p.Limit,
		ResetAt:  w.resetAt,
		Degraded: true,
	}
	if p.FailMode == FailOpen {
		d.Allowed = true
		d.Remaining = p.Limit
		metrics.RateLimitDecisions.WithLabelValues(p.Name, "fail_open").Inc()
	} else {
		d.RetryAfter = retryAfter(w.resetAt, now)
		metrics.RateLimitDecisions.WithLabelValues(p.Name, "fail_closed").Inc()
	}
	logging.Ctx(ctx).Warn().
		Err(cause).
		Str("policy", p.Name).
		Str("fail_mode", string(p.FailMode)).
		Msg("counter store unavailable")
	return d, fmt.Errorf("rate limit %s: %w", p.Name, wrapUnavailable(cause))
}

func wrapUnavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// Exhaust seeds the current window for actorKey at the policy limit so the
// next check is denied. Used by the rule engine's rate_limit action.
func (l *Limiter) Exhaust(ctx context.Context, policyName, actorKey string) error {
	p, err := l.policies.Get(policyName)
	if err != nil {
		return err
	}
	w := l.window(p, actorKey, l.now())
	if err := l.store.Seed(ctx, w.key, int64(p.Limit), p.Window); err != nil {
		return fmt.Errorf("exhaust %s for %s: %w", p.Name, actorKey, wrapUnavailable(err))
	}
	return nil
}
