// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package ratelimit

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
)

// BreakerConfig configures the circuit breaker around a counter store.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// DefaultBreakerConfig trips after 5 consecutive failures and probes again
// after 10 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "counter-store",
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenRequests: 1,
	}
}

// BreakerStore wraps a CounterStore so a dead backend fails fast. Every
// error it returns wraps ErrStoreUnavailable.
type BreakerStore struct {
	next CounterStore
	cb   *gobreaker.CircuitBreaker[int64]
}

// NewBreakerStore wraps next with a circuit breaker.
func NewBreakerStore(next CounterStore, cfg BreakerConfig) *BreakerStore {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultBreakerConfig()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CounterStoreBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("counter store breaker state changed")
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker[int64](settings)}
}

// Increment implements CounterStore.
func (b *BreakerStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, err := b.cb.Execute(func() (int64, error) {
		return b.next.Increment(ctx, key, delta, ttl)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Seed implements CounterStore.
func (b *BreakerStore) Seed(ctx context.Context, key string, count int64, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (int64, error) {
		return 0, b.next.Seed(ctx, key, count, ttl)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// State returns the breaker state name.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}
