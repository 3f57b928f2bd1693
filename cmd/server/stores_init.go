// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package main

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/campusguard/internal/account"
	"github.com/tomtom215/campusguard/internal/api"
	"github.com/tomtom215/campusguard/internal/config"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/storage"
)

// stores are the durable and shared-state backends.
type stores struct {
	db        *badger.DB
	incidents incident.Store
	accounts  account.Store
	blocklist *fraud.BadgerBlocklist

	counters ratelimit.CounterStore
	// memCounters is set when counters are process-local and need sweeping.
	memCounters *ratelimit.MemoryStore
	redis       *ratelimit.RedisStore
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	db, err := storage.Open(storage.Options{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.IsProduction(),
	})
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &stores{
		db:        db,
		incidents: incident.NewBadgerStore(db),
		accounts:  account.NewBadgerStore(db),
		blocklist: fraud.NewBadgerBlocklist(db),
	}

	switch cfg.RateLimit.Store {
	case "redis":
		redisStore, err := ratelimit.NewRedisStore(ctx, cfg.Redis.Store())
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.redis = redisStore
		s.counters = ratelimit.NewBreakerStore(redisStore, cfg.RateLimit.Breaker())
		logging.Info().Str("addr", cfg.Redis.Addr).Msg("Rate limit counters shared through Redis")
	default:
		s.memCounters = ratelimit.NewMemoryStore()
		s.counters = s.memCounters
		if !cfg.IsDevelopment() {
			logging.Warn().Msg("Rate limit counters are per instance (RATELIMIT_STORE=memory)")
		}
	}
	return s, nil
}

// healthChecks probes the backends for /health/ready.
func (s *stores) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"badger": func(context.Context) error {
			if s.db.IsClosed() {
				return fmt.Errorf("badger is closed")
			}
			return nil
		},
	}
	if s.redis != nil {
		checks["redis"] = s.redis.Ping
	}
	return checks
}

func (s *stores) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}
	if err := s.db.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing Badger")
	}
}
