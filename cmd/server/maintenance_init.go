// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package main

import (
	"context"
	"time"

	"github.com/tomtom215/campusguard/internal/account"
	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/config"
	"github.com/tomtom215/campusguard/internal/history"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/storage"
	"github.com/tomtom215/campusguard/internal/supervisor"
	"github.com/tomtom215/campusguard/internal/supervisor/services"
	"github.com/tomtom215/campusguard/internal/threat"
)

// maintenance groups the state that is swept on a timer.
type maintenance struct {
	stores   *stores
	history  *history.Store
	registry *threat.Registry
	tracker  *incident.Tracker
	accounts *account.Manager
	audit    *audit.Logger
}

// addMaintenanceServices registers every periodic sweep on the data layer.
func addMaintenanceServices(tree *supervisor.SupervisorTree, cfg *config.Config, m maintenance) {
	if !cfg.Storage.InMemory {
		tree.Add(supervisor.LayerData, services.NewPeriodicService("badger-gc", cfg.Storage.GCInterval,
			func(ctx context.Context) (int, error) {
				return storage.GC(ctx, m.stores.db, cfg.Storage.GCDiscardRatio)
			}))
	}

	tree.Add(supervisor.LayerData, services.NewPeriodicService("history-prune", m.history.Interval(),
		func(ctx context.Context) (int, error) { return m.history.Prune(ctx), nil }))

	tree.Add(supervisor.LayerData, services.NewPeriodicService("threat-prune", cfg.Incident.PurgeInterval,
		func(context.Context) (int, error) {
			return m.registry.Prune(time.Now().Add(-cfg.Incident.ThreatRetention)), nil
		}))

	tree.Add(supervisor.LayerData, services.NewPeriodicService("incident-sla-sweep", cfg.Incident.SweepInterval, m.tracker.SweepOverdue))
	tree.Add(supervisor.LayerData, services.NewPeriodicService("incident-purge", cfg.Incident.PurgeInterval, m.tracker.PurgeClosed))
	tree.Add(supervisor.LayerData, services.NewPeriodicService("account-cleanup", m.accounts.Interval(), m.accounts.Cleanup))

	if m.stores.memCounters != nil {
		tree.Add(supervisor.LayerData, services.NewPeriodicService("ratelimit-cleanup", cfg.RateLimit.CleanupInterval,
			func(context.Context) (int, error) { return m.stores.memCounters.Cleanup(), nil }))
	}

	if m.audit != nil {
		tree.Add(supervisor.LayerData, services.NewPeriodicService("audit-retention", 24*time.Hour,
			func(ctx context.Context) (int, error) {
				n, err := m.audit.Cleanup(ctx)
				return int(n), err
			}))
	}
}
