// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package services

import (
	"context"
	"time"

	"github.com/tomtom215/campusguard/internal/logging"
)

// TaskFunc runs one maintenance pass and reports how many items it touched.
type TaskFunc func(ctx context.Context) (int, error)

// PeriodicService runs a TaskFunc every interval.
//
// A failing pass is logged and retried on the next tick rather than
// returned, so one bad sweep does not restart the service and burn the
// supervisor's failure budget.
type PeriodicService struct {
	name     string
	interval time.Duration
	task     TaskFunc
	// runOnStart runs a pass before the first tick.
	runOnStart bool
}

// NewPeriodicService creates a periodic service. A non-positive interval
// defaults to one minute.
func NewPeriodicService(name string, interval time.Duration, task TaskFunc) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, task: task}
}

// RunOnStart makes the service run a pass immediately when it starts.
func (p *PeriodicService) RunOnStart() *PeriodicService {
	p.runOnStart = true
	return p
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	if p.runOnStart {
		p.pass(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

func (p *PeriodicService) pass(ctx context.Context) {
	n, err := p.task(ctx)
	if err != nil {
		logging.Warn().Err(err).Str("task", p.name).Msg("Maintenance pass failed")
		return
	}
	if n > 0 {
		logging.Debug().Str("task", p.name).Int("count", n).Msg("Maintenance pass completed")
	}
}

// String implements fmt.Stringer for suture logs.
func (p *PeriodicService) String() string {
	return p.name
}
