// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package rules

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/threat"
)

// recorder captures every collaborator call in order.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	blocks   []fraud.Entry
	notified []string
	locked   map[string]time.Time
	events   []audit.Event
	failLock bool
}

func newRecorder() *recorder {
	return &recorder{locked: make(map[string]time.Time)}
}

func (r *recorder) add(call string) {
	r.calls = append(r.calls, call)
}

func (r *recorder) Block(_ context.Context, e fraud.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("block")
	r.blocks = append(r.blocks, e)
	return nil
}

func (r *recorder) Notify(_ context.Context, channel string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("notify:" + channel)
	r.notified = append(r.notified, channel)
}

func (r *recorder) LockAccount(_ context.Context, userID string, until time.Time, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLock {
		return errors.New("directory unavailable")
	}
	r.add("lock")
	r.locked[userID] = until
	return nil
}

func (r *recorder) Require2FA(context.Context, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("2fa")
	return nil
}

func (r *recorder) Exhaust(_ context.Context, policy, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("exhaust:" + policy + ":" + actor)
	return nil
}

func (r *recorder) OpenFromIndicator(context.Context, *SecurityRule, *threat.Indicator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add("incident")
	return nil
}

func (r *recorder) RecordEvent(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) countEvents(t audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) deps() Deps {
	return Deps{Blocklist: r, Notifier: r, Accounts: r, Limiter: r, Incidents: r, Audit: r}
}

func indicator(t threat.Type, sev threat.Severity, score int) *threat.Indicator {
	return &threat.Indicator{
		ID:         "ind-1",
		Type:       t,
		Severity:   sev,
		RiskScore:  score,
		UserID:     "user@example.edu",
		IPAddress:  "203.0.113.5",
		UserAgent:  "Mozilla/5.0",
		Metadata:   map[string]any{"signatures": []any{"union_select"}, "path": "/api/login", "nested": map[string]any{"depth": 3}},
		IsActive:   true,
		DetectedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
