// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package threat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// mockHistory is an in-memory EventHistory for detector tests.
type mockHistory struct {
	mu     sync.Mutex
	events []HistoryEvent
	err    error
}

func (m *mockHistory) add(ev HistoryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockHistory) QueryEvents(_ context.Context, f EventFilter) ([]HistoryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []HistoryEvent
	for _, ev := range m.events {
		if f.ActorID != "" && ev.ActorID != f.ActorID {
			continue
		}
		if f.IPAddress != "" && ev.IPAddress != f.IPAddress {
			continue
		}
		if f.Type != "" && ev.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// stubDetector returns canned results.
type stubDetector struct {
	toggle
	kind    Type
	results []*Indicator
	err     error
	panics  bool
}

func newStub(kind Type) *stubDetector {
	return &stubDetector{toggle: toggle{enabled: true}, kind: kind}
}

func (s *stubDetector) Type() Type { return s.kind }

func (s *stubDetector) Detect(context.Context, *Event) ([]*Indicator, error) {
	if s.panics {
		panic("stub exploded")
	}
	return s.results, s.err
}

var errStub = errors.New("stub failure")

// noon is a fixed daytime reference in UTC.
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
