// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package audit

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage.
// Data is lost on restart; long-term persistence is an external pipeline.
type MemoryStore struct {
	events []Event
	mu     sync.RWMutex
	maxLen int
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		events: make([]Event, 0, maxLen),
		maxLen: maxLen,
	}
}

// Save persists an audit event.
func (s *MemoryStore) Save(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Enforce max length by removing oldest 10%
	if len(s.events) >= s.maxLen {
		removeCount := max(s.maxLen/10, 1)
		s.events = s.events[removeCount:]
	}

	s.events = append(s.events, *event)
	return nil
}

// Query retrieves events matching the filter, most recent first.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if !matchesFilter(&event, &filter) {
			continue
		}
		results = append(results, event)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

func matchesFilter(event *Event, filter *QueryFilter) bool {
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, event.Type) {
		return false
	}
	if len(filter.Categories) > 0 && !slices.Contains(filter.Categories, event.Category) {
		return false
	}
	if len(filter.Severities) > 0 && !slices.Contains(filter.Severities, event.Severity) {
		return false
	}
	if filter.ActorID != "" && event.Actor.ID != filter.ActorID {
		return false
	}
	if filter.SourceIP != "" && event.Actor.IPAddress != filter.SourceIP {
		return false
	}
	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}
	if filter.RequestID != "" && event.RequestID != filter.RequestID {
		return false
	}
	return true
}

// Delete removes events older than the given time.
func (s *MemoryStore) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for idx := range s.events {
		if s.events[idx].Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, s.events[idx])
	}
	s.events = kept
	return deleted, nil
}

// Len returns the number of events in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// CEFExporter renders events as Common Event Format lines for SIEM
// ingestion, one event per line.
type CEFExporter struct {
	Vendor  string
	Product string
	Version string
}

// NewCEFExporter returns an exporter that identifies as CampusGuard.
func NewCEFExporter() *CEFExporter {
	return &CEFExporter{Vendor: "CampusGuard", Product: "IdentitySecurityAnalysis", Version: "1.0"}
}

// cefSeverities maps audit severity onto the CEF 0-10 scale.
var cefSeverities = map[Severity]int{
	SeverityDebug:    1,
	SeverityInfo:     3,
	SeverityWarning:  5,
	SeverityError:    7,
	SeverityCritical: 10,
}

// cefCustomFields carries the metadata SOC tooling correlates on. Labels
// travel next to the values so the SIEM can name the columns.
var cefCustomFields = []struct {
	key, field, label string
}{
	{"threat_type", "cs1", "threatType"},
	{"incident_id", "cs2", "incidentId"},
	{"rule_id", "cs3", "ruleId"},
	{"policy", "cs4", "rateLimitPolicy"},
	{"risk_score", "cn1", "riskScore"},
}

// Export renders events in order.
// CEF:Version|Vendor|Product|Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(events []Event) ([]byte, error) {
	var b strings.Builder
	for idx := range events {
		if idx > 0 {
			b.WriteByte('\n')
		}
		event := &events[idx]
		fmt.Fprintf(&b, "CEF:0|%s|%s|%s|%s|%s|%d|%s",
			cefHeader(e.Vendor), cefHeader(e.Product), cefHeader(e.Version),
			cefHeader(string(event.Type)), cefHeader(event.Description),
			cefSeverities[event.Severity], cefExtension(event))
	}
	return []byte(b.String()), nil
}

func cefExtension(event *Event) string {
	parts := []string{
		fmt.Sprintf("rt=%d", event.Timestamp.UnixMilli()),
		"cat=" + cefValue(string(event.Category)),
	}
	if event.Actor.ID != "" {
		parts = append(parts, "suid="+cefValue(event.Actor.ID))
	}
	if event.Actor.IPAddress != "" {
		parts = append(parts, "src="+cefValue(event.Actor.IPAddress))
	}
	if event.RequestID != "" {
		parts = append(parts, "externalId="+cefValue(event.RequestID))
	}
	for _, f := range cefCustomFields {
		v, ok := event.Metadata[f.key]
		if !ok {
			continue
		}
		parts = append(parts, f.field+"="+cefValue(fmt.Sprint(v)), f.field+"Label="+f.label)
	}
	return strings.Join(parts, " ")
}

var (
	cefHeaderEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "\r", " ", "\n", " ")
	cefValueEscaper  = strings.NewReplacer(`\`, `\\`, "=", `\=`, "\r", `\r`, "\n", `\n`)
)

// cefHeader escapes a pipe-delimited header field.
func cefHeader(s string) string { return cefHeaderEscaper.Replace(s) }

// cefValue escapes an extension value.
func cefValue(s string) string { return cefValueEscaper.Replace(s) }
