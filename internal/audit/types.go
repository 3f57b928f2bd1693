// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package audit

import (
	"context"
	"time"
)

// EventType identifies an audit event.
type EventType string

const (
	// Threat analysis
	EventTypeThreatDetected   EventType = "threat.detected"
	EventTypeThreatResolved   EventType = "threat.resolved"
	EventTypeAnalysisDegraded EventType = "analysis.degraded"

	// Request screening
	EventTypeRequestBlocked     EventType = "request.blocked"
	EventTypeRequestRateLimited EventType = "request.rate_limited"

	// Registration fraud
	EventTypeFraudScored      EventType = "fraud.scored"
	EventTypeFraudBlocklisted EventType = "fraud.blocklisted"
	EventTypeBlocklistRemoved EventType = "blocklist.removed"

	// Rule engine
	EventTypeRuleFired          EventType = "rule.fired"
	EventTypeRuleActionFailed   EventType = "rule.action_failed"
	EventTypeAccountLocked      EventType = "account.locked"
	EventTypeAccount2FARequired EventType = "account.2fa_required"

	// Incident response
	EventTypeIncidentCreated         EventType = "incident.created"
	EventTypeIncidentStatusChanged   EventType = "incident.status_changed"
	EventTypeIncidentEvidenceAdded   EventType = "incident.evidence_added"
	EventTypeIncidentActionCreated   EventType = "incident.action_created"
	EventTypeIncidentActionCompleted EventType = "incident.action_completed"

	// Access control on the admin surface
	EventTypeAuthzDenied EventType = "authz.denied"
)

// Category groups event types.
type Category string

const (
	CategoryThreat    Category = "threat"
	CategoryRateLimit Category = "ratelimit"
	CategoryFraud     Category = "fraud"
	CategoryRule      Category = "rule"
	CategoryAccount   Category = "account"
	CategoryIncident  Category = "incident"
	CategoryAccess    Category = "access"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// Event is one security audit record.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"type"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Actor       Actor          `json:"actor"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// CorrelationID links related events.
	CorrelationID string `json:"correlation_id,omitempty"`

	// RequestID from the originating HTTP request.
	RequestID string `json:"request_id,omitempty"`
}

// Actor is who or what the event is attributed to.
type Actor struct {
	// ID is the user ID, service account, or "system".
	ID string `json:"id"`

	// Type of actor (user, admin, service, system).
	Type string `json:"type"`

	Name      string `json:"name,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Sink receives audit events. Implementations must not block the caller and
// must absorb their own failures.
type Sink interface {
	RecordEvent(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

// RecordEvent implements Sink.
func (f SinkFunc) RecordEvent(ctx context.Context, event Event) { f(ctx, event) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	// Delete removes events older than the retention cutoff.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	Types      []EventType `json:"types,omitempty"`
	Categories []Category  `json:"categories,omitempty"`
	Severities []Severity  `json:"severities,omitempty"`
	ActorID    string      `json:"actor_id,omitempty"`
	SourceIP   string      `json:"source_ip,omitempty"`
	StartTime  *time.Time  `json:"start_time,omitempty"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: 100}
}

// SystemActor returns the Actor used for automated decisions.
func SystemActor() Actor {
	return Actor{ID: "system", Type: "system", Name: "CampusGuard"}
}

// UserActor returns an Actor for an end user seen at ip.
func UserActor(userID, ip, userAgent string) Actor {
	return Actor{ID: userID, Type: "user", IPAddress: ip, UserAgent: userAgent}
}
