// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package threat inspects login attempts and requests and turns what it sees
// into threat indicators.
//
// Detectors are independent: each one receives the same normalized Event and
// returns zero or more indicators. Login-oriented detectors read the actor's
// recent history through EventHistory; signature detectors look only at the
// request itself. The Engine runs every enabled detector, keeps going when one
// fails, and reports the failures alongside whatever indicators were produced.
package threat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/campusguard/internal/logging"
)

// Type identifies the kind of threat an indicator describes.
type Type string

const (
	TypeBruteForce        Type = "brute_force"
	TypeSuspiciousLogin   Type = "suspicious_login"
	TypeSQLInjection      Type = "sql_injection"
	TypeXSS               Type = "xss_attack"
	TypeCSRF              Type = "csrf_attack"
	TypeMaliciousRequest  Type = "malicious_request"
	TypeDDoS              Type = "ddos_attack"
	TypeGeographicAnomaly Type = "geographic_anomaly"
	TypeDeviceAnomaly     Type = "device_anomaly"
	TypeBehavioralAnomaly Type = "behavioral_anomaly"
)

// Severity is the indicator severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Indicator is one detector's finding.
//
// Everything except the resolution fields is fixed at creation. Metadata is
// redacted before the indicator leaves the detector.
type Indicator struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	RiskScore  int            `json:"risk_score"`
	UserID     string         `json:"user_id,omitempty"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IsActive   bool           `json:"is_active"`
	DetectedAt time.Time      `json:"detected_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	Resolution string         `json:"resolution,omitempty"`
}

// EventKind distinguishes login attempts from general requests.
type EventKind string

const (
	KindLogin   EventKind = "login"
	KindRequest EventKind = "request"
)

// RequestDescriptor is the part of an HTTP request that signature detectors
// inspect.
type RequestDescriptor struct {
	Method  string            `json:"method" validate:"required"`
	URL     string            `json:"url" validate:"required"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Event is the normalized input to every detector.
type Event struct {
	Kind              EventKind
	UserID            string
	IPAddress         string
	UserAgent         string
	Success           bool
	Location          string
	DeviceFingerprint string
	Request           *RequestDescriptor
	Metadata          map[string]any
	Timestamp         time.Time
}

// Actor returns the identity history lookups are attributed to: the user when
// known, otherwise the source IP.
func (e *Event) Actor() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.IPAddress
}

// Historical event types recorded for every analyzed event.
const (
	HistoryLoginFailure = "login.failure"
	HistoryLoginSuccess = "login.success"
	HistoryRequest      = "request"
)

// HistoryEvent is one past event as returned by EventHistory.
type HistoryEvent struct {
	ActorID           string    `json:"actor_id"`
	Type              string    `json:"type"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	Location          string    `json:"location,omitempty"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// EventFilter selects history events. Zero values mean "any"; Limit 0 means
// unlimited.
type EventFilter struct {
	ActorID   string
	IPAddress string
	Type      string
	Since     time.Time
	Limit     int
}

// EventHistory answers historical queries for anomaly detectors. Results are
// ordered newest first.
type EventHistory interface {
	QueryEvents(ctx context.Context, filter EventFilter) ([]HistoryEvent, error)
}

// Detector is implemented by every pattern detector.
type Detector interface {
	// Type returns the indicator type this detector produces.
	Type() Type

	// Detect returns zero or more indicators for ev.
	Detect(ctx context.Context, ev *Event) ([]*Indicator, error)

	Enabled() bool
	SetEnabled(enabled bool)
}

// ErrNoHistory is returned by history-backed detectors constructed without an
// EventHistory.
var ErrNoHistory = errors.New("event history not configured")

// newIndicator builds an active indicator from ev with redacted metadata and
// a score clamped to [0,100].
func newIndicator(t Type, sev Severity, score int, ev *Event, metadata map[string]any) *Indicator {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Indicator{
		ID:         uuid.New().String(),
		Type:       t,
		Severity:   sev,
		RiskScore:  ClampScore(score),
		UserID:     ev.UserID,
		IPAddress:  ev.IPAddress,
		UserAgent:  ev.UserAgent,
		Metadata:   logging.RedactMetadata(metadata),
		IsActive:   true,
		DetectedAt: ts,
	}
}

// ClampScore bounds a score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
