// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package metrics holds the Prometheus collectors for CampusGuard. All
// collectors register on the default registry and are exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection
	IndicatorsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_indicators_total",
			Help: "Threat indicators produced by detectors",
		},
		[]string{"type", "severity"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_detector_errors_total",
			Help: "Detector failures isolated during analysis",
		},
		[]string{"detector"},
	)

	DetectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campusguard_detector_duration_seconds",
			Help:    "Time spent in a single detector",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"detector"},
	)

	ActiveThreats = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusguard_active_threats",
			Help: "Unresolved threat indicators held in memory",
		},
	)

	// Risk
	RiskDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_risk_decisions_total",
			Help: "Risk decisions by outcome",
		},
		[]string{"decision"},
	)

	RiskScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campusguard_risk_score",
			Help:    "Aggregate request risk scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// Rate limiting
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_rate_limit_decisions_total",
			Help: "Rate limit checks by policy and outcome",
		},
		[]string{"policy", "outcome"}, // allowed, denied, fail_open, fail_closed
	)

	CounterStoreBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campusguard_counter_store_breaker_state",
			Help: "Counter store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"store"},
	)

	// Fraud
	FraudScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campusguard_fraud_score",
			Help:    "Registration fraud scores",
			Buckets: []float64{0, 10, 25, 50, 75, 80, 90, 100},
		},
	)

	FraudAutoBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campusguard_fraud_auto_blocks_total",
			Help: "Registrations that triggered automatic blocklisting",
		},
	)

	BlocklistHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_blocklist_hits_total",
			Help: "Blocklist lookups that matched",
		},
		[]string{"kind"}, // email, ip
	)

	// Rules
	RuleFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_rule_firings_total",
			Help: "Rules that matched an indicator and ran their actions",
		},
		[]string{"rule"},
	)

	RuleActionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_rule_action_errors_total",
			Help: "Rule actions that failed",
		},
		[]string{"action"},
	)

	RuleCooldownSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_rule_cooldown_skips_total",
			Help: "Rule matches suppressed by cooldown",
		},
		[]string{"rule"},
	)

	// Incidents
	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_incidents_created_total",
			Help: "Security incidents opened",
		},
		[]string{"severity"},
	)

	IncidentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_incident_transitions_total",
			Help: "Incident status transitions",
		},
		[]string{"from", "to"},
	)

	ActiveIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusguard_active_incidents",
			Help: "Incidents not yet closed",
		},
	)

	// History and accounts
	HistoryActors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusguard_history_tracked_actors",
			Help: "Actors with retained event history",
		},
	)

	HistoryPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campusguard_history_pruned_events_total",
			Help: "History events removed by the decay sweep",
		},
	)

	HistoryEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_history_evicted_keys_total",
			Help: "History keys evicted because an index was full",
		},
		[]string{"index"},
	)

	AccountActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_account_actions_total",
			Help: "Account mutations applied by rules",
		},
		[]string{"action"},
	)

	// Audit and notification
	AuditEventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_audit_events_total",
			Help: "Audit events accepted by the sink",
		},
		[]string{"type"},
	)

	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campusguard_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_notifications_total",
			Help: "Notifications by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// Storage
	StorageGCRewrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campusguard_storage_gc_rewrites_total",
			Help: "Badger value log files rewritten by GC",
		},
	)

	StorageGCDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campusguard_storage_gc_duration_seconds",
			Help:    "Time spent in one Badger GC pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event bus
	LoginEventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_login_events_total",
			Help: "Login events consumed from the message bus by outcome",
		},
		[]string{"outcome"}, // analyzed, rejected, failed
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campusguard_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusguard_api_active_requests",
			Help: "HTTP requests currently being served",
		},
	)
)

// RecordDetector records one detector run.
func RecordDetector(detector string, duration time.Duration, err error) {
	DetectorDuration.WithLabelValues(detector).Observe(duration.Seconds())
	if err != nil {
		DetectorErrors.WithLabelValues(detector).Inc()
	}
}

// RecordRiskDecision records an aggregate score and the block decision.
func RecordRiskDecision(score int, blocked bool) {
	RiskScores.Observe(float64(score))
	if blocked {
		RiskDecisions.WithLabelValues("block").Inc()
		return
	}
	RiskDecisions.WithLabelValues("allow").Inc()
}

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest moves the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}
