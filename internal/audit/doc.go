// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package audit records security audit events emitted by the analysis core.
//
// Producers depend only on the Sink interface. RecordEvent is fire-and-forget:
// it never blocks the caller and never returns an error. The Logger
// implementation buffers events on a channel and writes them to a Store from
// a single goroutine; a full buffer drops the event and counts the drop.
//
// # Event Types
//
// Threat analysis:
//   - threat.detected, threat.resolved, analysis.degraded
//
// Request screening:
//   - request.blocked (403), request.rate_limited (429)
//
// Registration fraud:
//   - fraud.scored, fraud.blocklisted, blocklist.removed
//
// Rule engine:
//   - rule.fired, rule.action_failed, account.locked, account.2fa_required
//
// Incident response:
//   - incident.created, incident.status_changed, incident.evidence_added,
//     incident.action_created, incident.action_completed
//
// # Metadata
//
// Event metadata is passed through logging.RedactMetadata before it is
// buffered, so passwords, tokens and secrets never reach the store or stdout.
//
// # Export
//
// CEFExporter renders stored events for SIEM ingestion. Threat type, incident,
// rule, policy and risk score metadata map onto CEF custom fields.
package audit
