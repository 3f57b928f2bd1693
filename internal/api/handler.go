// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"context"
	"time"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/guard"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/middleware"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/threat"
)

// SecurityService is the set of guard operations served over HTTP.
type SecurityService interface {
	Config() guard.Config

	AnalyzeLoginAttempt(ctx context.Context, attempt guard.LoginAttempt) (*guard.LoginResult, error)
	AnalyzeRequest(ctx context.Context, req guard.RequestAnalysis) (*guard.RequestResult, error)
	CheckRateLimit(ctx context.Context, policy, actorKey string) (ratelimit.Decision, error)
	ScoreRegistrationEmail(ctx context.Context, reg guard.Registration) (*fraud.Result, error)
	Unblock(ctx context.Context, kind fraud.EntryKind, value, actor string) error

	GetActiveThreats() []threat.Indicator
	ResolveThreat(ctx context.Context, id, resolvedBy, resolution string) (threat.Indicator, error)

	GetActiveIncidents() []*incident.Incident
	ListIncidents(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error)
	GetIncident(ctx context.Context, id string) (*incident.Incident, error)
	CreateIncident(ctx context.Context, req incident.CreateRequest, actor string) (*incident.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, to incident.Status, actor, notes string) (*incident.Incident, error)
	AddEvidence(ctx context.Context, incidentID string, req incident.EvidenceRequest, actor string) (*incident.Evidence, error)
	AccessEvidence(ctx context.Context, incidentID, evidenceID, actor, action, notes string) (*incident.Evidence, error)
	CreateAction(ctx context.Context, incidentID string, req incident.ActionRequest, actor string) (*incident.Action, error)
	StartAction(ctx context.Context, incidentID, actionID, actor string) (*incident.Action, error)
	CompleteAction(ctx context.Context, incidentID, actionID, actor, notes string) (*incident.Action, error)
	CancelAction(ctx context.Context, incidentID, actionID, actor, notes string) (*incident.Action, error)
}

// AuditQuerier reads recorded audit events.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler serves the API routes.
type Handler struct {
	svc          SecurityService
	audit        AuditQuerier
	performance  *middleware.PerformanceMonitor
	healthChecks map[string]HealthCheck
	startTime    time.Time
}

// NewHandler creates a handler. audit and performance may be nil.
func NewHandler(svc SecurityService, auditQuerier AuditQuerier, performance *middleware.PerformanceMonitor, checks map[string]HealthCheck) *Handler {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &Handler{
		svc:          svc,
		audit:        auditQuerier,
		performance:  performance,
		healthChecks: checks,
		startTime:    time.Now(),
	}
}
