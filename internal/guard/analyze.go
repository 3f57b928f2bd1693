// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/history"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/risk"
	"github.com/tomtom215/campusguard/internal/threat"
	"github.com/tomtom215/campusguard/internal/validation"
)

// ReasonBlocklisted is the block reason for sources on the blocklist.
const ReasonBlocklisted = "blocklisted"

// LoginAttempt is one authentication attempt reported by the login flow.
type LoginAttempt struct {
	UserID            string         `json:"user_id" validate:"required,max=256,no_ctl"`
	IPAddress         string         `json:"ip_address" validate:"required,ip"`
	UserAgent         string         `json:"user_agent" validate:"max=1024"`
	Success           bool           `json:"success"`
	Location          string         `json:"location,omitempty" validate:"max=256"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty" validate:"max=512"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Timestamp         time.Time      `json:"timestamp,omitempty"`
}

// LoginResult is what the login flow acts on.
type LoginResult struct {
	Indicators    []*threat.Indicator `json:"indicators"`
	Assessment    risk.Assessment     `json:"assessment"`
	AccountLocked bool                `json:"account_locked"`
	LockRemaining int                 `json:"lock_remaining_seconds,omitempty"`
	Requires2FA   bool                `json:"requires_2fa"`
	IncidentID    string              `json:"incident_id,omitempty"`
	Degraded      bool                `json:"degraded,omitempty"`
}

// RequestAnalysis is one inbound HTTP request to screen.
type RequestAnalysis struct {
	UserID    string                   `json:"user_id" validate:"max=256,no_ctl"`
	IPAddress string                   `json:"ip_address" validate:"required,ip"`
	UserAgent string                   `json:"user_agent" validate:"max=1024"`
	Request   threat.RequestDescriptor `json:"request" validate:"required"`
	Metadata  map[string]any           `json:"metadata,omitempty"`
	Timestamp time.Time                `json:"timestamp,omitempty"`
}

// RequestResult says whether to serve the request.
type RequestResult struct {
	Indicators []*threat.Indicator `json:"indicators"`
	Assessment risk.Assessment     `json:"assessment"`
	Blocked    bool                `json:"blocked"`
	Reason     string              `json:"reason,omitempty"`
	IncidentID string              `json:"incident_id,omitempty"`
	Degraded   bool                `json:"degraded,omitempty"`
}

type analysis struct {
	indicators []*threat.Indicator
	assessment risk.Assessment
	incidentID string
	degraded   bool
}

// AnalyzeLoginAttempt runs every detector over a login attempt, fires the
// matching rules and reports the account state that results. It never
// denies on its own: the caller enforces AccountLocked and Requires2FA.
func (s *Service) AnalyzeLoginAttempt(ctx context.Context, attempt LoginAttempt) (*LoginResult, error) {
	if verr := validation.ValidateStruct(&attempt); verr != nil {
		return nil, verr
	}

	ev := &threat.Event{
		Kind:              threat.KindLogin,
		UserID:            attempt.UserID,
		IPAddress:         attempt.IPAddress,
		UserAgent:         attempt.UserAgent,
		Success:           attempt.Success,
		Location:          attempt.Location,
		DeviceFingerprint: attempt.DeviceFingerprint,
		Metadata:          attempt.Metadata,
		Timestamp:         attempt.Timestamp,
	}
	res, err := s.analyze(ctx, ev)
	if err != nil {
		return nil, err
	}

	out := &LoginResult{
		Indicators: res.indicators,
		Assessment: res.assessment,
		IncidentID: res.incidentID,
		Degraded:   res.degraded,
	}
	if s.deps.Accounts != nil {
		locked, remaining, err := s.deps.Accounts.CheckLocked(ctx, attempt.UserID)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Account lock check failed")
		}
		out.AccountLocked = locked
		if locked {
			out.LockRemaining = int((remaining + time.Second - 1) / time.Second)
		}
		if out.Requires2FA, err = s.deps.Accounts.Requires2FA(ctx, attempt.UserID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Step-up lookup failed")
		}
	}
	return out, nil
}

// AnalyzeRequest screens one HTTP request. Blocklisted sources are refused
// without running detectors. A block decision is audited before it is
// returned.
func (s *Service) AnalyzeRequest(ctx context.Context, req RequestAnalysis) (*RequestResult, error) {
	if verr := validation.ValidateStruct(&req); verr != nil {
		return nil, verr
	}

	if entry := s.blocklisted(ctx, req.IPAddress); entry != nil {
		out := &RequestResult{Indicators: []*threat.Indicator{}, Blocked: true, Reason: ReasonBlocklisted}
		s.auditBlocked(ctx, req, out, map[string]any{"blocklist_reason": entry.Reason})
		return out, nil
	}

	descriptor := req.Request
	ev := &threat.Event{
		Kind:      threat.KindRequest,
		UserID:    req.UserID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Request:   &descriptor,
		Metadata:  req.Metadata,
		Timestamp: req.Timestamp,
	}
	res, err := s.analyze(ctx, ev)
	if err != nil {
		return nil, err
	}

	out := &RequestResult{
		Indicators: res.indicators,
		Assessment: res.assessment,
		Blocked:    res.assessment.Block,
		Reason:     res.assessment.Reason,
		IncidentID: res.incidentID,
		Degraded:   res.degraded,
	}
	if out.Blocked {
		s.auditBlocked(ctx, req, out, map[string]any{
			"risk_score":       res.assessment.Score,
			"highest_severity": string(res.assessment.Highest),
			"method":           descriptor.Method,
		})
	}
	return out, nil
}

// analyze is the shared pipeline: detect, record history, register, fire
// rules, assess and maybe open an incident. Detectors see only prior
// history, so the event is recorded after detection.
func (s *Service) analyze(ctx context.Context, ev *threat.Event) (analysis, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	var res analysis
	found, err := s.deps.Detectors.Analyze(ctx, ev)
	if err != nil {
		var derr *threat.DetectionError
		if !errors.As(err, &derr) {
			return analysis{}, fmt.Errorf("analyze %s event: %w", ev.Kind, err)
		}
		res.degraded = true
		s.auditDegraded(ctx, ev, derr)
	}
	if found == nil {
		found = []*threat.Indicator{}
	}
	res.indicators = found

	if s.deps.History != nil {
		s.deps.History.Record(ctx, history.EventFor(ev))
	}

	s.deps.Registry.Add(found...)

	requested := false
	for _, ind := range found {
		s.auditDetected(ctx, ind)
		if s.deps.Rules == nil {
			continue
		}
		outcome := s.deps.Rules.Process(ctx, ind)
		requested = requested || outcome.IncidentRequested
		for _, rerr := range outcome.Errors {
			logging.Ctx(ctx).Warn().Err(rerr).Str("indicator_id", ind.ID).Msg("Security rule failed")
		}
	}

	res.assessment = s.deps.Risk.Assess(found)
	res.incidentID = s.autoIncident(ctx, found, res.assessment, requested)
	return res, nil
}

// autoIncident returns the incident covering this analysis, if any. A fired
// create_incident rule has already opened one; otherwise brute force in a
// blocking assessment at or above the threshold opens one here.
func (s *Service) autoIncident(ctx context.Context, found []*threat.Indicator, a risk.Assessment, requested bool) string {
	if requested {
		for _, ind := range found {
			if inc := s.coveringIncident(ind); inc != "" {
				return inc
			}
		}
	}
	if !a.Block || a.Score < s.config.AutoCreateThreshold {
		return ""
	}

	var worst *threat.Indicator
	for _, ind := range found {
		if ind.Type != threat.TypeBruteForce {
			continue
		}
		if worst == nil || ind.Severity.Rank() > worst.Severity.Rank() {
			worst = ind
		}
	}
	if worst == nil {
		return ""
	}

	inc, err := s.openFromIndicator(ctx, nil, worst)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("indicator_id", worst.ID).Msg("Automatic incident creation failed")
		return ""
	}
	return inc.ID
}

func (s *Service) coveringIncident(ind *threat.Indicator) string {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if inc := s.findOpenIncident(ind); inc != nil {
		return inc.ID
	}
	return ""
}

func (s *Service) blocklisted(ctx context.Context, ip string) *fraud.Entry {
	if s.deps.Blocklist == nil {
		return nil
	}
	entry, err := s.deps.Blocklist.Lookup(ctx, fraud.KindIP, ip)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Blocklist lookup failed")
		return nil
	}
	return entry
}

func (s *Service) auditDetected(ctx context.Context, ind *threat.Indicator) {
	s.deps.Audit.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeThreatDetected,
		Category:    audit.CategoryThreat,
		Severity:    auditSeverity(ind.Severity),
		Actor:       audit.UserActor(ind.UserID, ind.IPAddress, ind.UserAgent),
		Description: fmt.Sprintf("%s indicator detected", ind.Type),
		Metadata: map[string]any{
			"indicator_id": ind.ID,
			"threat_type":  string(ind.Type),
			"risk_score":   ind.RiskScore,
		},
	})
}

func (s *Service) auditDegraded(ctx context.Context, ev *threat.Event, derr *threat.DetectionError) {
	failed := make([]string, 0, len(derr.Failures))
	for _, f := range derr.Failures {
		failed = append(failed, string(f.Detector))
	}
	s.deps.Audit.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeAnalysisDegraded,
		Category:    audit.CategoryThreat,
		Severity:    audit.SeverityWarning,
		Actor:       audit.UserActor(ev.UserID, ev.IPAddress, ev.UserAgent),
		Description: "Analysis ran without every detector",
		Metadata: map[string]any{
			"failed_detectors": failed,
			"error":            derr.Error(),
			"event_kind":       string(ev.Kind),
		},
	})
}

func (s *Service) auditBlocked(ctx context.Context, req RequestAnalysis, out *RequestResult, metadata map[string]any) {
	metadata["reason"] = out.Reason
	metadata["url"] = req.Request.URL
	s.deps.Audit.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeRequestBlocked,
		Category:    audit.CategoryThreat,
		Severity:    audit.SeverityWarning,
		Actor:       audit.UserActor(req.UserID, req.IPAddress, req.UserAgent),
		Description: "Request blocked",
		Metadata:    metadata,
	})
	logging.Ctx(ctx).Info().
		Str("reason", out.Reason).
		Str("ip", req.IPAddress).
		Int("risk_score", out.Assessment.Score).
		Msg("Request blocked")
}

func auditSeverity(sev threat.Severity) audit.Severity {
	switch sev {
	case threat.SeverityCritical:
		return audit.SeverityCritical
	case threat.SeverityHigh:
		return audit.SeverityError
	case threat.SeverityMedium:
		return audit.SeverityWarning
	}
	return audit.SeverityInfo
}
