// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package guard is the entry point the HTTP layer, the login flow and the
// registration flow call into. It runs detectors, scores the result, records
// history, fires security rules and opens incidents, and owns every audit
// event that describes a decision made on behalf of a caller.
package guard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/notify"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/risk"
	"github.com/tomtom215/campusguard/internal/rules"
	"github.com/tomtom215/campusguard/internal/threat"
)

// SystemActor is recorded as the creator of automatically opened incidents.
const SystemActor = "system"

// Analyzer runs the detector set over one event.
type Analyzer interface {
	Analyze(ctx context.Context, ev *threat.Event) ([]*threat.Indicator, error)
}

// HistoryRecorder stores analyzed events for later detector lookups.
type HistoryRecorder interface {
	Record(ctx context.Context, ev threat.HistoryEvent)
}

// RuleProcessor runs security rules for one indicator.
type RuleProcessor interface {
	Process(ctx context.Context, ind *threat.Indicator) rules.Outcome
}

// RateChecker checks an actor against a named rate-limit policy.
type RateChecker interface {
	Check(ctx context.Context, policyName, actorKey string) (ratelimit.Decision, error)
}

// RegistrationScorer scores registration attempts.
type RegistrationScorer interface {
	Score(ctx context.Context, email, ip, reason string) (fraud.Result, error)
}

// AccountChecker reads account security state for the login flow.
type AccountChecker interface {
	CheckLocked(ctx context.Context, userID string) (bool, time.Duration, error)
	Requires2FA(ctx context.Context, userID string) (bool, error)
}

// Config holds facade policy knobs.
type Config struct {
	// AutoCreateThreshold opens an incident for brute force when a blocking
	// assessment reaches it.
	AutoCreateThreshold int `koanf:"auto_create_threshold" json:"auto_create_threshold" validate:"min=1,max=100"`
	// LoginPolicy is the rate-limit policy applied before login analysis.
	LoginPolicy string `koanf:"login_policy" json:"login_policy" validate:"required,policy"`
	// RegistrationPolicy is applied before registration scoring.
	RegistrationPolicy string `koanf:"registration_policy" json:"registration_policy" validate:"required,policy"`
}

// DefaultConfig returns threshold 90 and the login / registration policies.
func DefaultConfig() Config {
	return Config{
		AutoCreateThreshold: 90,
		LoginPolicy:         "login",
		RegistrationPolicy:  "registration",
	}
}

// Deps are the collaborators of a Service. Detectors, Limiter, Fraud and
// Incidents are required; the rest may be nil.
type Deps struct {
	Detectors Analyzer
	Risk      *risk.Scorer
	Registry  *threat.Registry
	History   HistoryRecorder
	Rules     RuleProcessor
	Limiter   RateChecker
	Fraud     RegistrationScorer
	Blocklist fraud.Blocklist
	Accounts  AccountChecker
	Incidents *incident.Tracker
	Notifier  rules.Notifier
	Audit     audit.Sink
}

// Service implements the exposed security operations. Safe for concurrent use.
type Service struct {
	deps   Deps
	config Config
	now    func() time.Time

	// openMu serializes the find-or-create step of automatic incidents.
	openMu sync.Mutex
}

// New validates deps and returns a service.
func New(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Detectors == nil:
		return nil, errors.New("guard: detectors are required")
	case deps.Limiter == nil:
		return nil, errors.New("guard: rate limiter is required")
	case deps.Fraud == nil:
		return nil, errors.New("guard: fraud scorer is required")
	case deps.Incidents == nil:
		return nil, errors.New("guard: incident tracker is required")
	}
	if cfg.AutoCreateThreshold < 1 || cfg.AutoCreateThreshold > risk.MaxScore {
		return nil, fmt.Errorf("guard: auto create threshold must be within 1-%d", risk.MaxScore)
	}
	if deps.Risk == nil {
		deps.Risk = risk.NewScorer(risk.DefaultConfig())
	}
	if deps.Registry == nil {
		deps.Registry = threat.NewRegistry()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	return &Service{deps: deps, config: cfg, now: time.Now}, nil
}

// Config returns the facade configuration.
func (s *Service) Config() Config { return s.config }

// OpenFromIndicator implements rules.IncidentOpener for create_incident
// actions.
func (s *Service) OpenFromIndicator(ctx context.Context, rule *rules.SecurityRule, ind *threat.Indicator) error {
	_, err := s.openFromIndicator(ctx, rule, ind)
	return err
}

// openFromIndicator returns the open incident already covering the
// indicator's actor, or opens one with the indicator attached as evidence.
func (s *Service) openFromIndicator(ctx context.Context, rule *rules.SecurityRule, ind *threat.Indicator) (*incident.Incident, error) {
	if ind == nil {
		return nil, fmt.Errorf("%w: nil indicator", incident.ErrInvalidInput)
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	if existing := s.findOpenIncident(ind); existing != nil {
		logging.Ctx(ctx).Debug().
			Str("incident_id", existing.ID).
			Str("indicator_id", ind.ID).
			Msg("Indicator already covered by an open incident")
		return existing, nil
	}

	req := incident.CreateRequest{
		Type:         ind.Type,
		Title:        incidentTitle(ind),
		Description:  fmt.Sprintf("Opened automatically from a %s %s indicator (risk score %d).", ind.Severity, ind.Type, ind.RiskScore),
		Severity:     ind.Severity,
		IndicatorIDs: []string{ind.ID},
		Tags:         []string{"auto"},
		Metadata: map[string]any{
			"ip_address": ind.IPAddress,
			"risk_score": ind.RiskScore,
		},
		CreatedBy: SystemActor,
	}
	if ind.UserID != "" {
		req.AffectedUsers = []string{ind.UserID}
	}
	if rule != nil {
		req.Tags = append(req.Tags, "rule:"+rule.ID)
		req.Metadata["rule_id"] = rule.ID
	}

	inc, err := s.deps.Incidents.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open incident for indicator %s: %w", ind.ID, err)
	}

	if data, err := json.Marshal(ind); err == nil {
		if _, err := s.deps.Incidents.AddEvidence(ctx, inc.ID, incident.EvidenceRequest{
			Type:        incident.EvidenceLog,
			Description: "Triggering threat indicator",
			Source:      notify.Source,
			Data:        data,
			CollectedBy: SystemActor,
		}); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("incident_id", inc.ID).Msg("Failed to attach indicator evidence")
		}
	}

	s.notifyIncident(ctx, "incident_opened", inc)
	return inc, nil
}

// findOpenIncident matches by indicator ID, then by type plus affected user
// or source IP. Caller holds openMu.
func (s *Service) findOpenIncident(ind *threat.Indicator) *incident.Incident {
	for _, inc := range s.deps.Incidents.Active() {
		if slices.Contains(inc.IndicatorIDs, ind.ID) {
			return inc
		}
		if inc.Type != ind.Type || !slices.Contains(inc.Tags, "auto") {
			continue
		}
		if ind.UserID != "" && slices.Contains(inc.AffectedUsers, ind.UserID) {
			return inc
		}
		if ip, _ := inc.Metadata["ip_address"].(string); ind.UserID == "" && ip != "" && ip == ind.IPAddress {
			return inc
		}
	}
	return nil
}

func incidentTitle(ind *threat.Indicator) string {
	subject := ind.UserID
	if subject == "" {
		subject = ind.IPAddress
	}
	return fmt.Sprintf("%s detected for %s", strings.ReplaceAll(string(ind.Type), "_", " "), subject)
}

func (s *Service) notifyIncident(ctx context.Context, typ string, inc *incident.Incident) {
	if s.deps.Notifier == nil {
		return
	}
	s.deps.Notifier.Notify(ctx, notify.ChannelDashboard, map[string]any{
		"type":        typ,
		"incident_id": inc.ID,
		"title":       inc.Title,
		"severity":    string(inc.Severity),
		"status":      string(inc.Status),
	})
}
