// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/validation"
)

// ErrNoBlocklist is returned by Unblock when no blocklist is configured.
var ErrNoBlocklist = errors.New("blocklist not configured")

// RateLimitCheck names the policy and actor to check.
type RateLimitCheck struct {
	Policy   string `json:"policy" validate:"required,policy"`
	ActorKey string `json:"actor_key" validate:"required,max=512,no_ctl"`
}

// Registration is one registration attempt to score.
type Registration struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	IPAddress string `json:"ip_address" validate:"omitempty,ip"`
	Reason    string `json:"reason" validate:"max=64"`
}

// CheckRateLimit counts one call for actorKey under policy. A counter store
// outage is absorbed: the decision already follows the policy's fail mode
// and is flagged Degraded. Unknown policies return ratelimit.ErrPolicyNotFound.
// Denials are audited before they are returned.
func (s *Service) CheckRateLimit(ctx context.Context, policy, actorKey string) (ratelimit.Decision, error) {
	if verr := validation.ValidateStruct(&RateLimitCheck{Policy: policy, ActorKey: actorKey}); verr != nil {
		return ratelimit.Decision{}, verr
	}

	d, err := s.deps.Limiter.Check(ctx, policy, actorKey)
	if err != nil {
		if !errors.Is(err, ratelimit.ErrStoreUnavailable) {
			return ratelimit.Decision{}, err
		}
		logging.Ctx(ctx).Warn().Err(err).Str("policy", policy).Bool("allowed", d.Allowed).Msg("Rate limit decided by fail mode")
	}

	if !d.Allowed {
		s.deps.Audit.RecordEvent(ctx, audit.Event{
			Type:        audit.EventTypeRequestRateLimited,
			Category:    audit.CategoryRateLimit,
			Severity:    audit.SeverityWarning,
			Actor:       audit.Actor{ID: actorKey, Type: "user"},
			Description: fmt.Sprintf("Rate limit %s exceeded", policy),
			Metadata: map[string]any{
				"policy":      policy,
				"limit":       d.Limit,
				"retry_after": d.RetryAfter,
				"degraded":    d.Degraded,
			},
		})
	}
	return d, nil
}

// ScoreRegistrationEmail scores a registration attempt and audits the
// result. Auto-blocklisting happens inside the scorer and is audited here.
func (s *Service) ScoreRegistrationEmail(ctx context.Context, reg Registration) (*fraud.Result, error) {
	if verr := validation.ValidateStruct(&reg); verr != nil {
		return nil, verr
	}

	res, err := s.deps.Fraud.Score(ctx, reg.Email, reg.IPAddress, reg.Reason)
	if err != nil {
		return nil, fmt.Errorf("score registration: %w", err)
	}

	actor := audit.UserActor(logging.SanitizeEmail(reg.Email), reg.IPAddress, "")
	severity := audit.SeverityInfo
	if res.Blocked {
		severity = audit.SeverityWarning
	}
	s.deps.Audit.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeFraudScored,
		Category:    audit.CategoryFraud,
		Severity:    severity,
		Actor:       actor,
		Description: "Registration scored",
		Metadata: map[string]any{
			"risk_score":  res.RiskScore,
			"blocked":     res.Blocked,
			"reasons":     res.Reasons,
			"blocklisted": res.Blocklisted,
		},
	})
	if res.AutoBlocked {
		s.deps.Audit.RecordEvent(ctx, audit.Event{
			Type:        audit.EventTypeFraudBlocklisted,
			Category:    audit.CategoryFraud,
			Severity:    audit.SeverityWarning,
			Actor:       actor,
			Description: "Registration source added to the blocklist",
			Metadata:    map[string]any{"risk_score": res.RiskScore},
		})
	}
	return &res, nil
}

// Unblock removes a blocklist entry on behalf of actor.
func (s *Service) Unblock(ctx context.Context, kind fraud.EntryKind, value, actor string) error {
	if s.deps.Blocklist == nil {
		return ErrNoBlocklist
	}
	if err := s.deps.Blocklist.Unblock(ctx, kind, value); err != nil {
		return fmt.Errorf("unblock %s: %w", kind, err)
	}

	shown := value
	if kind == fraud.KindEmail {
		shown = logging.SanitizeEmail(value)
	}
	s.deps.Audit.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeBlocklistRemoved,
		Category:    audit.CategoryFraud,
		Severity:    audit.SeverityInfo,
		Actor:       audit.Actor{ID: actor, Type: "admin"},
		Description: fmt.Sprintf("Blocklist %s entry removed", kind),
		Metadata:    map[string]any{"kind": string(kind), "value": shown},
	})
	logging.Ctx(ctx).Info().Str("kind", string(kind)).Str("actor", actor).Msg("Blocklist entry removed")
	return nil
}
