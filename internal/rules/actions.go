// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/threat"
)

// ErrMissingDependency is returned when an action's collaborator is not wired.
var ErrMissingDependency = errors.New("action dependency not configured")

// Default action parameters.
const (
	DefaultBlockSeconds   = 3600
	DefaultLockMinutes    = 30
	DefaultAlertChannel   = "dashboard"
	DefaultNotifyChannel  = "webhook"
	DefaultRateLimitScope = "ip"
)

// Blocker adds entries to the blocklist.
type Blocker interface {
	Block(ctx context.Context, entry fraud.Entry) error
}

// Notifier delivers alerts. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, channel string, payload map[string]any)
}

// AccountMutator changes account security state.
type AccountMutator interface {
	LockAccount(ctx context.Context, userID string, until time.Time, reason string) error
	Require2FA(ctx context.Context, userID, reason string) error
}

// RateSeeder exhausts a rate-limit window.
type RateSeeder interface {
	Exhaust(ctx context.Context, policyName, actorKey string) error
}

// IncidentOpener opens an incident for an indicator.
type IncidentOpener interface {
	OpenFromIndicator(ctx context.Context, rule *SecurityRule, ind *threat.Indicator) error
}

// Deps are the collaborators actions call out to. Any may be nil; an action
// whose collaborator is missing fails with ErrMissingDependency.
type Deps struct {
	Blocklist Blocker
	Notifier  Notifier
	Accounts  AccountMutator
	Limiter   RateSeeder
	Incidents IncidentOpener
	Audit     audit.Sink
}

// Executor runs rule actions.
type Executor struct {
	deps Deps
	now  func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(deps Deps) *Executor {
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	return &Executor{deps: deps, now: time.Now}
}

// SetIncidentOpener wires the incident collaborator after construction; the
// tracker that opens incidents is built after the rule engine.
func (x *Executor) SetIncidentOpener(o IncidentOpener) {
	x.deps.Incidents = o
}

// Run executes one action. Delayed actions are scheduled and return nil; their
// errors are logged and audited when they run.
func (x *Executor) Run(ctx context.Context, rule *SecurityRule, action Action, ind *threat.Indicator) error {
	if action.Delay > 0 {
		detached := context.WithoutCancel(ctx)
		time.AfterFunc(action.Delay, func() {
			if err := x.run(detached, rule, action, ind); err != nil {
				reportActionFailure(detached, x.deps.Audit, rule, action, ind, err)
			}
		})
		return nil
	}
	return x.run(ctx, rule, action, ind)
}

func (x *Executor) run(ctx context.Context, rule *SecurityRule, action Action, ind *threat.Indicator) error {
	switch action.Type {
	case ActionBlock:
		return x.block(ctx, rule, action, ind)
	case ActionAlert:
		return x.notify(ctx, rule, action, ind, DefaultAlertChannel)
	case ActionNotify:
		return x.notify(ctx, rule, action, ind, DefaultNotifyChannel)
	case ActionLockAccount:
		return x.lockAccount(ctx, rule, action, ind)
	case ActionRequire2FA:
		return x.require2FA(ctx, rule, ind)
	case ActionRateLimit:
		return x.rateLimit(ctx, action, ind)
	case ActionLog:
		logging.Ctx(ctx).Warn().
			Str("rule_id", rule.ID).
			Str("indicator_id", ind.ID).
			Str("threat_type", string(ind.Type)).
			Str("severity", string(ind.Severity)).
			Int("risk_score", ind.RiskScore).
			Msg("Security rule matched")
		return nil
	case ActionCreateIncident:
		if x.deps.Incidents == nil {
			return fmt.Errorf("create_incident: %w", ErrMissingDependency)
		}
		return x.deps.Incidents.OpenFromIndicator(ctx, rule, ind)
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, action.Type)
}

func (x *Executor) block(ctx context.Context, rule *SecurityRule, action Action, ind *threat.Indicator) error {
	if x.deps.Blocklist == nil {
		return fmt.Errorf("block: %w", ErrMissingDependency)
	}
	if ind.IPAddress == "" {
		return fmt.Errorf("block: indicator %s has no ip address", ind.ID)
	}
	seconds := intParam(action.Params, "duration_seconds", DefaultBlockSeconds)
	now := x.now()
	return x.deps.Blocklist.Block(ctx, fraud.Entry{
		Kind:      fraud.KindIP,
		Value:     ind.IPAddress,
		Reason:    "rule:" + rule.ID,
		RiskScore: ind.RiskScore,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(seconds) * time.Second),
	})
}

func (x *Executor) notify(ctx context.Context, rule *SecurityRule, action Action, ind *threat.Indicator, fallback string) error {
	if x.deps.Notifier == nil {
		return fmt.Errorf("%s: %w", action.Type, ErrMissingDependency)
	}
	channel := stringParam(action.Params, "channel", fallback)
	payload := map[string]any{
		"rule_id":      rule.ID,
		"rule_name":    rule.Name,
		"indicator_id": ind.ID,
		"threat_type":  string(ind.Type),
		"severity":     string(ind.Severity),
		"risk_score":   ind.RiskScore,
		"user_id":      ind.UserID,
		"ip_address":   ind.IPAddress,
		"detected_at":  ind.DetectedAt,
	}
	if msg := stringParam(action.Params, "message", ""); msg != "" {
		payload["message"] = msg
	}
	x.deps.Notifier.Notify(ctx, channel, logging.RedactMetadata(payload))
	return nil
}

func (x *Executor) lockAccount(ctx context.Context, rule *SecurityRule, action Action, ind *threat.Indicator) error {
	if x.deps.Accounts == nil {
		return fmt.Errorf("lock_account: %w", ErrMissingDependency)
	}
	if ind.UserID == "" {
		return fmt.Errorf("lock_account: indicator %s has no user", ind.ID)
	}
	minutes := intParam(action.Params, "duration_minutes", DefaultLockMinutes)
	until := x.now().Add(time.Duration(minutes) * time.Minute)
	if err := x.deps.Accounts.LockAccount(ctx, ind.UserID, until, "rule:"+rule.ID); err != nil {
		return fmt.Errorf("lock_account: %w", err)
	}
	x.deps.Audit.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeAccountLocked,
		Category:    audit.CategoryAccount,
		Severity:    audit.SeverityWarning,
		Actor:       audit.SystemActor(),
		Description: "Account locked by security rule " + rule.ID,
		Metadata: map[string]any{
			"user_id":      ind.UserID,
			"until":        until,
			"indicator_id": ind.ID,
		},
	})
	return nil
}

func (x *Executor) require2FA(ctx context.Context, rule *SecurityRule, ind *threat.Indicator) error {
	if x.deps.Accounts == nil {
		return fmt.Errorf("require_2fa: %w", ErrMissingDependency)
	}
	if ind.UserID == "" {
		return fmt.Errorf("require_2fa: indicator %s has no user", ind.ID)
	}
	if err := x.deps.Accounts.Require2FA(ctx, ind.UserID, "rule:"+rule.ID); err != nil {
		return fmt.Errorf("require_2fa: %w", err)
	}
	x.deps.Audit.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeAccount2FARequired,
		Category:    audit.CategoryAccount,
		Severity:    audit.SeverityInfo,
		Actor:       audit.SystemActor(),
		Description: "Two-factor authentication required by security rule " + rule.ID,
		Metadata:    map[string]any{"user_id": ind.UserID, "indicator_id": ind.ID},
	})
	return nil
}

// rateLimit exhausts the named policy for the indicator's actor. The scope
// param picks the actor: ip, user, or user_ip.
func (x *Executor) rateLimit(ctx context.Context, action Action, ind *threat.Indicator) error {
	if x.deps.Limiter == nil {
		return fmt.Errorf("rate_limit: %w", ErrMissingDependency)
	}
	policy := stringParam(action.Params, "policy", ratelimit.PolicyAPI)
	var actor string
	switch scope := stringParam(action.Params, "scope", DefaultRateLimitScope); scope {
	case "ip":
		actor = ratelimit.ActorKey(ind.IPAddress)
	case "user":
		actor = ratelimit.ActorKey(ind.UserID)
	case "user_ip":
		actor = ratelimit.ActorKey(ind.UserID, ind.IPAddress)
	default:
		return fmt.Errorf("rate_limit: %w: unknown scope %q", ErrInvalidRule, scope)
	}
	if actor == "" {
		return fmt.Errorf("rate_limit: indicator %s has no actor", ind.ID)
	}
	return x.deps.Limiter.Exhaust(ctx, policy, actor)
}

func reportActionFailure(ctx context.Context, sink audit.Sink, rule *SecurityRule, action Action, ind *threat.Indicator, err error) {
	logging.Ctx(ctx).Error().Err(err).
		Str("rule_id", rule.ID).
		Str("action", string(action.Type)).
		Msg("Rule action failed")
	sink.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeRuleActionFailed,
		Category:    audit.CategoryRule,
		Severity:    audit.SeverityError,
		Actor:       audit.SystemActor(),
		Description: fmt.Sprintf("Action %s of rule %s failed", action.Type, rule.ID),
		Metadata: map[string]any{
			"rule_id":      rule.ID,
			"action":       string(action.Type),
			"indicator_id": ind.ID,
			"error":        err.Error(),
		},
	})
}

func intParam(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	f, ok := toFloat(v)
	if !ok || f <= 0 {
		return fallback
	}
	return int(f)
}

func stringParam(params map[string]any, key, fallback string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
