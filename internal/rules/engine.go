// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
	"github.com/tomtom215/campusguard/internal/threat"
)

// Outcome summarizes one Process call.
type Outcome struct {
	// Fired lists rule IDs whose actions ran, in execution order.
	Fired []string
	// IncidentRequested is true when a fired rule has a create_incident action.
	IncidentRequested bool
	// Errors holds per-rule and per-action failures. They never stop other
	// rules or later actions.
	Errors []error
}

// Engine evaluates loaded rules against indicators and runs their actions.
type Engine struct {
	mu        sync.RWMutex
	rules     []*SecurityRule
	evaluator *Evaluator
	executor  *Executor
	cooldown  *Cooldown
	sink      audit.Sink
}

// NewEngine creates an engine with no rules loaded.
func NewEngine(executor *Executor, sink audit.Sink) *Engine {
	if sink == nil {
		sink = audit.Discard
	}
	return &Engine{
		evaluator: NewEvaluator(0),
		executor:  executor,
		cooldown:  NewCooldown(),
		sink:      sink,
	}
}

// SetRegexCacheSize bounds the compiled regex cache, replacing the current
// one. Evaluations already in flight finish on the old cache.
func (e *Engine) SetRegexCacheSize(size int) {
	ev := NewEvaluator(size)
	e.mu.Lock()
	e.evaluator = ev
	e.mu.Unlock()
}

func (e *Engine) currentEvaluator() *Evaluator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.evaluator
}

// SetRules replaces the rule set. Invalid rules and duplicate IDs are skipped
// and reported; the valid rest are loaded, ordered by priority then ID.
func (e *Engine) SetRules(rules []*SecurityRule) (loaded int, errs []error) {
	valid := make([]*SecurityRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r == nil {
			continue
		}
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRule, r.ID))
			continue
		}
		seen[r.ID] = true
		cp := *r
		valid = append(valid, &cp)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Priority != valid[j].Priority {
			return valid[i].Priority > valid[j].Priority
		}
		return valid[i].ID < valid[j].ID
	})

	e.mu.Lock()
	e.rules = valid
	e.mu.Unlock()
	e.cooldown.Forget(seen)

	for _, err := range errs {
		logging.Warn().Err(err).Msg("Skipped security rule")
	}
	return len(valid), errs
}

// Rules returns copies of the loaded rules.
func (e *Engine) Rules() []SecurityRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SecurityRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = *r
	}
	return out
}

// LastTriggered returns when a rule last fired in this process.
func (e *Engine) LastTriggered(ruleID string) (time.Time, bool) {
	return e.cooldown.LastTriggered(ruleID)
}

// Evaluate reports the weighted match of one rule against ind without
// running actions.
func (e *Engine) Evaluate(rule *SecurityRule, ind *threat.Indicator) Match {
	return e.currentEvaluator().Evaluate(rule, ind)
}

// Process runs every enabled rule for the indicator's type.
func (e *Engine) Process(ctx context.Context, ind *threat.Indicator) Outcome {
	var out Outcome
	if ind == nil {
		return out
	}

	e.mu.RLock()
	evaluator := e.evaluator
	candidates := make([]*SecurityRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled && r.Type == ind.Type {
			candidates = append(candidates, r)
		}
	}
	e.mu.RUnlock()

	for _, rule := range candidates {
		fired, errs := e.processRule(ctx, evaluator, rule, ind)
		out.Errors = append(out.Errors, errs...)
		if !fired {
			continue
		}
		out.Fired = append(out.Fired, rule.ID)
		if rule.HasAction(ActionCreateIncident) {
			out.IncidentRequested = true
		}
	}
	return out
}

func (e *Engine) processRule(ctx context.Context, evaluator *Evaluator, rule *SecurityRule, ind *threat.Indicator) (fired bool, errs []error) {
	defer func() {
		if r := recover(); r != nil {
			errs = append(errs, fmt.Errorf("rule %s panicked: %v", rule.ID, r))
			logging.Ctx(ctx).Error().Str("rule_id", rule.ID).Interface("panic", r).Msg("Security rule panicked")
		}
	}()

	m := evaluator.Evaluate(rule, ind)
	if !m.Fired {
		return false, nil
	}
	if !e.cooldown.CompareAndStamp(rule.ID, rule.Cooldown()) {
		metrics.RuleCooldownSkips.WithLabelValues(rule.ID).Inc()
		return false, nil
	}

	fired = true
	metrics.RuleFirings.WithLabelValues(rule.ID).Inc()
	e.sink.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeRuleFired,
		Category:    audit.CategoryRule,
		Severity:    audit.SeverityWarning,
		Actor:       audit.UserActor(ind.UserID, ind.IPAddress, ind.UserAgent),
		Description: fmt.Sprintf("Security rule %s fired on %s", rule.ID, ind.Type),
		Metadata: map[string]any{
			"rule_id":        rule.ID,
			"indicator_id":   ind.ID,
			"matched_weight": m.MatchedWeight,
			"total_weight":   m.TotalWeight,
		},
	})

	for _, action := range rule.Actions {
		if err := e.executor.Run(ctx, rule, action, ind); err != nil {
			metrics.RuleActionErrors.WithLabelValues(string(action.Type)).Inc()
			reportActionFailure(ctx, e.sink, rule, action, ind, err)
			errs = append(errs, fmt.Errorf("rule %s action %s: %w", rule.ID, action.Type, err))
		}
	}
	return fired, errs
}
