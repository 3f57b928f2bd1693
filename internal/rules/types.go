// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package rules maps threat indicators to automated responses.
//
// A SecurityRule targets one threat type and carries weighted conditions over
// the indicator's fields. A rule fires when the weight of matching conditions
// is at least half the total weight; firing runs the rule's actions in order.
// Each rule has its own cooldown so one noisy actor cannot re-trigger it in a
// tight loop.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tomtom215/campusguard/internal/threat"
)

// ErrInvalidRule marks a malformed rule definition.
var ErrInvalidRule = errors.New("invalid security rule")

// Operator compares an indicator field with a condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

func (o Operator) valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpRegex, OpIn, OpNotIn:
		return true
	}
	return false
}

// ActionType names an automated response.
type ActionType string

const (
	ActionBlock          ActionType = "block"
	ActionAlert          ActionType = "alert"
	ActionNotify         ActionType = "notify"
	ActionLockAccount    ActionType = "lock_account"
	ActionRequire2FA     ActionType = "require_2fa"
	ActionRateLimit      ActionType = "rate_limit"
	ActionLog            ActionType = "log"
	ActionCreateIncident ActionType = "create_incident"
)

func (a ActionType) valid() bool {
	switch a {
	case ActionBlock, ActionAlert, ActionNotify, ActionLockAccount, ActionRequire2FA,
		ActionRateLimit, ActionLog, ActionCreateIncident:
		return true
	}
	return false
}

// Condition is one weighted test against a dotted field path such as
// "severity", "risk_score" or "metadata.signatures".
type Condition struct {
	Field    string   `koanf:"field" json:"field"`
	Operator Operator `koanf:"operator" json:"operator"`
	Value    any      `koanf:"value" json:"value"`
	Weight   float64  `koanf:"weight" json:"weight"`
}

// Action is one response to run when a rule fires.
type Action struct {
	Type   ActionType     `koanf:"type" json:"type"`
	Params map[string]any `koanf:"params" json:"params,omitempty"`
	// Delay defers the action; zero runs it inline.
	Delay time.Duration `koanf:"delay" json:"delay,omitempty"`
}

// SecurityRule is a policy mapping one threat type to actions.
type SecurityRule struct {
	ID              string      `koanf:"id" json:"id"`
	Name            string      `koanf:"name" json:"name"`
	Type            threat.Type `koanf:"type" json:"type"`
	Conditions      []Condition `koanf:"conditions" json:"conditions"`
	Actions         []Action    `koanf:"actions" json:"actions"`
	Priority        int         `koanf:"priority" json:"priority"`
	CooldownMinutes int         `koanf:"cooldown_minutes" json:"cooldown_minutes"`
	Enabled         bool        `koanf:"enabled" json:"enabled"`
}

// Cooldown returns the rule's cooldown as a duration.
func (r *SecurityRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// HasAction reports whether the rule runs an action of type t.
func (r *SecurityRule) HasAction(t ActionType) bool {
	for _, a := range r.Actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

// Validate checks the rule is well formed.
func (r *SecurityRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: rule %s: missing threat type", ErrInvalidRule, r.ID)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %s: no conditions", ErrInvalidRule, r.ID)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: rule %s: no actions", ErrInvalidRule, r.ID)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("%w: rule %s: negative cooldown", ErrInvalidRule, r.ID)
	}
	for i, c := range r.Conditions {
		if c.Field == "" {
			return fmt.Errorf("%w: rule %s condition %d: missing field", ErrInvalidRule, r.ID, i)
		}
		if !c.Operator.valid() {
			return fmt.Errorf("%w: rule %s condition %d: unknown operator %q", ErrInvalidRule, r.ID, i, c.Operator)
		}
		if c.Operator == OpRegex {
			pattern, ok := c.Value.(string)
			if !ok {
				return fmt.Errorf("%w: rule %s condition %d: regex value must be a string", ErrInvalidRule, r.ID, i)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("%w: rule %s condition %d: %v", ErrInvalidRule, r.ID, i, err)
			}
		}
		if c.Weight <= 0 {
			return fmt.Errorf("%w: rule %s condition %d: weight must be positive", ErrInvalidRule, r.ID, i)
		}
	}
	for i, a := range r.Actions {
		if !a.Type.valid() {
			return fmt.Errorf("%w: rule %s action %d: unknown type %q", ErrInvalidRule, r.ID, i, a.Type)
		}
		if a.Delay < 0 {
			return fmt.Errorf("%w: rule %s action %d: negative delay", ErrInvalidRule, r.ID, i)
		}
	}
	return nil
}
