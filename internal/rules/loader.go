// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package rules

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/threat"
)

// LoadFile reads rules from a YAML file with a top-level "rules" list:
//
//	rules:
//	  - id: brute-force-lockout
//	    type: brute_force
//	    priority: 100
//	    cooldown_minutes: 15
//	    enabled: true
//	    conditions:
//	      - {field: severity, operator: in, value: [high, critical], weight: 1}
//	    actions:
//	      - {type: lock_account, params: {duration_minutes: 30}}
//
// Rules are returned unvalidated; Engine.SetRules skips malformed ones.
func LoadFile(path string) ([]*SecurityRule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load rule file %s: %w", path, err)
	}
	var doc struct {
		Rules []*SecurityRule `koanf:"rules"`
	}
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("%w: parse rule file %s: %v", ErrInvalidRule, path, err)
	}
	return doc.Rules, nil
}

// Reload loads path into the engine. An unreadable file keeps the current
// rule set.
func (e *Engine) Reload(path string) error {
	rules, err := LoadFile(path)
	if err != nil {
		return err
	}
	loaded, errs := e.SetRules(rules)
	logging.Info().Str("path", path).Int("loaded", loaded).Int("skipped", len(errs)).Msg("Security rules loaded")
	return nil
}

// DefaultRules is the built-in rule set used when no rule file is configured.
// SQL injection blocks the source IP but does not open an incident.
func DefaultRules() []*SecurityRule {
	return []*SecurityRule{
		{
			ID: "brute-force-lockout", Name: "Lock accounts under password guessing",
			Type: threat.TypeBruteForce, Priority: 100, CooldownMinutes: 15, Enabled: true,
			Conditions: []Condition{
				{Field: "severity", Operator: OpIn, Value: []any{"high", "critical"}, Weight: 1},
				{Field: "risk_score", Operator: OpGreaterThan, Value: 49, Weight: 1},
			},
			Actions: []Action{
				{Type: ActionLockAccount, Params: map[string]any{"duration_minutes": 30}},
				{Type: ActionAlert},
				{Type: ActionLog},
			},
		},
		{
			ID: "sql-injection-block", Name: "Block SQL injection sources",
			Type: threat.TypeSQLInjection, Priority: 90, Enabled: true,
			Conditions: []Condition{
				{Field: "severity", Operator: OpIn, Value: []any{"high", "critical"}, Weight: 1},
				{Field: "risk_score", Operator: OpGreaterThan, Value: 79, Weight: 1},
			},
			Actions: []Action{
				{Type: ActionBlock, Params: map[string]any{"duration_seconds": 3600}},
				{Type: ActionAlert},
				{Type: ActionLog},
			},
		},
		{
			ID: "xss-block", Name: "Block script injection sources",
			Type: threat.TypeXSS, Priority: 80, Enabled: true,
			Conditions: []Condition{
				{Field: "severity", Operator: OpIn, Value: []any{"high", "critical"}, Weight: 1},
			},
			Actions: []Action{
				{Type: ActionBlock, Params: map[string]any{"duration_seconds": 1800}},
				{Type: ActionLog},
			},
		},
		{
			ID: "malicious-request-block", Name: "Block scanners and traversal probes",
			Type: threat.TypeMaliciousRequest, Priority: 70, Enabled: true,
			Conditions: []Condition{
				{Field: "risk_score", Operator: OpGreaterThan, Value: 59, Weight: 1},
			},
			Actions: []Action{
				{Type: ActionBlock, Params: map[string]any{"duration_seconds": 3600}},
				{Type: ActionLog},
			},
		},
		{
			ID: "flood-throttle", Name: "Throttle and escalate request floods",
			Type: threat.TypeDDoS, Priority: 95, CooldownMinutes: 10, Enabled: true,
			Conditions: []Condition{
				{Field: "severity", Operator: OpEquals, Value: "critical", Weight: 1},
			},
			Actions: []Action{
				{Type: ActionRateLimit, Params: map[string]any{"policy": "api", "scope": "ip"}},
				{Type: ActionBlock, Params: map[string]any{"duration_seconds": 900}},
				{Type: ActionCreateIncident},
				{Type: ActionAlert},
			},
		},
		{
			ID: "suspicious-login-2fa", Name: "Step up suspicious sign-ins",
			Type: threat.TypeSuspiciousLogin, Priority: 60, Enabled: true,
			Conditions: []Condition{
				{Field: "risk_score", Operator: OpGreaterThan, Value: 50, Weight: 1},
			},
			Actions: []Action{
				{Type: ActionRequire2FA},
				{Type: ActionNotify, Params: map[string]any{"message": "Sign-in from an unrecognized device at an unusual hour"}},
			},
		},
		{
			ID: "geo-anomaly-2fa", Name: "Step up sign-ins from new locations",
			Type: threat.TypeGeographicAnomaly, Priority: 50, Enabled: true,
			Conditions: []Condition{
				{Field: "metadata.known_count", Operator: OpGreaterThan, Value: 0, Weight: 1},
			},
			Actions: []Action{
				{Type: ActionRequire2FA},
				{Type: ActionNotify},
			},
		},
		{
			ID: "behavioral-throttle", Name: "Throttle unusually busy actors",
			Type: threat.TypeBehavioralAnomaly, Priority: 40, CooldownMinutes: 5, Enabled: true,
			Conditions: []Condition{
				{Field: "risk_score", Operator: OpGreaterThan, Value: 50, Weight: 1},
			},
			Actions: []Action{
				{Type: ActionRateLimit, Params: map[string]any{"policy": "api", "scope": "user"}},
				{Type: ActionLog},
			},
		},
	}
}
