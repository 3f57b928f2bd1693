// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/threat"
)

func newTestEngine(t *testing.T, rec *recorder, rules ...*SecurityRule) *Engine {
	t.Helper()
	e := NewEngine(NewExecutor(rec.deps()), rec)
	if _, errs := e.SetRules(rules); len(errs) > 0 {
		t.Fatalf("SetRules() errors = %v", errs)
	}
	return e
}

func TestProcessRunsActionsInOrder(t *testing.T) {
	rec := newRecorder()
	e := newTestEngine(t, rec, &SecurityRule{
		ID: "flood", Type: threat.TypeDDoS, Enabled: true,
		Conditions: []Condition{{Field: "severity", Operator: OpEquals, Value: "critical", Weight: 1}},
		Actions: []Action{
			{Type: ActionRateLimit, Params: map[string]any{"policy": "api", "scope": "user_ip"}},
			{Type: ActionBlock, Params: map[string]any{"duration_seconds": 60}},
			{Type: ActionCreateIncident},
			{Type: ActionAlert},
			{Type: ActionNotify, Params: map[string]any{"channel": "nats"}},
			{Type: ActionLog},
		},
	})

	out := e.Process(context.Background(), indicator(threat.TypeDDoS, threat.SeverityCritical, 100))
	if len(out.Errors) > 0 {
		t.Fatalf("Process() errors = %v", out.Errors)
	}
	if !reflect.DeepEqual(out.Fired, []string{"flood"}) {
		t.Errorf("Fired = %v, want [flood]", out.Fired)
	}
	if !out.IncidentRequested {
		t.Error("IncidentRequested = false, want true")
	}

	want := []string{"exhaust:api:user@example.edu|203.0.113.5", "block", "incident", "notify:dashboard", "notify:nats"}
	if got := rec.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if got := rec.blocks[0].ExpiresAt.Sub(rec.blocks[0].CreatedAt); got != time.Minute {
		t.Errorf("block ttl = %v, want 1m", got)
	}
	if rec.blocks[0].Kind != fraud.KindIP || rec.blocks[0].Value != "203.0.113.5" {
		t.Errorf("block entry = %+v, want ip 203.0.113.5", rec.blocks[0])
	}
	if rec.countEvents(audit.EventTypeRuleFired) != 1 {
		t.Error("rule.fired audit event not recorded")
	}
}

func TestProcessSkipsDisabledAndNonMatching(t *testing.T) {
	rec := newRecorder()
	e := newTestEngine(t, rec,
		&SecurityRule{
			ID: "off", Type: threat.TypeXSS, Enabled: false,
			Conditions: []Condition{{Field: "severity", Operator: OpEquals, Value: "high", Weight: 1}},
			Actions:    []Action{{Type: ActionBlock}},
		},
		&SecurityRule{
			ID: "critical-only", Type: threat.TypeXSS, Enabled: true,
			Conditions: []Condition{{Field: "severity", Operator: OpEquals, Value: "critical", Weight: 1}},
			Actions:    []Action{{Type: ActionBlock}},
		},
	)
	out := e.Process(context.Background(), indicator(threat.TypeXSS, threat.SeverityHigh, 70))
	if len(out.Fired) != 0 || len(rec.Calls()) != 0 {
		t.Errorf("Fired = %v, calls = %v; want nothing", out.Fired, rec.Calls())
	}
}

func TestProcessCooldown(t *testing.T) {
	rec := newRecorder()
	e := newTestEngine(t, rec, &SecurityRule{
		ID: "bf", Type: threat.TypeBruteForce, Enabled: true, CooldownMinutes: 15,
		Conditions: []Condition{{Field: "risk_score", Operator: OpGreaterThan, Value: 40, Weight: 1}},
		Actions:    []Action{{Type: ActionLockAccount}},
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.cooldown.now = func() time.Time { return now }
	ctx := context.Background()
	ind := indicator(threat.TypeBruteForce, threat.SeverityHigh, 50)

	if out := e.Process(ctx, ind); len(out.Fired) != 1 {
		t.Fatalf("first Process fired %v, want [bf]", out.Fired)
	}
	stamped, ok := e.LastTriggered("bf")
	if !ok || !stamped.Equal(now) {
		t.Errorf("LastTriggered = %v, %v; want %v", stamped, ok, now)
	}

	now = now.Add(14 * time.Minute)
	if out := e.Process(ctx, ind); len(out.Fired) != 0 {
		t.Errorf("Process inside cooldown fired %v", out.Fired)
	}
	if last, _ := e.LastTriggered("bf"); !last.Equal(stamped) {
		t.Error("skipped trigger moved the cooldown stamp")
	}

	now = now.Add(time.Minute)
	if out := e.Process(ctx, ind); len(out.Fired) != 1 {
		t.Errorf("Process after cooldown fired %v, want [bf]", out.Fired)
	}
}

func TestCooldownConcurrentTriggersFireOnce(t *testing.T) {
	c := NewCooldown()
	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.CompareAndStamp("r", time.Hour) {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}
}

func TestSetRegexCacheSizeDuringProcessing(t *testing.T) {
	rec := newRecorder()
	rule := &SecurityRule{
		ID: "campus-range", Type: threat.TypeDDoS, Enabled: true,
		Conditions: []Condition{{Field: "ip_address", Operator: OpRegex, Value: `^203\.0\.113\.`, Weight: 1}},
		Actions:    []Action{{Type: ActionLog}},
	}
	e := newTestEngine(t, rec, rule)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				if i%2 == 0 {
					e.SetRegexCacheSize(1 + j%4)
					continue
				}
				if m := e.Evaluate(rule, indicator(threat.TypeDDoS, threat.SeverityHigh, 70)); !m.Fired {
					t.Error("Evaluate() did not fire while the cache was being replaced")
				}
				e.Process(context.Background(), indicator(threat.TypeDDoS, threat.SeverityHigh, 70))
			}
		}()
	}
	wg.Wait()
}

func TestProcessIsolatesActionFailures(t *testing.T) {
	rec := newRecorder()
	rec.failLock = true
	e := newTestEngine(t, rec, &SecurityRule{
		ID: "bf", Type: threat.TypeBruteForce, Enabled: true,
		Conditions: []Condition{{Field: "risk_score", Operator: OpGreaterThan, Value: 40, Weight: 1}},
		Actions:    []Action{{Type: ActionLockAccount}, {Type: ActionAlert}},
	}, &SecurityRule{
		ID: "bf-2fa", Type: threat.TypeBruteForce, Enabled: true,
		Conditions: []Condition{{Field: "risk_score", Operator: OpGreaterThan, Value: 40, Weight: 1}},
		Actions:    []Action{{Type: ActionRequire2FA}},
	})

	out := e.Process(context.Background(), indicator(threat.TypeBruteForce, threat.SeverityHigh, 50))
	if len(out.Errors) != 1 {
		t.Fatalf("Errors = %v, want one lock failure", out.Errors)
	}
	if len(out.Fired) != 2 {
		t.Errorf("Fired = %v, want both rules", out.Fired)
	}
	want := []string{"notify:dashboard", "2fa"}
	if got := rec.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if rec.countEvents(audit.EventTypeRuleActionFailed) != 1 {
		t.Error("rule.action_failed audit event not recorded")
	}
}

func TestExecutorMissingDependencies(t *testing.T) {
	x := NewExecutor(Deps{})
	rule := &SecurityRule{ID: "r"}
	ind := indicator(threat.TypeXSS, threat.SeverityHigh, 70)
	for _, at := range []ActionType{ActionBlock, ActionAlert, ActionLockAccount, ActionRequire2FA, ActionRateLimit, ActionCreateIncident} {
		if err := x.Run(context.Background(), rule, Action{Type: at}, ind); !errors.Is(err, ErrMissingDependency) {
			t.Errorf("Run(%s) error = %v, want ErrMissingDependency", at, err)
		}
	}
	if err := x.Run(context.Background(), rule, Action{Type: ActionLog}, ind); err != nil {
		t.Errorf("Run(log) error = %v", err)
	}
}

func TestExecutorDelayedAction(t *testing.T) {
	rec := newRecorder()
	x := NewExecutor(rec.deps())
	err := x.Run(context.Background(), &SecurityRule{ID: "r"}, Action{Type: ActionRequire2FA, Delay: 10 * time.Millisecond},
		indicator(threat.TypeSuspiciousLogin, threat.SeverityMedium, 70))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rec.Calls()) != 0 {
		t.Fatal("delayed action ran inline")
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rec.Calls(); !reflect.DeepEqual(got, []string{"2fa"}) {
		t.Errorf("calls = %v, want [2fa]", got)
	}
}

func TestRateLimitActionExhaustsLimiter(t *testing.T) {
	ps, err := ratelimit.NewPolicySet(ratelimit.DefaultPolicies())
	if err != nil {
		t.Fatalf("NewPolicySet() error = %v", err)
	}
	limiter := ratelimit.NewLimiter(ps, ratelimit.NewMemoryStore())
	x := NewExecutor(Deps{Limiter: limiter})
	ctx := context.Background()

	err = x.Run(ctx, &SecurityRule{ID: "r"}, Action{Type: ActionRateLimit, Params: map[string]any{"policy": "api"}},
		indicator(threat.TypeDDoS, threat.SeverityCritical, 100))
	if err != nil {
		t.Fatalf("Run(rate_limit) error = %v", err)
	}
	d, err := limiter.Check(ctx, "api", "203.0.113.5")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if d.Allowed || d.Remaining != 0 || d.RetryAfter <= 0 {
		t.Errorf("Check() after exhaust = %+v, want denied", d)
	}
}

func TestSetRulesSkipsInvalidAndDuplicates(t *testing.T) {
	e := NewEngine(NewExecutor(Deps{}), nil)
	rules := DefaultRules()
	rules = append(rules,
		&SecurityRule{ID: "broken", Type: threat.TypeXSS},
		&SecurityRule{ID: rules[0].ID, Type: rules[0].Type, Conditions: rules[0].Conditions, Actions: rules[0].Actions},
	)
	loaded, errs := e.SetRules(rules)
	if loaded != len(DefaultRules()) {
		t.Errorf("loaded = %d, want %d", loaded, len(DefaultRules()))
	}
	if len(errs) != 2 {
		t.Errorf("errs = %v, want 2", errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrInvalidRule) {
			t.Errorf("error %v is not ErrInvalidRule", err)
		}
	}
	got := e.Rules()
	for i := 1; i < len(got); i++ {
		if got[i-1].Priority < got[i].Priority {
			t.Fatalf("rules not ordered by priority: %d before %d", got[i-1].Priority, got[i].Priority)
		}
	}
}

func TestDefaultSQLInjectionRuleDoesNotOpenIncident(t *testing.T) {
	rec := newRecorder()
	e := newTestEngine(t, rec, DefaultRules()...)
	out := e.Process(context.Background(), indicator(threat.TypeSQLInjection, threat.SeverityCritical, 95))
	if !reflect.DeepEqual(out.Fired, []string{"sql-injection-block"}) {
		t.Errorf("Fired = %v, want [sql-injection-block]", out.Fired)
	}
	if out.IncidentRequested {
		t.Error("IncidentRequested = true, want false")
	}
	for _, c := range rec.Calls() {
		if c == "incident" {
			t.Error("sql injection opened an incident")
		}
	}
}

const ruleYAML = `
rules:
  - id: yaml-bf
    name: YAML brute force
    type: brute_force
    priority: 10
    cooldown_minutes: 5
    enabled: true
    conditions:
      - field: severity
        operator: in
        value: [high, critical]
        weight: 1
      - field: risk_score
        operator: greater_than
        value: 40
        weight: 2
    actions:
      - type: lock_account
        params:
          duration_minutes: 45
      - type: notify
        delay: 30s
  - id: yaml-broken
    type: xss_attack
    conditions: []
    actions: []
`

func TestLoadFileAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(ruleYAML), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	rules, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("LoadFile() returned %d rules, want 2", len(rules))
	}
	r := rules[0]
	if r.ID != "yaml-bf" || r.Type != threat.TypeBruteForce || r.CooldownMinutes != 5 || !r.Enabled {
		t.Errorf("rule = %+v", r)
	}
	if len(r.Conditions) != 2 || r.Conditions[1].Weight != 2 {
		t.Errorf("conditions = %+v", r.Conditions)
	}
	if r.Actions[1].Delay != 30*time.Second {
		t.Errorf("delay = %v, want 30s", r.Actions[1].Delay)
	}

	e := NewEngine(NewExecutor(Deps{}), nil)
	if err := e.Reload(path); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := e.Rules(); len(got) != 1 || got[0].ID != "yaml-bf" {
		t.Errorf("Rules() = %+v, want only yaml-bf", got)
	}

	if err := e.Reload(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Reload(missing) error = nil, want error")
	}
	if len(e.Rules()) != 1 {
		t.Error("failed reload replaced the rule set")
	}
}
