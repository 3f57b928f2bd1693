// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package guard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/campusguard/internal/account"
	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/history"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/risk"
	"github.com/tomtom215/campusguard/internal/rules"
	"github.com/tomtom215/campusguard/internal/threat"
	"github.com/tomtom215/campusguard/internal/validation"
)

const (
	testUser = "user@example.edu"
	testIP   = "203.0.113.5"
)

type auditCollector struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *auditCollector) RecordEvent(_ context.Context, ev audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *auditCollector) count(typ audit.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type notifyRecorder struct {
	mu    sync.Mutex
	types []string
}

func (n *notifyRecorder) Notify(_ context.Context, _ string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	typ, _ := payload["type"].(string)
	n.types = append(n.types, typ)
}

func (n *notifyRecorder) seen(typ string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.types, typ)
}

type failingCounter struct{}

func (failingCounter) Increment(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingCounter) Seed(context.Context, string, int64, time.Duration) error {
	return errors.New("connection refused")
}

// stubAnalyzer returns fixed results and counts calls.
type stubAnalyzer struct {
	found []*threat.Indicator
	err   error
	calls int
}

func (s *stubAnalyzer) Analyze(context.Context, *threat.Event) ([]*threat.Indicator, error) {
	s.calls++
	return s.found, s.err
}

type harness struct {
	svc       *Service
	audit     *auditCollector
	notifier  *notifyRecorder
	blocklist *fraud.MemoryBlocklist
	accounts  *account.Manager
	tracker   *incident.Tracker
	rules     *rules.Engine
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		audit:     &auditCollector{},
		notifier:  &notifyRecorder{},
		blocklist: fraud.NewMemoryBlocklist(),
		accounts:  account.NewManager(account.NewMemoryStore(), account.DefaultConfig()),
	}

	hist := history.NewStore(history.DefaultConfig())
	engine := threat.NewEngine()
	bf, err := threat.NewBruteForceDetector(threat.DefaultBruteForceConfig(), hist)
	if err != nil {
		t.Fatalf("NewBruteForceDetector() error = %v", err)
	}
	engine.RegisterDetector(bf)
	sqli, err := threat.NewSQLInjectionDetector()
	if err != nil {
		t.Fatalf("NewSQLInjectionDetector() error = %v", err)
	}
	engine.RegisterDetector(sqli)
	xss, err := threat.NewXSSDetector()
	if err != nil {
		t.Fatalf("NewXSSDetector() error = %v", err)
	}
	engine.RegisterDetector(xss)

	policies, err := ratelimit.NewPolicySet(ratelimit.DefaultPolicies())
	if err != nil {
		t.Fatalf("NewPolicySet() error = %v", err)
	}
	counters := ratelimit.NewMemoryStore()
	limiter := ratelimit.NewLimiter(policies, counters)

	scorer, err := fraud.NewScorer(fraud.DefaultConfig(), h.blocklist, counters)
	if err != nil {
		t.Fatalf("fraud.NewScorer() error = %v", err)
	}

	h.tracker, err = incident.NewTracker(ctx, incident.NewMemoryStore(), h.audit, incident.DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}

	executor := rules.NewExecutor(rules.Deps{
		Blocklist: h.blocklist,
		Notifier:  h.notifier,
		Accounts:  h.accounts,
		Limiter:   limiter,
		Audit:     h.audit,
	})
	h.rules = rules.NewEngine(executor, h.audit)
	if _, errs := h.rules.SetRules(rules.DefaultRules()); len(errs) > 0 {
		t.Fatalf("SetRules() errors = %v", errs)
	}

	deps := Deps{
		Detectors: engine,
		Risk:      risk.NewScorer(risk.DefaultConfig()),
		Registry:  threat.NewRegistry(),
		History:   hist,
		Rules:     h.rules,
		Limiter:   limiter,
		Fraud:     scorer,
		Blocklist: h.blocklist,
		Accounts:  h.accounts,
		Incidents: h.tracker,
		Notifier:  h.notifier,
		Audit:     h.audit,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.svc, err = New(deps, DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	executor.SetIncidentOpener(h.svc)
	return h
}

func failedLogins(t *testing.T, svc *Service, n int) *LoginResult {
	t.Helper()
	base := time.Now().Add(-10 * time.Minute)
	var last *LoginResult
	for i := range n {
		res, err := svc.AnalyzeLoginAttempt(context.Background(), LoginAttempt{
			UserID:    testUser,
			IPAddress: testIP,
			UserAgent: "Mozilla/5.0",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AnalyzeLoginAttempt(#%d) error = %v", i+1, err)
		}
		last = res
	}
	return last
}

func indicatorOf(inds []*threat.Indicator, typ threat.Type) *threat.Indicator {
	for _, ind := range inds {
		if ind.Type == typ {
			return ind
		}
	}
	return nil
}

func TestNewRequiresCollaborators(t *testing.T) {
	full := func() Deps {
		tracker, _ := incident.NewTracker(context.Background(), incident.NewMemoryStore(), nil, incident.DefaultConfig())
		policies, _ := ratelimit.NewPolicySet(ratelimit.DefaultPolicies())
		store := ratelimit.NewMemoryStore()
		scorer, _ := fraud.NewScorer(fraud.DefaultConfig(), fraud.NewMemoryBlocklist(), store)
		return Deps{
			Detectors: threat.NewEngine(),
			Limiter:   ratelimit.NewLimiter(policies, store),
			Fraud:     scorer,
			Incidents: tracker,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Deps, *Config)
		wantErr bool
	}{
		{"complete", func(*Deps, *Config) {}, false},
		{"no detectors", func(d *Deps, _ *Config) { d.Detectors = nil }, true},
		{"no limiter", func(d *Deps, _ *Config) { d.Limiter = nil }, true},
		{"no fraud scorer", func(d *Deps, _ *Config) { d.Fraud = nil }, true},
		{"no tracker", func(d *Deps, _ *Config) { d.Incidents = nil }, true},
		{"threshold zero", func(_ *Deps, c *Config) { c.AutoCreateThreshold = 0 }, true},
		{"threshold above max", func(_ *Deps, c *Config) { c.AutoCreateThreshold = 101 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, cfg := full(), DefaultConfig()
			tt.mutate(&deps, &cfg)
			_, err := New(deps, cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBruteForceThreshold(t *testing.T) {
	tests := []struct {
		failures   int
		wantBrute  bool
		wantLocked bool
	}{
		{failures: 4, wantBrute: false, wantLocked: false},
		{failures: 5, wantBrute: true, wantLocked: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d failures", tt.failures), func(t *testing.T) {
			h := newHarness(t)
			res := failedLogins(t, h.svc, tt.failures)

			ind := indicatorOf(res.Indicators, threat.TypeBruteForce)
			if (ind != nil) != tt.wantBrute {
				t.Fatalf("brute force indicator present = %v, want %v", ind != nil, tt.wantBrute)
			}
			if ind != nil && ind.RiskScore < 50 {
				t.Errorf("RiskScore = %d, want >= 50", ind.RiskScore)
			}
			if res.AccountLocked != tt.wantLocked {
				t.Errorf("AccountLocked = %v, want %v", res.AccountLocked, tt.wantLocked)
			}
			if tt.wantLocked && res.LockRemaining <= 0 {
				t.Errorf("LockRemaining = %d, want > 0", res.LockRemaining)
			}
			if res.IncidentID != "" {
				t.Errorf("IncidentID = %q, want none below the auto-create threshold", res.IncidentID)
			}
		})
	}
}

func TestBruteForceAtThresholdOpensOneIncident(t *testing.T) {
	h := newHarness(t)

	res := failedLogins(t, h.svc, 10)
	ind := indicatorOf(res.Indicators, threat.TypeBruteForce)
	if ind == nil || ind.Severity != threat.SeverityCritical {
		t.Fatalf("10th failure indicator = %+v, want critical brute force", ind)
	}
	if !res.Assessment.Block || res.Assessment.Score < 90 {
		t.Fatalf("Assessment = %+v, want block at score >= 90", res.Assessment)
	}
	if res.IncidentID == "" {
		t.Fatal("IncidentID is empty, want an automatic incident")
	}

	inc, err := h.svc.GetIncident(context.Background(), res.IncidentID)
	if err != nil {
		t.Fatalf("GetIncident() error = %v", err)
	}
	if inc.Type != threat.TypeBruteForce || inc.CreatedBy != SystemActor {
		t.Errorf("incident = %s by %s, want brute_force by system", inc.Type, inc.CreatedBy)
	}
	if !slices.Contains(inc.AffectedUsers, testUser) {
		t.Errorf("AffectedUsers = %v, want %s", inc.AffectedUsers, testUser)
	}
	if len(inc.Evidence) != 1 || inc.Evidence[0].Type != incident.EvidenceLog {
		t.Errorf("Evidence = %+v, want the triggering indicator", inc.Evidence)
	}
	if !h.notifier.seen("incident_opened") {
		t.Error("dashboard was not notified of the new incident")
	}

	again := failedLogins(t, h.svc, 1)
	if again.IncidentID != res.IncidentID {
		t.Errorf("11th failure IncidentID = %q, want existing %q", again.IncidentID, res.IncidentID)
	}
	if n := len(h.svc.GetActiveIncidents()); n != 1 {
		t.Errorf("active incidents = %d, want 1", n)
	}
}

func TestSQLInjectionBlocksWithoutIncident(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := RequestAnalysis{
		IPAddress: testIP,
		UserAgent: "curl/8.0",
		Request: threat.RequestDescriptor{
			Method:  "POST",
			URL:     "/api/register",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    `{"email":"'; DROP TABLE users; --"}`,
		},
	}
	res, err := h.svc.AnalyzeRequest(ctx, req)
	if err != nil {
		t.Fatalf("AnalyzeRequest() error = %v", err)
	}

	ind := indicatorOf(res.Indicators, threat.TypeSQLInjection)
	if ind == nil {
		t.Fatalf("indicators = %+v, want sql_injection", res.Indicators)
	}
	if ind.Severity != threat.SeverityCritical || ind.RiskScore != 95 {
		t.Errorf("indicator = %s/%d, want critical/95", ind.Severity, ind.RiskScore)
	}
	if !res.Blocked || res.Reason != risk.ReasonCritical {
		t.Errorf("Blocked = %v reason %q, want blocked for %q", res.Blocked, res.Reason, risk.ReasonCritical)
	}
	if res.IncidentID != "" || len(h.svc.GetActiveIncidents()) != 0 {
		t.Error("an incident was opened for SQL injection without a create_incident rule")
	}
	if got := h.audit.count(audit.EventTypeRequestBlocked); got != 1 {
		t.Errorf("request.blocked events = %d, want 1", got)
	}
	if got := h.audit.count(audit.EventTypeThreatDetected); got != 1 {
		t.Errorf("threat.detected events = %d, want 1", got)
	}

	entry, err := h.blocklist.Lookup(ctx, fraud.KindIP, testIP)
	if err != nil || entry == nil {
		t.Fatalf("source IP not blocklisted: entry=%v err=%v", entry, err)
	}

	req.Request.Body = `{"email":"someone@example.edu"}`
	again, err := h.svc.AnalyzeRequest(ctx, req)
	if err != nil {
		t.Fatalf("AnalyzeRequest(clean) error = %v", err)
	}
	if !again.Blocked || again.Reason != ReasonBlocklisted || len(again.Indicators) != 0 {
		t.Errorf("follow-up = %+v, want blocklisted without analysis", again)
	}
}

func TestCleanRequestPasses(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.AnalyzeRequest(context.Background(), RequestAnalysis{
		UserID:    "alice@uni.edu",
		IPAddress: "10.1.2.3",
		Request:   threat.RequestDescriptor{Method: "GET", URL: "/courses?term=fall"},
	})
	if err != nil {
		t.Fatalf("AnalyzeRequest() error = %v", err)
	}
	if res.Blocked || len(res.Indicators) != 0 || res.Assessment.Score != 0 {
		t.Errorf("result = %+v, want clean pass", res)
	}
	if res.Indicators == nil {
		t.Error("Indicators is nil, want empty slice")
	}
}

func TestRuleRequestedIncident(t *testing.T) {
	h := newHarness(t)
	_, errs := h.rules.SetRules([]*rules.SecurityRule{{
		ID:       "sqli-escalate",
		Name:     "Escalate SQL injection",
		Type:     threat.TypeSQLInjection,
		Priority: 10,
		Enabled:  true,
		Conditions: []rules.Condition{
			{Field: "severity", Operator: rules.OpEquals, Value: "critical", Weight: 1},
		},
		Actions: []rules.Action{{Type: rules.ActionCreateIncident}},
	}})
	if len(errs) > 0 {
		t.Fatalf("SetRules() errors = %v", errs)
	}

	res, err := h.svc.AnalyzeRequest(context.Background(), RequestAnalysis{
		IPAddress: testIP,
		Request:   threat.RequestDescriptor{Method: "POST", URL: "/login", Body: "name=x'; DROP TABLE users; --"},
	})
	if err != nil {
		t.Fatalf("AnalyzeRequest() error = %v", err)
	}
	if res.IncidentID == "" {
		t.Fatal("IncidentID is empty, want the rule-opened incident")
	}
	inc, err := h.svc.GetIncident(context.Background(), res.IncidentID)
	if err != nil {
		t.Fatalf("GetIncident() error = %v", err)
	}
	if !slices.Contains(inc.Tags, "rule:sqli-escalate") {
		t.Errorf("Tags = %v, want rule:sqli-escalate", inc.Tags)
	}
}

func TestDegradedAnalysisIsAudited(t *testing.T) {
	partial := &threat.Indicator{ID: "ind-1", Type: threat.TypeXSS, Severity: threat.SeverityHigh, RiskScore: 85, IPAddress: testIP, IsActive: true}
	stub := &stubAnalyzer{
		found: []*threat.Indicator{partial},
		err: &threat.DetectionError{Failures: []threat.DetectorFailure{
			{Detector: threat.TypeSQLInjection, Err: errors.New("boom")},
		}},
	}
	h := newHarness(t, func(d *Deps) { d.Detectors = stub })

	res, err := h.svc.AnalyzeRequest(context.Background(), RequestAnalysis{
		IPAddress: testIP,
		Request:   threat.RequestDescriptor{Method: "GET", URL: "/"},
	})
	if err != nil {
		t.Fatalf("AnalyzeRequest() error = %v", err)
	}
	if !res.Degraded || len(res.Indicators) != 1 {
		t.Errorf("result = %+v, want degraded with the partial indicator", res)
	}
	if got := h.audit.count(audit.EventTypeAnalysisDegraded); got != 1 {
		t.Errorf("analysis.degraded events = %d, want 1", got)
	}
}

func TestAnalyzerFailureIsReturned(t *testing.T) {
	stub := &stubAnalyzer{err: errors.New("engine stopped")}
	h := newHarness(t, func(d *Deps) { d.Detectors = stub })

	_, err := h.svc.AnalyzeLoginAttempt(context.Background(), LoginAttempt{UserID: testUser, IPAddress: testIP})
	if err == nil {
		t.Fatal("AnalyzeLoginAttempt() error = nil, want engine failure")
	}
}

func TestMalformedEventsAreRejectedBeforeDetection(t *testing.T) {
	stub := &stubAnalyzer{}
	h := newHarness(t, func(d *Deps) { d.Detectors = stub })
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"login without user", func() error {
			_, err := h.svc.AnalyzeLoginAttempt(ctx, LoginAttempt{IPAddress: testIP})
			return err
		}},
		{"login with bad ip", func() error {
			_, err := h.svc.AnalyzeLoginAttempt(ctx, LoginAttempt{UserID: testUser, IPAddress: "999.1.1.1"})
			return err
		}},
		{"request without method", func() error {
			_, err := h.svc.AnalyzeRequest(ctx, RequestAnalysis{IPAddress: testIP, Request: threat.RequestDescriptor{URL: "/"}})
			return err
		}},
		{"registration with bad email", func() error {
			_, err := h.svc.ScoreRegistrationEmail(ctx, Registration{Email: "not-an-email"})
			return err
		}},
		{"rate limit with bad policy name", func() error {
			_, err := h.svc.CheckRateLimit(ctx, "Login Policy", "actor")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, validation.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
	if stub.calls != 0 {
		t.Errorf("detectors ran %d times on malformed input", stub.calls)
	}
}

func TestCheckRateLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := ratelimit.ActorKey(testUser, testIP)

	for i := range 6 {
		d, err := h.svc.CheckRateLimit(ctx, ratelimit.PolicyLogin, actor)
		if err != nil || !d.Allowed {
			t.Fatalf("check #%d = %+v, %v; want allowed", i+1, d, err)
		}
	}
	d, err := h.svc.CheckRateLimit(ctx, ratelimit.PolicyLogin, actor)
	if err != nil {
		t.Fatalf("CheckRateLimit() error = %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Errorf("7th check = %+v, want denied with remaining 0", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > int((15*time.Minute).Seconds()) {
		t.Errorf("RetryAfter = %d, want within the 15 minute window", d.RetryAfter)
	}
	if got := h.audit.count(audit.EventTypeRequestRateLimited); got != 1 {
		t.Errorf("request.rate_limited events = %d, want 1", got)
	}

	if _, err := h.svc.CheckRateLimit(ctx, "missing", actor); !errors.Is(err, ratelimit.ErrPolicyNotFound) {
		t.Errorf("unknown policy error = %v, want ErrPolicyNotFound", err)
	}
}

func TestCheckRateLimitStoreOutage(t *testing.T) {
	policies, err := ratelimit.NewPolicySet(ratelimit.DefaultPolicies())
	if err != nil {
		t.Fatalf("NewPolicySet() error = %v", err)
	}
	limiter := ratelimit.NewLimiter(policies, failingCounter{})
	h := newHarness(t, func(d *Deps) { d.Limiter = limiter })

	tests := []struct {
		policy      string
		wantAllowed bool
	}{
		{ratelimit.PolicyLogin, false},
		{ratelimit.PolicyAPI, true},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			d, err := h.svc.CheckRateLimit(context.Background(), tt.policy, testIP)
			if err != nil {
				t.Fatalf("CheckRateLimit() error = %v, want outage absorbed", err)
			}
			if d.Allowed != tt.wantAllowed || !d.Degraded {
				t.Errorf("decision = %+v, want allowed=%v degraded", d, tt.wantAllowed)
			}
		})
	}
}

func TestResolveThreatIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.AnalyzeRequest(ctx, RequestAnalysis{
		IPAddress: "198.51.100.7",
		Request:   threat.RequestDescriptor{Method: "GET", URL: "/search?q=<script>alert(1)</script>"},
	})
	if err != nil || len(res.Indicators) == 0 {
		t.Fatalf("AnalyzeRequest() = %+v, %v; want an indicator", res, err)
	}
	id := res.Indicators[0].ID

	if got := len(h.svc.GetActiveThreats()); got != 1 {
		t.Fatalf("active threats = %d, want 1", got)
	}

	first, err := h.svc.ResolveThreat(ctx, id, "analyst-1", "false positive")
	if err != nil {
		t.Fatalf("ResolveThreat() error = %v", err)
	}
	second, err := h.svc.ResolveThreat(ctx, id, "analyst-2", "duplicate")
	if err != nil {
		t.Fatalf("second ResolveThreat() error = %v", err)
	}
	if second.ResolvedBy != "analyst-1" || second.Resolution != first.Resolution {
		t.Errorf("second resolve = %s/%s, want the original resolution", second.ResolvedBy, second.Resolution)
	}
	if got := h.audit.count(audit.EventTypeThreatResolved); got != 1 {
		t.Errorf("threat.resolved events = %d, want 1", got)
	}
	if got := len(h.svc.GetActiveThreats()); got != 0 {
		t.Errorf("active threats = %d, want 0", got)
	}

	if _, err := h.svc.ResolveThreat(ctx, "missing", "analyst-1", "x"); !errors.Is(err, threat.ErrIndicatorNotFound) {
		t.Errorf("unknown id error = %v, want ErrIndicatorNotFound", err)
	}
	if _, err := h.svc.ResolveThreat(ctx, id, "", "x"); !errors.Is(err, ErrMissingActor) {
		t.Errorf("anonymous resolve error = %v, want ErrMissingActor", err)
	}
}

func TestScoreRegistrationEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	clean, err := h.svc.ScoreRegistrationEmail(ctx, Registration{Email: "alice@uni.edu", IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("ScoreRegistrationEmail() error = %v", err)
	}
	if clean.Blocked {
		t.Errorf("clean registration blocked: %+v", clean)
	}

	if err := h.blocklist.Block(ctx, fraud.Entry{Kind: fraud.KindEmail, Value: "mallory@uni.edu", Reason: "manual", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	listed, err := h.svc.ScoreRegistrationEmail(ctx, Registration{Email: "Mallory@uni.edu"})
	if err != nil {
		t.Fatalf("ScoreRegistrationEmail(listed) error = %v", err)
	}
	if !listed.Blocked || listed.RiskScore != 100 {
		t.Errorf("listed result = %+v, want blocked at 100", listed)
	}
	if got := h.audit.count(audit.EventTypeFraudScored); got != 2 {
		t.Errorf("fraud.scored events = %d, want 2", got)
	}
}

func TestUnblock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.blocklist.Block(ctx, fraud.Entry{Kind: fraud.KindIP, Value: testIP, Reason: "test", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if err := h.svc.Unblock(ctx, fraud.KindIP, testIP, "admin-1"); err != nil {
		t.Fatalf("Unblock() error = %v", err)
	}
	if entry, _ := h.blocklist.Lookup(ctx, fraud.KindIP, testIP); entry != nil {
		t.Error("entry still listed after Unblock")
	}
	if got := h.audit.count(audit.EventTypeBlocklistRemoved); got != 1 {
		t.Errorf("blocklist.removed events = %d, want 1", got)
	}
	if err := h.svc.Unblock(ctx, fraud.KindIP, testIP, "admin-1"); !errors.Is(err, fraud.ErrNotBlocked) {
		t.Errorf("second Unblock() error = %v, want ErrNotBlocked", err)
	}

	bare := newHarness(t, func(d *Deps) { d.Blocklist = nil })
	if err := bare.svc.Unblock(ctx, fraud.KindIP, testIP, "admin-1"); !errors.Is(err, ErrNoBlocklist) {
		t.Errorf("Unblock() without blocklist error = %v, want ErrNoBlocklist", err)
	}
}

func TestIncidentOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := incident.CreateRequest{
		Type:     threat.TypeSuspiciousLogin,
		Title:    "Credential stuffing against library portal",
		Severity: threat.SeverityHigh,
		Metadata: map[string]any{"api_token": "abc123"},
	}
	if _, err := h.svc.CreateIncident(ctx, req, ""); !errors.Is(err, ErrMissingActor) {
		t.Errorf("CreateIncident() without actor error = %v, want ErrMissingActor", err)
	}
	bad := req
	bad.Severity = "severe"
	if _, err := h.svc.CreateIncident(ctx, bad, "analyst-1"); !errors.Is(err, validation.ErrValidation) {
		t.Errorf("CreateIncident(bad severity) error = %v, want ErrValidation", err)
	}

	inc, err := h.svc.CreateIncident(ctx, req, "analyst-1")
	if err != nil {
		t.Fatalf("CreateIncident() error = %v", err)
	}
	if inc.CreatedBy != "analyst-1" || inc.Status != incident.StatusDetected {
		t.Errorf("incident = %s/%s, want analyst-1/detected", inc.CreatedBy, inc.Status)
	}
	if inc.Metadata["api_token"] == "abc123" {
		t.Error("sensitive metadata persisted unredacted")
	}

	if _, err := h.svc.UpdateIncidentStatus(ctx, inc.ID, incident.StatusClosed, "analyst-1", ""); !errors.Is(err, incident.ErrInvalidTransition) {
		t.Errorf("detected -> closed error = %v, want ErrInvalidTransition", err)
	}
	moved, err := h.svc.UpdateIncidentStatus(ctx, inc.ID, incident.StatusInvestigating, "analyst-1", "triage started")
	if err != nil || moved.Status != incident.StatusInvestigating {
		t.Fatalf("UpdateIncidentStatus() = %v, %v", moved, err)
	}
	if !h.notifier.seen("incident_status_changed") {
		t.Error("dashboard was not notified of the status change")
	}

	ev, err := h.svc.AddEvidence(ctx, inc.ID, incident.EvidenceRequest{
		Type:        incident.EvidenceLog,
		Description: "SSO access log excerpt",
		Data:        []byte("2026-10-18T10:00:00Z login failure"),
	}, "analyst-1")
	if err != nil {
		t.Fatalf("AddEvidence() error = %v", err)
	}
	if ev.CollectedBy != "analyst-1" {
		t.Errorf("CollectedBy = %q, want analyst-1", ev.CollectedBy)
	}
	if _, err := h.svc.AccessEvidence(ctx, inc.ID, ev.ID, "analyst-2", incident.CustodyAccessed, "review"); err != nil {
		t.Errorf("AccessEvidence() error = %v", err)
	}

	act, err := h.svc.CreateAction(ctx, inc.ID, incident.ActionRequest{
		Type:    incident.ActionContain,
		Title:   "Force password resets",
		DueDate: time.Now().Add(4 * time.Hour),
	}, "analyst-1")
	if err != nil {
		t.Fatalf("CreateAction() error = %v", err)
	}
	if _, err := h.svc.StartAction(ctx, inc.ID, act.ID, "responder-1"); err != nil {
		t.Fatalf("StartAction() error = %v", err)
	}
	done, err := h.svc.CompleteAction(ctx, inc.ID, act.ID, "responder-1", "resets issued")
	if err != nil {
		t.Fatalf("CompleteAction() error = %v", err)
	}
	if done.Status != incident.ActionCompleted || done.CompletedBy != "responder-1" {
		t.Errorf("action = %s by %s, want completed by responder-1", done.Status, done.CompletedBy)
	}

	listed, err := h.svc.ListIncidents(ctx, incident.Filter{Statuses: []incident.Status{incident.StatusInvestigating}})
	if err != nil || len(listed) != 1 {
		t.Errorf("ListIncidents() = %d, %v; want 1", len(listed), err)
	}
	if got := len(h.svc.GetActiveIncidents()); got != 1 {
		t.Errorf("active incidents = %d, want 1", got)
	}
}
