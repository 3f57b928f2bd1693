// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/campusguard/internal/account"
	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/auth"
	"github.com/tomtom215/campusguard/internal/authz"
	"github.com/tomtom215/campusguard/internal/config"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/guard"
	"github.com/tomtom215/campusguard/internal/history"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/middleware"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/risk"
	"github.com/tomtom215/campusguard/internal/rules"
	"github.com/tomtom215/campusguard/internal/threat"
)

const (
	testAPIKey    = "cg-test-key-0123456789"
	testJWTSecret = "k3v9Qm2Lx8Rt5Wz1Np7Hd4Fb6Gs0Jc2Y"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, map[string]any) {}

// testEnv is a full router over a real guard service with in-memory stores.
type testEnv struct {
	server    *httptest.Server
	svc       *guard.Service
	blocklist *fraud.MemoryBlocklist
	audit     *audit.MemoryStore
	jwt       *auth.JWTManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{
		blocklist: fraud.NewMemoryBlocklist(),
		audit:     audit.NewMemoryStore(1000),
	}
	sink := audit.SinkFunc(func(ctx context.Context, ev audit.Event) {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		_ = env.audit.Save(ctx, &ev)
	})

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

	policies, err := ratelimit.NewPolicySet(ratelimit.DefaultPolicies())
	if err != nil {
		t.Fatalf("NewPolicySet() error = %v", err)
	}
	counters := ratelimit.NewMemoryStore()
	limiter := ratelimit.NewLimiter(policies, counters)

	scorer, err := fraud.NewScorer(fraud.DefaultConfig(), env.blocklist, counters)
	if err != nil {
		t.Fatalf("fraud.NewScorer() error = %v", err)
	}
	tracker, err := incident.NewTracker(ctx, incident.NewMemoryStore(), sink, incident.DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	accounts := account.NewManager(account.NewMemoryStore(), account.DefaultConfig())

	executor := rules.NewExecutor(rules.Deps{
		Blocklist: env.blocklist,
		Notifier:  nopNotifier{},
		Accounts:  accounts,
		Limiter:   limiter,
		Audit:     sink,
	})
	ruleEngine := rules.NewEngine(executor, sink)
	if _, errs := ruleEngine.SetRules(rules.DefaultRules()); len(errs) > 0 {
		t.Fatalf("SetRules() errors = %v", errs)
	}

	env.svc, err = guard.New(guard.Deps{
		Detectors: engine,
		Risk:      risk.NewScorer(risk.DefaultConfig()),
		Registry:  threat.NewRegistry(),
		History:   hist,
		Rules:     ruleEngine,
		Limiter:   limiter,
		Fraud:     scorer,
		Blocklist: env.blocklist,
		Accounts:  accounts,
		Incidents: tracker,
		Notifier:  nopNotifier{},
		Audit:     sink,
	}, guard.DefaultConfig())
	if err != nil {
		t.Fatalf("guard.New() error = %v", err)
	}
	executor.SetIncidentOpener(env.svc)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	keys, err := auth.NewAPIKeyVerifier([]string{string(hash)})
	if err != nil {
		t.Fatalf("NewAPIKeyVerifier() error = %v", err)
	}
	env.jwt, err = auth.NewJWTManager(&config.SecurityConfig{JWTSecret: testJWTSecret, JWTIssuer: "campusguard-test"})
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	enforcer, err := authz.NewEnforcer(authz.DefaultEnforcerConfig())
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}

	perf := middleware.NewPerformanceMonitor(100, time.Second)
	handler := NewHandler(env.svc, env.audit, perf, map[string]HealthCheck{
		"incidents": func(context.Context) error { return nil },
	})
	router := NewRouter(RouterConfig{AdminRateLimit: 1000, AdminRateWindow: time.Minute}, RouterDeps{
		Handler:     handler,
		APIKeys:     keys,
		JWT:         env.jwt,
		Authz:       enforcer,
		Performance: perf,
	})
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken(subject, roles)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

// do sends body as JSON. auth is an API key for /analyze routes and a bearer
// token elsewhere; empty sends no credentials.
func (e *testEnv) do(t *testing.T, method, path, authValue string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case authValue == "":
	case authValue == testAPIKey:
		req.Header.Set(auth.APIKeyHeader, authValue)
	default:
		req.Header.Set("Authorization", "Bearer "+authValue)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

// envelope decodes the standard response and its data into dst.
func envelope(t *testing.T, raw []byte, dst any) APIResponse {
	t.Helper()
	var out struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode envelope %s: %v", raw, err)
	}
	if dst != nil && len(out.Data) > 0 {
		if err := json.Unmarshal(out.Data, dst); err != nil {
			t.Fatalf("decode data %s: %v", out.Data, err)
		}
	}
	return out.APIResponse
}
