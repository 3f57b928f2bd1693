// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/guard"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/threat"
)

func TestAnalyzeRequestBlocksSQLInjection(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/api/v1/analyze/request", testAPIKey, guard.RequestAnalysis{
		IPAddress: "198.51.100.23",
		UserAgent: "curl/8.0",
		Request: threat.RequestDescriptor{
			Method:  "POST",
			URL:     "/api/register",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    `{"email":"'; DROP TABLE users; --"}`,
		},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body %s", resp.StatusCode, raw)
	}

	var blocked BlockedResponse
	if err := json.Unmarshal(raw, &blocked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if blocked.Reason == "" {
		t.Error("reason is empty")
	}
	if blocked.RequestID == "" || blocked.RequestID != resp.Header.Get("X-Request-ID") {
		t.Errorf("requestId = %q, header %q", blocked.RequestID, resp.Header.Get("X-Request-ID"))
	}
	if time.Since(blocked.Timestamp) > time.Minute {
		t.Errorf("timestamp = %v, want now", blocked.Timestamp)
	}
	if got := env.svc.GetActiveIncidents(); len(got) != 0 {
		t.Errorf("active incidents = %d, want none without a create_incident rule", len(got))
	}
}

func TestAnalyzeRequestAllowsCleanRequest(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/api/v1/analyze/request", testAPIKey, guard.RequestAnalysis{
		IPAddress: "198.51.100.24",
		Request:   threat.RequestDescriptor{Method: "GET", URL: "/courses?term=fall"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", resp.StatusCode, raw)
	}
	var res guard.RequestResult
	out := envelope(t, raw, &res)
	if !out.Success || res.Blocked {
		t.Errorf("success = %v blocked = %v, want allowed", out.Success, res.Blocked)
	}
}

func TestAnalyzeLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)
	attempt := guard.LoginAttempt{UserID: "user@example.edu", IPAddress: "203.0.113.5", UserAgent: "Mozilla/5.0"}

	for i := 1; i <= 6; i++ {
		resp, raw := env.do(t, http.MethodPost, "/api/v1/analyze/login", testAPIKey, attempt)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200; body %s", i, resp.StatusCode, raw)
		}
	}

	resp, raw := env.do(t, http.MethodPost, "/api/v1/analyze/login", testAPIKey, attempt)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("7th attempt: status = %d, want 429; body %s", resp.StatusCode, raw)
	}

	var limited RateLimitedResponse
	if err := json.Unmarshal(raw, &limited); err != nil {
		t.Fatalf("decode: %v", err)
	}
	window := 15 * 60
	if limited.RetryAfter < window-5 || limited.RetryAfter > window {
		t.Errorf("retryAfter = %d, want about %d", limited.RetryAfter, window)
	}
	if limited.Limit != 6 || limited.Remaining != 0 {
		t.Errorf("limit/remaining = %d/%d, want 6/0", limited.Limit, limited.Remaining)
	}
	if got := resp.Header.Get("Retry-After"); got != strconv.Itoa(limited.RetryAfter) {
		t.Errorf("Retry-After = %q, want %d", got, limited.RetryAfter)
	}

	// Other actors keep their own budget.
	other := attempt
	other.IPAddress = "203.0.113.6"
	if resp, raw := env.do(t, http.MethodPost, "/api/v1/analyze/login", testAPIKey, other); resp.StatusCode != http.StatusOK {
		t.Errorf("other actor: status = %d; body %s", resp.StatusCode, raw)
	}
}

func TestAnalyzeLoginInvalidDoesNotCount(t *testing.T) {
	env := newTestEnv(t)
	bad := guard.LoginAttempt{UserID: "user@example.edu", IPAddress: "not-an-ip"}

	for range 8 {
		resp, raw := env.do(t, http.MethodPost, "/api/v1/analyze/login", testAPIKey, bad)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400; body %s", resp.StatusCode, raw)
		}
		out := envelope(t, raw, nil)
		if out.Error == nil || out.Error.Code != ErrCodeValidationFailed {
			t.Fatalf("error = %+v, want %s", out.Error, ErrCodeValidationFailed)
		}
	}
}

func TestAnalysisRoutesRequireAPIKey(t *testing.T) {
	env := newTestEnv(t)
	body := guard.LoginAttempt{UserID: "user@example.edu", IPAddress: "203.0.113.5"}

	if resp, _ := env.do(t, http.MethodPost, "/api/v1/analyze/login", "", body); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", resp.StatusCode)
	}
	// A JWT is not an API key.
	tok := env.token(t, "alice@example.edu", "admin")
	if resp, _ := env.do(t, http.MethodPost, "/api/v1/analyze/login", tok, body); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bearer token: status = %d, want 401", resp.StatusCode)
	}
}

func TestScoreRegistrationBlocklisted(t *testing.T) {
	env := newTestEnv(t)
	if err := env.blocklist.Block(t.Context(), fraud.Entry{
		Kind:      fraud.KindEmail,
		Value:     "spam@mailinator.com",
		Reason:    "manual",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	resp, raw := env.do(t, http.MethodPost, "/api/v1/analyze/registration", testAPIKey, guard.Registration{
		Email:     "spam@mailinator.com",
		IPAddress: "192.0.2.40",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", resp.StatusCode, raw)
	}
	var res fraud.Result
	envelope(t, raw, &res)
	if !res.Blocked || !res.Blocklisted {
		t.Errorf("result = %+v, want blocked and blocklisted", res)
	}
}

func TestRateLimitCheckUnknownPolicy(t *testing.T) {
	env := newTestEnv(t)
	resp, raw := env.do(t, http.MethodPost, "/api/v1/ratelimit/check", testAPIKey, guard.RateLimitCheck{
		Policy:   "no-such-policy",
		ActorKey: "user@example.edu",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500; body %s", resp.StatusCode, raw)
	}
	if strings.Contains(string(raw), "no-such-policy") {
		t.Errorf("body leaks the internal error: %s", raw)
	}
}

func TestOperatorRoutesEnforceRoles(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.token(t, "vera@example.edu", "viewer")
	analyst := env.token(t, "ana@example.edu", "analyst")
	responder := env.token(t, "rui@example.edu", "responder")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/threats", "", nil, http.StatusUnauthorized},
		{"api key is not a token", http.MethodGet, "/api/v1/threats", testAPIKey, nil, http.StatusUnauthorized},
		{"viewer reads threats", http.MethodGet, "/api/v1/threats", viewer, nil, http.StatusOK},
		{"viewer reads incidents", http.MethodGet, "/api/v1/incidents", viewer, nil, http.StatusOK},
		{"viewer cannot create incidents", http.MethodPost, "/api/v1/incidents", viewer, incident.CreateRequest{}, http.StatusForbidden},
		{"viewer cannot read audit", http.MethodGet, "/api/v1/audit/events", viewer, nil, http.StatusForbidden},
		{"analyst cannot unblock", http.MethodDelete, "/api/v1/blocklist/192.0.2.1", analyst, nil, http.StatusForbidden},
		{"responder unblock unknown", http.MethodDelete, "/api/v1/blocklist/192.0.2.1", responder, nil, http.StatusNotFound},
		{"responder reads audit", http.MethodGet, "/api/v1/audit/events", responder, nil, http.StatusOK},
		{"viewer reads ops", http.MethodGet, "/api/v1/ops/performance", viewer, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := env.do(t, tt.method, tt.path, tt.token, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d; body %s", resp.StatusCode, tt.want, raw)
			}
		})
	}
}

func TestIncidentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	analyst := env.token(t, "ana@example.edu", "analyst")

	resp, raw := env.do(t, http.MethodPost, "/api/v1/incidents", analyst, incident.CreateRequest{
		Title:       "Credential stuffing against SSO",
		Description: "Spike of failed logins from a hosting range",
		Severity:    threat.SeverityHigh,
		Type:        threat.TypeBruteForce,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d; body %s", resp.StatusCode, raw)
	}
	var inc incident.Incident
	envelope(t, raw, &inc)
	if inc.ID == "" || inc.Status != incident.StatusDetected {
		t.Fatalf("incident = %+v, want a detected incident", inc)
	}

	// Skipping straight to resolved is refused.
	resp, raw = env.do(t, http.MethodPut, "/api/v1/incidents/"+inc.ID+"/status", analyst, StatusRequest{Status: incident.StatusClosed})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("skip transition: status = %d, want 409; body %s", resp.StatusCode, raw)
	}
	resp, raw = env.do(t, http.MethodPut, "/api/v1/incidents/"+inc.ID+"/status", analyst, StatusRequest{Status: incident.StatusInvestigating, Notes: "triage"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("investigate: status = %d; body %s", resp.StatusCode, raw)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/v1/incidents/"+inc.ID+"/evidence", analyst, incident.EvidenceRequest{
		Type:        incident.EvidenceLog,
		Description: "SSO access log excerpt",
		Data:        []byte("203.0.113.5 POST /login 401"),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("evidence: status = %d; body %s", resp.StatusCode, raw)
	}
	var ev incident.Evidence
	envelope(t, raw, &ev)

	resp, raw = env.do(t, http.MethodGet, "/api/v1/incidents/"+inc.ID+"/evidence/"+ev.ID, analyst, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get evidence: status = %d; body %s", resp.StatusCode, raw)
	}
	envelope(t, raw, &ev)
	if len(ev.Custody) != 2 || ev.Custody[1].Actor != "ana@example.edu" {
		t.Errorf("custody = %+v, want collected then accessed by the analyst", ev.Custody)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/v1/incidents/"+inc.ID+"/actions", analyst, incident.ActionRequest{
		Type:        incident.ActionContain,
		Title:       "Force password reset for targeted accounts",
		AssignedTo:  "rui@example.edu",
		DueDate:     time.Now().Add(24 * time.Hour),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("action: status = %d; body %s", resp.StatusCode, raw)
	}
	var action incident.Action
	envelope(t, raw, &action)

	base := "/api/v1/incidents/" + inc.ID + "/actions/" + action.ID
	if resp, raw := env.do(t, http.MethodPost, base+"/start", analyst, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d; body %s", resp.StatusCode, raw)
	}
	if resp, raw := env.do(t, http.MethodPost, base+"/complete", analyst, NotesRequest{Notes: "done"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: status = %d; body %s", resp.StatusCode, raw)
	}

	resp, raw = env.do(t, http.MethodGet, "/api/v1/incidents?status=investigating", analyst, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status = %d; body %s", resp.StatusCode, raw)
	}
	var listed []incident.Incident
	out := envelope(t, raw, &listed)
	if len(listed) != 1 || listed[0].ID != inc.ID || out.Meta == nil || out.Meta.Count == nil || *out.Meta.Count != 1 {
		t.Errorf("listed = %d incidents, meta %+v", len(listed), out.Meta)
	}

	if resp, _ := env.do(t, http.MethodGet, "/api/v1/incidents?status=bogus", analyst, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status filter: status = %d, want 400", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/v1/incidents/INC-missing", analyst, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing incident: status = %d, want 404", resp.StatusCode)
	}
}

func TestThreatResolveAndUnblock(t *testing.T) {
	env := newTestEnv(t)
	responder := env.token(t, "rui@example.edu", "responder")

	resp, raw := env.do(t, http.MethodPost, "/api/v1/analyze/request", testAPIKey, guard.RequestAnalysis{
		IPAddress: "198.51.100.77",
		Request:   threat.RequestDescriptor{Method: "POST", URL: "/api/register", Body: `{"email":"'; DROP TABLE users; --"}`},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("analyze: status = %d, want 403; body %s", resp.StatusCode, raw)
	}

	resp, raw = env.do(t, http.MethodGet, "/api/v1/threats", responder, nil)
	var threats []threat.Indicator
	envelope(t, raw, &threats)
	if resp.StatusCode != http.StatusOK || len(threats) == 0 {
		t.Fatalf("threats: status = %d, %d indicators", resp.StatusCode, len(threats))
	}

	resp, raw = env.do(t, http.MethodPost, "/api/v1/threats/"+threats[0].ID+"/resolve", responder, ResolveRequest{Resolution: "false positive"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: status = %d; body %s", resp.StatusCode, raw)
	}
	var resolved threat.Indicator
	envelope(t, raw, &resolved)
	if resolved.IsActive || resolved.ResolvedBy != "rui@example.edu" {
		t.Errorf("resolved = %+v, want inactive and resolved by the responder", resolved)
	}

	// The sql-injection-block rule blocklisted the source.
	if resp, raw := env.do(t, http.MethodDelete, "/api/v1/blocklist/198.51.100.77", responder, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unblock: status = %d; body %s", resp.StatusCode, raw)
	}
	if resp, _ := env.do(t, http.MethodDelete, "/api/v1/blocklist/198.51.100.77?kind=domain", responder, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad kind: status = %d, want 400", resp.StatusCode)
	}
}

func TestAuditExportFormats(t *testing.T) {
	env := newTestEnv(t)
	responder := env.token(t, "rui@example.edu", "responder")

	env.do(t, http.MethodPost, "/api/v1/analyze/request", testAPIKey, guard.RequestAnalysis{
		IPAddress: "198.51.100.90",
		Request:   threat.RequestDescriptor{Method: "POST", URL: "/api/register", Body: `{"email":"'; DROP TABLE users; --"}`},
	})

	resp, raw := env.do(t, http.MethodGet, "/api/v1/audit/events?type=request.blocked", responder, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("json: status = %d; body %s", resp.StatusCode, raw)
	}
	var events []map[string]any
	envelope(t, raw, &events)
	if len(events) != 1 {
		t.Errorf("events = %d, want 1 request.blocked", len(events))
	}

	resp, raw = env.do(t, http.MethodGet, "/api/v1/audit/events?format=cef&type=request.blocked", responder, nil)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(raw), "CEF:0|") {
		t.Errorf("cef: status = %d, body %q", resp.StatusCode, raw)
	}

	if resp, _ := env.do(t, http.MethodGet, "/api/v1/audit/events?format=xml", responder, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("xml: status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		resp, raw := env.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d; body %s", path, resp.StatusCode, raw)
		}
		if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: missing nosniff", path)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Errorf("%s: missing X-Request-ID", path)
		}
	}

	resp, raw := env.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "campusguard_") {
		t.Errorf("metrics: status = %d", resp.StatusCode)
	}
}
