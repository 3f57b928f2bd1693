// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"net/http"

	"github.com/tomtom215/campusguard/internal/guard"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/validation"
)

// AnalyzeLogin counts the attempt against the login policy, answering 429
// once the actor is over it, and otherwise runs login analysis.
func (h *Handler) AnalyzeLogin(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var attempt guard.LoginAttempt
	if err := decodeJSON(w, r, &attempt); err != nil {
		writeDecodeError(rw, r, err)
		return
	}
	// Malformed attempts must not consume the actor's budget.
	if verr := validation.ValidateStruct(&attempt); verr != nil {
		writeError(rw, r, verr)
		return
	}

	policy := h.svc.Config().LoginPolicy
	decision, err := h.svc.CheckRateLimit(r.Context(), policy, ratelimit.ActorKey(attempt.UserID, attempt.IPAddress))
	if err != nil {
		writeError(rw, r, err)
		return
	}
	if !decision.Allowed {
		rw.RateLimited(decision.RetryAfter, decision.Limit)
		return
	}

	res, err := h.svc.AnalyzeLoginAttempt(r.Context(), attempt)
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Success(res)
}

// AnalyzeRequest screens a request. Blocked requests answer 403 with the
// flat block contract; allowed ones return the full analysis.
func (h *Handler) AnalyzeRequest(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req guard.RequestAnalysis
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(rw, r, err)
		return
	}

	res, err := h.svc.AnalyzeRequest(r.Context(), req)
	if err != nil {
		writeError(rw, r, err)
		return
	}
	if res.Blocked {
		rw.Blocked(res.Reason)
		return
	}
	rw.Success(res)
}

// CheckRateLimit counts one call for an arbitrary policy and actor.
func (h *Handler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req guard.RateLimitCheck
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(rw, r, err)
		return
	}

	decision, err := h.svc.CheckRateLimit(r.Context(), req.Policy, req.ActorKey)
	if err != nil {
		writeError(rw, r, err)
		return
	}
	if !decision.Allowed {
		rw.RateLimited(decision.RetryAfter, decision.Limit)
		return
	}
	rw.Success(decision)
}

// ScoreRegistration applies the registration policy per source, then scores
// the email.
func (h *Handler) ScoreRegistration(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var reg guard.Registration
	if err := decodeJSON(w, r, &reg); err != nil {
		writeDecodeError(rw, r, err)
		return
	}

	if reg.IPAddress != "" {
		policy := h.svc.Config().RegistrationPolicy
		decision, err := h.svc.CheckRateLimit(r.Context(), policy, ratelimit.ActorKey(reg.IPAddress))
		if err != nil {
			writeError(rw, r, err)
			return
		}
		if !decision.Allowed {
			rw.RateLimited(decision.RetryAfter, decision.Limit)
			return
		}
	}

	res, err := h.svc.ScoreRegistrationEmail(r.Context(), reg)
	if err != nil {
		writeError(rw, r, err)
		return
	}
	if res.Blocked {
		logging.Ctx(r.Context()).Info().
			Str("email", logging.SanitizeEmail(reg.Email)).
			Int("risk_score", res.RiskScore).
			Msg("Registration flagged")
	}
	rw.Success(res)
}
