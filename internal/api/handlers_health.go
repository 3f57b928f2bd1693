// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// HealthStatus is the body of /health and /health/ready.
type HealthStatus struct {
	Status   string            `json:"status"`
	Uptime   string            `json:"uptime"`
	Checks   map[string]string `json:"checks,omitempty"`
	Failures []string          `json:"failures,omitempty"`
}

// Live reports that the process is serving.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// Ready runs every dependency probe and answers 503 if any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := h.runChecks(r.Context())
	rw := NewResponseWriter(w, r)
	if len(status.Failures) > 0 {
		rw.writeJSON(http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   &APIError{Code: ErrCodeServiceUnavailable, Message: "not ready"},
		})
		return
	}
	rw.Success(status)
}

// Health reports probe results but always answers 200, for dashboards.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.runChecks(r.Context()))
}

func (h *Handler) runChecks(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
		Checks: make(map[string]string, len(h.healthChecks)),
	}
	for name, check := range h.healthChecks {
		cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := check(cctx)
		cancel()
		if err != nil {
			status.Checks[name] = "unhealthy"
			status.Failures = append(status.Failures, name)
			continue
		}
		status.Checks[name] = "ok"
	}
	if len(status.Failures) > 0 {
		status.Status = "degraded"
		sort.Strings(status.Failures)
	}
	return status
}
