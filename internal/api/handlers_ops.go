// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"net/http"
	"strconv"
)

// defaultRecentRequests is how many samples ?recent returns by default.
const defaultRecentRequests = 50

// PerformanceStats returns per-route latency statistics and, with
// ?recent=N, the last N request samples.
func (h *Handler) PerformanceStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.performance == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "performance monitor disabled")
		return
	}

	out := map[string]any{"endpoints": h.performance.GetStats()}
	if raw := r.URL.Query().Get("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			n = defaultRecentRequests
		}
		out["recent"] = h.performance.GetRecentMetrics(n)
	}
	rw.Success(out)
}
