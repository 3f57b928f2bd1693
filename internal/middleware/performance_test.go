// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestPerformanceMonitorRingKeepsNewest(t *testing.T) {
	pm := NewPerformanceMonitor(3, time.Second)
	for i := int64(1); i <= 5; i++ {
		pm.RecordRequest(RequestMetrics{Route: "/r", Method: http.MethodGet, DurationMS: i})
	}

	recent := pm.GetRecentMetrics(10)
	if len(recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(recent))
	}
	for i, want := range []int64{3, 4, 5} {
		if recent[i].DurationMS != want {
			t.Errorf("recent[%d] = %d, want %d", i, recent[i].DurationMS, want)
		}
	}
	if got := pm.GetRecentMetrics(1); got[0].DurationMS != 5 {
		t.Errorf("newest = %d, want 5", got[0].DurationMS)
	}
}

func TestPerformanceMonitorStats(t *testing.T) {
	pm := NewPerformanceMonitor(100, time.Second)
	for _, d := range []int64{10, 20, 30, 40, 1000} {
		pm.RecordRequest(RequestMetrics{Route: "/api/v1/analyze/login", Method: http.MethodPost, DurationMS: d, StatusCode: 200})
	}
	pm.RecordRequest(RequestMetrics{Route: "/health", Method: http.MethodGet, DurationMS: 1, StatusCode: 503})

	stats := pm.GetStats()
	if len(stats) != 2 {
		t.Fatalf("stats = %d, want 2", len(stats))
	}
	login := stats[0]
	if login.Endpoint != "POST /api/v1/analyze/login" || login.RequestCount != 5 {
		t.Errorf("login stats = %+v", login)
	}
	if login.P50Duration != 30 || login.MaxDuration != 1000 || login.AvgDuration != 220 {
		t.Errorf("login percentiles = %+v", login)
	}
	if stats[1].ErrorCount != 1 {
		t.Errorf("health errors = %d, want 1", stats[1].ErrorCount)
	}
}

func TestPerformanceMonitorMiddleware(t *testing.T) {
	pm := NewPerformanceMonitor(10, time.Second)
	r := chi.NewRouter()
	r.Use(pm.Middleware)
	r.Post("/api/v1/threats/{id}/resolve", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/threats/abc/resolve", nil))

	recent := pm.GetRecentMetrics(1)
	if len(recent) != 1 {
		t.Fatal("request not recorded")
	}
	if recent[0].Route != "/api/v1/threats/{id}/resolve" || recent[0].StatusCode != http.StatusConflict {
		t.Errorf("recorded %+v", recent[0])
	}
}

func TestPercentile(t *testing.T) {
	if percentile(nil, 0.5) != 0 {
		t.Error("empty slice should yield 0")
	}
	sorted := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(sorted, 0.95); got != 9 {
		t.Errorf("p95 = %d, want 9", got)
	}
}
