// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

/*
Package middleware provides the infrastructure middleware shared by every
CampusGuard route.

Key Components:

  - RequestID: accepts a well-formed upstream X-Request-ID or mints a UUID,
    echoes it, and stores it with a fresh correlation ID on the context so
    every log line and audit event of the request carries it
  - PrometheusMetrics: request counts and latency labelled by chi route
    pattern, never by raw path, so IDs in URLs cannot explode cardinality
  - PerformanceMonitor: a bounded window of recent requests with per-route
    percentiles for the operator console, plus slow-request warnings

All middleware has the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(monitor.Middleware)
*/
package middleware
