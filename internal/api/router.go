// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/campusguard/internal/auth"
	"github.com/tomtom215/campusguard/internal/authz"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/middleware"
	"github.com/tomtom215/campusguard/internal/websocket"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	CORSOrigins []string

	// AdminRateLimit requests per AdminRateWindow, per client IP, on the
	// operator routes. Zero disables the limit.
	AdminRateLimit  int
	AdminRateWindow time.Duration

	// WSAllowedOrigins for the dashboard stream; empty allows same-origin only.
	WSAllowedOrigins []string
}

// RouterDeps are the collaborators the router mounts. APIKeys, JWT, Authz,
// Hub and Performance may be nil in development.
type RouterDeps struct {
	Handler     *Handler
	APIKeys     *auth.APIKeyVerifier
	JWT         *auth.JWTManager
	Authz       *authz.Enforcer
	Hub         *websocket.Hub
	Performance *middleware.PerformanceMonitor
}

// NewRouter builds the chi router:
//
//	/health, /health/live, /health/ready    unauthenticated probes
//	/metrics                                 Prometheus scrape
//	/api/v1/analyze/*, /api/v1/ratelimit/*   service callers, X-API-Key
//	/api/v1/threats, incidents, blocklist,
//	audit, ops, /ws/threats                  operators, JWT + Casbin
func NewRouter(cfg RouterConfig, deps RouterDeps) http.Handler {
	h := deps.Handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	if deps.Performance != nil {
		r.Use(deps.Performance.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", auth.APIKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	r.Use(securityHeaders)

	r.Get("/health", h.Health)
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.APIKeys != nil && deps.APIKeys.Enabled() {
			r.Use(auth.RequireAPIKey(deps.APIKeys))
		} else {
			logging.Warn().Msg("No API keys configured; analysis routes are unauthenticated")
		}

		r.Post("/api/v1/analyze/login", h.AnalyzeLogin)
		r.Post("/api/v1/analyze/request", h.AnalyzeRequest)
		r.Post("/api/v1/analyze/registration", h.ScoreRegistration)
		r.Post("/api/v1/ratelimit/check", h.CheckRateLimit)
	})

	if deps.JWT == nil || deps.Authz == nil {
		logging.Warn().Msg("JWT or authorization not configured; operator routes are not mounted")
		return r
	}

	require := authz.NewMiddleware(deps.Authz).Require
	r.Group(func(r chi.Router) {
		if cfg.AdminRateLimit > 0 {
			r.Use(httprate.Limit(cfg.AdminRateLimit, cfg.AdminRateWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(adminRateLimited(cfg.AdminRateLimit, cfg.AdminRateWindow)),
			))
		}
		r.Use(auth.RequireJWT(deps.JWT))

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Compress(5))

			r.With(require(authz.ObjectThreats, authz.ActionRead)).Get("/api/v1/threats", h.ListThreats)
			r.With(require(authz.ObjectThreats, authz.ActionWrite)).Post("/api/v1/threats/{id}/resolve", h.ResolveThreat)

			r.Group(func(r chi.Router) {
				r.Use(require(authz.ObjectIncidents, authz.ActionRead))
				r.Get("/api/v1/incidents", h.ListIncidents)
				r.Get("/api/v1/incidents/{id}", h.GetIncident)
				r.Get("/api/v1/incidents/{id}/evidence/{evidenceID}", h.GetEvidence)
			})
			r.Group(func(r chi.Router) {
				r.Use(require(authz.ObjectIncidents, authz.ActionWrite))
				r.Post("/api/v1/incidents", h.CreateIncident)
				r.Put("/api/v1/incidents/{id}/status", h.UpdateIncidentStatus)
				r.Post("/api/v1/incidents/{id}/evidence", h.AddEvidence)
				r.Post("/api/v1/incidents/{id}/actions", h.CreateAction)
				r.Post("/api/v1/incidents/{id}/actions/{actionID}/start", h.StartAction)
				r.Post("/api/v1/incidents/{id}/actions/{actionID}/complete", h.CompleteAction)
				r.Post("/api/v1/incidents/{id}/actions/{actionID}/cancel", h.CancelAction)
			})

			r.With(require(authz.ObjectBlocklist, authz.ActionWrite)).Delete("/api/v1/blocklist/{value}", h.Unblock)
			r.With(require(authz.ObjectAudit, authz.ActionRead)).Get("/api/v1/audit/events", h.AuditEvents)
			r.With(require(authz.ObjectDashboard, authz.ActionRead)).Get("/api/v1/ops/performance", h.PerformanceStats)
		})

		if deps.Hub != nil {
			r.With(require(authz.ObjectDashboard, authz.ActionRead)).
				Get("/ws/threats", websocket.ServeWS(deps.Hub, cfg.WSAllowedOrigins, actorID))
		}
	})

	return r
}

// adminRateLimited answers the operator limit with the same body as the
// login limiter.
func adminRateLimited(limit int, window time.Duration) http.HandlerFunc {
	retryAfter := int(math.Ceil(window.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).RateLimited(retryAfter, limit)
	}
}

// securityHeaders sets the response headers every API answer carries.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
