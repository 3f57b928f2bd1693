// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/campusguard/internal/account"
	"github.com/tomtom215/campusguard/internal/api"
	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/auth"
	"github.com/tomtom215/campusguard/internal/authz"
	"github.com/tomtom215/campusguard/internal/config"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/guard"
	"github.com/tomtom215/campusguard/internal/history"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/middleware"
	"github.com/tomtom215/campusguard/internal/notify"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/risk"
	"github.com/tomtom215/campusguard/internal/rules"
	"github.com/tomtom215/campusguard/internal/supervisor"
	"github.com/tomtom215/campusguard/internal/supervisor/services"
	"github.com/tomtom215/campusguard/internal/threat"
	"github.com/tomtom215/campusguard/internal/websocket"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.NewString()
	}
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("instance_id", cfg.Server.InstanceID).
		Str("ratelimit_store", cfg.RateLimit.Store).
		Msg("Starting CampusGuard with supervisor tree")

	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("CORS is configured with a wildcard origin (CORS_ORIGINS=*); set explicit origins outside development")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.close()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Audit trail. Every component below records into it.
	var auditLogger *audit.Logger
	var auditSink audit.Sink = audit.Discard
	if cfg.Audit.Enabled {
		auditLogger = audit.NewLogger(audit.NewMemoryStore(cfg.Audit.MaxEvents), cfg.Audit.Logger())
		defer func() {
			if err := auditLogger.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing audit logger")
			}
		}()
		auditSink = auditLogger
	} else {
		logging.Warn().Msg("Audit logging disabled (AUDIT_ENABLED=false)")
	}

	// Alert delivery. Channels register before the router starts.
	alerts := notify.NewRouter(cfg.Notify.Router(), notify.LogChannel{})
	if cfg.Notify.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.Notify.Webhook())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to configure webhook channel")
		}
		alerts.Register(webhook)
	}
	var hub *websocket.Hub
	if cfg.Notify.DashboardEnabled {
		hub = websocket.NewHub()
		alerts.Register(notify.NewDashboardChannel(hub))
		tree.Add(supervisor.LayerMessaging, services.NewRunnerService("dashboard-hub", hub.RunWithContext))
	}

	// Detection.
	hist := history.NewStore(cfg.History.Store())
	detectors, err := buildDetectors(cfg.Detection, hist)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build detectors")
	}

	policies, err := ratelimit.NewPolicySet(cfg.RateLimit.PolicyList())
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid rate limit policies")
	}
	limiter := ratelimit.NewLimiter(policies, st.counters)

	scorer, err := fraud.NewScorer(cfg.Fraud.Scorer(), st.blocklist, st.counters)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create fraud scorer")
	}

	accounts := account.NewManager(st.accounts, cfg.Account.Manager())
	registry := threat.NewRegistry()

	tracker, err := incident.NewTracker(ctx, st.incidents, auditSink, cfg.Incident.Tracker())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to rebuild incidents from storage")
	}
	logging.Info().Int("active_incidents", len(tracker.Active())).Msg("Incident tracker ready")

	executor := rules.NewExecutor(rules.Deps{
		Blocklist: st.blocklist,
		Notifier:  alerts,
		Accounts:  accounts,
		Limiter:   limiter,
		Audit:     auditSink,
	})
	ruleEngine := rules.NewEngine(executor, auditSink)
	if cfg.Rules.RegexCacheSize > 0 {
		ruleEngine.SetRegexCacheSize(cfg.Rules.RegexCacheSize)
	}
	loadRules(ruleEngine, cfg.Rules.Path)

	svc, err := guard.New(guard.Deps{
		Detectors: detectors,
		Risk:      risk.NewScorer(cfg.Risk.Scorer()),
		Registry:  registry,
		History:   hist,
		Rules:     ruleEngine,
		Limiter:   limiter,
		Fraud:     scorer,
		Blocklist: st.blocklist,
		Accounts:  accounts,
		Incidents: tracker,
		Notifier:  alerts,
		Audit:     auditSink,
	}, cfg.Incident.Guard())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create security service")
	}
	executor.SetIncidentOpener(svc)

	bus, busChannel, err := initEventBus(cfg, tree, hub, svc)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize NATS")
	}
	if bus != nil {
		defer func() {
			if err := bus.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing event bus")
			}
		}()
		alerts.Register(busChannel)
	}
	tree.Add(supervisor.LayerMessaging, services.NewRunnerService("alert-router", alerts.Run))

	if cfg.Rules.Path != "" {
		watchRules(tree, ruleEngine, cfg.Rules)
	}

	addMaintenanceServices(tree, cfg, maintenance{
		stores:   st,
		history:  hist,
		registry: registry,
		tracker:  tracker,
		accounts: accounts,
		audit:    auditLogger,
	})

	// HTTP surface.
	deps, err := buildAuth(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authentication")
	}

	var auditQuerier api.AuditQuerier
	if auditLogger != nil {
		auditQuerier = auditLogger
	}
	checks := st.healthChecks()
	if bus != nil {
		checks["nats"] = func(context.Context) error {
			if !bus.Running() {
				return errors.New("embedded NATS server stopped")
			}
			return nil
		}
	}
	perf := middleware.NewPerformanceMonitor(1000, time.Second)
	deps.Handler = api.NewHandler(svc, auditQuerier, perf, checks)
	deps.Hub = hub
	deps.Performance = perf

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(api.RouterConfig{
			CORSOrigins:      cfg.Security.CORSOrigins,
			AdminRateLimit:   cfg.Security.AdminRateLimit,
			AdminRateWindow:  cfg.Security.AdminRateWindow,
			WSAllowedOrigins: cfg.Notify.AllowedOrigins,
		}, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
	tree.Add(supervisor.LayerAPI, services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	for _, info := range tree.Services() {
		logging.Debug().Str("layer", info.Layer.String()).Str("service", info.Name).Msg("Supervised service")
	}
	logging.Info().Int("services", len(tree.Services())).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("CampusGuard stopped")
}

// buildAuth creates the API key verifier, JWT manager and Casbin enforcer.
// Without a JWT secret the operator routes are not mounted; without API keys
// the analysis routes are open. Config validation refuses both in production.
func buildAuth(cfg *config.Config) (api.RouterDeps, error) {
	var deps api.RouterDeps

	keys, err := auth.NewAPIKeyVerifier(cfg.Security.APIKeyHashes)
	if err != nil {
		return deps, err
	}
	deps.APIKeys = keys

	if cfg.Security.JWTSecret == "" {
		logging.Warn().Msg("JWT_SECRET not set; operator API disabled")
		return deps, nil
	}
	deps.JWT, err = auth.NewJWTManager(&cfg.Security)
	if err != nil {
		return deps, err
	}

	enforcerCfg := authz.DefaultEnforcerConfig()
	enforcerCfg.ModelPath = cfg.Security.Casbin.ModelPath
	enforcerCfg.PolicyPath = cfg.Security.Casbin.PolicyPath
	deps.Authz, err = authz.NewEnforcer(enforcerCfg)
	if err != nil {
		return deps, fmt.Errorf("create enforcer: %w", err)
	}
	return deps, nil
}

// loadRules loads the rule file, falling back to the built-in rules when no
// path is set or the file cannot be used.
func loadRules(engine *rules.Engine, path string) {
	if path != "" {
		err := engine.Reload(path)
		if err == nil {
			return
		}
		logging.Error().Err(err).Str("path", path).Msg("Failed to load security rules; using built-in rules")
	}
	loaded, errs := engine.SetRules(rules.DefaultRules())
	for _, err := range errs {
		logging.Warn().Err(err).Msg("Built-in rule skipped")
	}
	logging.Info().Int("rules", loaded).Msg("Built-in security rules loaded")
}

// watchRules reloads the rule file when it changes and, as a fallback for
// filesystems without change events, on a timer.
func watchRules(tree *supervisor.SupervisorTree, engine *rules.Engine, cfg config.RulesConfig) {
	reload := func() {
		if err := engine.Reload(cfg.Path); err != nil {
			logging.Error().Err(err).Str("path", cfg.Path).Msg("Security rule reload failed; keeping current rules")
			return
		}
		logging.Info().Str("path", cfg.Path).Int("rules", len(engine.Rules())).Msg("Security rules reloaded")
	}
	if err := config.WatchConfigFile(cfg.Path, reload); err != nil {
		logging.Warn().Err(err).Str("path", cfg.Path).Msg("Cannot watch rule file; relying on periodic reload")
	}
	if cfg.ReloadInterval <= 0 {
		return
	}
	tree.Add(supervisor.LayerMessaging, services.NewPeriodicService("rules-reload", cfg.ReloadInterval,
		func(context.Context) (int, error) {
			if err := engine.Reload(cfg.Path); err != nil {
				return 0, err
			}
			return len(engine.Rules()), nil
		}))
}
