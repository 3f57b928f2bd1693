// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateSecurity,
		c.validateStorage,
		c.validateDetection,
		c.validateHistory,
		c.validateRisk,
		c.validateRateLimit,
		c.validateFraud,
		c.validateIncident,
		c.validateAudit,
		c.validateNotify,
		c.validateNATS,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "" || env == "development" || env == "dev"
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

const (
	minJWTSecretLength  = 32
	minAdminRateLimit   = 1
	maxAdminRateLimit   = 100000
	minAdminRateWindow  = time.Second
	maxAdminRateWindow  = time.Hour
	bcryptHashLength    = 60
	wildcardCORSMessage = "CORS_ORIGINS=* (wildcard) is not allowed in production. " +
		"Set specific origins: CORS_ORIGINS=https://security.example.edu"
)

// validateSecurity requires admin credentials in production. In development
// an empty JWT secret leaves the admin routes unreachable and an empty key
// list leaves the analysis routes open.
func (c *Config) validateSecurity() error {
	s := c.Security
	if s.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required when ENVIRONMENT=production")
		}
	} else {
		if len(s.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters for security", minJWTSecretLength)
		}
		if containsPlaceholder(s.JWTSecret) {
			return fmt.Errorf("JWT_SECRET contains a placeholder value - generate a secure secret with: openssl rand -base64 32")
		}
	}

	if len(s.APIKeyHashes) == 0 && c.IsProduction() {
		return fmt.Errorf("API_KEY_HASHES is required when ENVIRONMENT=production")
	}
	for i, h := range s.APIKeyHashes {
		if !isBcryptHash(h) {
			return fmt.Errorf("API_KEY_HASHES entry %d is not a bcrypt hash", i)
		}
	}

	if c.IsProduction() && c.hasWildcardCORS() {
		return errors.New(wildcardCORSMessage)
	}

	if s.AdminRateLimit < minAdminRateLimit || s.AdminRateLimit > maxAdminRateLimit {
		return fmt.Errorf("ADMIN_RATE_LIMIT must be between %d and %d", minAdminRateLimit, maxAdminRateLimit)
	}
	if s.AdminRateWindow < minAdminRateWindow || s.AdminRateWindow > maxAdminRateWindow {
		return fmt.Errorf("ADMIN_RATE_WINDOW must be between %v and %v", minAdminRateWindow, maxAdminRateWindow)
	}
	return nil
}

func isBcryptHash(h string) bool {
	if len(h) != bcryptHashLength {
		return false
	}
	return strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$") || strings.HasPrefix(h, "$2y$")
}

func (c *Config) hasWildcardCORS() bool {
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// ShouldWarnAboutCORS returns true if CORS configuration has security concerns
// that should be logged at startup
func (c *Config) ShouldWarnAboutCORS() bool {
	return c.hasWildcardCORS()
}

func (c *Config) validateStorage() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("BADGER_PATH is required unless storage.in_memory is set")
	}
	if c.Storage.GCDiscardRatio <= 0 || c.Storage.GCDiscardRatio >= 1 {
		return fmt.Errorf("storage.gc_discard_ratio must be between 0 and 1 exclusive")
	}
	return nil
}

func (c *Config) validateDetection() error {
	d := c.Detection
	if d.BruteForceWindow <= 0 || d.BruteForceThreshold < 1 {
		return fmt.Errorf("BRUTE_FORCE_WINDOW and BRUTE_FORCE_THRESHOLD must be positive")
	}
	if d.BusinessStartHour < 0 || d.BusinessEndHour > 24 || d.BusinessStartHour >= d.BusinessEndHour {
		return fmt.Errorf("business hours %d-%d are invalid", d.BusinessStartHour, d.BusinessEndHour)
	}
	if _, err := time.LoadLocation(d.Timezone); err != nil {
		return fmt.Errorf("DETECTION_TIMEZONE is invalid: %w", err)
	}
	if d.OriginHistorySize < 1 || d.GeoLookback <= 0 || d.DeviceLookback <= 0 {
		return fmt.Errorf("origin anomaly lookback and history size must be positive")
	}
	if d.BehavioralWindow <= 0 || d.BehavioralThreshold < 1 {
		return fmt.Errorf("behavioral window and threshold must be positive")
	}
	if d.FloodWindow <= 0 || d.FloodThreshold < 1 {
		return fmt.Errorf("FLOOD_THRESHOLD and flood window must be positive")
	}
	if len(d.CSRFTokenHeaders) == 0 {
		return fmt.Errorf("detection.csrf_token_headers must not be empty")
	}
	return nil
}

// validateHistory checks the history bounds against the detectors reading
// them. A ring smaller than a threshold, or a retention shorter than a
// lookback, silently caps what the detector can ever see.
func (c *Config) validateHistory() error {
	h, d := c.History, c.Detection
	if h.MaxEventsPerActor < 1 || h.MaxActors < 1 || h.MaxEventsPerSource < 1 ||
		h.MaxSources < 1 || h.MaxLoginsPerUser < 1 {
		return fmt.Errorf("history sizes must be positive")
	}
	if h.Retention <= 0 || h.LoginRetention <= 0 {
		return fmt.Errorf("history.retention and history.login_retention must be positive")
	}
	if h.MaxEventsPerSource < d.FloodThreshold {
		return fmt.Errorf("history.max_events_per_source (%d) must be at least FLOOD_THRESHOLD (%d)",
			h.MaxEventsPerSource, d.FloodThreshold)
	}
	if h.MaxEventsPerActor < d.BehavioralThreshold {
		return fmt.Errorf("history.max_events_per_actor (%d) must be at least detection.behavioral_threshold (%d)",
			h.MaxEventsPerActor, d.BehavioralThreshold)
	}
	if h.MaxLoginsPerUser < max(d.BruteForceThreshold, d.OriginHistorySize) {
		return fmt.Errorf("history.max_logins_per_user (%d) must cover BRUTE_FORCE_THRESHOLD and detection.origin_history_size",
			h.MaxLoginsPerUser)
	}
	if h.Retention < max(d.FloodWindow, d.BehavioralWindow) {
		return fmt.Errorf("history.retention (%s) is shorter than the flood or behavioral window", h.Retention)
	}
	if h.LoginRetention < max(d.GeoLookback, d.DeviceLookback, d.SuspiciousLookback, d.BruteForceWindow) {
		return fmt.Errorf("history.login_retention (%s) is shorter than a login lookback", h.LoginRetention)
	}
	return nil
}

func (c *Config) validateRisk() error {
	r := c.Risk
	points := []int{r.LowPoints, r.MediumPoints, r.HighPoints, r.CriticalPoints}
	for i, p := range points {
		if p < 0 || p > 100 {
			return fmt.Errorf("risk points must be between 0 and 100")
		}
		if i > 0 && p < points[i-1] {
			return fmt.Errorf("risk points must not decrease with severity")
		}
	}
	if r.BlockScore < 1 || r.BlockScore > 100 {
		return fmt.Errorf("risk.block_score must be between 1 and 100")
	}
	if r.BlockHighCount < 1 {
		return fmt.Errorf("risk.block_high_count must be at least 1")
	}
	return nil
}

var policyNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func (c *Config) validateRateLimit() error {
	rl := c.RateLimit
	switch rl.Store {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATELIMIT_STORE=redis")
		}
	default:
		return fmt.Errorf("RATELIMIT_STORE must be one of: memory, redis")
	}

	seen := make(map[string]bool, len(rl.Policies))
	for _, p := range rl.Policies {
		if !policyNamePattern.MatchString(p.Name) {
			return fmt.Errorf("rate limit policy name %q is invalid", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("rate limit policy %q is defined twice", p.Name)
		}
		seen[p.Name] = true
		if p.Limit < 1 || p.Window <= 0 {
			return fmt.Errorf("rate limit policy %q needs a positive limit and window", p.Name)
		}
		if p.FailMode != "" && p.FailMode != "open" && p.FailMode != "closed" {
			return fmt.Errorf("rate limit policy %q fail_mode must be open or closed", p.Name)
		}
	}
	if rl.BreakerFailures < 1 {
		return fmt.Errorf("ratelimit.breaker_failures must be at least 1")
	}
	return nil
}

func (c *Config) validateFraud() error {
	f := c.Fraud
	if f.BlockThreshold < 1 || f.BlockThreshold > 100 {
		return fmt.Errorf("FRAUD_BLOCK_THRESHOLD must be between 1 and 100")
	}
	if f.BlockTTL <= 0 || f.HistoryWindow <= 0 {
		return fmt.Errorf("FRAUD_BLOCK_TTL and fraud.history_window must be positive")
	}
	for reason, score := range f.ReasonScores {
		if score < 0 || score > 100 {
			return fmt.Errorf("fraud reason %q score must be between 0 and 100", reason)
		}
	}
	return nil
}

func (c *Config) validateIncident() error {
	if c.Incident.AutoCreateThreshold < 1 || c.Incident.AutoCreateThreshold > 100 {
		return fmt.Errorf("INCIDENT_AUTO_CREATE_THRESHOLD must be between 1 and 100")
	}
	if c.Incident.Retention <= 0 {
		return fmt.Errorf("INCIDENT_RETENTION must be positive")
	}
	if c.Incident.ThreatRetention <= 0 {
		return fmt.Errorf("incident.threat_retention must be positive")
	}
	return nil
}

var validAuditLevels = map[string]bool{
	"debug":    true,
	"info":     true,
	"warning":  true,
	"error":    true,
	"critical": true,
}

func (c *Config) validateAudit() error {
	if !validAuditLevels[c.Audit.LogLevel] {
		return fmt.Errorf("AUDIT_LOG_LEVEL must be one of: debug, info, warning, error, critical")
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit.buffer_size must be at least 1")
	}
	return nil
}

func (c *Config) validateNotify() error {
	n := c.Notify
	if n.QueueSize < 1 || n.Workers < 1 {
		return fmt.Errorf("notify.queue_size and notify.workers must be positive")
	}
	if n.WebhookURL != "" {
		if err := validateWebhookURL(n.WebhookURL, c.IsProduction()); err != nil {
			return fmt.Errorf("WEBHOOK_URL is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	if c.NATS.AlertTopic == "" || c.NATS.LoginTopic == "" {
		return fmt.Errorf("NATS alert and login topics are required when NATS_ENABLED=true")
	}
	if c.NATS.SubscribersCount < 1 || c.NATS.SubscribersCount > 64 {
		return fmt.Errorf("NATS_SUBSCRIBERS must be between 1 and 64")
	}
	return nil
}

// placeholderPatterns are values that show the operator forgot to set a
// real secret.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
