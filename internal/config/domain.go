// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package config

import (
	"time"

	"github.com/tomtom215/campusguard/internal/account"
	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/guard"
	"github.com/tomtom215/campusguard/internal/history"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/notify"
	"github.com/tomtom215/campusguard/internal/ratelimit"
	"github.com/tomtom215/campusguard/internal/risk"
	"github.com/tomtom215/campusguard/internal/threat"
)

// The methods below translate validated sections into the option structs
// each package accepts.

// BruteForce returns the brute force detector settings.
func (d DetectionConfig) BruteForce() threat.BruteForceConfig {
	return threat.BruteForceConfig{Window: d.BruteForceWindow, Threshold: d.BruteForceThreshold}
}

// SuspiciousLogin returns the suspicious login detector settings. An
// unloadable timezone falls back to the host's local time.
func (d DetectionConfig) SuspiciousLogin() threat.SuspiciousLoginConfig {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		loc = time.Local
	}
	return threat.SuspiciousLoginConfig{
		BusinessStartHour: d.BusinessStartHour,
		BusinessEndHour:   d.BusinessEndHour,
		Lookback:          d.SuspiciousLookback,
		Threshold:         d.SuspiciousThreshold,
		Location:          loc,
	}
}

// GeoAnomaly returns the geographic anomaly detector settings.
func (d DetectionConfig) GeoAnomaly() threat.OriginAnomalyConfig {
	cfg := threat.DefaultGeoAnomalyConfig()
	cfg.Lookback = d.GeoLookback
	cfg.HistorySize = d.OriginHistorySize
	return cfg
}

// DeviceAnomaly returns the device anomaly detector settings.
func (d DetectionConfig) DeviceAnomaly() threat.OriginAnomalyConfig {
	cfg := threat.DefaultDeviceAnomalyConfig()
	cfg.Lookback = d.DeviceLookback
	cfg.HistorySize = d.OriginHistorySize
	return cfg
}

// Behavioral returns the behavioral anomaly detector settings.
func (d DetectionConfig) Behavioral() threat.BehavioralConfig {
	return threat.BehavioralConfig{Window: d.BehavioralWindow, Threshold: d.BehavioralThreshold}
}

// Flood returns the request flood detector settings.
func (d DetectionConfig) Flood() threat.FloodConfig {
	return threat.FloodConfig{Window: d.FloodWindow, Threshold: d.FloodThreshold}
}

// CSRF returns the forged-request detector settings.
func (d DetectionConfig) CSRF() threat.CSRFConfig {
	return threat.CSRFConfig{TokenHeaders: d.CSRFTokenHeaders, ExemptPaths: d.CSRFExemptPaths}
}

// Scorer returns the risk scorer settings.
func (r RiskConfig) Scorer() risk.Config {
	return risk.Config{
		LowPoints:      r.LowPoints,
		MediumPoints:   r.MediumPoints,
		HighPoints:     r.HighPoints,
		CriticalPoints: r.CriticalPoints,
		BlockScore:     r.BlockScore,
		BlockHighCount: r.BlockHighCount,
	}
}

// PolicyList returns the configured rate limit policies.
func (rl RateLimitConfig) PolicyList() []ratelimit.Policy {
	out := make([]ratelimit.Policy, 0, len(rl.Policies))
	for _, p := range rl.Policies {
		out = append(out, ratelimit.Policy{
			Name:     p.Name,
			Limit:    p.Limit,
			Window:   p.Window,
			FailMode: ratelimit.FailMode(p.FailMode),
		})
	}
	return out
}

// Breaker returns the circuit breaker settings for the counter store.
func (rl RateLimitConfig) Breaker() ratelimit.BreakerConfig {
	cfg := ratelimit.DefaultBreakerConfig()
	cfg.FailureThreshold = rl.BreakerFailures
	cfg.OpenTimeout = rl.BreakerOpenTimeout
	return cfg
}

// Store returns the Redis counter store settings.
func (r RedisConfig) Store() ratelimit.RedisConfig {
	return ratelimit.RedisConfig{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		KeyPrefix:    r.KeyPrefix,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
		PoolSize:     r.PoolSize,
	}
}

// Scorer returns the registration scorer settings. Configured reason scores
// override the built-in ones key by key.
func (f FraudConfig) Scorer() fraud.Config {
	cfg := fraud.DefaultConfig()
	for reason, score := range f.ReasonScores {
		cfg.ReasonScores[reason] = score
	}
	cfg.IPMultiplier = f.IPMultiplier
	cfg.IPCap = f.IPCap
	cfg.EmailMultiplier = f.EmailMultiplier
	cfg.EmailCap = f.EmailCap
	cfg.HistoryWindow = f.HistoryWindow
	cfg.BlockThreshold = f.BlockThreshold
	cfg.BlockTTL = f.BlockTTL
	return cfg
}

// Tracker returns the incident tracker settings.
func (i IncidentConfig) Tracker() incident.Config {
	cfg := incident.DefaultConfig()
	cfg.Retention = i.Retention
	cfg.ContainSLA = i.ContainSLA
	cfg.NotifySLA = i.NotifySLA
	return cfg
}

// Guard returns the facade settings.
func (i IncidentConfig) Guard() guard.Config {
	cfg := guard.DefaultConfig()
	cfg.AutoCreateThreshold = i.AutoCreateThreshold
	return cfg
}

// Store returns the event history settings.
func (h HistoryConfig) Store() history.Config {
	return history.Config{
		MaxEventsPerActor:  h.MaxEventsPerActor,
		MaxActors:          h.MaxActors,
		MaxEventsPerSource: h.MaxEventsPerSource,
		MaxSources:         h.MaxSources,
		MaxLoginsPerUser:   h.MaxLoginsPerUser,
		Retention:          h.Retention,
		LoginRetention:     h.LoginRetention,
		PruneInterval:      h.PruneInterval,
	}
}

// Manager returns the account state settings.
func (a AccountConfig) Manager() account.Config {
	return account.Config{MaxLock: a.MaxLock, Idle: a.Idle, CleanupInterval: a.CleanupInterval}
}

// Logger returns the audit logger settings.
func (a AuditConfig) Logger() *audit.Config {
	return &audit.Config{
		Enabled:       a.Enabled,
		LogLevel:      audit.Severity(a.LogLevel),
		RetentionDays: a.RetentionDays,
		BufferSize:    a.BufferSize,
		LogToStdout:   a.LogToStdout,
	}
}

// Router returns the alert router settings.
func (n NotifyConfig) Router() notify.RouterConfig {
	return notify.RouterConfig{QueueSize: n.QueueSize, Workers: n.Workers, SendTimeout: n.SendTimeout}
}

// Webhook returns the webhook channel settings.
func (n NotifyConfig) Webhook() notify.WebhookConfig {
	return notify.WebhookConfig{
		URL:      n.WebhookURL,
		Headers:  n.WebhookHeaders,
		Interval: n.WebhookInterval,
		Burst:    n.WebhookBurst,
		Timeout:  n.WebhookTimeout,
	}
}
