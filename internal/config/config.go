// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package config loads CampusGuard configuration with Koanf v2.
//
// Sources are layered, later ones winning:
//  1. Built-in defaults (defaultConfig)
//  2. An optional YAML file found via CONFIG_PATH or DefaultConfigPaths
//  3. Environment variables listed in envTransformFunc
//
// Config is immutable after Load and safe for concurrent reads. A config that
// fails Validate stops the process at startup; a rate-limit policy that is
// simply absent is not a startup error and surfaces per call instead.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Security  SecurityConfig  `koanf:"security"`
	Storage   StorageConfig   `koanf:"storage"`
	Detection DetectionConfig `koanf:"detection"`
	Risk      RiskConfig      `koanf:"risk"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Redis     RedisConfig     `koanf:"redis"`
	Fraud     FraudConfig     `koanf:"fraud"`
	Rules     RulesConfig     `koanf:"rules"`
	Incident  IncidentConfig  `koanf:"incident"`
	History   HistoryConfig   `koanf:"history"`
	Account   AccountConfig   `koanf:"account"`
	Audit     AuditConfig     `koanf:"audit"`
	Notify    NotifyConfig    `koanf:"notify"`
	NATS      NATSConfig      `koanf:"nats"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// Environment is development, staging or production.
	Environment string `koanf:"environment"`
	// InstanceID tags alerts this process publishes so it can skip its own
	// messages on the bus. Generated at startup when empty.
	InstanceID string `koanf:"instance_id"`
}

// LoggingConfig holds zerolog settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SecurityConfig covers who may call the API.
type SecurityConfig struct {
	// APIKeyHashes are bcrypt hashes of the keys analysis callers present
	// in X-API-Key.
	APIKeyHashes []string `koanf:"api_key_hashes"`
	// JWTSecret verifies HS256 admin bearer tokens.
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`
	// CORSOrigins are the admin console origins.
	CORSOrigins []string `koanf:"cors_origins"`
	// AdminRateLimit caps admin requests per IP per AdminRateWindow.
	AdminRateLimit  int           `koanf:"admin_rate_limit"`
	AdminRateWindow time.Duration `koanf:"admin_rate_window"`
	Casbin          CasbinConfig  `koanf:"casbin"`
}

// CasbinConfig points at optional model and policy files. Empty paths use
// the embedded defaults.
type CasbinConfig struct {
	ModelPath  string `koanf:"model_path"`
	PolicyPath string `koanf:"policy_path"`
}

// StorageConfig configures the BadgerDB database holding incidents, the
// blocklist and account state.
type StorageConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
	// GCInterval is how often value-log garbage collection runs.
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio"`
}

// DetectionConfig tunes the detectors.
type DetectionConfig struct {
	// Disabled lists detector types that start switched off.
	Disabled []string `koanf:"disabled"`

	BruteForceWindow    time.Duration `koanf:"brute_force_window"`
	BruteForceThreshold int           `koanf:"brute_force_threshold"`

	BusinessStartHour   int           `koanf:"business_start_hour"`
	BusinessEndHour     int           `koanf:"business_end_hour"`
	Timezone            string        `koanf:"timezone"`
	SuspiciousLookback  time.Duration `koanf:"suspicious_lookback"`
	SuspiciousThreshold int           `koanf:"suspicious_threshold"`

	GeoLookback       time.Duration `koanf:"geo_lookback"`
	DeviceLookback    time.Duration `koanf:"device_lookback"`
	OriginHistorySize int           `koanf:"origin_history_size"`

	BehavioralWindow    time.Duration `koanf:"behavioral_window"`
	BehavioralThreshold int           `koanf:"behavioral_threshold"`

	FloodWindow    time.Duration `koanf:"flood_window"`
	FloodThreshold int           `koanf:"flood_threshold"`

	CSRFTokenHeaders []string `koanf:"csrf_token_headers"`
	CSRFExemptPaths  []string `koanf:"csrf_exempt_paths"`
}

// RiskConfig holds severity weights and block thresholds.
type RiskConfig struct {
	LowPoints      int `koanf:"low_points"`
	MediumPoints   int `koanf:"medium_points"`
	HighPoints     int `koanf:"high_points"`
	CriticalPoints int `koanf:"critical_points"`
	BlockScore     int `koanf:"block_score"`
	BlockHighCount int `koanf:"block_high_count"`
}

// RateLimitConfig holds the named policies and the counter store choice.
type RateLimitConfig struct {
	// Store is memory or redis.
	Store           string         `koanf:"store"`
	Policies        []PolicyConfig `koanf:"policies"`
	CleanupInterval time.Duration  `koanf:"cleanup_interval"`

	BreakerFailures    uint32        `koanf:"breaker_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// PolicyConfig is one named quota.
type PolicyConfig struct {
	Name   string        `koanf:"name"`
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
	// FailMode is open or closed; empty picks closed for authentication
	// policies and open for the rest.
	FailMode string `koanf:"fail_mode"`
}

// RedisConfig configures the shared counter store.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	KeyPrefix    string        `koanf:"key_prefix"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PoolSize     int           `koanf:"pool_size"`
}

// FraudConfig tunes registration scoring.
type FraudConfig struct {
	ReasonScores    map[string]int `koanf:"reason_scores"`
	IPMultiplier    int            `koanf:"ip_multiplier"`
	IPCap           int            `koanf:"ip_cap"`
	EmailMultiplier int            `koanf:"email_multiplier"`
	EmailCap        int            `koanf:"email_cap"`
	HistoryWindow   time.Duration  `koanf:"history_window"`
	BlockThreshold  int            `koanf:"block_threshold"`
	BlockTTL        time.Duration  `koanf:"block_ttl"`
	// PurgeInterval is how often expired blocklist entries are swept.
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

// RulesConfig points at the security rule file. Without a path the
// built-in rules are used.
type RulesConfig struct {
	Path           string        `koanf:"path"`
	ReloadInterval time.Duration `koanf:"reload_interval"`
	// RegexCacheSize bounds compiled regex conditions.
	RegexCacheSize int `koanf:"regex_cache_size"`
}

// IncidentConfig tunes the incident tracker.
type IncidentConfig struct {
	Retention           time.Duration `koanf:"retention"`
	ContainSLA          time.Duration `koanf:"contain_sla"`
	NotifySLA           time.Duration `koanf:"notify_sla"`
	AutoCreateThreshold int           `koanf:"auto_create_threshold"`
	SweepInterval       time.Duration `koanf:"sweep_interval"`
	PurgeInterval       time.Duration `koanf:"purge_interval"`
	// ThreatRetention is how long indicators stay in the registry, counted from
	// resolution, or from detection for indicators never resolved.
	ThreatRetention time.Duration `koanf:"threat_retention"`
}

// HistoryConfig bounds the in-memory event history.
type HistoryConfig struct {
	MaxEventsPerActor  int `koanf:"max_events_per_actor"`
	MaxActors          int `koanf:"max_actors"`
	MaxEventsPerSource int `koanf:"max_events_per_source"`
	MaxSources         int `koanf:"max_sources"`
	MaxLoginsPerUser   int `koanf:"max_logins_per_user"`
	// Retention applies to actor and source activity; LoginRetention to the
	// per-user login index the origin detectors read.
	Retention      time.Duration `koanf:"retention"`
	LoginRetention time.Duration `koanf:"login_retention"`
	PruneInterval  time.Duration `koanf:"prune_interval"`
}

// AccountConfig bounds account locks.
type AccountConfig struct {
	MaxLock         time.Duration `koanf:"max_lock"`
	Idle            time.Duration `koanf:"idle"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled       bool   `koanf:"enabled"`
	LogLevel      string `koanf:"log_level"`
	RetentionDays int    `koanf:"retention_days"`
	BufferSize    int    `koanf:"buffer_size"`
	MaxEvents     int    `koanf:"max_events"`
	LogToStdout   bool   `koanf:"log_to_stdout"`
}

// NotifyConfig configures alert delivery.
type NotifyConfig struct {
	QueueSize   int           `koanf:"queue_size"`
	Workers     int           `koanf:"workers"`
	SendTimeout time.Duration `koanf:"send_timeout"`

	WebhookURL      string            `koanf:"webhook_url"`
	WebhookHeaders  map[string]string `koanf:"webhook_headers"`
	WebhookInterval time.Duration     `koanf:"webhook_interval"`
	WebhookBurst    int               `koanf:"webhook_burst"`
	WebhookTimeout  time.Duration     `koanf:"webhook_timeout"`

	// DashboardEnabled serves /ws/threats and routes dashboard alerts.
	DashboardEnabled bool     `koanf:"dashboard_enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
}

// NATSConfig configures the message bus.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// EmbeddedServer starts an in-process NATS server on URL's port.
	EmbeddedServer bool   `koanf:"embedded_server"`
	ClientName     string `koanf:"client_name"`
	// AlertTopic carries alerts between instances.
	AlertTopic string `koanf:"alert_topic"`
	// LoginTopic carries login events from identity providers.
	LoginTopic string `koanf:"login_topic"`
	QueueGroup string `koanf:"queue_group"`
	// SubscribersCount is how many consumers share LoginTopic.
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWait          time.Duration `koanf:"ack_wait"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
}
