// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/ratelimit"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/campusguard/config.yaml",
	"/etc/campusguard/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8443,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			JWTIssuer:       "campusguard",
			CORSOrigins:     []string{},
			AdminRateLimit:  30,
			AdminRateWindow: time.Minute,
		},
		Storage: StorageConfig{
			Path:           "/data/campusguard",
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Detection: DetectionConfig{
			BruteForceWindow:    15 * time.Minute,
			BruteForceThreshold: 5,
			BusinessStartHour:   6,
			BusinessEndHour:     22,
			Timezone:            "Local",
			SuspiciousLookback:  30 * 24 * time.Hour,
			SuspiciousThreshold: 50,
			GeoLookback:         7 * 24 * time.Hour,
			DeviceLookback:      30 * 24 * time.Hour,
			OriginHistorySize:   20,
			BehavioralWindow:    time.Hour,
			BehavioralThreshold: 50,
			FloodWindow:         time.Minute,
			FloodThreshold:      300,
			CSRFTokenHeaders:    []string{"X-CSRF-Token", "X-XSRF-Token"},
		},
		Risk: RiskConfig{
			LowPoints:      10,
			MediumPoints:   30,
			HighPoints:     60,
			CriticalPoints: 90,
			BlockScore:     80,
			BlockHighCount: 2,
		},
		RateLimit: RateLimitConfig{
			Store:              "memory",
			Policies:           defaultPolicies(),
			CleanupInterval:    time.Minute,
			BreakerFailures:    5,
			BreakerOpenTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "127.0.0.1:6379",
			KeyPrefix:    "campusguard:rl:",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			PoolSize:     20,
		},
		Fraud: FraudConfig{
			ReasonScores:    fraud.DefaultReasonScores(),
			IPMultiplier:    10,
			IPCap:           50,
			EmailMultiplier: 15,
			EmailCap:        60,
			HistoryWindow:   24 * time.Hour,
			BlockThreshold:  80,
			BlockTTL:        fraud.DefaultBlockTTL,
			PurgeInterval:   time.Hour,
		},
		Rules: RulesConfig{
			ReloadInterval: time.Minute,
			RegexCacheSize: 256,
		},
		Incident: IncidentConfig{
			Retention:           2 * 365 * 24 * time.Hour,
			ContainSLA:          4 * time.Hour,
			NotifySLA:           time.Hour,
			AutoCreateThreshold: 90,
			SweepInterval:       5 * time.Minute,
			PurgeInterval:       24 * time.Hour,
			ThreatRetention:     7 * 24 * time.Hour,
		},
		History: HistoryConfig{
			MaxEventsPerActor:  200,
			MaxActors:          100_000,
			MaxEventsPerSource: 1_000,
			MaxSources:         50_000,
			MaxLoginsPerUser:   100,
			Retention:          24 * time.Hour,
			LoginRetention:     30 * 24 * time.Hour,
			PruneInterval:      10 * time.Minute,
		},
		Account: AccountConfig{
			MaxLock:         24 * time.Hour,
			Idle:            24 * time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:       true,
			LogLevel:      "info",
			RetentionDays: 365,
			BufferSize:    1000,
			MaxEvents:     100_000,
			LogToStdout:   true,
		},
		Notify: NotifyConfig{
			QueueSize:        1000,
			Workers:          4,
			SendTimeout:      10 * time.Second,
			WebhookInterval:  500 * time.Millisecond,
			WebhookBurst:     5,
			WebhookTimeout:   10 * time.Second,
			DashboardEnabled: true,
			AllowedOrigins:   []string{},
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			ClientName:       "campusguard",
			AlertTopic:       "security.alerts",
			LoginTopic:       "identity.logins",
			QueueGroup:       "campusguard",
			SubscribersCount: 2,
			AckWait:          30 * time.Second,
			ReconnectWait:    2 * time.Second,
		},
	}
}

func defaultPolicies() []PolicyConfig {
	defaults := ratelimit.DefaultPolicies()
	out := make([]PolicyConfig, 0, len(defaults))
	for _, p := range defaults {
		out = append(out, PolicyConfig{
			Name:     p.Name,
			Limit:    p.Limit,
			Window:   p.Window,
			FailMode: string(p.FailMode),
		})
	}
	return out
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, then validates it.
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

// LoadWithKoanf loads configuration using Koanf with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	return loadFrom(findConfigFile())
}

func loadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// JWT_SECRET -> security.jwt_secret
	// REDIS_ADDR -> redis.addr
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"security.api_key_hashes",
	"security.cors_origins",
	"detection.disabled",
	"detection.csrf_token_headers",
	"detection.csrf_exempt_paths",
	"notify.allowed_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_port":        "server.port",
	"http_host":        "server.host",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",
	"instance_id":      "server.instance_id",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Security
	"api_key_hashes":     "security.api_key_hashes",
	"jwt_secret":         "security.jwt_secret",
	"jwt_issuer":         "security.jwt_issuer",
	"cors_origins":       "security.cors_origins",
	"admin_rate_limit":   "security.admin_rate_limit",
	"admin_rate_window":  "security.admin_rate_window",
	"casbin_model_path":  "security.casbin.model_path",
	"casbin_policy_path": "security.casbin.policy_path",

	// Storage
	"badger_path":      "storage.path",
	"badger_in_memory": "storage.in_memory",
	"badger_gc":        "storage.gc_interval",

	// Detection
	"disabled_detectors":    "detection.disabled",
	"brute_force_window":    "detection.brute_force_window",
	"brute_force_threshold": "detection.brute_force_threshold",
	"business_start_hour":   "detection.business_start_hour",
	"business_end_hour":     "detection.business_end_hour",
	"detection_timezone":    "detection.timezone",
	"flood_threshold":       "detection.flood_threshold",
	"csrf_exempt_paths":     "detection.csrf_exempt_paths",

	// Rate limiting
	"ratelimit_store":            "ratelimit.store",
	"ratelimit_cleanup_interval": "ratelimit.cleanup_interval",
	"redis_addr":                 "redis.addr",
	"redis_password":             "redis.password",
	"redis_db":                   "redis.db",
	"redis_key_prefix":           "redis.key_prefix",
	"redis_pool_size":            "redis.pool_size",

	// Fraud
	"fraud_block_threshold": "fraud.block_threshold",
	"fraud_block_ttl":       "fraud.block_ttl",

	// Rules
	"rules_path":            "rules.path",
	"rules_reload_interval": "rules.reload_interval",

	// Incidents
	"incident_auto_create_threshold": "incident.auto_create_threshold",
	"incident_retention":             "incident.retention",
	"incident_sweep_interval":        "incident.sweep_interval",

	// Audit
	"audit_enabled":        "audit.enabled",
	"audit_log_level":      "audit.log_level",
	"audit_retention_days": "audit.retention_days",
	"audit_log_to_stdout":  "audit.log_to_stdout",

	// Notify
	"webhook_url":        "notify.webhook_url",
	"webhook_interval":   "notify.webhook_interval",
	"dashboard_enabled":  "notify.dashboard_enabled",
	"ws_allowed_origins": "notify.allowed_origins",

	// NATS
	"nats_enabled":     "nats.enabled",
	"nats_url":         "nats.url",
	"nats_embedded":    "nats.embedded_server",
	"nats_alert_topic": "nats.alert_topic",
	"nats_login_topic": "nats.login_topic",
	"nats_queue_group": "nats.queue_group",
	"nats_subscribers": "nats.subscribers_count",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - JWT_SECRET -> security.jwt_secret
//   - REDIS_ADDR -> redis.addr
//   - RULES_PATH -> rules.path
//
// Unmapped variables return "" and are skipped so random environment
// variables cannot pollute the config.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// WatchConfigFile calls callback whenever the file at path changes. The
// caller owns any locking around the reloaded configuration.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
