// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

/*
Package main is the entry point for the CampusGuard server.

CampusGuard screens the university identity platform's logins, registrations
and HTTP requests for attacks, scores risk, enforces rate limits, runs
response rules and tracks security incidents through their lifecycle.

# Application Architecture

The server runs under a Suture v4 supervisor tree:

	RootSupervisor ("campusguard")
	├── DataSupervisor ("data-layer")
	│   ├── Badger value-log GC
	│   └── Maintenance sweeps (history, threats, incidents, accounts,
	│       counters, audit retention)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Dashboard WebSocket hub
	│   ├── Alert router (log, webhook, dashboard, bus)
	│   ├── Rule file watcher
	│   └── NATS alert bridge and login consumer (optional)
	└── APISupervisor ("api-layer")
	    └── HTTP server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config file and environment
 2. Logging: zerolog with JSON/console output
 3. Storage: BadgerDB for incidents, account state and the blocklist
 4. Counters: in-memory, or Redis behind a circuit breaker
 5. Detection: threat detectors, risk scorer, rule engine
 6. Incidents: tracker rebuilt from Badger
 7. Alerting: notify router, dashboard hub, NATS bus
 8. HTTP: chi router with API-key and JWT/Casbin groups

# Configuration

See internal/config for every key. The most common:

	CONFIG_PATH            YAML config file
	HTTP_PORT              listen port (default 8443)
	BADGER_PATH            data directory
	JWT_SECRET             HS256 secret for operator tokens (required in production)
	API_KEY_HASHES         bcrypt hashes of analysis API keys (required in production)
	RATELIMIT_STORE        memory or redis
	REDIS_ADDR             Redis address for shared counters
	RULES_PATH             YAML security rules; reloaded on change
	NATS_ENABLED           publish alerts and consume login events over NATS

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains within
SHUTDOWN_TIMEOUT, the audit log flushes and Badger closes.
*/
package main
