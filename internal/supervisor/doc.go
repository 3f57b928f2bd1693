// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

/*
Package supervisor runs CampusGuard's long-lived services under suture v4.

	RootSupervisor ("campusguard")
	├── DataSupervisor ("data-layer")
	│   ├── badger-gc
	│   ├── history-prune, counter-cleanup, blocklist-purge
	│   ├── incident-overdue-sweep, incident-purge, threat-prune
	│   ├── account-cleanup, audit-retention
	│   └── rule-reload (when a rule file is configured)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket-hub
	│   ├── alert-router
	│   ├── alert-bridge (when NATS is enabled)
	│   └── login-consumer (when NATS is enabled)
	└── APISupervisor ("api-layer")
	    └── http-server

Each layer restarts independently with exponential backoff. Supervisor
events are logged through sutureslog into the zerolog-backed slog handler
from internal/logging.

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.Add(supervisor.LayerAPI, services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("Supervisor stopped")
	}
*/
package supervisor
