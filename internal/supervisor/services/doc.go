// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

/*
Package services provides suture.Service wrappers for CampusGuard components.

Each wrapper translates a component lifecycle into suture's context-aware
Serve pattern and names the service for supervisor logs:

  - HTTPServerService wraps *http.Server with graceful shutdown.
  - RunnerService wraps any blocking Run(ctx) loop: the dashboard hub, the
    alert router, the bus bridge and the login event consumer.
  - PeriodicService runs a maintenance task on a ticker: history decay,
    counter and blocklist cleanup, incident retention and overdue sweeps,
    account cleanup, rule reloads and Badger value-log GC.

Services return ctx.Err() on normal shutdown so suture does not count it as
a failure.
*/
package services
