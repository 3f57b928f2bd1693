// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

/*
Package websocket streams live security alerts to the SOC dashboard.

A single Hub owns the set of connected dashboard clients and fans out every
broadcast to them. Each Client runs a read pump (pings, close detection) and a
write pump (JSON frames, keepalive pings). Slow clients whose send buffer is
full are disconnected instead of stalling the hub.

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)
	r.Get("/ws/threats", websocket.ServeWS(hub, allowedOrigins))
	hub.BroadcastJSON(websocket.MessageTypeThreatAlert, payload)

When several instances run behind a load balancer, Bridge subscribes to the
shared alerts topic on the message bus so every instance's dashboard sees
alerts raised anywhere in the cluster.

Message types:

  - threat_alert: a rule alert or notify action fired
  - incident_update: an incident was opened or changed state
  - ping / pong: client keepalive
*/
package websocket
