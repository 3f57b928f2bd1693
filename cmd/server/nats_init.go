// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package main

import (
	"fmt"

	"github.com/tomtom215/campusguard/internal/config"
	"github.com/tomtom215/campusguard/internal/eventbus"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/notify"
	"github.com/tomtom215/campusguard/internal/supervisor"
	"github.com/tomtom215/campusguard/internal/supervisor/services"
	"github.com/tomtom215/campusguard/internal/websocket"
)

// initEventBus connects to NATS and supervises the alert bridge and the
// login consumer. It returns the bus notify channel, or nil when NATS is
// disabled.
func initEventBus(cfg *config.Config, tree *supervisor.SupervisorTree, hub *websocket.Hub, analyzer eventbus.LoginAnalyzer) (*eventbus.Bus, notify.Channel, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS disabled (NATS_ENABLED=false)")
		return nil, nil, nil
	}

	bus, err := eventbus.Open(eventbus.Config{
		URL:              cfg.NATS.URL,
		EmbeddedServer:   cfg.NATS.EmbeddedServer,
		ClientName:       cfg.NATS.ClientName,
		QueueGroup:       cfg.NATS.QueueGroup,
		SubscribersCount: cfg.NATS.SubscribersCount,
		AckWait:          cfg.NATS.AckWait,
		ReconnectWait:    cfg.NATS.ReconnectWait,
	}, eventbus.NewLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("open event bus: %w", err)
	}

	if hub != nil {
		bridge := websocket.NewBridge(hub, bus.Alerts, cfg.NATS.AlertTopic, cfg.Server.InstanceID)
		tree.Add(supervisor.LayerMessaging, services.NewRunnerService("alert-bridge", bridge.Run))
	}
	consumer := eventbus.NewLoginConsumer(bus.Logins, analyzer, cfg.NATS.LoginTopic)
	tree.Add(supervisor.LayerMessaging, services.NewRunnerService("login-consumer", consumer.Run))

	logging.Info().
		Str("url", cfg.NATS.URL).
		Bool("embedded", cfg.NATS.EmbeddedServer).
		Str("alert_topic", cfg.NATS.AlertTopic).
		Str("login_topic", cfg.NATS.LoginTopic).
		Msg("Event bus connected")

	return bus, notify.NewBusChannel(bus.Publisher, cfg.NATS.AlertTopic, cfg.Server.InstanceID), nil
}
