// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/campusguard/internal/websocket"
)

// BusChannel publishes alerts to a message-bus topic. The payload is a
// dashboard frame so websocket bridges on other instances can relay it.
type BusChannel struct {
	publisher  message.Publisher
	topic      string
	instanceID string
}

// NewBusChannel creates the channel.
func NewBusChannel(publisher message.Publisher, topic, instanceID string) *BusChannel {
	return &BusChannel{publisher: publisher, topic: topic, instanceID: instanceID}
}

// Name implements Channel.
func (b *BusChannel) Name() string { return ChannelBus }

// Send implements Channel.
func (b *BusChannel) Send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(websocket.Message{Type: frameType(msg), Data: msg})
	if err != nil {
		return fmt.Errorf("marshal bus alert: %w", err)
	}
	out := message.NewMessage(msg.ID, body)
	out.SetContext(ctx)
	out.Metadata.Set("type", msg.Type)
	out.Metadata.Set(websocket.MetadataOrigin, b.instanceID)
	if err := b.publisher.Publish(b.topic, out); err != nil {
		return fmt.Errorf("publish alert to %s: %w", b.topic, err)
	}
	return nil
}

// Broadcaster is the part of the dashboard hub the dashboard channel uses.
type Broadcaster interface {
	BroadcastJSON(messageType string, data any) bool
}

// DashboardChannel pushes alerts to connected SOC dashboards.
type DashboardChannel struct {
	hub Broadcaster
}

// NewDashboardChannel creates the channel.
func NewDashboardChannel(hub Broadcaster) *DashboardChannel {
	return &DashboardChannel{hub: hub}
}

// Name implements Channel.
func (d *DashboardChannel) Name() string { return ChannelDashboard }

// Send implements Channel.
func (d *DashboardChannel) Send(_ context.Context, msg *Message) error {
	if !d.hub.BroadcastJSON(frameType(msg), msg) {
		return fmt.Errorf("dashboard queue full")
	}
	return nil
}

// MessageTypeIncident marks alerts about incident lifecycle changes.
const MessageTypeIncident = "incident"

func frameType(msg *Message) string {
	if strings.HasPrefix(msg.Type, MessageTypeIncident) {
		return websocket.MessageTypeIncidentUpdate
	}
	return websocket.MessageTypeThreatAlert
}
