// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package websocket

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/campusguard/internal/logging"
)

// MetadataOrigin carries the publishing instance id on bus messages.
const MetadataOrigin = "origin"

// Bridge forwards alerts published on the message bus to the local hub.
// Messages published by this instance are skipped; they already reached the
// hub directly.
type Bridge struct {
	hub        *Hub
	subscriber message.Subscriber
	topic      string
	instanceID string
}

// NewBridge creates a bridge for topic.
func NewBridge(hub *Hub, subscriber message.Subscriber, topic, instanceID string) *Bridge {
	return &Bridge{hub: hub, subscriber: subscriber, topic: topic, instanceID: instanceID}
}

// Run consumes the topic until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	logging.Info().Str("topic", b.topic).Msg("Dashboard bridge subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(msg)
		}
	}
}

func (b *Bridge) handle(msg *message.Message) {
	// a malformed alert is never going to decode; ack it so it is not redelivered
	defer msg.Ack()

	if b.instanceID != "" && msg.Metadata.Get(MetadataOrigin) == b.instanceID {
		return
	}
	var m Message
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Discarding undecodable dashboard alert")
		return
	}
	if m.Type == "" {
		m.Type = MessageTypeThreatAlert
	}
	b.hub.BroadcastJSON(m.Type, m.Data)
}
