// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/campusguard/internal/guard"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
	"github.com/tomtom215/campusguard/internal/validation"
)

// MetadataRequestID carries the publisher's request id on login events.
const MetadataRequestID = "request_id"

// LoginAnalyzer is the part of the guard the consumer drives.
type LoginAnalyzer interface {
	AnalyzeLoginAttempt(ctx context.Context, attempt guard.LoginAttempt) (*guard.LoginResult, error)
}

// LoginConsumer feeds login events published by identity providers into
// login analysis. The payload is a JSON guard.LoginAttempt.
//
// Events that will never analyze (undecodable or failing validation) are
// acked and dropped. Analysis failures are nacked for redelivery.
type LoginConsumer struct {
	subscriber message.Subscriber
	analyzer   LoginAnalyzer
	topic      string
}

// NewLoginConsumer creates a consumer for topic.
func NewLoginConsumer(subscriber message.Subscriber, analyzer LoginAnalyzer, topic string) *LoginConsumer {
	return &LoginConsumer{subscriber: subscriber, analyzer: analyzer, topic: topic}
}

// Run consumes the topic until ctx is done.
func (c *LoginConsumer) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}
	logging.Info().Str("topic", c.topic).Msg("Login consumer subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *LoginConsumer) handle(ctx context.Context, msg *message.Message) {
	requestID := msg.Metadata.Get(MetadataRequestID)
	if requestID == "" {
		requestID = msg.UUID
	}
	ctx = logging.ContextWithRequestID(ctx, requestID)
	log := logging.Ctx(ctx)

	var attempt guard.LoginAttempt
	if err := json.Unmarshal(msg.Payload, &attempt); err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Discarding undecodable login event")
		metrics.LoginEventsConsumed.WithLabelValues("rejected").Inc()
		msg.Ack()
		return
	}

	res, err := c.analyzer.AnalyzeLoginAttempt(ctx, attempt)
	switch {
	case errors.Is(err, validation.ErrValidation):
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Discarding invalid login event")
		metrics.LoginEventsConsumed.WithLabelValues("rejected").Inc()
		msg.Ack()
	case err != nil:
		log.Error().Err(err).Str("message_id", msg.UUID).Msg("Login analysis failed")
		metrics.LoginEventsConsumed.WithLabelValues("failed").Inc()
		msg.Nack()
	default:
		if res.AccountLocked || res.IncidentID != "" {
			log.Info().
				Str("user_id", attempt.UserID).
				Bool("account_locked", res.AccountLocked).
				Str("incident_id", res.IncidentID).
				Int("risk_score", res.Assessment.Score).
				Msg("Login event raised a response")
		}
		metrics.LoginEventsConsumed.WithLabelValues("analyzed").Inc()
		msg.Ack()
	}
}

// PublishLogin publishes one login event. Identity providers normally do
// this; the function exists for adapters and tests.
func PublishLogin(ctx context.Context, publisher message.Publisher, topic, id string, attempt guard.LoginAttempt) error {
	body, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal login event: %w", err)
	}
	msg := message.NewMessage(id, body)
	msg.SetContext(ctx)
	if rid := logging.RequestIDFromContext(ctx); rid != "" {
		msg.Metadata.Set(MetadataRequestID, rid)
	}
	return publisher.Publish(topic, msg)
}
