// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package notify delivers rule alerts to operators. A Router accepts alerts
// without blocking the caller, queues them, and hands each one to the named
// delivery channel (webhook, message bus, SOC dashboard, log).
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
)

// Channel names.
const (
	ChannelWebhook   = "webhook"
	ChannelBus       = "nats"
	ChannelDashboard = "dashboard"
	ChannelLog       = "log"
)

// Source identifies this service in outbound payloads.
const Source = "campusguard"

// ErrUnknownChannel is returned for a channel that was never registered.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Message is one alert handed to a channel.
type Message struct {
	ID        string         `json:"id"`
	Channel   string         `json:"channel"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}

// Channel delivers messages to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// RouterConfig sizes the delivery queue.
type RouterConfig struct {
	QueueSize   int           `koanf:"queue_size"`
	Workers     int           `koanf:"workers"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// DefaultRouterConfig queues 1000 alerts across 4 workers.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{QueueSize: 1000, Workers: 4, SendTimeout: 10 * time.Second}
}

// Router fans alerts out to registered channels.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Channel
	queue    chan *Message
	cfg      RouterConfig
}

// NewRouter creates a router with channels registered.
func NewRouter(cfg RouterConfig, channels ...Channel) *Router {
	def := DefaultRouterConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	r := &Router{
		channels: make(map[string]Channel),
		queue:    make(chan *Message, cfg.QueueSize),
		cfg:      cfg,
	}
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

// Register adds or replaces a channel.
func (r *Router) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

// Channels returns the registered channel names.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Notify queues an alert for channel. It never blocks: unknown channels and
// a full queue are logged and counted.
func (r *Router) Notify(ctx context.Context, channel string, payload map[string]any) {
	r.mu.RLock()
	_, ok := r.channels[channel]
	r.mu.RUnlock()
	if !ok {
		metrics.NotificationsSent.WithLabelValues(channel, "unknown_channel").Inc()
		logging.Ctx(ctx).Warn().Str("channel", channel).Msg("Alert for unregistered channel discarded")
		return
	}

	typ, _ := payload["type"].(string)
	if typ == "" {
		typ = "security_alert"
	}
	msg := &Message{
		ID:        uuid.NewString(),
		Channel:   channel,
		Type:      typ,
		Payload:   logging.RedactMetadata(payload),
		Timestamp: time.Now().UTC(),
		Source:    Source,
	}
	select {
	case r.queue <- msg:
	default:
		metrics.NotificationsSent.WithLabelValues(channel, "dropped").Inc()
		logging.Ctx(ctx).Warn().Str("channel", channel).Msg("Notification queue full, alert dropped")
	}
}

// Run delivers queued alerts until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range r.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-r.queue:
					r.deliver(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Router) deliver(ctx context.Context, msg *Message) {
	r.mu.RLock()
	ch, ok := r.channels[msg.Channel]
	r.mu.RUnlock()
	if !ok {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, msg); err != nil {
		metrics.NotificationsSent.WithLabelValues(msg.Channel, "failed").Inc()
		logging.Error().Err(err).Str("channel", msg.Channel).Str("message_id", msg.ID).Msg("Alert delivery failed")
		return
	}
	metrics.NotificationsSent.WithLabelValues(msg.Channel, "sent").Inc()
}

// LogChannel writes alerts to the service log.
type LogChannel struct{}

// Name implements Channel.
func (LogChannel) Name() string { return ChannelLog }

// Send implements Channel.
func (LogChannel) Send(ctx context.Context, msg *Message) error {
	logging.Ctx(ctx).Warn().
		Str("alert_id", msg.ID).
		Str("type", msg.Type).
		Interface("payload", msg.Payload).
		Msg("Security alert")
	return nil
}
