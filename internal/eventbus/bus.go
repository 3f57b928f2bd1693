// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package eventbus connects CampusGuard to NATS through Watermill.
//
// Two flows share the connection:
//   - Alerts fan out to every instance. Each instance subscribes without a
//     queue group and its dashboard bridge drops messages it published.
//   - Login events from identity providers are load-balanced across
//     instances through a queue group and fed to login analysis.
package eventbus

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/campusguard/internal/logging"
)

// Config configures the bus connection.
type Config struct {
	URL string
	// EmbeddedServer starts an in-process server listening on URL's host
	// and port before connecting.
	EmbeddedServer   bool
	ClientName       string
	QueueGroup       string
	SubscribersCount int
	AckWait          time.Duration
	ReconnectWait    time.Duration
}

// Bus holds the publisher and subscribers for one process.
type Bus struct {
	// Publisher sends alerts and, in tests, login events.
	Publisher message.Publisher
	// Alerts receives every alert published by any instance.
	Alerts message.Subscriber
	// Logins receives this instance's share of login events.
	Logins message.Subscriber

	server *EmbeddedServer
}

// Open starts the embedded server when configured and connects.
func Open(cfg Config, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = NewLogger()
	}
	if cfg.SubscribersCount < 1 {
		cfg.SubscribersCount = 1
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	b := &Bus{}
	connURL := cfg.URL
	if cfg.EmbeddedServer {
		host, port, err := hostPort(cfg.URL)
		if err != nil {
			return nil, err
		}
		srv, err := StartEmbeddedServer(host, port)
		if err != nil {
			return nil, err
		}
		b.server = srv
		connURL = srv.ClientURL()
		logging.Info().Str("url", connURL).Msg("Embedded NATS server started")
	}

	natsOpts := connectOptions(cfg, logger)

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         connURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	b.Publisher = pub

	alerts, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              connURL,
		SubscribersCount: 1,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     5 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("create alert subscriber: %w", err)
	}
	b.Alerts = alerts

	logins, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              connURL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     5 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("create login subscriber: %w", err)
	}
	b.Logins = logins

	return b, nil
}

func connectOptions(cfg Config, logger watermill.LoggerAdapter) []natsgo.Option {
	name := cfg.ClientName
	if name == "" {
		name = "campusguard"
	}
	return []natsgo.Option{
		natsgo.Name(name),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

func hostPort(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse NATS url: %w", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", 0, fmt.Errorf("NATS url %q needs host:port: %w", rawURL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("NATS url port %q: %w", portStr, err)
	}
	return host, port, nil
}

// Running reports whether the embedded server, if any, is up.
func (b *Bus) Running() bool {
	return b.server == nil || b.server.Running()
}

// Close closes subscribers, then the publisher, then the embedded server.
func (b *Bus) Close() error {
	var errs []error
	if b.Logins != nil {
		errs = append(errs, b.Logins.Close())
	}
	if b.Alerts != nil {
		errs = append(errs, b.Alerts.Close())
	}
	if b.Publisher != nil {
		errs = append(errs, b.Publisher.Close())
	}
	if b.server != nil {
		b.server.Shutdown()
	}
	return errors.Join(errs...)
}
