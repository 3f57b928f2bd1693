// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package threat

import (
	"context"
	"fmt"
	"time"
)

// OriginAnomalyConfig configures the geographic and device anomaly detectors.
type OriginAnomalyConfig struct {
	// Lookback bounds which successful logins count as history.
	Lookback time.Duration
	// HistorySize is how many recent successful logins are compared.
	HistorySize int
	RiskScore   int
}

// DefaultGeoAnomalyConfig compares against the last 20 logins over 7 days.
func DefaultGeoAnomalyConfig() OriginAnomalyConfig {
	return OriginAnomalyConfig{Lookback: 7 * 24 * time.Hour, HistorySize: 20, RiskScore: 50}
}

// DefaultDeviceAnomalyConfig compares against the last 20 logins over 30 days.
func DefaultDeviceAnomalyConfig() OriginAnomalyConfig {
	return OriginAnomalyConfig{Lookback: 30 * 24 * time.Hour, HistorySize: 20, RiskScore: 40}
}

// originDetector flags a login whose location or device is absent from the
// user's recent successful logins. Users with no history are never flagged.
type originDetector struct {
	toggle
	kind    Type
	config  OriginAnomalyConfig
	history EventHistory
	current func(*Event) string
	past    func(HistoryEvent) string
}

// NewGeoAnomalyDetector flags logins from a location not seen recently.
func NewGeoAnomalyDetector(cfg OriginAnomalyConfig, history EventHistory) (Detector, error) {
	if err := validateOriginConfig(cfg); err != nil {
		return nil, err
	}
	return &originDetector{
		toggle:  toggle{enabled: true},
		kind:    TypeGeographicAnomaly,
		config:  cfg,
		history: history,
		current: func(ev *Event) string { return ev.Location },
		past:    func(h HistoryEvent) string { return h.Location },
	}, nil
}

// NewDeviceAnomalyDetector flags logins from a device not seen recently. The
// user agent stands in for the fingerprint when none was supplied.
func NewDeviceAnomalyDetector(cfg OriginAnomalyConfig, history EventHistory) (Detector, error) {
	if err := validateOriginConfig(cfg); err != nil {
		return nil, err
	}
	return &originDetector{
		toggle:  toggle{enabled: true},
		kind:    TypeDeviceAnomaly,
		config:  cfg,
		history: history,
		current: func(ev *Event) string { return deviceKey(ev.DeviceFingerprint, ev.UserAgent) },
		past:    func(h HistoryEvent) string { return deviceKey(h.DeviceFingerprint, h.UserAgent) },
	}, nil
}

func validateOriginConfig(cfg OriginAnomalyConfig) error {
	if cfg.Lookback <= 0 {
		return fmt.Errorf("anomaly lookback must be positive")
	}
	if cfg.HistorySize < 1 {
		return fmt.Errorf("anomaly history size must be at least 1")
	}
	return nil
}

func (d *originDetector) Type() Type { return d.kind }

func (d *originDetector) Detect(ctx context.Context, ev *Event) ([]*Indicator, error) {
	if ev.Kind != KindLogin || !ev.Success || ev.UserID == "" {
		return nil, nil
	}
	value := d.current(ev)
	if value == "" {
		return nil, nil
	}
	if d.history == nil {
		return nil, ErrNoHistory
	}

	prior, err := d.history.QueryEvents(ctx, EventFilter{
		ActorID: ev.UserID,
		Type:    HistoryLoginSuccess,
		Since:   ev.Timestamp.Add(-d.config.Lookback),
		Limit:   d.config.HistorySize,
	})
	if err != nil {
		return nil, fmt.Errorf("query login history: %w", err)
	}
	if len(prior) == 0 {
		return nil, nil
	}

	known := make([]string, 0, len(prior))
	for _, p := range prior {
		v := d.past(p)
		if v == value {
			return nil, nil
		}
		if v != "" {
			known = append(known, v)
		}
	}
	if len(known) == 0 {
		return nil, nil
	}

	return []*Indicator{newIndicator(d.kind, SeverityMedium, d.config.RiskScore, ev, map[string]any{
		"observed":      value,
		"known_count":   len(known),
		"history_depth": len(prior),
	})}, nil
}

// BehavioralConfig configures the behavioral anomaly detector.
type BehavioralConfig struct {
	Window    time.Duration
	Threshold int
}

// DefaultBehavioralConfig returns 50 events per hour.
func DefaultBehavioralConfig() BehavioralConfig {
	return BehavioralConfig{Window: time.Hour, Threshold: 50}
}

// BehavioralDetector flags actors whose event volume in the trailing window
// exceeds a fixed threshold.
type BehavioralDetector struct {
	toggle
	config  BehavioralConfig
	history EventHistory
}

// NewBehavioralDetector creates a behavioral anomaly detector.
func NewBehavioralDetector(cfg BehavioralConfig, history EventHistory) (*BehavioralDetector, error) {
	if cfg.Window <= 0 || cfg.Threshold < 1 {
		return nil, fmt.Errorf("behavioral window and threshold must be positive")
	}
	return &BehavioralDetector{toggle: toggle{enabled: true}, config: cfg, history: history}, nil
}

// Type implements Detector.
func (d *BehavioralDetector) Type() Type { return TypeBehavioralAnomaly }

// Detect implements Detector.
func (d *BehavioralDetector) Detect(ctx context.Context, ev *Event) ([]*Indicator, error) {
	actor := ev.Actor()
	if actor == "" {
		return nil, nil
	}
	if d.history == nil {
		return nil, ErrNoHistory
	}

	events, err := d.history.QueryEvents(ctx, EventFilter{
		ActorID: actor,
		Since:   ev.Timestamp.Add(-d.config.Window),
	})
	if err != nil {
		return nil, fmt.Errorf("query actor activity: %w", err)
	}

	count := len(events) + 1
	if count <= d.config.Threshold {
		return nil, nil
	}

	return []*Indicator{newIndicator(TypeBehavioralAnomaly, SeverityMedium, count, ev, map[string]any{
		"event_count":    count,
		"threshold":      d.config.Threshold,
		"window_minutes": int(d.config.Window.Minutes()),
	})}, nil
}

// FloodConfig configures the request flood detector.
type FloodConfig struct {
	Window    time.Duration
	Threshold int
}

// DefaultFloodConfig returns 300 events per source IP per minute.
func DefaultFloodConfig() FloodConfig {
	return FloodConfig{Window: time.Minute, Threshold: 300}
}

// FloodDetector flags a single source IP producing more events than any
// legitimate client would, regardless of which accounts it targets.
type FloodDetector struct {
	toggle
	config  FloodConfig
	history EventHistory
}

// NewFloodDetector creates a flood detector.
func NewFloodDetector(cfg FloodConfig, history EventHistory) (*FloodDetector, error) {
	if cfg.Window <= 0 || cfg.Threshold < 1 {
		return nil, fmt.Errorf("flood window and threshold must be positive")
	}
	return &FloodDetector{toggle: toggle{enabled: true}, config: cfg, history: history}, nil
}

// Type implements Detector.
func (d *FloodDetector) Type() Type { return TypeDDoS }

// Detect implements Detector.
func (d *FloodDetector) Detect(ctx context.Context, ev *Event) ([]*Indicator, error) {
	if ev.IPAddress == "" {
		return nil, nil
	}
	if d.history == nil {
		return nil, ErrNoHistory
	}

	events, err := d.history.QueryEvents(ctx, EventFilter{
		IPAddress: ev.IPAddress,
		Since:     ev.Timestamp.Add(-d.config.Window),
	})
	if err != nil {
		return nil, fmt.Errorf("query source activity: %w", err)
	}

	count := len(events) + 1
	if count <= d.config.Threshold {
		return nil, nil
	}

	severity := SeverityHigh
	if count >= 3*d.config.Threshold {
		severity = SeverityCritical
	}
	score := 60 + 40*(count-d.config.Threshold)/d.config.Threshold

	return []*Indicator{newIndicator(TypeDDoS, severity, score, ev, map[string]any{
		"event_count":    count,
		"threshold":      d.config.Threshold,
		"window_seconds": int(d.config.Window.Seconds()),
	})}, nil
}
