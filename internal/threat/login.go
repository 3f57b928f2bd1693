// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package threat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// toggle is the enable switch shared by all detectors.
type toggle struct {
	mu      sync.RWMutex
	enabled bool
}

func (t *toggle) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *toggle) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// BruteForceConfig configures the brute force detector.
type BruteForceConfig struct {
	Window    time.Duration
	Threshold int
}

// DefaultBruteForceConfig returns 5 failures in 15 minutes.
func DefaultBruteForceConfig() BruteForceConfig {
	return BruteForceConfig{Window: 15 * time.Minute, Threshold: 5}
}

// BruteForceDetector counts failed logins per user in a trailing window.
type BruteForceDetector struct {
	toggle
	config  BruteForceConfig
	history EventHistory
}

// NewBruteForceDetector creates a brute force detector.
func NewBruteForceDetector(cfg BruteForceConfig, history EventHistory) (*BruteForceDetector, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("brute force window must be positive")
	}
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("brute force threshold must be at least 1")
	}
	return &BruteForceDetector{toggle: toggle{enabled: true}, config: cfg, history: history}, nil
}

// Type implements Detector.
func (d *BruteForceDetector) Type() Type { return TypeBruteForce }

// Detect implements Detector. History holds prior events only; the attempt
// being analyzed is counted on top, so the fifth failure is the one that fires.
func (d *BruteForceDetector) Detect(ctx context.Context, ev *Event) ([]*Indicator, error) {
	if ev.Kind != KindLogin || ev.Success || ev.UserID == "" {
		return nil, nil
	}
	if d.history == nil {
		return nil, ErrNoHistory
	}

	failures, err := d.history.QueryEvents(ctx, EventFilter{
		ActorID: ev.UserID,
		Type:    HistoryLoginFailure,
		Since:   ev.Timestamp.Add(-d.config.Window),
	})
	if err != nil {
		return nil, fmt.Errorf("query failed logins: %w", err)
	}

	count := len(failures) + 1
	if count < d.config.Threshold {
		return nil, nil
	}

	severity := SeverityHigh
	if count >= 2*d.config.Threshold {
		severity = SeverityCritical
	}

	ips := make(map[string]struct{})
	for _, f := range failures {
		if f.IPAddress != "" {
			ips[f.IPAddress] = struct{}{}
		}
	}

	return []*Indicator{newIndicator(TypeBruteForce, severity, count*10, ev, map[string]any{
		"failed_attempts": count,
		"window_minutes":  int(d.config.Window.Minutes()),
		"distinct_ips":    len(ips),
	})}, nil
}

// SuspiciousLoginConfig configures the suspicious login detector.
type SuspiciousLoginConfig struct {
	BusinessStartHour int
	BusinessEndHour   int
	Lookback          time.Duration
	Threshold         int
	Location          *time.Location
}

// DefaultSuspiciousLoginConfig returns 06:00-22:00 local, 30 day lookback and
// a threshold of 50.
func DefaultSuspiciousLoginConfig() SuspiciousLoginConfig {
	return SuspiciousLoginConfig{
		BusinessStartHour: 6,
		BusinessEndHour:   22,
		Lookback:          30 * 24 * time.Hour,
		Threshold:         50,
		Location:          time.Local,
	}
}

const (
	unusualHourPoints = 30
	newOriginPoints   = 40
)

// SuspiciousLoginDetector scores logins made at unusual hours and from a
// device or IP the user has not succeeded from recently.
type SuspiciousLoginDetector struct {
	toggle
	config  SuspiciousLoginConfig
	history EventHistory
}

// NewSuspiciousLoginDetector creates a suspicious login detector.
func NewSuspiciousLoginDetector(cfg SuspiciousLoginConfig, history EventHistory) (*SuspiciousLoginDetector, error) {
	if cfg.BusinessStartHour < 0 || cfg.BusinessEndHour > 24 || cfg.BusinessStartHour >= cfg.BusinessEndHour {
		return nil, fmt.Errorf("invalid business hours %d-%d", cfg.BusinessStartHour, cfg.BusinessEndHour)
	}
	if cfg.Lookback <= 0 {
		return nil, fmt.Errorf("suspicious login lookback must be positive")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &SuspiciousLoginDetector{toggle: toggle{enabled: true}, config: cfg, history: history}, nil
}

// Type implements Detector.
func (d *SuspiciousLoginDetector) Type() Type { return TypeSuspiciousLogin }

// Detect implements Detector.
func (d *SuspiciousLoginDetector) Detect(ctx context.Context, ev *Event) ([]*Indicator, error) {
	if ev.Kind != KindLogin || ev.UserID == "" {
		return nil, nil
	}
	if d.history == nil {
		return nil, ErrNoHistory
	}

	score := 0
	reasons := make([]string, 0, 2)

	hour := ev.Timestamp.In(d.config.Location).Hour()
	if hour < d.config.BusinessStartHour || hour >= d.config.BusinessEndHour {
		score += unusualHourPoints
		reasons = append(reasons, "unusual_hour")
	}

	prior, err := d.history.QueryEvents(ctx, EventFilter{
		ActorID: ev.UserID,
		Type:    HistoryLoginSuccess,
		Since:   ev.Timestamp.Add(-d.config.Lookback),
	})
	if err != nil {
		return nil, fmt.Errorf("query successful logins: %w", err)
	}

	// A user with no successful logins in the lookback has nothing to
	// compare against and is not treated as coming from a new origin.
	if len(prior) > 0 && !seenOrigin(prior, ev) {
		score += newOriginPoints
		reasons = append(reasons, "new_device_or_ip")
	}

	if score <= d.config.Threshold {
		return nil, nil
	}

	return []*Indicator{newIndicator(TypeSuspiciousLogin, SeverityMedium, score, ev, map[string]any{
		"reasons":    reasons,
		"local_hour": hour,
	})}, nil
}

func seenOrigin(prior []HistoryEvent, ev *Event) bool {
	device := deviceKey(ev.DeviceFingerprint, ev.UserAgent)
	for _, p := range prior {
		if p.IPAddress == ev.IPAddress {
			return true
		}
		if device != "" && deviceKey(p.DeviceFingerprint, p.UserAgent) == device {
			return true
		}
	}
	return false
}

func deviceKey(fingerprint, userAgent string) string {
	if fingerprint != "" {
		return fingerprint
	}
	return userAgent
}
