// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package threat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
)

// DetectorFailure records one detector that could not complete.
type DetectorFailure struct {
	Detector Type
	Err      error
}

// DetectionError is returned by Engine.Analyze when at least one detector
// failed. The indicators returned alongside it are still valid.
type DetectionError struct {
	Failures []DetectorFailure
}

func (e *DetectionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Detector, f.Err))
	}
	return "detection errors: " + strings.Join(parts, "; ")
}

// Engine runs registered detectors against events.
type Engine struct {
	mu        sync.RWMutex
	detectors map[Type]Detector
	now       func() time.Time
}

// NewEngine creates an engine with no detectors.
func NewEngine() *Engine {
	return &Engine{detectors: make(map[Type]Detector), now: time.Now}
}

// RegisterDetector adds or replaces the detector for its type.
func (e *Engine) RegisterDetector(d Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detectors[d.Type()] = d
	logging.Debug().Str("detector", string(d.Type())).Msg("registered detector")
}

// SetDetectorEnabled toggles a registered detector.
func (e *Engine) SetDetectorEnabled(t Type, enabled bool) error {
	e.mu.RLock()
	d, ok := e.detectors[t]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("detector not found: %s", t)
	}
	d.SetEnabled(enabled)
	return nil
}

// Detectors returns the registered detector types in sorted order.
func (e *Engine) Detectors() []Type {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Type, 0, len(e.detectors))
	for t := range e.detectors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) enabledDetectors() []Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Detector, 0, len(e.detectors))
	for _, d := range e.detectors {
		if d.Enabled() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}

// Analyze runs every enabled detector against ev. A failing or panicking
// detector is skipped and reported in a *DetectionError; the others still
// run and their indicators are returned.
func (e *Engine) Analyze(ctx context.Context, ev *Event) ([]*Indicator, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}

	var (
		indicators []*Indicator
		failures   []DetectorFailure
	)
	for _, d := range e.enabledDetectors() {
		found, err := e.runDetector(ctx, d, ev)
		if err != nil {
			failures = append(failures, DetectorFailure{Detector: d.Type(), Err: err})
			logging.Ctx(ctx).Warn().Err(err).Str("detector", string(d.Type())).Msg("detector failed")
			continue
		}
		for _, ind := range found {
			metrics.IndicatorsDetected.WithLabelValues(string(ind.Type), string(ind.Severity)).Inc()
		}
		indicators = append(indicators, found...)
	}

	if len(failures) > 0 {
		return indicators, &DetectionError{Failures: failures}
	}
	return indicators, nil
}

func (e *Engine) runDetector(ctx context.Context, d Detector, ev *Event) (found []*Indicator, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = fmt.Errorf("detector panic: %v", r)
		}
		metrics.RecordDetector(string(d.Type()), time.Since(start), err)
	}()
	return d.Detect(ctx, ev)
}
