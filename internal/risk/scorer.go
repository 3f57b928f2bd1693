// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package risk folds a set of threat indicators into one request-level score
// and decides whether the request should be blocked.
package risk

import (
	"github.com/tomtom215/campusguard/internal/metrics"
	"github.com/tomtom215/campusguard/internal/threat"
)

// MaxScore is the upper bound of every aggregate score.
const MaxScore = 100

// Config holds the severity weights and block thresholds.
type Config struct {
	LowPoints      int
	MediumPoints   int
	HighPoints     int
	CriticalPoints int

	// BlockScore blocks when the aggregate reaches it.
	BlockScore int
	// BlockHighCount blocks when at least this many high indicators are present.
	BlockHighCount int
}

// DefaultConfig returns low=10, medium=30, high=60, critical=90, block at 80
// or on two high indicators.
func DefaultConfig() Config {
	return Config{
		LowPoints:      10,
		MediumPoints:   30,
		HighPoints:     60,
		CriticalPoints: 90,
		BlockScore:     80,
		BlockHighCount: 2,
	}
}

// Assessment is the result of scoring one request.
type Assessment struct {
	Score   int                     `json:"score"`
	Block   bool                    `json:"block"`
	Reason  string                  `json:"reason,omitempty"`
	Highest threat.Severity         `json:"highest_severity,omitempty"`
	Counts  map[threat.Severity]int `json:"counts,omitempty"`
}

// Block reasons.
const (
	ReasonCritical  = "critical_indicator"
	ReasonHighCount = "multiple_high_indicators"
	ReasonScore     = "aggregate_score"
)

// Scorer computes assessments. It is stateless and safe for concurrent use.
type Scorer struct {
	config Config
}

// NewScorer creates a scorer. Zero-valued fields fall back to the defaults.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.LowPoints == 0 {
		cfg.LowPoints = def.LowPoints
	}
	if cfg.MediumPoints == 0 {
		cfg.MediumPoints = def.MediumPoints
	}
	if cfg.HighPoints == 0 {
		cfg.HighPoints = def.HighPoints
	}
	if cfg.CriticalPoints == 0 {
		cfg.CriticalPoints = def.CriticalPoints
	}
	if cfg.BlockScore == 0 {
		cfg.BlockScore = def.BlockScore
	}
	if cfg.BlockHighCount == 0 {
		cfg.BlockHighCount = def.BlockHighCount
	}
	return &Scorer{config: cfg}
}

// Points returns the weight of a severity. Unknown severities weigh nothing.
func (s *Scorer) Points(sev threat.Severity) int {
	switch sev {
	case threat.SeverityLow:
		return s.config.LowPoints
	case threat.SeverityMedium:
		return s.config.MediumPoints
	case threat.SeverityHigh:
		return s.config.HighPoints
	case threat.SeverityCritical:
		return s.config.CriticalPoints
	}
	return 0
}

// Score sums severity points across indicators, capped at MaxScore.
func (s *Scorer) Score(indicators []*threat.Indicator) int {
	total := 0
	for _, ind := range indicators {
		total += s.Points(ind.Severity)
		if total >= MaxScore {
			return MaxScore
		}
	}
	return threat.ClampScore(total)
}

// Assess scores indicators and applies the block decision: any critical
// indicator, BlockHighCount or more high indicators, or an aggregate at or
// above BlockScore.
func (s *Scorer) Assess(indicators []*threat.Indicator) Assessment {
	a := Assessment{
		Score:  s.Score(indicators),
		Counts: make(map[threat.Severity]int),
	}
	for _, ind := range indicators {
		a.Counts[ind.Severity]++
		if ind.Severity.Rank() > a.Highest.Rank() {
			a.Highest = ind.Severity
		}
	}

	switch {
	case a.Counts[threat.SeverityCritical] > 0:
		a.Block, a.Reason = true, ReasonCritical
	case a.Counts[threat.SeverityHigh] >= s.config.BlockHighCount:
		a.Block, a.Reason = true, ReasonHighCount
	case a.Score >= s.config.BlockScore:
		a.Block, a.Reason = true, ReasonScore
	}

	metrics.RecordRiskDecision(a.Score, a.Block)
	return a
}
