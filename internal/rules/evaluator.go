// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tomtom215/campusguard/internal/threat"
)

// FireRatio is the share of total condition weight that must match.
const FireRatio = 0.5

// Match is the weighted outcome of evaluating one rule.
type Match struct {
	MatchedWeight float64
	TotalWeight   float64
	Fired         bool
}

// Evaluator scores rule conditions against indicators. Compiled regexes are
// kept in a bounded LRU keyed by pattern. Safe for concurrent use.
type Evaluator struct {
	regexes *lru.Cache[string, *regexp.Regexp]
}

// NewEvaluator creates an evaluator caching up to cacheSize regexes.
func NewEvaluator(cacheSize int) *Evaluator {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *regexp.Regexp](cacheSize)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &Evaluator{regexes: cache}
}

// Evaluate reports whether rule fires for ind. A rule of another threat type
// never fires. The boundary is inclusive: exactly half the weight fires.
func (e *Evaluator) Evaluate(rule *SecurityRule, ind *threat.Indicator) Match {
	var m Match
	if rule == nil || ind == nil || rule.Type != ind.Type {
		return m
	}
	fields := indicatorFields(ind)
	for _, c := range rule.Conditions {
		m.TotalWeight += c.Weight
		if e.condition(c, fields) {
			m.MatchedWeight += c.Weight
		}
	}
	m.Fired = m.TotalWeight > 0 && m.MatchedWeight >= FireRatio*m.TotalWeight
	return m
}

func indicatorFields(ind *threat.Indicator) map[string]any {
	return map[string]any{
		"id":          ind.ID,
		"type":        string(ind.Type),
		"severity":    string(ind.Severity),
		"risk_score":  ind.RiskScore,
		"user_id":     ind.UserID,
		"ip_address":  ind.IPAddress,
		"user_agent":  ind.UserAgent,
		"is_active":   ind.IsActive,
		"detected_at": ind.DetectedAt,
		"metadata":    ind.Metadata,
	}
}

// lookup resolves a dotted path through nested maps.
func lookup(fields map[string]any, path string) (any, bool) {
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// condition evaluates one test. A missing field never matches.
func (e *Evaluator) condition(c Condition, fields map[string]any) bool {
	actual, ok := lookup(fields, c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return equal(actual, c.Value)
	case OpNotEquals:
		return !equal(actual, c.Value)
	case OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		return aok && bok && a < b
	case OpContains:
		return contains(actual, c.Value)
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return false
		}
		re, err := e.compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(actual))
	case OpIn:
		return inList(actual, c.Value)
	case OpNotIn:
		return !inList(actual, c.Value)
	}
	return false
}

func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.regexes.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regexes.Add(pattern, re)
	return re, nil
}

// equal compares numerically when both sides are numbers, otherwise as
// strings.
func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func contains(actual, want any) bool {
	switch a := actual.(type) {
	case string:
		return strings.Contains(a, fmt.Sprint(want))
	case []string:
		for _, s := range a {
			if s == fmt.Sprint(want) {
				return true
			}
		}
	case []any:
		for _, v := range a {
			if equal(v, want) {
				return true
			}
		}
	}
	return false
}

// inList accepts a YAML list or a comma-separated string.
func inList(actual, list any) bool {
	switch l := list.(type) {
	case []any:
		for _, v := range l {
			if equal(actual, v) {
				return true
			}
		}
	case []string:
		for _, v := range l {
			if equal(actual, v) {
				return true
			}
		}
	case string:
		for _, v := range strings.Split(l, ",") {
			if equal(actual, strings.TrimSpace(v)) {
				return true
			}
		}
	}
	return false
}
