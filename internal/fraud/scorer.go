// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package fraud scores registration attempts for email abuse and maintains
// the email/IP blocklist.
//
// A score is built from four parts: the reason the registration flow flagged
// the address, the worst suspicious pattern in the local part, and how often
// the same IP and the same email have been seen recently. An email or IP that
// is already blocklisted scores 100 outright. A score of 80 or more blocks
// both the email and the IP for a week.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
)

// Reasons the registration flow can attach to a flagged address.
const (
	ReasonDisposableDomain = "disposable_domain"
	ReasonPatternMismatch  = "pattern_mismatch"
	ReasonUnapprovedDomain = "unapproved_domain"
	ReasonMalformedAddress = "malformed_address"
)

// DefaultReasonScores is the base score per reason. Unknown reasons score 0.
func DefaultReasonScores() map[string]int {
	return map[string]int{
		ReasonDisposableDomain: 40,
		ReasonUnapprovedDomain: 30,
		ReasonMalformedAddress: 25,
		ReasonPatternMismatch:  20,
	}
}

// PatternLevel is the weight class of a suspicious local-part pattern.
type PatternLevel string

const (
	LevelLow      PatternLevel = "low"
	LevelMedium   PatternLevel = "medium"
	LevelHigh     PatternLevel = "high"
	LevelCritical PatternLevel = "critical"
)

// LevelScore maps pattern levels to points.
var LevelScore = map[PatternLevel]int{
	LevelLow:      10,
	LevelMedium:   25,
	LevelHigh:     50,
	LevelCritical: 75,
}

// SuspiciousPattern is one regex over the email local part.
type SuspiciousPattern struct {
	Name    string
	Pattern string
	Level   PatternLevel
}

// DefaultSuspiciousPatterns returns the built-in local-part pattern bank.
func DefaultSuspiciousPatterns() []SuspiciousPattern {
	return []SuspiciousPattern{
		{Name: "injection_chars", Pattern: `[<>'";\\` + "`" + `]`, Level: LevelCritical},
		{Name: "injection_keywords", Pattern: `(?i)(script|select|drop|union|insert|alert\()`, Level: LevelCritical},
		{Name: "throwaway_word", Pattern: `(?i)^(test|fake|spam|temp|asdf|qwerty|null|noreply)[._-]?\d*$`, Level: LevelHigh},
		{Name: "generated_handle", Pattern: `^[a-z]{1,3}\d{6,}$`, Level: LevelHigh},
		{Name: "long_digit_run", Pattern: `\d{5,}`, Level: LevelMedium},
		{Name: "no_letters", Pattern: `^[^a-zA-Z]+$`, Level: LevelMedium},
		{Name: "subaddress", Pattern: `\+`, Level: LevelLow},
		{Name: "very_short", Pattern: `^.{1,2}$`, Level: LevelLow},
	}
}

type compiledPattern struct {
	SuspiciousPattern
	re *regexp.Regexp
}

// Config configures the scorer.
type Config struct {
	ReasonScores map[string]int
	Patterns     []SuspiciousPattern

	IPMultiplier    int
	IPCap           int
	EmailMultiplier int
	EmailCap        int
	// HistoryWindow is how long attempt counters survive without activity.
	HistoryWindow time.Duration

	BlockThreshold int
	BlockTTL       time.Duration
}

// DefaultConfig returns the standard weights: IP history x10 capped at 50,
// email history x15 capped at 60, block at 80 for 7 days.
func DefaultConfig() Config {
	return Config{
		ReasonScores:    DefaultReasonScores(),
		Patterns:        DefaultSuspiciousPatterns(),
		IPMultiplier:    10,
		IPCap:           50,
		EmailMultiplier: 15,
		EmailCap:        60,
		HistoryWindow:   24 * time.Hour,
		BlockThreshold:  80,
		BlockTTL:        DefaultBlockTTL,
	}
}

// ErrInvalidInput is returned for unparseable IPs and malformed blocklist values.
var ErrInvalidInput = errors.New("invalid fraud scoring input")

// Counter records attempts. ratelimit.CounterStore satisfies it.
type Counter interface {
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Result is the outcome of scoring one registration.
type Result struct {
	RiskScore   int      `json:"risk_score"`
	Blocked     bool     `json:"blocked"`
	AutoBlocked bool     `json:"auto_blocked,omitempty"`
	Blocklisted bool     `json:"blocklisted,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
	IPAttempts  int      `json:"ip_attempts"`
	EmailCount  int      `json:"email_attempts"`
}

// Scorer scores registrations. Safe for concurrent use.
type Scorer struct {
	config    Config
	patterns  []compiledPattern
	blocklist Blocklist
	counter   Counter
	now       func() time.Time
}

// NewScorer compiles the pattern bank and returns a scorer.
func NewScorer(cfg Config, blocklist Blocklist, counter Counter) (*Scorer, error) {
	if blocklist == nil || counter == nil {
		return nil, fmt.Errorf("fraud scorer needs a blocklist and a counter")
	}
	if cfg.BlockThreshold < 1 || cfg.BlockThreshold > 100 {
		return nil, fmt.Errorf("block threshold must be within 1-100")
	}
	if cfg.BlockTTL <= 0 || cfg.HistoryWindow <= 0 {
		return nil, fmt.Errorf("block ttl and history window must be positive")
	}
	s := &Scorer{config: cfg, blocklist: blocklist, counter: counter, now: time.Now}
	for _, p := range cfg.Patterns {
		if _, ok := LevelScore[p.Level]; !ok {
			return nil, fmt.Errorf("pattern %s: unknown level %q", p.Name, p.Level)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
		}
		s.patterns = append(s.patterns, compiledPattern{SuspiciousPattern: p, re: re})
	}
	return s, nil
}

// Score evaluates one registration attempt.
//
// The blocklist is consulted first; a listed email or IP scores 100 and
// nothing else is computed. Either way the attempt is counted against the
// email and the IP so repeat attempts weigh more.
func (s *Scorer) Score(ctx context.Context, email, ip, reason string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if ip != "" {
		normalized, err := NormalizeValue(KindIP, ip)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		ip = normalized
	}

	ipCount, emailCount, err := s.recordAttempt(ctx, email, ip)
	if err != nil {
		return Result{}, err
	}
	res := Result{IPAttempts: ipCount, EmailCount: emailCount}

	listed, err := s.isBlocklisted(ctx, email, ip)
	if err != nil {
		return Result{}, err
	}
	if listed != "" {
		res.RiskScore = 100
		res.Blocked = true
		res.Blocklisted = true
		res.Reasons = []string{"blocklisted_" + listed}
		metrics.BlocklistHits.WithLabelValues(listed).Inc()
		metrics.FraudScores.Observe(100)
		return res, nil
	}

	score := 0
	if base, ok := s.config.ReasonScores[reason]; ok {
		score += base
		res.Reasons = append(res.Reasons, reason)
	}

	if name, points := s.worstPattern(localPart(email)); points > 0 {
		score += points
		res.Reasons = append(res.Reasons, "pattern_"+name)
	}

	if ipCount > 0 {
		score += min(ipCount*s.config.IPMultiplier, s.config.IPCap)
		res.Reasons = append(res.Reasons, "ip_history")
	}
	if emailCount > 0 {
		score += min(emailCount*s.config.EmailMultiplier, s.config.EmailCap)
		res.Reasons = append(res.Reasons, "email_history")
	}

	res.RiskScore = min(score, 100)
	metrics.FraudScores.Observe(float64(res.RiskScore))

	if res.RiskScore >= s.config.BlockThreshold {
		res.Blocked = true
		res.AutoBlocked = true
		s.autoBlock(ctx, email, ip, res)
	}
	return res, nil
}

// recordAttempt counts this attempt and returns how many earlier attempts
// were seen for the IP and the email.
func (s *Scorer) recordAttempt(ctx context.Context, email, ip string) (ipPrior, emailPrior int, err error) {
	if ip != "" {
		n, err := s.counter.Increment(ctx, "fraud:ip:"+ip, 1, s.config.HistoryWindow)
		if err != nil {
			return 0, 0, fmt.Errorf("count ip attempts: %w", err)
		}
		ipPrior = int(n) - 1
	}
	if email != "" {
		n, err := s.counter.Increment(ctx, "fraud:email:"+email, 1, s.config.HistoryWindow)
		if err != nil {
			return 0, 0, fmt.Errorf("count email attempts: %w", err)
		}
		emailPrior = int(n) - 1
	}
	return ipPrior, emailPrior, nil
}

// isBlocklisted returns the kind that matched, or "".
func (s *Scorer) isBlocklisted(ctx context.Context, email, ip string) (string, error) {
	if email != "" {
		e, err := s.blocklist.Lookup(ctx, KindEmail, email)
		if err != nil {
			return "", fmt.Errorf("check email blocklist: %w", err)
		}
		if e != nil {
			return string(KindEmail), nil
		}
	}
	if ip != "" {
		e, err := s.blocklist.Lookup(ctx, KindIP, ip)
		if err != nil {
			return "", fmt.Errorf("check ip blocklist: %w", err)
		}
		if e != nil {
			return string(KindIP), nil
		}
	}
	return "", nil
}

func (s *Scorer) worstPattern(local string) (string, int) {
	best, name := 0, ""
	for _, p := range s.patterns {
		if pts := LevelScore[p.Level]; pts > best && p.re.MatchString(local) {
			best, name = pts, p.Name
		}
	}
	return name, best
}

// autoBlock lists the email and IP independently; a failure on one does not
// stop the other.
func (s *Scorer) autoBlock(ctx context.Context, email, ip string, res Result) {
	now := s.now()
	metrics.FraudAutoBlocks.Inc()
	for _, target := range []struct {
		kind  EntryKind
		value string
	}{{KindEmail, email}, {KindIP, ip}} {
		if target.value == "" {
			continue
		}
		err := s.blocklist.Block(ctx, Entry{
			Kind:      target.kind,
			Value:     target.value,
			Reason:    "fraud_score",
			RiskScore: res.RiskScore,
			CreatedAt: now,
			ExpiresAt: now.Add(s.config.BlockTTL),
		})
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("kind", string(target.kind)).Msg("auto-block failed")
			continue
		}
		logging.Ctx(ctx).Info().
			Str("kind", string(target.kind)).
			Str("value", maskValue(target.kind, target.value)).
			Int("risk_score", res.RiskScore).
			Msg("auto-blocklisted")
	}
}

func localPart(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[:at]
	}
	return email
}

func maskValue(kind EntryKind, value string) string {
	if kind == KindEmail {
		return logging.SanitizeEmail(value)
	}
	return value
}
