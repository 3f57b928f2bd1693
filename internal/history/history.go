// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package history keeps a bounded in-memory record of recent authentication
// and request events so anomaly detectors can compare an event with what an
// actor did before.
//
// Events land in three indexes, each an LRU of per-key rings:
//
//   - actors: every event per actor (user, or IP for anonymous traffic)
//   - sources: every event per source IP, sized for flood counting
//   - logins: login outcomes per user, kept for the long origin lookbacks
//
// Request traffic only reaches the first two, so a burst of requests can
// never push a user's login history out. Prune applies Retention to actors
// and sources and LoginRetention to logins.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
	"github.com/tomtom215/campusguard/internal/threat"
)

// Config bounds the store.
type Config struct {
	MaxEventsPerActor  int           `koanf:"max_events_per_actor" validate:"min=1"`
	MaxActors          int           `koanf:"max_actors" validate:"min=1"`
	MaxEventsPerSource int           `koanf:"max_events_per_source" validate:"min=1"`
	MaxSources         int           `koanf:"max_sources" validate:"min=1"`
	MaxLoginsPerUser   int           `koanf:"max_logins_per_user" validate:"min=1"`
	Retention          time.Duration `koanf:"retention"`
	LoginRetention     time.Duration `koanf:"login_retention"`
	PruneInterval      time.Duration `koanf:"prune_interval"`
}

// DefaultConfig keeps a day of activity and 30 days of logins.
func DefaultConfig() Config {
	return Config{
		MaxEventsPerActor:  200,
		MaxActors:          100_000,
		MaxEventsPerSource: 1_000,
		MaxSources:         50_000,
		MaxLoginsPerUser:   100,
		Retention:          24 * time.Hour,
		LoginRetention:     30 * 24 * time.Hour,
		PruneInterval:      10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxEventsPerActor <= 0 {
		c.MaxEventsPerActor = def.MaxEventsPerActor
	}
	if c.MaxActors <= 0 {
		c.MaxActors = def.MaxActors
	}
	if c.MaxEventsPerSource <= 0 {
		c.MaxEventsPerSource = def.MaxEventsPerSource
	}
	if c.MaxSources <= 0 {
		c.MaxSources = def.MaxSources
	}
	if c.MaxLoginsPerUser <= 0 {
		c.MaxLoginsPerUser = def.MaxLoginsPerUser
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.LoginRetention <= 0 {
		c.LoginRetention = def.LoginRetention
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = def.PruneInterval
	}
	return c
}

// ring holds one key's events in arrival order. It grows to twice its limit
// before compacting, so pushes stay amortized O(1); recent trims reads to
// the newest limit events.
type ring struct {
	events []threat.HistoryEvent
	limit  int
}

func (r *ring) push(ev threat.HistoryEvent) {
	r.events = append(r.events, ev)
	if n := len(r.events); n >= 2*r.limit {
		r.events = append(r.events[:0:0], r.events[n-r.limit:]...)
	}
}

func (r *ring) recent() []threat.HistoryEvent {
	if n := len(r.events); n > r.limit {
		return r.events[n-r.limit:]
	}
	return r.events
}

// index is one keyed set of rings. The LRU evicts the least recently written
// key once full.
type index struct {
	keys     *lru.Cache[string, *ring]
	perKey   int
	maxAge   time.Duration
	evicting bool
}

func newIndex(name string, keys, perKey int, maxAge time.Duration) *index {
	idx := &index{perKey: perKey, maxAge: maxAge}
	cache, err := lru.NewWithEvict[string, *ring](keys, func(string, *ring) {
		if idx.evicting {
			metrics.HistoryEvicted.WithLabelValues(name).Inc()
		}
	})
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	idx.keys = cache
	return idx
}

// add appends ev under key. Callers hold the store lock.
func (x *index) add(key string, ev threat.HistoryEvent) {
	r, ok := x.keys.Get(key)
	if !ok {
		r = &ring{limit: x.perKey}
		x.evicting = true
		x.keys.Add(key, r)
		x.evicting = false
	}
	r.push(ev)
}

func (x *index) peek(key string) []threat.HistoryEvent {
	r, ok := x.keys.Peek(key)
	if !ok {
		return nil
	}
	return r.recent()
}

// prune drops events older than now-maxAge and removes emptied keys.
func (x *index) prune(now time.Time) int {
	cutoff := now.Add(-x.maxAge)
	removed := 0
	for _, key := range x.keys.Keys() {
		r, ok := x.keys.Peek(key)
		if !ok {
			continue
		}
		live := r.recent()
		kept := live[:0:0]
		for _, ev := range live {
			if !ev.Timestamp.Before(cutoff) {
				kept = append(kept, ev)
			}
		}
		dropped := len(live) - len(kept)
		if dropped == 0 {
			continue
		}
		removed += dropped
		if len(kept) == 0 {
			x.keys.Remove(key)
			continue
		}
		r.events = kept
	}
	return removed
}

// Store is an in-memory threat.EventHistory. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	actors  *index
	sources *index
	logins  *index
	cfg     Config
	now     func() time.Time
}

var _ threat.EventHistory = (*Store)(nil)

// NewStore creates an empty store. Zero config fields take defaults.
func NewStore(cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		actors:  newIndex("actor", cfg.MaxActors, cfg.MaxEventsPerActor, cfg.Retention),
		sources: newIndex("source", cfg.MaxSources, cfg.MaxEventsPerSource, cfg.Retention),
		logins:  newIndex("login", cfg.MaxActors, cfg.MaxLoginsPerUser, cfg.LoginRetention),
		cfg:     cfg,
		now:     time.Now,
	}
}

// EventFor converts an analyzed event into its history record.
func EventFor(ev *threat.Event) threat.HistoryEvent {
	typ := threat.HistoryRequest
	if ev.Kind == threat.KindLogin {
		typ = threat.HistoryLoginFailure
		if ev.Success {
			typ = threat.HistoryLoginSuccess
		}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return threat.HistoryEvent{
		ActorID:           ev.Actor(),
		Type:              typ,
		IPAddress:         ev.IPAddress,
		UserAgent:         ev.UserAgent,
		Location:          ev.Location,
		DeviceFingerprint: ev.DeviceFingerprint,
		Timestamp:         ts,
	}
}

func isLogin(typ string) bool {
	return typ == threat.HistoryLoginSuccess || typ == threat.HistoryLoginFailure
}

// Record appends one event.
func (s *Store) Record(_ context.Context, ev threat.HistoryEvent) {
	if ev.ActorID == "" && ev.IPAddress == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	s.mu.Lock()
	if ev.ActorID != "" {
		s.actors.add(ev.ActorID, ev)
		if isLogin(ev.Type) {
			s.logins.add(ev.ActorID, ev)
		}
	}
	if ev.IPAddress != "" {
		s.sources.add(ev.IPAddress, ev)
	}
	actors := s.actors.keys.Len()
	s.mu.Unlock()

	metrics.HistoryActors.Set(float64(actors))
}

// QueryEvents implements threat.EventHistory. Results are newest first.
//
// Login queries for an actor read the login index, so they see the full
// login retention regardless of how much other traffic the actor produced.
func (s *Store) QueryEvents(_ context.Context, f threat.EventFilter) ([]threat.HistoryEvent, error) {
	s.mu.RLock()
	var candidates []threat.HistoryEvent
	switch {
	case f.ActorID != "" && isLogin(f.Type):
		candidates = s.logins.peek(f.ActorID)
	case f.ActorID != "":
		candidates = s.actors.peek(f.ActorID)
	case f.IPAddress != "":
		candidates = s.sources.peek(f.IPAddress)
	default:
		for _, r := range s.actors.keys.Values() {
			candidates = append(candidates, r.recent()...)
		}
	}

	out := make([]threat.HistoryEvent, 0, len(candidates))
	for _, ev := range candidates {
		if matches(ev, f) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(ev threat.HistoryEvent, f threat.EventFilter) bool {
	if f.ActorID != "" && ev.ActorID != f.ActorID {
		return false
	}
	if f.IPAddress != "" && ev.IPAddress != f.IPAddress {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	return f.Since.IsZero() || !ev.Timestamp.Before(f.Since)
}

// Prune removes expired events from every index and returns how many actor
// events were dropped.
func (s *Store) Prune(_ context.Context) int {
	now := s.now()

	s.mu.Lock()
	removed := s.actors.prune(now)
	s.sources.prune(now)
	logins := s.logins.prune(now)
	actors := s.actors.keys.Len()
	s.mu.Unlock()

	metrics.HistoryActors.Set(float64(actors))
	if removed > 0 || logins > 0 {
		metrics.HistoryPruned.Add(float64(removed + logins))
		logging.Debug().Int("removed", removed).Int("logins_removed", logins).Int("actors", actors).Msg("Decayed event history")
	}
	return removed
}

// Len returns the number of tracked actors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actors.keys.Len()
}

// Interval returns how often Prune should run.
func (s *Store) Interval() time.Duration { return s.cfg.PruneInterval }
