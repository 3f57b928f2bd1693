// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package threat

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/campusguard/internal/metrics"
)

// ErrIndicatorNotFound is returned when resolving an unknown indicator.
var ErrIndicatorNotFound = errors.New("threat indicator not found")

// Registry holds indicators produced by analysis so operators can review and
// resolve them. Indicators stay queryable by ID until pruned: resolved ones
// by resolution time, untriaged ones by detection time.
type Registry struct {
	mu         sync.RWMutex
	indicators map[string]*Indicator
	now        func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{indicators: make(map[string]*Indicator), now: time.Now}
}

// Add stores indicators. Existing IDs are left untouched.
func (r *Registry) Add(indicators ...*Indicator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ind := range indicators {
		if _, exists := r.indicators[ind.ID]; !exists {
			cp := *ind
			r.indicators[ind.ID] = &cp
		}
	}
	metrics.ActiveThreats.Set(float64(r.activeCountLocked()))
}

// Get returns a copy of the indicator with id.
func (r *Registry) Get(id string) (Indicator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ind, ok := r.indicators[id]
	if !ok {
		return Indicator{}, false
	}
	return *ind, true
}

// Active returns copies of unresolved indicators, newest first.
func (r *Registry) Active() []Indicator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Indicator, 0, len(r.indicators))
	for _, ind := range r.indicators {
		if ind.IsActive {
			out = append(out, *ind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out
}

// Resolve marks an indicator resolved. Resolving an already-resolved
// indicator is a no-op: the original resolution is returned with changed
// set to false.
func (r *Registry) Resolve(id, resolvedBy, resolution string) (ind Indicator, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.indicators[id]
	if !ok {
		return Indicator{}, false, ErrIndicatorNotFound
	}
	if !stored.IsActive {
		return *stored, false, nil
	}

	now := r.now()
	stored.IsActive = false
	stored.ResolvedAt = &now
	stored.ResolvedBy = resolvedBy
	stored.Resolution = resolution
	metrics.ActiveThreats.Set(float64(r.activeCountLocked()))
	return *stored, true, nil
}

// Prune drops indicators resolved before cutoff, and active indicators
// detected before cutoff that nobody triaged, and returns how many were
// removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, ind := range r.indicators {
		if expired(ind, cutoff) {
			delete(r.indicators, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.ActiveThreats.Set(float64(r.activeCountLocked()))
	}
	return removed
}

func expired(ind *Indicator, cutoff time.Time) bool {
	if ind.IsActive {
		return ind.DetectedAt.Before(cutoff)
	}
	return ind.ResolvedAt != nil && ind.ResolvedAt.Before(cutoff)
}

func (r *Registry) activeCountLocked() int {
	n := 0
	for _, ind := range r.indicators {
		if ind.IsActive {
			n++
		}
	}
	return n
}
