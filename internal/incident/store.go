// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package incident

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// Store is the durable, authoritative incident record.
type Store interface {
	// Save inserts or replaces the whole aggregate.
	Save(ctx context.Context, inc *Incident) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Incident, error)
	// List returns matching incidents, newest first.
	List(ctx context.Context, filter Filter) ([]*Incident, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]*Incident)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inc.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Incident, error) {
	s.mu.RLock()
	out := make([]*Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if filter.Matches(inc) {
			out = append(out, inc.Clone())
		}
	}
	s.mu.RUnlock()
	return sortAndLimit(out, filter.Limit), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[id]; !ok {
		return ErrNotFound
	}
	delete(s.incidents, id)
	return nil
}

// Matches reports whether inc passes the filter.
func (f Filter) Matches(inc *Incident) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, inc.Status) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, inc.Severity) {
		return false
	}
	if f.Type != "" && inc.Type != f.Type {
		return false
	}
	return true
}

func sortAndLimit(out []*Incident, limit int) []*Incident {
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
