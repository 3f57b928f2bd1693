// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package fraud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// EntryKind says what a blocklist entry matches.
type EntryKind string

const (
	KindEmail EntryKind = "email"
	KindIP    EntryKind = "ip"
)

// DefaultBlockTTL is how long automatic blocks last.
const DefaultBlockTTL = 7 * 24 * time.Hour

// ErrNotBlocked is returned by Unblock for values that are not listed.
var ErrNotBlocked = errors.New("value is not blocklisted")

// Entry is one blocklisted email address or IP.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason"`
	RiskScore int       `json:"risk_score"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry no longer applies at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Blocklist stores blocked emails and IPs. Entries expire on their own;
// Unblock removes one early.
type Blocklist interface {
	// Lookup returns the live entry for value, or nil.
	Lookup(ctx context.Context, kind EntryKind, value string) (*Entry, error)
	Block(ctx context.Context, entry Entry) error
	Unblock(ctx context.Context, kind EntryKind, value string) error
	// List returns live entries, most recent first.
	List(ctx context.Context) ([]Entry, error)
}

// NormalizeValue canonicalizes a blocklist value: emails are trimmed and
// lowercased, IPs are parsed and re-rendered.
func NormalizeValue(kind EntryKind, value string) (string, error) {
	v := strings.TrimSpace(value)
	switch kind {
	case KindEmail:
		v = strings.ToLower(v)
		if v == "" {
			return "", fmt.Errorf("%w: empty email", ErrInvalidInput)
		}
		return v, nil
	case KindIP:
		ip := net.ParseIP(v)
		if ip == nil {
			return "", fmt.Errorf("%w: invalid ip %q", ErrInvalidInput, value)
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("%w: unknown blocklist kind %q", ErrInvalidInput, kind)
}

// MemoryBlocklist is a process-local Blocklist.
type MemoryBlocklist struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryBlocklist creates an empty blocklist.
func NewMemoryBlocklist() *MemoryBlocklist {
	return &MemoryBlocklist{entries: make(map[string]Entry), now: time.Now}
}

func memKey(kind EntryKind, value string) string {
	return string(kind) + ":" + value
}

// Lookup implements Blocklist.
func (b *MemoryBlocklist) Lookup(_ context.Context, kind EntryKind, value string) (*Entry, error) {
	v, err := NormalizeValue(kind, value)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[memKey(kind, v)]
	if !ok || e.Expired(b.now()) {
		return nil, nil
	}
	return &e, nil
}

// Block implements Blocklist. Re-blocking replaces the entry.
func (b *MemoryBlocklist) Block(_ context.Context, entry Entry) error {
	v, err := NormalizeValue(entry.Kind, entry.Value)
	if err != nil {
		return err
	}
	entry.Value = v
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[memKey(entry.Kind, v)] = entry
	return nil
}

// Unblock implements Blocklist.
func (b *MemoryBlocklist) Unblock(_ context.Context, kind EntryKind, value string) error {
	v, err := NormalizeValue(kind, value)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := memKey(kind, v)
	e, ok := b.entries[k]
	if !ok || e.Expired(b.now()) {
		return ErrNotBlocked
	}
	delete(b.entries, k)
	return nil
}

// List implements Blocklist.
func (b *MemoryBlocklist) List(_ context.Context) ([]Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	now := b.now()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Purge drops expired entries and returns how many were removed.
func (b *MemoryBlocklist) Purge() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	removed := 0
	for k, e := range b.entries {
		if e.Expired(now) {
			delete(b.entries, k)
			removed++
		}
	}
	return removed
}
