// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package ratelimit enforces fixed-window quotas per actor over a shared
// counter store.
//
// Counters are keyed "policy:actor:windowIndex" where windowIndex is
// floor(now / window). Every check increments atomically and refreshes the
// key's TTL to the window length, so stale windows expire on their own.
package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FailMode decides what a check returns when the counter store is down.
type FailMode string

const (
	// FailOpen allows the request.
	FailOpen FailMode = "open"
	// FailClosed denies the request.
	FailClosed FailMode = "closed"
)

// Well-known policy names.
const (
	PolicyLogin         = "login"
	PolicyRegistration  = "registration"
	PolicyPasswordReset = "password_reset"
	PolicyAPI           = "api"
	PolicyAdmin         = "admin"
	PolicyBatch         = "batch"
)

var (
	// ErrPolicyNotFound means no policy is configured under the requested name.
	ErrPolicyNotFound = errors.New("rate limit policy not found")

	// ErrStoreUnavailable wraps counter store failures.
	ErrStoreUnavailable = errors.New("counter store unavailable")
)

// Policy is one named quota.
type Policy struct {
	Name     string        `koanf:"name" json:"name"`
	Limit    int           `koanf:"limit" json:"limit"`
	Window   time.Duration `koanf:"window" json:"window"`
	FailMode FailMode      `koanf:"fail_mode" json:"fail_mode"`
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.Limit < 1 {
		return fmt.Errorf("policy %s: limit must be at least 1", p.Name)
	}
	if p.Window < time.Second {
		return fmt.Errorf("policy %s: window must be at least 1s", p.Name)
	}
	switch p.FailMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("policy %s: fail_mode must be open or closed", p.Name)
	}
	return nil
}

// authClass lists policies guarding authentication flows. They always fail
// closed, whatever the configuration says.
var authClass = map[string]bool{
	PolicyLogin:         true,
	PolicyRegistration:  true,
	PolicyPasswordReset: true,
	PolicyAdmin:         true,
}

// IsAuthClass reports whether name guards an authentication flow.
func IsAuthClass(name string) bool {
	return authClass[name]
}

// DefaultPolicies returns the built-in policy set.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: PolicyLogin, Limit: 6, Window: 15 * time.Minute, FailMode: FailClosed},
		{Name: PolicyRegistration, Limit: 5, Window: time.Hour, FailMode: FailClosed},
		{Name: PolicyPasswordReset, Limit: 3, Window: time.Hour, FailMode: FailClosed},
		{Name: PolicyAPI, Limit: 100, Window: time.Minute, FailMode: FailOpen},
		{Name: PolicyAdmin, Limit: 30, Window: time.Minute, FailMode: FailClosed},
		{Name: PolicyBatch, Limit: 10, Window: time.Hour, FailMode: FailOpen},
	}
}

// PolicySet is an immutable lookup of policies by name.
type PolicySet struct {
	byName map[string]Policy
}

// NewPolicySet validates policies and indexes them. Authentication-class
// policies are forced to FailClosed.
func NewPolicySet(policies []Policy) (*PolicySet, error) {
	ps := &PolicySet{byName: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if IsAuthClass(p.Name) {
			p.FailMode = FailClosed
		}
		if p.FailMode == "" {
			p.FailMode = FailOpen
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ps.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy %s", p.Name)
		}
		ps.byName[p.Name] = p
	}
	return ps, nil
}

// Get returns the policy called name.
func (ps *PolicySet) Get(name string) (Policy, error) {
	p, ok := ps.byName[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	return p, nil
}

// Names returns all policy names, sorted.
func (ps *PolicySet) Names() []string {
	names := make([]string, 0, len(ps.byName))
	for n := range ps.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ActorKey joins the non-empty parts of a composite actor, e.g. user and IP.
func ActorKey(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, strings.ToLower(p))
		}
	}
	return strings.Join(kept, "|")
}
