// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package rules

import (
	"sync"
	"time"
)

// Cooldown tracks when each rule last fired in this process. The check and
// the stamp happen under one lock, so concurrent triggers of the same rule
// cannot both pass. Instances do not share cooldown state.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewCooldown creates an empty tracker.
func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time), now: time.Now}
}

// CompareAndStamp returns true and records now if the rule is outside its
// cooldown period; otherwise it returns false and leaves the stamp alone.
func (c *Cooldown) CompareAndStamp(ruleID string, period time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.last[ruleID]; ok && period > 0 && now.Sub(last) < period {
		return false
	}
	c.last[ruleID] = now
	return true
}

// LastTriggered returns when the rule last fired.
func (c *Cooldown) LastTriggered(ruleID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[ruleID]
	return t, ok
}

// Forget drops stamps for rules not in keep, after a reload.
func (c *Cooldown) Forget(keep map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.last {
		if !keep[id] {
			delete(c.last, id)
		}
	}
}
