// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
	"github.com/tomtom215/campusguard/internal/threat"
)

// Config tunes the tracker.
type Config struct {
	// Retention is how long closed incidents are kept after resolution.
	Retention time.Duration `koanf:"retention" json:"retention"`
	// SLA per severity for the baseline investigate action.
	InvestigateSLA map[threat.Severity]time.Duration `koanf:"-" json:"-"`
	ContainSLA     time.Duration                     `koanf:"contain_sla" json:"contain_sla"`
	NotifySLA      time.Duration                     `koanf:"notify_sla" json:"notify_sla"`
}

// DefaultConfig keeps closed incidents for two years.
func DefaultConfig() Config {
	return Config{
		Retention: 2 * 365 * 24 * time.Hour,
		InvestigateSLA: map[threat.Severity]time.Duration{
			threat.SeverityCritical: 4 * time.Hour,
			threat.SeverityHigh:     24 * time.Hour,
			threat.SeverityMedium:   72 * time.Hour,
			threat.SeverityLow:      7 * 24 * time.Hour,
		},
		ContainSLA: 4 * time.Hour,
		NotifySLA:  time.Hour,
	}
}

// CreateRequest describes a new incident.
type CreateRequest struct {
	Type            threat.Type     `json:"type" validate:"required"`
	Title           string          `json:"title" validate:"required,max=200"`
	Description     string          `json:"description" validate:"max=4000"`
	Severity        threat.Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	Priority        int             `json:"priority" validate:"min=0,max=5"`
	AffectedUsers   []string        `json:"affected_users"`
	AffectedSystems []string        `json:"affected_systems"`
	Tags            []string        `json:"tags"`
	IndicatorIDs    []string        `json:"indicator_ids"`
	Metadata        map[string]any  `json:"metadata"`
	CreatedBy       string          `json:"-"`
}

// EvidenceRequest describes evidence to attach.
type EvidenceRequest struct {
	Type        EvidenceType   `json:"type" validate:"required"`
	Description string         `json:"description" validate:"required,max=2000"`
	Source      string         `json:"source"`
	Data        []byte         `json:"data" validate:"required"`
	CollectedBy string         `json:"-"`
	Metadata    map[string]any `json:"metadata"`
}

// ActionRequest describes a remediation task.
type ActionRequest struct {
	Type        ActionType `json:"type" validate:"required"`
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=2000"`
	AssignedTo  string     `json:"assigned_to"`
	DueDate     time.Time  `json:"due_date" validate:"required"`
	CreatedBy   string     `json:"-"`
}

// Tracker owns the active-incident working set over a durable Store.
//
// All mutations are serialized by mu. Each one is applied to a clone, the
// clone is saved, and only then does the clone replace the cached copy.
type Tracker struct {
	mu     sync.Mutex
	store  Store
	active map[string]*Incident
	sink   audit.Sink
	config Config
	now    func() time.Time
}

// NewTracker creates a tracker and rebuilds the active set from store.
func NewTracker(ctx context.Context, store Store, sink audit.Sink, cfg Config) (*Tracker, error) {
	if sink == nil {
		sink = audit.Discard
	}
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.InvestigateSLA == nil {
		cfg.InvestigateSLA = def.InvestigateSLA
	}
	if cfg.ContainSLA <= 0 {
		cfg.ContainSLA = def.ContainSLA
	}
	if cfg.NotifySLA <= 0 {
		cfg.NotifySLA = def.NotifySLA
	}
	t := &Tracker{
		store:  store,
		active: make(map[string]*Incident),
		sink:   sink,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := t.Rebuild(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Rebuild reloads the active set from the durable store.
func (t *Tracker) Rebuild(ctx context.Context) error {
	open := []Status{StatusDetected, StatusInvestigating, StatusContained, StatusEradicated, StatusRecovered}
	incidents, err := t.store.List(ctx, Filter{Statuses: open})
	if err != nil {
		return fmt.Errorf("%w: rebuild active set: %w", ErrPersistence, err)
	}
	active := make(map[string]*Incident, len(incidents))
	for _, inc := range incidents {
		active[inc.ID] = inc
	}

	t.mu.Lock()
	t.active = active
	t.mu.Unlock()

	metrics.ActiveIncidents.Set(float64(len(active)))
	logging.Info().Int("active", len(active)).Msg("Incident working set rebuilt")
	return nil
}

func defaultPriority(sev threat.Severity) int {
	switch sev {
	case threat.SeverityCritical:
		return 1
	case threat.SeverityHigh:
		return 2
	case threat.SeverityMedium:
		return 3
	default:
		return 4
	}
}

// Create opens an incident in the detected state with its baseline actions.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (*Incident, error) {
	if req.Type == "" || strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: type and title are required", ErrInvalidInput)
	}
	if !req.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, req.Severity)
	}
	actor := req.CreatedBy
	if actor == "" {
		actor = "system"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	inc := &Incident{
		ID:              uuid.NewString(),
		Type:            req.Type,
		Title:           req.Title,
		Description:     req.Description,
		Severity:        req.Severity,
		Status:          StatusDetected,
		Priority:        req.Priority,
		AffectedUsers:   dedupe(req.AffectedUsers),
		AffectedSystems: dedupe(req.AffectedSystems),
		Tags:            dedupe(req.Tags),
		IndicatorIDs:    dedupe(req.IndicatorIDs),
		Evidence:        []Evidence{},
		Metadata:        logging.RedactMetadata(req.Metadata),
		CreatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if inc.Priority == 0 {
		inc.Priority = defaultPriority(req.Severity)
	}
	t.appendTimeline(inc, TimelineEntry{
		Type:        TimelineCreated,
		Actor:       actor,
		Description: fmt.Sprintf("Incident opened with %s severity", req.Severity),
		ToStatus:    StatusDetected,
	})
	for _, a := range t.baselineActions(req.Severity, now) {
		inc.Actions = append(inc.Actions, a)
		t.appendTimeline(inc, TimelineEntry{
			Type:        TimelineActionCreated,
			Actor:       "system",
			Description: "Baseline action: " + a.Title,
			RefID:       a.ID,
		})
	}

	if err := t.store.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("%w: create incident: %w", ErrPersistence, err)
	}
	t.active[inc.ID] = inc
	metrics.IncidentsCreated.WithLabelValues(string(inc.Severity)).Inc()
	metrics.ActiveIncidents.Set(float64(len(t.active)))

	t.sink.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeIncidentCreated,
		Category:    audit.CategoryIncident,
		Severity:    auditSeverity(inc.Severity),
		Actor:       audit.Actor{ID: actor, Type: actorType(actor)},
		Description: "Incident created: " + inc.Title,
		Metadata: map[string]any{
			"incident_id": inc.ID,
			"type":        string(inc.Type),
			"severity":    string(inc.Severity),
		},
	})
	logging.Ctx(ctx).Warn().
		Str("incident_id", inc.ID).
		Str("type", string(inc.Type)).
		Str("severity", string(inc.Severity)).
		Msg("Security incident opened")
	return inc.Clone(), nil
}

// baselineActions always investigates; high and critical incidents also get
// a contain task, and critical ones a notify task.
func (t *Tracker) baselineActions(sev threat.Severity, now time.Time) []Action {
	sla := t.config.InvestigateSLA[sev]
	if sla <= 0 {
		sla = DefaultConfig().InvestigateSLA[threat.SeverityLow]
	}
	actions := []Action{newAction(ActionInvestigate, "Investigate incident scope and root cause", now.Add(sla), now)}
	if sev == threat.SeverityHigh || sev == threat.SeverityCritical {
		actions = append(actions, newAction(ActionContain, "Contain affected accounts and systems", now.Add(t.config.ContainSLA), now))
	}
	if sev == threat.SeverityCritical {
		actions = append(actions, newAction(ActionNotify, "Notify security leadership and data owners", now.Add(t.config.NotifySLA), now))
	}
	return actions
}

func newAction(typ ActionType, title string, due, now time.Time) Action {
	return Action{
		ID:        uuid.NewString(),
		Type:      typ,
		Title:     title,
		Status:    ActionPending,
		DueDate:   due,
		CreatedBy: "system",
		CreatedAt: now,
	}
}

// mutate loads id, applies fn to a clone, persists the clone and swaps it in.
// fn must not touch anything outside the clone.
func (t *Tracker) mutate(ctx context.Context, id string, fn func(inc *Incident, now time.Time) error) (*Incident, error) {
	current, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	now := t.now()
	if err := fn(next, now); err != nil {
		return nil, err
	}
	next.UpdatedAt = now

	if err := t.store.Save(ctx, next); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("incident_id", id).Msg("Incident write failed, state unchanged")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if next.Active() {
		t.active[id] = next
	} else {
		delete(t.active, id)
	}
	metrics.ActiveIncidents.Set(float64(len(t.active)))
	return next, nil
}

// load returns the cached active copy or falls back to the store. Callers
// hold mu.
func (t *Tracker) load(ctx context.Context, id string) (*Incident, error) {
	if inc, ok := t.active[id]; ok {
		return inc, nil
	}
	inc, err := t.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load incident: %w", ErrPersistence, err)
	}
	return inc, nil
}

// appendTimeline stamps and appends an entry, keeping timestamps ordered.
func (t *Tracker) appendTimeline(inc *Incident, entry TimelineEntry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = t.now()
	if n := len(inc.Timeline); n > 0 && entry.Timestamp.Before(inc.Timeline[n-1].Timestamp) {
		entry.Timestamp = inc.Timeline[n-1].Timestamp
	}
	inc.Timeline = append(inc.Timeline, entry)
}

// UpdateStatus moves the incident one step forward. Closing stamps
// ResolvedAt and removes the incident from the active set.
func (t *Tracker) UpdateStatus(ctx context.Context, id string, to Status, actor, notes string) (*Incident, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var from Status
	inc, err := t.mutate(ctx, id, func(inc *Incident, now time.Time) error {
		from = inc.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s (next allowed: %q)", ErrInvalidTransition, from, to, from.Next())
		}
		inc.Status = to
		if to == StatusClosed {
			inc.ResolvedAt = &now
		}
		desc := fmt.Sprintf("Status changed from %s to %s", from, to)
		if notes != "" {
			desc += ": " + notes
		}
		t.appendTimeline(inc, TimelineEntry{
			Type:        TimelineStatusChanged,
			Actor:       actor,
			Description: desc,
			FromStatus:  from,
			ToStatus:    to,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncidentTransitions.WithLabelValues(string(from), string(to)).Inc()
	t.sink.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeIncidentStatusChanged,
		Category:    audit.CategoryIncident,
		Severity:    audit.SeverityInfo,
		Actor:       audit.Actor{ID: actor, Type: actorType(actor)},
		Description: fmt.Sprintf("Incident %s moved from %s to %s", id, from, to),
		Metadata:    map[string]any{"incident_id": id, "from": string(from), "to": string(to), "notes": notes},
	})
	return inc.Clone(), nil
}

// Get returns an incident by id, active or not.
func (t *Tracker) Get(ctx context.Context, id string) (*Incident, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inc, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return inc.Clone(), nil
}

// Active returns copies of all non-closed incidents, highest priority first.
func (t *Tracker) Active() []*Incident {
	t.mu.Lock()
	out := make([]*Incident, 0, len(t.active))
	for _, inc := range t.active {
		out = append(out, inc.Clone())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// List queries the durable store.
func (t *Tracker) List(ctx context.Context, filter Filter) ([]*Incident, error) {
	out, err := t.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list incidents: %w", ErrPersistence, err)
	}
	return out, nil
}

// PurgeClosed hard-deletes closed incidents resolved before the retention
// cutoff.
func (t *Tracker) PurgeClosed(ctx context.Context) (int, error) {
	closed, err := t.store.List(ctx, Filter{Statuses: []Status{StatusClosed}})
	if err != nil {
		return 0, fmt.Errorf("%w: list closed incidents: %w", ErrPersistence, err)
	}
	cutoff := t.now().Add(-t.config.Retention)
	purged := 0
	for _, inc := range closed {
		if inc.ResolvedAt == nil || !inc.ResolvedAt.Before(cutoff) {
			continue
		}
		if err := t.store.Delete(ctx, inc.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return purged, fmt.Errorf("%w: purge incident %s: %w", ErrPersistence, inc.ID, err)
		}
		purged++
	}
	if purged > 0 {
		logging.Info().Int("purged", purged).Msg("Purged closed incidents past retention")
	}
	return purged, nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func actorType(actor string) string {
	if actor == "system" {
		return "system"
	}
	return "admin"
}

func auditSeverity(sev threat.Severity) audit.Severity {
	switch sev {
	case threat.SeverityCritical:
		return audit.SeverityCritical
	case threat.SeverityHigh:
		return audit.SeverityError
	case threat.SeverityMedium:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}
