// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package incident tracks security incidents from detection to closure.
//
// An incident moves strictly forward through
//
//	detected -> investigating -> contained -> eradicated -> recovered -> closed
//
// one step at a time. It owns its evidence (content-hashed, with a chain of
// custody), its remediation actions and an append-only timeline recording
// every change. Mutations are written to the durable Store before the
// in-memory active set changes, so a failed write leaves nothing half-applied.
package incident

import (
	"errors"
	"time"

	"github.com/tomtom215/campusguard/internal/threat"
)

var (
	ErrNotFound          = errors.New("incident not found")
	ErrActionNotFound    = errors.New("incident action not found")
	ErrEvidenceNotFound  = errors.New("incident evidence not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid incident input")
	// ErrPersistence wraps durable store failures. State is unchanged when
	// it is returned.
	ErrPersistence = errors.New("incident persistence failed")
)

// Status is the incident lifecycle state.
type Status string

const (
	StatusDetected      Status = "detected"
	StatusInvestigating Status = "investigating"
	StatusContained     Status = "contained"
	StatusEradicated    Status = "eradicated"
	StatusRecovered     Status = "recovered"
	StatusClosed        Status = "closed"
)

var statusOrder = []Status{
	StatusDetected,
	StatusInvestigating,
	StatusContained,
	StatusEradicated,
	StatusRecovered,
	StatusClosed,
}

func (s Status) index() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.index() >= 0 }

// Next returns the only status s may move to, or "" for closed.
func (s Status) Next() Status {
	i := s.index()
	if i < 0 || i == len(statusOrder)-1 {
		return ""
	}
	return statusOrder[i+1]
}

// CanTransition reports whether from may move to to. Only the single next
// step is allowed; skips, reversals and no-op moves are rejected.
func CanTransition(from, to Status) bool {
	return to != "" && from.Next() == to
}

// ActionType is a remediation task kind.
type ActionType string

const (
	ActionInvestigate ActionType = "investigate"
	ActionContain     ActionType = "contain"
	ActionEradicate   ActionType = "eradicate"
	ActionRecover     ActionType = "recover"
	ActionNotify      ActionType = "notify"
	ActionDocument    ActionType = "document"
	ActionReview      ActionType = "review"
	ActionImplement   ActionType = "implement"
	ActionTest        ActionType = "test"
	ActionTrain       ActionType = "train"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionInvestigate, ActionContain, ActionEradicate, ActionRecover, ActionNotify,
		ActionDocument, ActionReview, ActionImplement, ActionTest, ActionTrain:
		return true
	}
	return false
}

// ActionStatus is the remediation task state.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in_progress"
	ActionOverdue    ActionStatus = "overdue"
	ActionCompleted  ActionStatus = "completed"
	ActionCancelled  ActionStatus = "cancelled"
)

var actionRank = map[ActionStatus]int{
	ActionPending:    0,
	ActionInProgress: 1,
	ActionOverdue:    2,
	ActionCompleted:  3,
}

// Terminal reports whether no further transition is possible.
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionCancelled
}

// CanMoveTo reports whether an action may go from s to to. Moves are forward
// only; cancellation is allowed from any open state.
func (s ActionStatus) CanMoveTo(to ActionStatus) bool {
	if s.Terminal() {
		return false
	}
	if to == ActionCancelled {
		return true
	}
	from, ok := actionRank[s]
	next, ok2 := actionRank[to]
	return ok && ok2 && next > from
}

// EvidenceType classifies collected evidence.
type EvidenceType string

const (
	EvidenceLog            EvidenceType = "log"
	EvidenceHTTPRequest    EvidenceType = "request"
	EvidenceNetworkCapture EvidenceType = "network_capture"
	EvidenceScreenshot     EvidenceType = "screenshot"
	EvidenceFile           EvidenceType = "file"
	EvidenceOther          EvidenceType = "other"
)

// Custody actions.
const (
	CustodyCollected   = "collected"
	CustodyAccessed    = "accessed"
	CustodyTransferred = "transferred"
	CustodyVerified    = "verified"
)

// CustodyEntry is one hand-off in an evidence item's chain of custody.
type CustodyEntry struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	// Hash is the content hash observed at this step.
	Hash  string `json:"hash"`
	Notes string `json:"notes,omitempty"`
}

// Evidence is one content-addressed artifact attached to an incident.
type Evidence struct {
	ID          string         `json:"id"`
	Type        EvidenceType   `json:"type"`
	Description string         `json:"description"`
	Source      string         `json:"source,omitempty"`
	Hash        string         `json:"hash"`
	Size        int64          `json:"size"`
	Data        []byte         `json:"data,omitempty"`
	CollectedBy string         `json:"collected_by"`
	CollectedAt time.Time      `json:"collected_at"`
	Custody     []CustodyEntry `json:"chain_of_custody"`
	// IsTampered is set when a re-hash disagrees with Hash. It is never
	// cleared.
	IsTampered bool           `json:"is_tampered"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Action is an assignable remediation task.
type Action struct {
	ID          string       `json:"id"`
	Type        ActionType   `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	Status      ActionStatus `json:"status"`
	DueDate     time.Time    `json:"due_date"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CompletedBy string       `json:"completed_by,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// TimelineEntryType labels timeline entries.
type TimelineEntryType string

const (
	TimelineCreated          TimelineEntryType = "created"
	TimelineStatusChanged    TimelineEntryType = "status_changed"
	TimelineEvidenceAdded    TimelineEntryType = "evidence_added"
	TimelineEvidenceAccessed TimelineEntryType = "evidence_accessed"
	TimelineEvidenceTampered TimelineEntryType = "evidence_tampered"
	TimelineActionCreated    TimelineEntryType = "action_created"
	TimelineActionStarted    TimelineEntryType = "action_started"
	TimelineActionCompleted  TimelineEntryType = "action_completed"
	TimelineActionCancelled  TimelineEntryType = "action_cancelled"
	TimelineActionOverdue    TimelineEntryType = "action_overdue"
)

// TimelineEntry is one immutable record in an incident's history.
type TimelineEntry struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        TimelineEntryType `json:"type"`
	Actor       string            `json:"actor"`
	Description string            `json:"description"`
	FromStatus  Status            `json:"from_status,omitempty"`
	ToStatus    Status            `json:"to_status,omitempty"`
	// RefID points at the evidence or action the entry concerns.
	RefID string `json:"ref_id,omitempty"`
}

// Incident is the root aggregate. It exclusively owns its evidence, actions
// and timeline.
type Incident struct {
	ID              string          `json:"id"`
	Type            threat.Type     `json:"type"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Severity        threat.Severity `json:"severity"`
	Status          Status          `json:"status"`
	Priority        int             `json:"priority"`
	AffectedUsers   []string        `json:"affected_users,omitempty"`
	AffectedSystems []string        `json:"affected_systems,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	IndicatorIDs    []string        `json:"indicator_ids,omitempty"`
	Evidence        []Evidence      `json:"evidence"`
	Actions         []Action        `json:"actions"`
	Timeline        []TimelineEntry `json:"timeline"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

// Active reports whether the incident is still in the working set.
func (i *Incident) Active() bool { return i.Status != StatusClosed }

func (i *Incident) action(id string) *Action {
	for k := range i.Actions {
		if i.Actions[k].ID == id {
			return &i.Actions[k]
		}
	}
	return nil
}

func (i *Incident) evidence(id string) *Evidence {
	for k := range i.Evidence {
		if i.Evidence[k].ID == id {
			return &i.Evidence[k]
		}
	}
	return nil
}

// Clone returns a deep copy that shares no slices with i. Metadata maps are
// shared; they are never mutated after creation.
func (i *Incident) Clone() *Incident {
	c := *i
	c.AffectedUsers = append([]string(nil), i.AffectedUsers...)
	c.AffectedSystems = append([]string(nil), i.AffectedSystems...)
	c.Tags = append([]string(nil), i.Tags...)
	c.IndicatorIDs = append([]string(nil), i.IndicatorIDs...)
	c.Timeline = append([]TimelineEntry(nil), i.Timeline...)
	c.Actions = make([]Action, len(i.Actions))
	for k, a := range i.Actions {
		c.Actions[k] = a
		c.Actions[k].StartedAt = copyTime(a.StartedAt)
		c.Actions[k].CompletedAt = copyTime(a.CompletedAt)
	}
	c.Evidence = make([]Evidence, len(i.Evidence))
	for k, e := range i.Evidence {
		c.Evidence[k] = e
		c.Evidence[k].Data = append([]byte(nil), e.Data...)
		c.Evidence[k].Custody = append([]CustodyEntry(nil), e.Custody...)
	}
	c.ResolvedAt = copyTime(i.ResolvedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Filter selects incidents from a Store.
type Filter struct {
	Statuses   []Status          `json:"statuses,omitempty"`
	Severities []threat.Severity `json:"severities,omitempty"`
	Type       threat.Type       `json:"type,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}
