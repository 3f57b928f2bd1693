// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/logging"
)

// requireOpen rejects work on a closed incident. Closed incidents accept
// only custody entries on existing evidence.
func requireOpen(inc *Incident) error {
	if !inc.Active() {
		return fmt.Errorf("%w: incident is closed", ErrInvalidTransition)
	}
	return nil
}

// CreateAction adds a pending remediation task.
func (t *Tracker) CreateAction(ctx context.Context, incidentID string, req ActionRequest) (*Action, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidInput, req.Type)
	}
	if req.Title == "" || req.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: action needs a title and due date", ErrInvalidInput)
	}
	creator := req.CreatedBy
	if creator == "" {
		creator = "system"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var created Action
	_, err := t.mutate(ctx, incidentID, func(inc *Incident, now time.Time) error {
		if err := requireOpen(inc); err != nil {
			return err
		}
		created = Action{
			ID:          uuid.NewString(),
			Type:        req.Type,
			Title:       req.Title,
			Description: req.Description,
			AssignedTo:  req.AssignedTo,
			Status:      ActionPending,
			DueDate:     req.DueDate.UTC(),
			CreatedBy:   creator,
			CreatedAt:   now,
		}
		inc.Actions = append(inc.Actions, created)
		t.appendTimeline(inc, TimelineEntry{
			Type:        TimelineActionCreated,
			Actor:       creator,
			Description: fmt.Sprintf("Action created: %s (due %s)", req.Title, created.DueDate.Format(time.RFC3339)),
			RefID:       created.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.sink.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeIncidentActionCreated,
		Category:    audit.CategoryIncident,
		Severity:    audit.SeverityInfo,
		Actor:       audit.Actor{ID: creator, Type: actorType(creator)},
		Description: "Action created on incident " + incidentID,
		Metadata:    map[string]any{"incident_id": incidentID, "action_id": created.ID, "type": string(created.Type)},
	})
	return &created, nil
}

// StartAction moves a task to in_progress.
func (t *Tracker) StartAction(ctx context.Context, incidentID, actionID, actor string) (*Action, error) {
	return t.moveAction(ctx, incidentID, actionID, actor, ActionInProgress, "")
}

// CompleteAction marks a task completed.
func (t *Tracker) CompleteAction(ctx context.Context, incidentID, actionID, actor, notes string) (*Action, error) {
	a, err := t.moveAction(ctx, incidentID, actionID, actor, ActionCompleted, notes)
	if err != nil {
		return nil, err
	}
	t.sink.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeIncidentActionCompleted,
		Category:    audit.CategoryIncident,
		Severity:    audit.SeverityInfo,
		Actor:       audit.Actor{ID: actor, Type: actorType(actor)},
		Description: "Action completed on incident " + incidentID,
		Metadata:    map[string]any{"incident_id": incidentID, "action_id": actionID},
	})
	return a, nil
}

// CancelAction cancels an open task.
func (t *Tracker) CancelAction(ctx context.Context, incidentID, actionID, actor, notes string) (*Action, error) {
	return t.moveAction(ctx, incidentID, actionID, actor, ActionCancelled, notes)
}

var actionTimeline = map[ActionStatus]TimelineEntryType{
	ActionInProgress: TimelineActionStarted,
	ActionCompleted:  TimelineActionCompleted,
	ActionCancelled:  TimelineActionCancelled,
	ActionOverdue:    TimelineActionOverdue,
}

func (t *Tracker) moveAction(ctx context.Context, incidentID, actionID, actor string, to ActionStatus, notes string) (*Action, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var moved Action
	_, err := t.mutate(ctx, incidentID, func(inc *Incident, now time.Time) error {
		if err := requireOpen(inc); err != nil {
			return err
		}
		a := inc.action(actionID)
		if a == nil {
			return ErrActionNotFound
		}
		if !a.Status.CanMoveTo(to) {
			return fmt.Errorf("%w: action %s -> %s", ErrInvalidTransition, a.Status, to)
		}
		applyActionStatus(a, to, actor, notes, now)
		t.appendTimeline(inc, TimelineEntry{
			Type:        actionTimeline[to],
			Actor:       actor,
			Description: fmt.Sprintf("Action %s: %s", to, a.Title),
			RefID:       a.ID,
		})
		moved = *a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

func applyActionStatus(a *Action, to ActionStatus, actor, notes string, now time.Time) {
	a.Status = to
	switch to {
	case ActionInProgress:
		a.StartedAt = &now
		if a.AssignedTo == "" {
			a.AssignedTo = actor
		}
	case ActionCompleted, ActionCancelled:
		a.CompletedAt = &now
		a.CompletedBy = actor
	}
	if notes != "" {
		a.Notes = notes
	}
}

// SweepOverdue marks open tasks past their due date overdue and returns how
// many moved. Incidents whose write fails are skipped and retried next sweep.
func (t *Tracker) SweepOverdue(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var ids []string
	for id, inc := range t.active {
		for _, a := range inc.Actions {
			if (a.Status == ActionPending || a.Status == ActionInProgress) && now.After(a.DueDate) {
				ids = append(ids, id)
				break
			}
		}
	}

	moved := 0
	var firstErr error
	for _, id := range ids {
		n := 0
		_, err := t.mutate(ctx, id, func(inc *Incident, now time.Time) error {
			for k := range inc.Actions {
				a := &inc.Actions[k]
				if (a.Status != ActionPending && a.Status != ActionInProgress) || !now.After(a.DueDate) {
					continue
				}
				applyActionStatus(a, ActionOverdue, "system", "", now)
				t.appendTimeline(inc, TimelineEntry{
					Type:        TimelineActionOverdue,
					Actor:       "system",
					Description: fmt.Sprintf("Action overdue: %s (due %s)", a.Title, a.DueDate.Format(time.RFC3339)),
					RefID:       a.ID,
				})
				n++
			}
			return nil
		})
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("incident_id", id).Msg("Overdue sweep failed for incident")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		moved += n
	}
	return moved, firstErr
}
