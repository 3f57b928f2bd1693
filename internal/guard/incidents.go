// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/threat"
	"github.com/tomtom215/campusguard/internal/validation"
)

// ErrMissingActor is returned when an operation needs an attributable actor.
var ErrMissingActor = errors.New("actor is required")

// GetActiveThreats returns unresolved indicators, newest first.
func (s *Service) GetActiveThreats() []threat.Indicator {
	return s.deps.Registry.Active()
}

// ResolveThreat marks an indicator resolved. Resolving an already resolved
// indicator returns the original resolution and records nothing.
func (s *Service) ResolveThreat(ctx context.Context, id, resolvedBy, resolution string) (threat.Indicator, error) {
	if resolvedBy == "" {
		return threat.Indicator{}, ErrMissingActor
	}
	ind, changed, err := s.deps.Registry.Resolve(id, resolvedBy, resolution)
	if err != nil {
		return threat.Indicator{}, err
	}
	if !changed {
		return ind, nil
	}

	s.deps.Audit.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeThreatResolved,
		Category:    audit.CategoryThreat,
		Severity:    audit.SeverityInfo,
		Actor:       audit.Actor{ID: resolvedBy, Type: "admin"},
		Description: fmt.Sprintf("%s indicator resolved", ind.Type),
		Metadata: map[string]any{
			"indicator_id": ind.ID,
			"resolution":   resolution,
		},
	})
	logging.Ctx(ctx).Info().Str("indicator_id", id).Str("resolved_by", resolvedBy).Msg("Threat resolved")
	return ind, nil
}

// CreateIncident opens an incident on behalf of actor.
func (s *Service) CreateIncident(ctx context.Context, req incident.CreateRequest, actor string) (*incident.Incident, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		return nil, verr
	}
	req.CreatedBy = actor
	req.Metadata = logging.RedactMetadata(req.Metadata)

	inc, err := s.deps.Incidents.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.notifyIncident(ctx, "incident_opened", inc)
	return inc, nil
}

// UpdateIncidentStatus moves an incident one step along its lifecycle.
func (s *Service) UpdateIncidentStatus(ctx context.Context, id string, to incident.Status, actor, notes string) (*incident.Incident, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	inc, err := s.deps.Incidents.UpdateStatus(ctx, id, to, actor, notes)
	if err != nil {
		return nil, err
	}
	s.notifyIncident(ctx, "incident_status_changed", inc)
	return inc, nil
}

// AddEvidence attaches evidence collected by actor.
func (s *Service) AddEvidence(ctx context.Context, incidentID string, req incident.EvidenceRequest, actor string) (*incident.Evidence, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		return nil, verr
	}
	req.CollectedBy = actor
	req.Metadata = logging.RedactMetadata(req.Metadata)
	return s.deps.Incidents.AddEvidence(ctx, incidentID, req)
}

// AccessEvidence records a chain-of-custody entry and returns the evidence
// after verifying its hash.
func (s *Service) AccessEvidence(ctx context.Context, incidentID, evidenceID, actor, action, notes string) (*incident.Evidence, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	return s.deps.Incidents.AccessEvidence(ctx, incidentID, evidenceID, actor, action, notes)
}

// CreateAction adds a remediation action.
func (s *Service) CreateAction(ctx context.Context, incidentID string, req incident.ActionRequest, actor string) (*incident.Action, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		return nil, verr
	}
	req.CreatedBy = actor
	return s.deps.Incidents.CreateAction(ctx, incidentID, req)
}

// StartAction marks an action in progress.
func (s *Service) StartAction(ctx context.Context, incidentID, actionID, actor string) (*incident.Action, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	return s.deps.Incidents.StartAction(ctx, incidentID, actionID, actor)
}

// CompleteAction marks an action completed.
func (s *Service) CompleteAction(ctx context.Context, incidentID, actionID, actor, notes string) (*incident.Action, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	return s.deps.Incidents.CompleteAction(ctx, incidentID, actionID, actor, notes)
}

// CancelAction cancels an open action.
func (s *Service) CancelAction(ctx context.Context, incidentID, actionID, actor, notes string) (*incident.Action, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	return s.deps.Incidents.CancelAction(ctx, incidentID, actionID, actor, notes)
}

// GetIncident returns one incident.
func (s *Service) GetIncident(ctx context.Context, id string) (*incident.Incident, error) {
	return s.deps.Incidents.Get(ctx, id)
}

// ListIncidents queries incidents by status, severity and type.
func (s *Service) ListIncidents(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error) {
	return s.deps.Incidents.List(ctx, filter)
}

// GetActiveIncidents returns every incident that is not closed.
func (s *Service) GetActiveIncidents() []*incident.Incident {
	return s.deps.Incidents.Active()
}
