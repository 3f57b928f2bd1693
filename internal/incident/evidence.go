// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package incident

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/logging"
)

// HashContent returns the hex SHA-256 of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AddEvidence attaches content-addressed evidence and opens its chain of
// custody with a collected entry.
func (t *Tracker) AddEvidence(ctx context.Context, incidentID string, req EvidenceRequest) (*Evidence, error) {
	if len(req.Data) == 0 || req.Description == "" {
		return nil, fmt.Errorf("%w: evidence needs data and a description", ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = EvidenceOther
	}
	collector := req.CollectedBy
	if collector == "" {
		collector = "system"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var added Evidence
	_, err := t.mutate(ctx, incidentID, func(inc *Incident, now time.Time) error {
		if err := requireOpen(inc); err != nil {
			return err
		}
		hash := HashContent(req.Data)
		added = Evidence{
			ID:          uuid.NewString(),
			Type:        req.Type,
			Description: req.Description,
			Source:      req.Source,
			Hash:        hash,
			Size:        int64(len(req.Data)),
			Data:        append([]byte(nil), req.Data...),
			CollectedBy: collector,
			CollectedAt: now,
			Custody: []CustodyEntry{{
				Actor:     collector,
				Action:    CustodyCollected,
				Timestamp: now,
				Hash:      hash,
			}},
			Metadata: logging.RedactMetadata(req.Metadata),
		}
		inc.Evidence = append(inc.Evidence, added)
		t.appendTimeline(inc, TimelineEntry{
			Type:        TimelineEvidenceAdded,
			Actor:       collector,
			Description: fmt.Sprintf("Evidence added: %s (%d bytes, sha256 %s)", req.Description, added.Size, hash[:12]),
			RefID:       added.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	added.Data = append([]byte(nil), added.Data...)
	added.Custody = append([]CustodyEntry(nil), added.Custody...)

	t.sink.RecordEvent(ctx, audit.Event{
		Type:        audit.EventTypeIncidentEvidenceAdded,
		Category:    audit.CategoryIncident,
		Severity:    audit.SeverityInfo,
		Actor:       audit.Actor{ID: collector, Type: actorType(collector)},
		Description: "Evidence added to incident " + incidentID,
		Metadata: map[string]any{
			"incident_id": incidentID,
			"evidence_id": added.ID,
			"hash":        added.Hash,
			"size":        added.Size,
		},
	})
	return &added, nil
}

// AccessEvidence records a custody step and re-verifies the content hash.
// A mismatch marks the evidence tampered; the flag is never cleared.
func (t *Tracker) AccessEvidence(ctx context.Context, incidentID, evidenceID, actor, action, notes string) (*Evidence, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	switch action {
	case "":
		action = CustodyAccessed
	case CustodyAccessed, CustodyTransferred, CustodyVerified:
	default:
		return nil, fmt.Errorf("%w: unknown custody action %q", ErrInvalidInput, action)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var result Evidence
	var tampered bool
	_, err := t.mutate(ctx, incidentID, func(inc *Incident, now time.Time) error {
		ev := inc.evidence(evidenceID)
		if ev == nil {
			return ErrEvidenceNotFound
		}
		observed := HashContent(ev.Data)
		ev.Custody = append(ev.Custody, CustodyEntry{
			Actor:     actor,
			Action:    action,
			Timestamp: now,
			Hash:      observed,
			Notes:     notes,
		})
		t.appendTimeline(inc, TimelineEntry{
			Type:        TimelineEvidenceAccessed,
			Actor:       actor,
			Description: fmt.Sprintf("Evidence %s: %s", action, ev.Description),
			RefID:       ev.ID,
		})
		if observed != ev.Hash && !ev.IsTampered {
			ev.IsTampered = true
			tampered = true
			t.appendTimeline(inc, TimelineEntry{
				Type:        TimelineEvidenceTampered,
				Actor:       "system",
				Description: fmt.Sprintf("Evidence hash mismatch: recorded %s, observed %s", ev.Hash, observed),
				RefID:       ev.ID,
			})
		}
		result = *ev
		result.Data = append([]byte(nil), ev.Data...)
		result.Custody = append([]CustodyEntry(nil), ev.Custody...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tampered {
		logging.Ctx(ctx).Error().Str("incident_id", incidentID).Str("evidence_id", evidenceID).Msg("Evidence integrity check failed")
	}
	return &result, nil
}
