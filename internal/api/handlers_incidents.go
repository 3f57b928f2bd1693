// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/threat"
)

// maxIncidentListLimit caps ?limit on incident queries.
const maxIncidentListLimit = 500

// StatusRequest moves an incident to its next status.
type StatusRequest struct {
	Status incident.Status `json:"status"`
	Notes  string          `json:"notes"`
}

// NotesRequest carries optional notes for action transitions.
type NotesRequest struct {
	Notes string `json:"notes"`
}

// ListIncidents returns the active set, or queries the store when any of
// status, severity, type or limit is given.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()

	if q.Get("status") == "" && q.Get("severity") == "" && q.Get("type") == "" && q.Get("limit") == "" {
		active := h.svc.GetActiveIncidents()
		rw.List(active, len(active))
		return
	}

	filter, ok := parseIncidentFilter(q.Get("status"), q.Get("severity"), q.Get("type"), q.Get("limit"))
	if !ok {
		rw.BadRequest(msgInvalidRequest)
		return
	}
	found, err := h.svc.ListIncidents(r.Context(), filter)
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.List(found, len(found))
}

func parseIncidentFilter(statuses, severities, typ, limit string) (incident.Filter, bool) {
	var f incident.Filter
	for _, s := range splitList(statuses) {
		st := incident.Status(s)
		if !st.Valid() {
			return f, false
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range splitList(severities) {
		sev := threat.Severity(s)
		if !sev.Valid() {
			return f, false
		}
		f.Severities = append(f.Severities, sev)
	}
	f.Type = threat.Type(typ)
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > maxIncidentListLimit {
			return f, false
		}
		f.Limit = n
	}
	return f, true
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CreateIncident opens an incident manually.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req incident.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(rw, r, err)
		return
	}

	inc, err := h.svc.CreateIncident(r.Context(), req, actorID(r))
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Created(inc)
}

// GetIncident returns one incident with its full timeline.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	inc, err := h.svc.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Success(inc)
}

// UpdateIncidentStatus advances the incident one step.
func (h *Handler) UpdateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(rw, r, err)
		return
	}
	if !req.Status.Valid() {
		rw.BadRequest(msgInvalidRequest)
		return
	}

	inc, err := h.svc.UpdateIncidentStatus(r.Context(), chi.URLParam(r, "id"), req.Status, actorID(r), req.Notes)
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Success(inc)
}

// AddEvidence attaches evidence; data is base64 in JSON.
func (h *Handler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req incident.EvidenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(rw, r, err)
		return
	}

	ev, err := h.svc.AddEvidence(r.Context(), chi.URLParam(r, "id"), req, actorID(r))
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Created(ev)
}

// GetEvidence returns evidence and records the view in its chain of custody.
func (h *Handler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ev, err := h.svc.AccessEvidence(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "evidenceID"), actorID(r), incident.CustodyAccessed, "")
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Success(ev)
}

// CreateAction adds a remediation action.
func (h *Handler) CreateAction(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req incident.ActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(rw, r, err)
		return
	}

	action, err := h.svc.CreateAction(r.Context(), chi.URLParam(r, "id"), req, actorID(r))
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Created(action)
}

// StartAction marks an action in progress.
func (h *Handler) StartAction(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	action, err := h.svc.StartAction(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "actionID"), actorID(r))
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Success(action)
}

// CompleteAction completes an action. The body is optional.
func (h *Handler) CompleteAction(w http.ResponseWriter, r *http.Request) {
	h.finishAction(w, r, h.svc.CompleteAction)
}

// CancelAction cancels an action. The body is optional.
func (h *Handler) CancelAction(w http.ResponseWriter, r *http.Request) {
	h.finishAction(w, r, h.svc.CancelAction)
}

type actionFinisher func(ctx context.Context, incidentID, actionID, actor, notes string) (*incident.Action, error)

func (h *Handler) finishAction(w http.ResponseWriter, r *http.Request, finish actionFinisher) {
	rw := NewResponseWriter(w, r)

	var req NotesRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil && err != errBodyRequired {
			writeDecodeError(rw, r, err)
			return
		}
	}

	action, err := finish(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "actionID"), actorID(r), req.Notes)
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Success(action)
}
