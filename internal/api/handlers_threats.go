// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/campusguard/internal/auth"
)

// ResolveRequest is the body of a threat resolution.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

// ListThreats returns unresolved indicators, newest first.
func (h *Handler) ListThreats(w http.ResponseWriter, r *http.Request) {
	threats := h.svc.GetActiveThreats()
	NewResponseWriter(w, r).List(threats, len(threats))
}

// ResolveThreat resolves an indicator as the calling operator. A second
// resolution returns the first one unchanged.
func (h *Handler) ResolveThreat(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(rw, r, err)
		return
	}

	ind, err := h.svc.ResolveThreat(r.Context(), chi.URLParam(r, "id"), actorID(r), req.Resolution)
	if err != nil {
		writeError(rw, r, err)
		return
	}
	rw.Success(ind)
}

// actorID is the authenticated operator, or empty.
func actorID(r *http.Request) string {
	if subject := auth.GetAuthSubject(r.Context()); subject != nil {
		return subject.ID
	}
	return ""
}
