// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/campusguard/internal/fraud"
)

// Unblock removes a blocklist entry. ?kind= selects email or ip; without it
// a value containing "@" is treated as an email.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	value := chi.URLParam(r, "value")

	kind := fraud.EntryKind(r.URL.Query().Get("kind"))
	switch kind {
	case fraud.KindEmail, fraud.KindIP:
	case "":
		kind = fraud.KindIP
		if strings.Contains(value, "@") {
			kind = fraud.KindEmail
		}
	default:
		rw.BadRequest(msgInvalidRequest)
		return
	}

	if err := h.svc.Unblock(r.Context(), kind, value, actorID(r)); err != nil {
		writeError(rw, r, err)
		return
	}
	rw.NoContent()
}
