// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"net/http"
	"strconv"

	"github.com/tomtom215/campusguard/internal/audit"
	"github.com/tomtom215/campusguard/internal/logging"
)

// maxAuditLimit caps ?limit on audit queries.
const maxAuditLimit = 1000

// AuditEvents returns recorded audit events, as a JSON envelope or as a CEF
// document for SIEM import (?format=cef).
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.audit == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.DefaultQueryFilter()
	for _, t := range splitList(q.Get("type")) {
		filter.Types = append(filter.Types, audit.EventType(t))
	}
	for _, s := range splitList(q.Get("severity")) {
		filter.Severities = append(filter.Severities, audit.Severity(s))
	}
	filter.ActorID = q.Get("actor")
	filter.SourceIP = q.Get("source_ip")
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			rw.BadRequest(msgInvalidRequest)
			return
		}
		filter.Limit = n
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(rw, r, err)
		return
	}

	switch q.Get("format") {
	case "", "json":
		rw.List(events, len(events))
	case "cef":
		body, err := audit.NewCEFExporter().Export(events)
		if err != nil {
			writeError(rw, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("write CEF export")
		}
	default:
		rw.BadRequest(msgInvalidRequest)
	}
}
