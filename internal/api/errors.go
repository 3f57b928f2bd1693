// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/campusguard/internal/fraud"
	"github.com/tomtom215/campusguard/internal/guard"
	"github.com/tomtom215/campusguard/internal/incident"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/threat"
	"github.com/tomtom215/campusguard/internal/validation"
)

// Generic messages; these are all that cross the trust boundary.
const (
	msgInvalidRequest = "invalid request"
	msgInternalError  = "internal error"
	msgNotFound       = "not found"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// errBodyRequired is returned for empty bodies.
var errBodyRequired = errors.New("request body is required")

// decodeJSON reads one JSON object from the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// writeError maps a domain error to a status and generic message. The
// underlying error is logged with the request ID.
func writeError(rw *ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, msgInvalidRequest,
			map[string]any{"fields": verr.Fields()})
		return
	case errors.Is(err, incident.ErrNotFound),
		errors.Is(err, incident.ErrActionNotFound),
		errors.Is(err, incident.ErrEvidenceNotFound),
		errors.Is(err, threat.ErrIndicatorNotFound),
		errors.Is(err, fraud.ErrNotBlocked):
		rw.NotFound(msgNotFound)
		return
	case errors.Is(err, incident.ErrInvalidTransition):
		rw.Error(http.StatusConflict, ErrCodeConflict, "invalid status transition")
		return
	case errors.Is(err, incident.ErrInvalidInput),
		errors.Is(err, fraud.ErrInvalidInput),
		errors.Is(err, guard.ErrMissingActor):
		rw.BadRequest(msgInvalidRequest)
		return
	case errors.Is(err, guard.ErrNoBlocklist):
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "blocklist not configured")
		return
	}

	logging.Ctx(r.Context()).Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Request failed")
	rw.InternalError()
}

// writeDecodeError answers a body that could not be decoded.
func writeDecodeError(rw *ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Debug().Err(err).Msg("Rejected request body")
	rw.BadRequest(msgInvalidRequest)
}
