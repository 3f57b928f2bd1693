// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package auth

import (
	"net/http"
	"strings"

	"github.com/tomtom215/campusguard/internal/logging"
)

// APIKeyHeader carries analysis callers' keys.
const APIKeyHeader = "X-API-Key"

// accessTokenParam carries the bearer token for WebSocket upgrades, which
// browsers cannot send with an Authorization header.
const accessTokenParam = "access_token"

// apiKeySubjectID is the subject recorded for machine callers.
const apiKeySubjectID = "api-key"

// RequireAPIKey rejects requests without a valid X-API-Key.
func RequireAPIKey(v *APIKeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				writeUnauthorized(w, ErrNoCredentials)
				return
			}
			if !v.Verify(key) {
				logging.Ctx(r.Context()).Warn().
					Str("remote_addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("Rejected invalid API key")
				writeUnauthorized(w, ErrInvalidCredentials)
				return
			}
			subject := &Subject{ID: apiKeySubjectID, Method: MethodAPIKey}
			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
		})
	}
}

// RequireJWT rejects requests without a valid bearer token and stores the
// token's subject on the request context.
func RequireJWT(m *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writeUnauthorized(w, ErrNoCredentials)
				return
			}

			claims, err := m.ValidateToken(token)
			if err != nil {
				logging.Ctx(r.Context()).Warn().Err(err).
					Str("remote_addr", r.RemoteAddr).
					Msg("Token validation failed")
				writeUnauthorized(w, ErrInvalidCredentials)
				return
			}

			subject := &Subject{ID: claims.Subject, Roles: claims.Roles, Method: MethodJWT}
			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
		})
	}
}

// extractBearerToken reads the Authorization header, falling back to the
// access_token query parameter on WebSocket upgrades only.
func extractBearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get(accessTokenParam)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="campusguard"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + err.Error() + `"}`))
}
