// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

/*
Package auth authenticates the two kinds of CampusGuard callers.

Analysis callers (the login flow, the registration flow, edge proxies) present
a static API key in the X-API-Key header. Only bcrypt hashes of the keys are
configured; APIKeyVerifier compares against them and remembers digests of keys
it has already accepted so the bcrypt cost is paid once per key.

Security operators reach the admin routes with an HS256 bearer token issued by
the campus identity provider. JWTManager verifies the signature, expiry and
optional issuer and exposes the token's subject and roles as a Subject on the
request context, where the authz package picks them up.

Usage:

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
	    return err
	}
	keys, err := auth.NewAPIKeyVerifier(cfg.Security.APIKeyHashes)
	if err != nil {
	    return err
	}

	r.With(auth.RequireAPIKey(keys)).Post("/api/v1/analyze/login", h.AnalyzeLogin)
	r.With(auth.RequireJWT(jwtManager)).Get("/api/v1/threats", h.ListThreats)
*/
package auth
