// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

/*
Package api exposes the CampusGuard security operations over HTTP using the
chi router.

Two kinds of callers use it:

  - Analysis callers (login flow, registration flow, edge proxy) present an
    API key and call the /api/v1/analyze, /api/v1/ratelimit and
    /api/v1/fraud routes.
  - Security operators present a JWT and are authorized by Casbin for the
    threat, incident, blocklist, audit and dashboard routes.

The login route applies the login rate-limit policy before analysis. A
denied check answers 429 with {retryAfter, limit, remaining:0} and a
Retry-After header. The request-screening route answers 403 with
{reason, requestId, timestamp} when the request is blocked. Both decisions
are already on the audit sink when the response is written. Every other
response uses the APIResponse envelope. Errors carry only generic messages
and the request ID; details go to the log.
*/
package api
