// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package authz authorizes admin API calls with Casbin.
//
// Requests flow through authentication first and authorization second:
//
//	Request -> auth.RequireJWT -> authz.Middleware.Require -> Handler
//
// Permissions are coarse resource/action pairs rather than URL patterns:
//
//	threats    read | write
//	incidents  read | write
//	blocklist  write
//	dashboard  read
//
// The embedded policy defines four roles with inheritance
// (viewer < analyst < responder, plus admin). Deployments can replace both
// the model and the policy with files via security.casbin.model_path and
// security.casbin.policy_path.
//
// Decisions are cached per (subject, object, action) for a short TTL and the
// cache is flushed whenever the policy changes.
package authz
