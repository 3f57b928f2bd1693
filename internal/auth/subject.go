// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package auth

import (
	"context"
	"errors"
)

// Method records how a caller authenticated.
type Method string

const (
	// MethodAPIKey is a machine caller presenting X-API-Key.
	MethodAPIKey Method = "api_key"

	// MethodJWT is an operator presenting a bearer token.
	MethodJWT Method = "jwt"
)

// Standard authentication errors
var (
	// ErrNoCredentials indicates no credentials were provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials indicates credentials were invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Subject is the authenticated caller.
type Subject struct {
	// ID is the token subject for operators and "api-key" for machines.
	ID     string
	Roles  []string
	Method Method
}

// HasRole reports whether the subject carries role.
func (s *Subject) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey string

const subjectContextKey contextKey = "auth-subject"

// ContextWithSubject stores subject on ctx.
func ContextWithSubject(ctx context.Context, subject *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

// GetAuthSubject returns the subject stored by the auth middleware, or nil.
func GetAuthSubject(ctx context.Context) *Subject {
	subject, _ := ctx.Value(subjectContextKey).(*Subject)
	return subject
}
