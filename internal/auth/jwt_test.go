// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/campusguard/internal/config"
)

const testSecret = "this_is_a_very_long_secret_key_with_32_plus_characters"

func newTestManager(t *testing.T, issuer string) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(&config.SecurityConfig{JWTSecret: testSecret, JWTIssuer: issuer})
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	return m
}

func TestNewJWTManager(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.SecurityConfig
		wantErr bool
	}{
		{name: "valid secret", cfg: &config.SecurityConfig{JWTSecret: testSecret}},
		{name: "empty secret", cfg: &config.SecurityConfig{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewJWTManager(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("NewJWTManager() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewJWTManager() unexpected error = %v", err)
			}
			if manager == nil {
				t.Error("NewJWTManager() returned nil manager")
			}
		})
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := newTestManager(t, "idp.example.edu")

	token, err := m.GenerateToken("analyst@example.edu", []string{"analyst"})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "analyst@example.edu" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "analyst" {
		t.Errorf("Roles = %v", claims.Roles)
	}
}

func signClaims(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestValidateTokenRejects(t *testing.T) {
	m := newTestManager(t, "idp.example.edu")
	now := time.Now()
	valid := func() *Claims {
		return &Claims{
			Roles: []string{"viewer"},
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "viewer@example.edu",
				Issuer:    "idp.example.edu",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	wrongIssuer := valid()
	wrongIssuer.Issuer = "elsewhere.example.com"

	noSubject := valid()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"expired", signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"missing expiry", signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry)},
		{"wrong issuer", signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer)},
		{"missing subject", signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject)},
		{"wrong secret", signClaims(t, jwt.SigningMethodHS256, []byte(strings.Repeat("x", 40)), valid())},
		{"hs512", signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), valid())},
		{"none algorithm", signClaims(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.ValidateToken(tt.token); err == nil {
				t.Error("ValidateToken() expected error")
			}
		})
	}
}

func TestValidateTokenWithoutIssuerCheck(t *testing.T) {
	m := newTestManager(t, "")
	token := signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "responder@example.edu",
			Issuer:    "any-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if _, err := m.ValidateToken(token); err != nil {
		t.Errorf("ValidateToken() error = %v", err)
	}
}
