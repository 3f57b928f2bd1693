// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package logging

import "strings"

// Redacted replaces the value of any sensitive metadata key.
const Redacted = "[REDACTED]"

// sensitiveKeyParts are matched as case-insensitive substrings of a key, so
// "new_password" and "X-Auth-Token" are both caught.
var sensitiveKeyParts = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"api_key",
	"apikey",
	"authorization",
	"cookie",
	"session",
	"credential",
	"private_key",
}

// IsSensitiveKey reports whether key names a value that must never be logged
// or persisted in clear text.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// RedactMetadata returns a copy of m with sensitive values replaced by
// Redacted. Nested maps and slices of maps are walked. The input is not
// modified. A nil map yields nil.
func RedactMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactMetadata(val)
	case map[string]string:
		cp := make(map[string]any, len(val))
		for k, s := range val {
			if IsSensitiveKey(k) {
				cp[k] = Redacted
			} else {
				cp[k] = s
			}
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = redactValue(item)
		}
		return cp
	default:
		return v
	}
}

// SanitizeEmail masks the local part of an address for log output,
// keeping the first character and the domain: "j***@uni.edu".
func SanitizeEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
