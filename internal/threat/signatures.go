// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package threat

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Signature is one known-bad pattern. Pattern is a regular expression for
// regex signatures and a literal for keyword signatures.
type Signature struct {
	Name     string
	Pattern  string
	Severity Severity
	Score    int
}

type compiledSignature struct {
	Signature
	re *regexp.Regexp
}

// DefaultSQLInjectionSignatures covers stacked statements, tautologies,
// UNION probes and time-based blind injection.
func DefaultSQLInjectionSignatures() []Signature {
	return []Signature{
		{Name: "stacked_ddl", Pattern: `(?i);\s*(drop|truncate|alter)\s+(table|database|schema)\b`, Severity: SeverityCritical, Score: 95},
		{Name: "ddl_statement", Pattern: `(?i)\b(drop|truncate)\s+(table|database)\b`, Severity: SeverityCritical, Score: 90},
		{Name: "union_select", Pattern: `(?i)\bunion\b(\s+all)?\s+select\b`, Severity: SeverityHigh, Score: 85},
		{Name: "stacked_dml", Pattern: `(?i);\s*(insert\s+into|update\s+\w+\s+set|delete\s+from)\b`, Severity: SeverityHigh, Score: 85},
		{Name: "tautology", Pattern: `(?i)'\s*or\s+'?\w+'?\s*=\s*'?\w+`, Severity: SeverityHigh, Score: 80},
		{Name: "time_based", Pattern: `(?i)(\b(sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\b)`, Severity: SeverityHigh, Score: 80},
		{Name: "comment_terminator", Pattern: `'\s*(--|#|/\*)`, Severity: SeverityMedium, Score: 60},
		{Name: "schema_probe", Pattern: `(?i)\binformation_schema\b`, Severity: SeverityMedium, Score: 60},
	}
}

// DefaultXSSSignatures covers script injection and inline handlers.
func DefaultXSSSignatures() []Signature {
	return []Signature{
		{Name: "script_tag", Pattern: `(?i)<\s*script\b`, Severity: SeverityHigh, Score: 85},
		{Name: "cookie_access", Pattern: `(?i)\bdocument\s*\.\s*(cookie|location)\b`, Severity: SeverityHigh, Score: 80},
		{Name: "event_handler", Pattern: `(?i)<[^>]*\bon(error|load|click|mouseover|focus|submit|animationstart)\s*=`, Severity: SeverityHigh, Score: 75},
		{Name: "javascript_uri", Pattern: `(?i)javascript\s*:`, Severity: SeverityHigh, Score: 75},
		{Name: "embedded_frame", Pattern: `(?i)<\s*(iframe|object|embed)\b`, Severity: SeverityMedium, Score: 60},
	}
}

// DefaultMaliciousKeywords covers traversal, sensitive paths and known
// scanner user agents.
func DefaultMaliciousKeywords() []Signature {
	return []Signature{
		{Name: "path_traversal", Pattern: "../", Severity: SeverityHigh, Score: 70},
		{Name: "path_traversal", Pattern: `..\`, Severity: SeverityHigh, Score: 70},
		{Name: "encoded_traversal", Pattern: "%2e%2e%2f", Severity: SeverityHigh, Score: 75},
		{Name: "sensitive_file", Pattern: "/etc/passwd", Severity: SeverityCritical, Score: 90},
		{Name: "sensitive_file", Pattern: "/etc/shadow", Severity: SeverityCritical, Score: 90},
		{Name: "sensitive_file", Pattern: "/.env", Severity: SeverityHigh, Score: 70},
		{Name: "sensitive_file", Pattern: "/.git/", Severity: SeverityHigh, Score: 70},
		{Name: "shell_binary", Pattern: "/bin/sh", Severity: SeverityHigh, Score: 80},
		{Name: "shell_binary", Pattern: "cmd.exe", Severity: SeverityHigh, Score: 80},
		{Name: "scanner", Pattern: "sqlmap", Severity: SeverityMedium, Score: 50},
		{Name: "scanner", Pattern: "nikto", Severity: SeverityMedium, Score: 50},
		{Name: "scanner", Pattern: "nmap", Severity: SeverityMedium, Score: 50},
		{Name: "scanner", Pattern: "masscan", Severity: SeverityMedium, Score: 50},
		{Name: "scanner", Pattern: "acunetix", Severity: SeverityMedium, Score: 50},
		{Name: "scanner", Pattern: "gobuster", Severity: SeverityMedium, Score: 50},
	}
}

// DefaultCommandInjectionSignatures are regex companions to the malicious
// keyword set.
func DefaultCommandInjectionSignatures() []Signature {
	return []Signature{
		{Name: "command_chain", Pattern: `(?i)[;&|]\s*(cat|ls|wget|curl|nc|bash|sh|whoami)\b`, Severity: SeverityHigh, Score: 80},
		{Name: "command_substitution", Pattern: "(\\$\\([^)]*\\)|`[^`]+`)", Severity: SeverityHigh, Score: 75},
	}
}

// SignatureDetector matches a request against a bank of signatures and
// reports the worst match as a single indicator.
type SignatureDetector struct {
	toggle
	kind     Type
	regexes  []compiledSignature
	keywords *keywordSet
}

// NewSignatureDetector compiles regexSigs and builds a keyword matcher over
// keywordSigs. Either bank may be empty.
func NewSignatureDetector(kind Type, regexSigs, keywordSigs []Signature) (*SignatureDetector, error) {
	d := &SignatureDetector{toggle: toggle{enabled: true}, kind: kind}
	for _, sig := range regexSigs {
		re, err := regexp.Compile(sig.Pattern)
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", sig.Name, err)
		}
		if !sig.Severity.Valid() {
			return nil, fmt.Errorf("signature %q: invalid severity %q", sig.Name, sig.Severity)
		}
		d.regexes = append(d.regexes, compiledSignature{Signature: sig, re: re})
	}
	if len(keywordSigs) > 0 {
		d.keywords = newKeywordSet(keywordSigs)
	}
	return d, nil
}

// NewSQLInjectionDetector returns a detector over the default SQL signatures.
func NewSQLInjectionDetector() (*SignatureDetector, error) {
	return NewSignatureDetector(TypeSQLInjection, DefaultSQLInjectionSignatures(), nil)
}

// NewXSSDetector returns a detector over the default XSS signatures.
func NewXSSDetector() (*SignatureDetector, error) {
	return NewSignatureDetector(TypeXSS, DefaultXSSSignatures(), nil)
}

// NewMaliciousRequestDetector returns a detector over the default traversal,
// scanner and command injection signatures.
func NewMaliciousRequestDetector() (*SignatureDetector, error) {
	return NewSignatureDetector(TypeMaliciousRequest, DefaultCommandInjectionSignatures(), DefaultMaliciousKeywords())
}

// Type implements Detector.
func (d *SignatureDetector) Type() Type { return d.kind }

// Detect implements Detector.
func (d *SignatureDetector) Detect(_ context.Context, ev *Event) ([]*Indicator, error) {
	if ev.Kind != KindRequest || ev.Request == nil {
		return nil, nil
	}
	view := SerializeRequest(ev.Request, ev.UserAgent)

	var matched []Signature
	for _, sig := range d.regexes {
		if sig.re.MatchString(view) {
			matched = append(matched, sig.Signature)
		}
	}
	if d.keywords != nil {
		matched = append(matched, d.keywords.search(view)...)
	}
	if len(matched) == 0 {
		return nil, nil
	}

	worst := matched[0]
	names := make([]string, 0, len(matched))
	seen := make(map[string]bool)
	for _, m := range matched {
		if m.Score > worst.Score {
			worst = m
		}
		if !seen[m.Name] {
			seen[m.Name] = true
			names = append(names, m.Name)
		}
	}

	return []*Indicator{newIndicator(d.kind, worst.Severity, worst.Score, ev, map[string]any{
		"signatures": names,
		"method":     ev.Request.Method,
		"path":       requestPath(ev.Request.URL),
	})}, nil
}

// SerializeRequest flattens method, URL, headers, user agent and body into the
// single text view signatures run against. A URL-decoded copy is appended when
// decoding changes the text, so encoded payloads are matched too.
func SerializeRequest(req *RequestDescriptor, userAgent string) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.URL)
	b.WriteByte('\n')

	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(req.Headers[k])
		b.WriteByte('\n')
	}
	if userAgent != "" {
		b.WriteString("User-Agent: ")
		b.WriteString(userAgent)
		b.WriteByte('\n')
	}
	b.WriteString(req.Body)

	raw := b.String()
	if decoded, err := url.QueryUnescape(raw); err == nil && decoded != raw {
		return raw + "\n" + decoded
	}
	return raw
}

func requestPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

// CSRFConfig configures the forged-request detector.
type CSRFConfig struct {
	// TokenHeaders are accepted token header names, matched case-insensitively.
	TokenHeaders []string
	// ExemptPaths are URL path prefixes that do not require a token.
	ExemptPaths []string
}

// DefaultCSRFConfig accepts X-CSRF-Token or X-XSRF-Token.
func DefaultCSRFConfig() CSRFConfig {
	return CSRFConfig{TokenHeaders: []string{"X-CSRF-Token", "X-XSRF-Token"}}
}

// CSRFDetector flags state-changing requests that carry no token header.
type CSRFDetector struct {
	toggle
	config CSRFConfig
}

// NewCSRFDetector creates a CSRF detector.
func NewCSRFDetector(cfg CSRFConfig) (*CSRFDetector, error) {
	if len(cfg.TokenHeaders) == 0 {
		return nil, fmt.Errorf("csrf detector needs at least one token header")
	}
	return &CSRFDetector{toggle: toggle{enabled: true}, config: cfg}, nil
}

// Type implements Detector.
func (d *CSRFDetector) Type() Type { return TypeCSRF }

// Detect implements Detector.
func (d *CSRFDetector) Detect(_ context.Context, ev *Event) ([]*Indicator, error) {
	if ev.Kind != KindRequest || ev.Request == nil {
		return nil, nil
	}
	switch strings.ToUpper(ev.Request.Method) {
	case "POST", "PUT", "DELETE":
	default:
		return nil, nil
	}

	path := requestPath(ev.Request.URL)
	for _, prefix := range d.config.ExemptPaths {
		if strings.HasPrefix(path, prefix) {
			return nil, nil
		}
	}

	for name, value := range ev.Request.Headers {
		for _, want := range d.config.TokenHeaders {
			if strings.EqualFold(name, want) && strings.TrimSpace(value) != "" {
				return nil, nil
			}
		}
	}

	return []*Indicator{newIndicator(TypeCSRF, SeverityMedium, 50, ev, map[string]any{
		"method": strings.ToUpper(ev.Request.Method),
		"path":   path,
		"reason": "missing_token",
	})}, nil
}
