// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package validation validates inbound payloads with go-playground/validator v10.
//
// A single validator instance is shared process-wide so struct metadata is
// parsed once. Field names in errors follow the json tag, so messages match
// what API clients actually send:
//
//	type LoginRequest struct {
//	    UserID    string `json:"userId" validate:"required,max=256"`
//	    IPAddress string `json:"ipAddress" validate:"required,ip"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    rw.ErrorWithDetails(http.StatusBadRequest, code, "invalid request",
//	        map[string]any{"fields": verr.Fields()})
//	    return
//	}
//
// Custom tags:
//   - severity: one of low, medium, high, critical
//   - policy: a rate-limit policy name (lower-case letters, digits, '_' or '-')
//   - no_ctl: string contains no ASCII control characters
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrValidation matches every *RequestValidationError under errors.Is.
var ErrValidation = errors.New("validation failed")

var (
	validate     *validator.Validate
	validateOnce sync.Once

	policyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
)

// FieldIssue describes one field that failed validation. It is safe to
// return to API clients: the rejected value is never included.
type FieldIssue struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// RequestValidationError collects every field failure of one payload.
type RequestValidationError struct {
	issues []FieldIssue
}

// Fields returns the individual field failures in declaration order.
func (ve *RequestValidationError) Fields() []FieldIssue {
	return ve.issues
}

func (ve *RequestValidationError) Error() string {
	if len(ve.issues) == 0 {
		return ErrValidation.Error()
	}
	messages := make([]string, len(ve.issues))
	for i := range ve.issues {
		messages[i] = ve.issues[i].Message
	}
	return strings.Join(messages, "; ")
}

// Unwrap lets callers test for ErrValidation.
func (ve *RequestValidationError) Unwrap() error {
	return ErrValidation
}

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		// Registration only fails for empty tags or nil funcs.
		_ = validate.RegisterValidation("severity", validateSeverity)
		_ = validate.RegisterValidation("policy", validatePolicy)
		_ = validate.RegisterValidation("no_ctl", validateNoControl)
	})

	return validate
}

// ValidateStruct validates s and returns nil or the collected failures.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// InvalidValidationError: s was not a struct. A programming error,
		// but still reported as a failed payload.
		return &RequestValidationError{issues: []FieldIssue{{Field: "", Tag: "struct", Message: err.Error()}}}
	}

	issues := make([]FieldIssue, len(fieldErrs))
	for i, fe := range fieldErrs {
		issues[i] = FieldIssue{Field: fe.Field(), Tag: fe.Tag(), Message: message(fe)}
	}
	return &RequestValidationError{issues: issues}
}

func validateSeverity(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "low", "medium", "high", "critical":
		return true
	}
	return false
}

func validatePolicy(fl validator.FieldLevel) bool {
	return policyPattern.MatchString(fl.Field().String())
}

func validateNoControl(fl validator.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), func(r rune) bool {
		return r < 0x20 || r == 0x7f
	})
}

var messages = map[string]string{
	"required": "%s is required",
	"email":    "%s must be a valid email address",
	"ip":       "%s must be a valid IP address",
	"severity": "%s must be one of: low medium high critical",
	"policy":   "%s must be a valid policy name",
	"no_ctl":   "%s must not contain control characters",
}

func message(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}

	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "min":
		return fmt.Sprintf("%s must be at least %s%s", field, param, unit)
	case "max":
		return fmt.Sprintf("%s must be at most %s%s", field, param, unit)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
