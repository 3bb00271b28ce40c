package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Scheduling error taxonomy. Callers match with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("operation not allowed in current session status")
	ErrBatchLimitExceeded   = errors.New("batch exceeds the maximum number of clients")
	ErrCapacityExceeded     = errors.New("session is at maximum capacity")
	ErrAlreadyAssigned      = errors.New("client is already assigned to this session")
	ErrExclusivityViolation = errors.New("client already holds an active enrollment in another session")
)

// ErrNotEntitled is a validation failure: the client's package does not cover the session.
var ErrNotEntitled = fmt.Errorf("%w: client package does not include live sessions", ErrValidation)

// ValidationError captures field level validation issues.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return ErrValidation.Error()
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match any *ValidationError.
func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a field level validation error.
func (v *ValidationError) Add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// OrNil returns v as an error when it holds issues, nil otherwise.
func (v *ValidationError) OrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}

// ValidateSession checks the fields every stored session must satisfy.
func ValidateSession(s *Session) error {
	v := &ValidationError{}
	if strings.TrimSpace(s.Title) == "" {
		v.Add("title", "is required")
	}
	if s.MaxCapacity < 1 {
		v.Add("maxCapacity", "must be at least 1")
	}
	if s.DurationMinutes <= 0 {
		v.Add("durationMinutes", "must be positive")
	}
	if s.ScheduledAt.IsZero() {
		v.Add("scheduledAt", "is required")
	}
	if s.Status != "" && !s.Status.IsValid() {
		v.Add("status", "unknown status "+string(s.Status))
	}
	return v.OrNil()
}

// Code returns a stable machine-readable code for a scheduling error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotEntitled):
		return "not_entitled"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrBatchLimitExceeded):
		return "batch_limit_exceeded"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, ErrExclusivityViolation):
		return "exclusivity_violation"
	}
	return "internal_error"
}
