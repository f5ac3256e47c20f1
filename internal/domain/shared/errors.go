// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrExpired         = errors.New("expired")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "session", "violation", "verdict"
	Op      string // Operation that failed, e.g., "Create", "Finalize"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Session domain errors
var (
	ErrSessionNotFound = NewDomainError("session", "Find", ErrNotFound, "session not found")

	// ErrDuplicateSession is returned when an active session already exists
	// for the (user, course) key. The first connection stays authoritative.
	ErrDuplicateSession = NewDomainError("session", "Create", ErrAlreadyExists, "active session already exists for this user and course")

	// ErrSessionClosed is returned for events arriving after finalize began.
	// Non-fatal: the transport layer drops the event and keeps the connection.
	ErrSessionClosed = NewDomainError("session", "Ingest", ErrInvalidState, "session is finalizing or closed")

	ErrSessionNotActive = NewDomainError("session", "Ingest", ErrInvalidState, "session is not active")
	ErrAlreadyAttached  = NewDomainError("session", "Attach", ErrAlreadyExists, "a connection is already attached to this session")
)

// Violation domain errors
var (
	ErrUnknownViolationType = NewDomainError("violation", "Parse", ErrInvalidInput, "unknown violation type")
	ErrUnknownSeverity      = NewDomainError("violation", "Parse", ErrInvalidInput, "unknown severity level")
)

// Verdict domain errors
var (
	ErrVerdictNotFound = NewDomainError("verdict", "Find", ErrNotFound, "no verdict recorded for this user and course")
	ErrInvalidScore    = NewDomainError("verdict", "Validate", ErrValueOutOfRange, "score must be between 0 and 100")

	// ErrPersistence indicates the verdict could not be stored. The computed
	// decision is still returned to the caller; the write can be retried.
	ErrPersistence = NewDomainError("verdict", "Persist", ErrServiceUnavailable, "failed to persist verdict")
)

// Detector errors
var (
	ErrDetectorTimeout = NewDomainError("detector", "Analyze", ErrTimeout, "detector did not respond in time")
	ErrDetectorFailure = NewDomainError("detector", "Analyze", ErrExternalService, "detector request failed")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsMissedTick reports whether a detector error should be treated as a
// missed observation tick rather than a session failure.
func IsMissedTick(err error) bool {
	return errors.Is(err, ErrDetectorTimeout) || errors.Is(err, ErrDetectorFailure)
}
