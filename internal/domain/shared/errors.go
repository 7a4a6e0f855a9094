// Package shared contains common domain types and errors that are used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Configuration errors
	ErrInvalidReference      = errors.New("invalid reference")
	ErrEmptyThresholdTable   = errors.New("empty threshold table")
	ErrInvalidThresholdTable = errors.New("invalid threshold table")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidID       = errors.New("invalid ID")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrNotFound = errors.New("entity not found")
	ErrLocked   = errors.New("resource locked")

	// External service errors
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrExternalService  = errors.New("external service error")
	ErrRateLimited      = errors.New("rate limited")
	ErrTimeout          = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "session", "roles"
	Op      string // Operation that failed, e.g., "Aggregate", "ClassifyTier"
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

// StoreUnavailable wraps a storage failure so callers can match ErrStoreUnavailable
// without knowing which backend produced it.
func StoreUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError("session", op, ErrStoreUnavailable, "session store request failed", err)
}

// IsConfiguration reports whether err is a configuration error. These are surfaced
// as fatal at startup and are never retried.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrEmptyThresholdTable) ||
		errors.Is(err, ErrInvalidThresholdTable)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout)
}
