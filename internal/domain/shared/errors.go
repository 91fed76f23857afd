// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
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
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// Definition errors. Raised while configuring the catalog, never during evaluation.
	ErrConfig        = errors.New("configuration error")
	ErrCycleDetected = errors.New("dependency cycle detected")

	// Ingestion errors
	ErrUnknownSkill         = errors.New("unknown skill")
	ErrUnknownUser          = errors.New("unknown user")
	ErrUnknownProject       = errors.New("unknown project")
	ErrUnknownSubject       = errors.New("unknown subject")
	ErrUnknownBadge         = errors.New("unknown badge")
	ErrSkillLocked          = errors.New("skill is locked")
	ErrSelfReportNotAllowed = errors.New("self reporting not allowed")

	// State errors
	ErrStateTransition = errors.New("invalid state transition")
	ErrAlreadyResolved = errors.New("already resolved")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockTimeout            = errors.New("lock acquisition timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "catalog", "progress", "selfreport"
	Op      string // Operation that failed, e.g., "AddEdge", "Resolve"
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

// ConfigErrorf builds a configuration error for the given domain and operation.
func ConfigErrorf(domain, op, format string, args ...interface{}) *DomainError {
	return NewDomainError(domain, op, ErrConfig, fmt.Sprintf(format, args...))
}

// Self-report domain errors
var (
	ErrSelfReportNotFound = NewDomainError("selfreport", "Find", ErrNotFound, "self report request not found")
	ErrRequestResolved    = NewDomainError("selfreport", "Resolve", ErrAlreadyResolved, "self report request already resolved")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownSkill) ||
		errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrUnknownProject) ||
		errors.Is(err, ErrUnknownSubject) ||
		errors.Is(err, ErrUnknownBadge)
}

// IsConfig checks if the error was raised by a rejected definition.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrCycleDetected)
}

// IsConflict checks if the error is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyResolved) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrSelfReportNotAllowed)
}
