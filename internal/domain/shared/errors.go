// Package shared contains common domain errors and small value types that are
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
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "content", "progress", "checkpoint"
	Op      string // Operation that failed, e.g., "Load", "Submit"
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
	if t, ok := target.(*DomainError); ok && t == e {
		return true
	}
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

// Content domain errors
var (
	ErrContentNotFound     = NewDomainError("content", "Find", ErrNotFound, "content item not found")
	ErrSectionNotFound     = NewDomainError("content", "Section", ErrNotFound, "section not found")
	ErrMalformedContent    = NewDomainError("content", "Decode", ErrInvalidFormat, "malformed content")
	ErrInvalidSectionIndex = NewDomainError("content", "Validate", ErrValueOutOfRange, "section index out of range")
)

// Checkpoint domain errors
var (
	ErrNotACheckpoint    = NewDomainError("checkpoint", "Find", ErrNotFound, "section is not a checkpoint")
	ErrOptionOutOfRange  = NewDomainError("checkpoint", "Submit", ErrValueOutOfRange, "option index out of range")
	ErrInvalidStepIndex  = NewDomainError("progress", "Validate", ErrValueOutOfRange, "step index out of range")
	ErrInvalidNamespace  = NewDomainError("progress", "Validate", ErrInvalidInput, "unknown reader namespace")
	ErrInvalidContentID  = NewDomainError("progress", "Validate", ErrInvalidID, "invalid content ID")
	ErrMalformedProgress = NewDomainError("progress", "Decode", ErrInvalidFormat, "malformed progress record")
)

// External service errors
var (
	ErrRemoteUnavailable     = NewDomainError("remote", "Request", ErrServiceUnavailable, "remote progress store is unavailable")
	ErrRemoteTimeout         = NewDomainError("remote", "Request", ErrTimeout, "remote progress store request timeout")
	ErrRemoteInvalidResponse = NewDomainError("remote", "Parse", ErrInvalidFormat, "invalid response from remote progress store")
	ErrLocalCacheUnavailable = NewDomainError("cache", "Request", ErrServiceUnavailable, "local cache is unavailable")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsMalformed checks if the error reports structurally invalid data.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrInvalidEntity)
}
