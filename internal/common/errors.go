// Package common defines shared constants and sentinel errors used across
// the repository, service, and transport layers of feedgate. Callers should
// use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Authentication / authorization.
	ErrUnauthenticated  = errors.New("authentication credentials were not provided")
	ErrInvalidKey       = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidToken     = errors.New("invalid token")

	// Request handling.
	ErrValidation       = errors.New("validation error")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrMethodNotAllowed = errors.New("method not allowed")

	// Ingestion service failures outside the documented 400 case.
	ErrUpstream = errors.New("upstream error")

	ErrInternal = errors.New("internal error")
)

// APIError is an error carrying a stable code and an optional structured
// payload for the HTTP layer. It unwraps to its Kind so errors.Is keeps
// working against the sentinels above.
type APIError struct {
	Kind    error
	Code    string
	Message string
	Details any
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Kind }

// NewValidationError returns a validation error with a human-readable message.
func NewValidationError(message string) *APIError {
	return &APIError{Kind: ErrValidation, Code: "validation_error", Message: message}
}

// NewEntitlementError returns the E01 error used for billing entitlement
// violations. kind is ErrValidation or ErrLimitExceeded.
func NewEntitlementError(kind error, message string) *APIError {
	return &APIError{Kind: kind, Code: EntitlementErrorCode, Message: message}
}
