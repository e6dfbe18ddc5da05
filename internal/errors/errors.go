// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeAuth indicates an invalid, expired, or revoked token (HTTP 401).
	// Fatal to the connect/sync attempt, never to the server.
	TypeAuth ErrorType = "auth"
	// TypeValidation indicates invalid client input such as a malformed
	// sync cursor (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeUnknownEvent indicates a programming-level event taxonomy
	// mismatch; the event is logged and dropped, never surfaced to clients
	TypeUnknownEvent ErrorType = "unknown_event"
	// TypeStorage indicates a storage-layer failure for one table during
	// sync; isolated and skipped (HTTP 500 only if the whole request fails)
	TypeStorage ErrorType = "storage"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeAuth:
		return http.StatusUnauthorized
	case TypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// AuthError creates a new auth error (HTTP 401).
func AuthError(message string, cause error) *Error {
	return &Error{
		Type:    TypeAuth,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{
		Type:    TypeValidation,
		Message: message,
		Context: make(map[string]any),
	}
}

// UnknownEventError wraps an event taxonomy mismatch.
func UnknownEventError(message string, cause error) *Error {
	return &Error{
		Type:    TypeUnknownEvent,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// StorageError creates a new per-table storage error.
func StorageError(message string, cause error) *Error {
	return &Error{
		Type:    TypeStorage,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeInternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
