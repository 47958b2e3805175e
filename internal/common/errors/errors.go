// Package errors provides custom error types for the pivosync application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Execution-specific codes
	ErrCodeAlreadyActive      = "ALREADY_ACTIVE"
	ErrCodeNoActiveExecution  = "NO_ACTIVE_EXECUTION"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrCodeMalformedEvent     = "MALFORMED_EVENT"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// AlreadyActive creates an error for starting an execution on a task that
// already has a live attempt.
func AlreadyActive(taskID, attemptID string) *AppError {
	return &AppError{
		Code:       ErrCodeAlreadyActive,
		Message:    fmt.Sprintf("task '%s' already has an active attempt '%s'", taskID, attemptID),
		HTTPStatus: http.StatusConflict,
	}
}

// NoActiveExecution creates an error for operating on an attempt with no
// live execution record.
func NoActiveExecution(attemptID string) *AppError {
	return &AppError{
		Code:       ErrCodeNoActiveExecution,
		Message:    fmt.Sprintf("no active execution for attempt '%s'", attemptID),
		HTTPStatus: http.StatusConflict,
	}
}

// BackendUnavailable creates an error for a failed backend RPC.
func BackendUnavailable(operation string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeBackendUnavailable,
		Message:    fmt.Sprintf("backend call '%s' failed", operation),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// MalformedEvent creates an error for an event payload missing required fields.
func MalformedEvent(subject, reason string) *AppError {
	return &AppError{
		Code:       ErrCodeMalformedEvent,
		Message:    fmt.Sprintf("malformed event on '%s': %s", subject, reason),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Code returns the application error code for an error, or ErrCodeInternalError
// if the error is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsAlreadyActive checks if the error is an already active error.
func IsAlreadyActive(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeAlreadyActive
	}
	return false
}

// IsNoActiveExecution checks if the error is a no active execution error.
func IsNoActiveExecution(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNoActiveExecution
	}
	return false
}

// IsBackendUnavailable checks if the error is a backend unavailable error.
func IsBackendUnavailable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBackendUnavailable
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
