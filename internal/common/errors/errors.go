// Package errors provides custom error types for the agentdeck application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAgentNotFound   = "AGENT_NOT_FOUND"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeValidationError = "VALIDATION_ERROR"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeInstanceRunning = "INSTANCE_RUNNING"
	ErrCodeBackendError    = "BACKEND_ERROR"
	ErrCodeIOError         = "IO_ERROR"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
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

// AgentNotFound creates a not found error for an agent. It carries its own
// code so message writes can distinguish a missing agent from other 404s.
func AgentNotFound(agentID string) *AppError {
	return &AppError{
		Code:       ErrCodeAgentNotFound,
		Message:    fmt.Sprintf("agent with id '%s' not found", agentID),
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

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Conflict creates a new conflict error. State conflicts are client errors
// (the request contradicts the agent's current lifecycle state), so they
// surface as 400 rather than 409.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Cancelled creates an error reporting that a queued launch request was
// cancelled before it ran.
func Cancelled(requestID string) *AppError {
	return &AppError{
		Code:       ErrCodeCancelled,
		Message:    fmt.Sprintf("launch request '%s' was cancelled", requestID),
		HTTPStatus: http.StatusBadRequest,
	}
}

// InstanceRunning creates an error reporting that another live engine
// instance holds the process lock.
func InstanceRunning(pid int, port int) *AppError {
	return &AppError{
		Code:       ErrCodeInstanceRunning,
		Message:    fmt.Sprintf("another instance is already running (pid %d, port %d)", pid, port),
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Backend creates an error for a failed agent backend (subprocess or proxy).
func Backend(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeBackendError,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// IO creates an error for a failed filesystem operation, naming the path.
func IO(path string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeIOError,
		Message:    fmt.Sprintf("i/o failure on '%s'", path),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
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

// IsNotFound checks if the error is a not found error (either kind).
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound || appErr.Code == ErrCodeAgentNotFound
	}
	return false
}

// IsAgentNotFound checks if the error reports a missing agent specifically.
func IsAgentNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeAgentNotFound
	}
	return false
}

// IsConflict checks if the error is a state conflict.
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeConflict
	}
	return false
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeValidationError
	}
	return false
}

// IsCancelled checks if the error reports a cancelled launch request.
func IsCancelled(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeCancelled
	}
	return false
}

// IsBadRequest checks if the error is a bad request error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBadRequest || appErr.Code == ErrCodeValidationError
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

// GetCode returns the application error code for an error.
// Returns INTERNAL_ERROR if the error is not an AppError.
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}
