package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors in the engine.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeExpired       ErrorType = "expired"
	ErrorTypeExternal      ErrorType = "external"
	ErrorTypeInternal      ErrorType = "internal"
)

// Session lifecycle sentinel errors. Handlers map these to HTTP statuses:
// not found -> 404, expired -> 410, already completed -> 409.
var (
	ErrSessionNotFound         = errors.New("confirmation session not found")
	ErrSessionExpired          = errors.New("confirmation session expired")
	ErrSessionAlreadyCompleted = errors.New("confirmation session already completed")
	ErrDuplicateSession        = errors.New("confirmation session already exists for this dose today")
)

// EngineError is a structured error carrying a category and code.
type EngineError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error. Validation failures skip
// the offending item and the batch continues.
func NewValidationError(code, message string, details map[string]interface{}) *EngineError {
	return &EngineError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewConfigurationError creates a configuration error. These are fatal at
// startup of the component that needs the missing setting.
func NewConfigurationError(code, message string) *EngineError {
	return &EngineError{
		Type:    ErrorTypeConfiguration,
		Code:    code,
		Message: message,
	}
}

// NewExternalError wraps a transport or storage failure. Recorded and
// surfaced operationally; never retried in-line.
func NewExternalError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeExternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Common error codes.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeInvalidTime     = "INVALID_TIME"
	ErrCodeUnknownSlot     = "UNKNOWN_SLOT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeDuplicate       = "DUPLICATE"
	ErrCodeTransportFailed = "TRANSPORT_FAILED"
	ErrCodeMissingSecret   = "MISSING_SECRET"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)
