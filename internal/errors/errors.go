package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrTypeValidation      ErrorType = "validation"
	ErrTypeSchemaViolation ErrorType = "schema_violation"
	ErrTypeExecution       ErrorType = "execution"
	ErrTypeSessionNotFound ErrorType = "session_not_found"
	ErrTypeTransport       ErrorType = "transport"
	ErrTypeDatabase        ErrorType = "database"
	ErrTypeNotFound        ErrorType = "not_found"
	ErrTypeConfig          ErrorType = "config"
	ErrTypeInternal        ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...any) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...any) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// Message returns the structured message of err without its cause chain,
// falling back to err.Error() for plain errors.
func Message(err error) string {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Message
	}

	return err.Error()
}

// WireCode maps an error type to the code reported to tool callers.
func WireCode(errType ErrorType) string {
	switch errType {
	case ErrTypeValidation:
		return "validation_error"
	case ErrTypeSchemaViolation:
		return "schema_violation"
	case ErrTypeExecution, ErrTypeDatabase:
		return "execution_error"
	case ErrTypeSessionNotFound:
		return "session_not_found"
	case ErrTypeNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps an error type to the status used at the transport boundary.
func HTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrTypeValidation, ErrTypeSchemaViolation:
		return http.StatusBadRequest
	case ErrTypeSessionNotFound, ErrTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates a validation error for a client-supplied argument
func NewValidationError(format string, args ...any) *Error {
	return Newf(ErrTypeValidation, format, args...)
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}
