package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

// Recipe load errors. All of these reject the recipe before any run starts.
const (
	ErrRecipeInvalid      ErrorCode = "RECIPE_INVALID"
	ErrDuplicateStep      ErrorCode = "DUPLICATE_STEP"
	ErrUnknownDependency  ErrorCode = "UNKNOWN_DEPENDENCY"
	ErrSelfDependency     ErrorCode = "SELF_DEPENDENCY"
	ErrCyclicDependency   ErrorCode = "CYCLIC_DEPENDENCY"
	ErrInvalidParallelism ErrorCode = "INVALID_PARALLELISM"
)

// Step execution errors. Captured in step results and used for scheduling
// decisions; they never abort the run as a whole.
const (
	ErrStepExecution       ErrorCode = "STEP_EXECUTION"
	ErrApprovalDenied      ErrorCode = "APPROVAL_DENIED"
	ErrDependencyFailed    ErrorCode = "DEPENDENCY_FAILED"
	ErrPreviousStepStopped ErrorCode = "PREVIOUS_STEP_STOPPED"
	ErrWorkflowStopped     ErrorCode = "WORKFLOW_STOPPED"
	ErrEmptyPrompt         ErrorCode = "EMPTY_PROMPT"
	ErrRunCancelled        ErrorCode = "RUN_CANCELLED"
)

// Provider errors.
const (
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrAuthentication      ErrorCode = "AUTHENTICATION"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" if it has none.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AsError converts any error to *Error, wrapping foreign errors under the
// given fallback code.
func AsError(err error, fallback ErrorCode) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: fallback, Message: err.Error(), Cause: err}
}
