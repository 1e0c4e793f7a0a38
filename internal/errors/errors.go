package errors

import (
	"fmt"
)

// GrepError is the structured error type for amangrep.
// It provides rich context for error handling, logging, and diagnostics.
type GrepError struct {
	// Code is the unique error code (e.g., "ERR_201_CATALOG_CORRUPT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Validation, Integrity, Resource, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *GrepError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *GrepError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with GrepError.
func (e *GrepError) Is(target error) bool {
	if t, ok := target.(*GrepError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *GrepError) WithDetail(key, value string) *GrepError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *GrepError) WithSuggestion(suggestion string) *GrepError {
	e.Suggestion = suggestion
	return e
}

// New creates a new GrepError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *GrepError {
	return &GrepError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a GrepError from an existing error.
// The error's message becomes the GrepError message.
func Wrap(code string, err error) *GrepError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a request-validation error.
func ValidationError(message string, cause error) *GrepError {
	return New(ErrCodeEmptyPattern, message, cause)
}

// IntegrityError creates a catalog-integrity error.
func IntegrityError(message string, cause error) *GrepError {
	return New(ErrCodeCatalogCorrupt, message, cause)
}

// ResourceError creates a resource-limit error.
func ResourceError(message string, cause error) *GrepError {
	return New(ErrCodeBudgetExceeded, message, cause)
}

// CoverageError creates a coverage-drift error.
func CoverageError(message string, cause error) *GrepError {
	return New(ErrCodeEnumerateFailed, message, cause)
}

// BackendError creates a search-subprocess error.
func BackendError(message string, cause error) *GrepError {
	return New(ErrCodeBackendExit, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *GrepError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a GrepError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ge, ok := err.(*GrepError); ok {
		return ge.Retryable
	}
	return false
}

// GetCode extracts the error code from a GrepError.
// Returns empty string if not a GrepError.
func GetCode(err error) string {
	if ge, ok := err.(*GrepError); ok {
		return ge.Code
	}
	return ""
}

// GetCategory extracts the category from a GrepError.
// Returns empty string if not a GrepError.
func GetCategory(err error) Category {
	if ge, ok := err.(*GrepError); ok {
		return ge.Category
	}
	return ""
}
