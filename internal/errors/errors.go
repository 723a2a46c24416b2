package errors

import (
	"fmt"
)

// CoreError is the structured error type for exemplar. It carries a code
// for classification, a human-readable message, and the wrapped cause.
type CoreError struct {
	// Code is the unique error code (e.g., "ERR_205_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Embedding, ...).
	Category Category

	// Severity indicates whether the caller should treat this as a
	// failure or a degradation.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is matches target by code, enabling errors.Is with CoreError sentinels.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a CoreError with the given code and message. Category and
// retryable flag are derived from the code.
func New(code string, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  SeverityError,
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// AsWarning downgrades the error severity and returns it for chaining.
func (e *CoreError) AsWarning() *CoreError {
	e.Severity = SeverityWarning
	return e
}

// Wrap creates a CoreError from an existing error, reusing its message.
func Wrap(code string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// IsRetryable reports whether err is a retryable CoreError.
func IsRetryable(err error) bool {
	if e, ok := err.(*CoreError); ok {
		return e.Retryable
	}
	return false
}
