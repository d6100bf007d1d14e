// Package errors provides structured error handling for llmc.
//
// Every error surfaced across a component boundary is an *Error carrying a
// Kind (the taxonomy used for recovery decisions), a stable machine code,
// and a details map for telemetry. Raw causes are preserved for logs; the
// CLI boundary renders a single-line summary plus the code.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery policy decisions.
type Kind string

const (
	// KindResourceBusy indicates lock acquisition or writer timeout.
	// Payload carries resource key, holder id, and waited_ms.
	KindResourceBusy Kind = "RESOURCE_BUSY"
	// KindDbBusy indicates DB transaction contention past budget.
	// Safe to retry with backoff.
	KindDbBusy Kind = "DB_BUSY"
	// KindIntegrity indicates schema-version mismatch, dangling reference,
	// graph invariant violation, or docgen hash mismatch.
	KindIntegrity Kind = "INTEGRITY"
	// KindBackend indicates an LLM/HTTP failure. Sub-kind is in the code.
	KindBackend Kind = "BACKEND"
	// KindConfig indicates missing or invalid configuration.
	KindConfig Kind = "CONFIG"
	// KindPath indicates path traversal, unknown path, or size over cap.
	KindPath Kind = "PATH"
	// KindCancelled indicates cooperative cancellation.
	KindCancelled Kind = "CANCELLED"
	// KindFatal indicates an unexpected invariant failure.
	KindFatal Kind = "FATAL"
)

// Error is the structured error type for llmc.
type Error struct {
	// Code is the unique machine-readable code (e.g. "ERR_401_RESOURCE_BUSY").
	Code string

	// Kind is the taxonomy bucket used by recovery policy.
	Kind Kind

	// Message is the human-readable single-line summary.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates the operation may succeed on retry.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works with sentinel *Error values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an *Error with the given code and message.
// Kind and retryable flag are derived from the code.
func New(code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Kind:      kindFromCode(code),
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates an *Error with a formatted message.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an *Error from an existing error, preserving the cause.
// Returns nil if err is nil. If err is already an *Error it is returned
// unchanged so kinds are never re-bucketed mid-chain.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}
	return New(code, err.Error(), err)
}

// KindOf extracts the Kind from an error chain.
// Plain errors map to KindFatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindFatal
}

// CodeOf extracts the machine code from an error chain, or "" if none.
func CodeOf(err error) string {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsRetryable reports whether the error chain contains a retryable *Error.
func IsRetryable(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// ResourceBusy creates a RESOURCE_BUSY error with the standard payload.
func ResourceBusy(resource, holder string, waitedMS int64) *Error {
	return Newf(CodeResourceBusy, "resource %s busy (held by %s)", resource, holder).
		WithDetail("resource", resource).
		WithDetail("holder", holder).
		WithDetail("waited_ms", fmt.Sprintf("%d", waitedMS))
}

// DbBusy creates a DB_BUSY error after writer contention past budget.
func DbBusy(waitedMS int64, cause error) *Error {
	e := New(CodeDbBusy, "database writer busy", cause)
	return e.WithDetail("waited_ms", fmt.Sprintf("%d", waitedMS))
}

// Integrity creates an integrity violation error.
func Integrity(message string, cause error) *Error {
	return New(CodeIntegrity, message, cause)
}

// Config creates a configuration error.
func Config(message string, cause error) *Error {
	return New(CodeConfigInvalid, message, cause)
}

// Path creates a path validation error.
func Path(message string, path string) *Error {
	return Newf(CodePathInvalid, "%s: %s", message, path).WithDetail("path", path)
}

// Cancelled creates a cooperative-cancellation error.
func Cancelled(op string) *Error {
	return Newf(CodeCancelled, "%s cancelled", op)
}

// Fatal creates an unexpected-invariant error.
func Fatal(message string, cause error) *Error {
	return New(CodeFatal, message, cause)
}
