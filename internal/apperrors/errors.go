// Package apperrors provides the structured error type shared by the gateway
// packages and its mapping onto HTTP status codes.
package apperrors

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Authentication
	CodeAuthDataMissing  Code = "AUTH_DATA_MISSING"
	CodeSignatureExpired Code = "SIGNATURE_EXPIRED"
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
	CodeForbidden        Code = "FORBIDDEN"
	CodeUnknownPrincipal Code = "UNKNOWN_PRINCIPAL"

	// Ledger submission
	CodeTransactionReverted     Code = "TRANSACTION_REVERTED"
	CodeSubmissionTimeout       Code = "SUBMISSION_TIMEOUT"
	CodePartialLifecycleFailure Code = "PARTIAL_LIFECYCLE_FAILURE"
	CodeLedgerUnavailable       Code = "LEDGER_UNAVAILABLE"

	// Request validation and state
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeRateLimited       Code = "RATE_LIMITED"
)

// HTTPStatus maps a code to the status returned by the HTTP surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthDataMissing, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeSignatureExpired, CodeInvalidSignature, CodeUnknownPrincipal:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message returned to callers
	Metadata map[string]string // Retry context such as lifecycle state or tx hash
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying retry metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata, Cause: cause}
}

// CodeOf extracts the code from the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
