// Package apperr defines the error taxonomy shared by the auth flow and the
// expense gateway, and how each code maps onto an HTTP status.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code. Its string form is what clients see
// in the "error" field of a failure payload.
type Code string

const (
	CodeMissingAuthorizationCode Code = "MissingAuthorizationCode"
	CodeStateMismatch            Code = "StateMismatch"
	CodeTokenExchangeFailed      Code = "TokenExchangeFailed"
	CodeProfileFetchFailed       Code = "ProfileFetchFailed"
	CodeValidation               Code = "ValidationError"
	CodeNotFound                 Code = "NotFound"
	CodeUnauthorized             Code = "Unauthorized"
	CodeMethodNotAllowed         Code = "MethodNotAllowed"
	CodeInternal                 Code = "InternalError"
)

// HTTPStatus returns the response status for the code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeMissingAuthorizationCode, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeStateMismatch:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeTokenExchangeFailed, CodeProfileFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Client-safe message
	Cause   error  // Wrapped underlying error, logged but never rendered
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
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

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code carried by err, or CodeInternal when err is not a
// domain error.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
