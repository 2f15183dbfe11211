// Package apperror defines the typed error codes every WebPods domain
// function returns (spec §7, "Propagation policy"), and the one table that
// maps them to HTTP status. Domain code never writes to an http.ResponseWriter
// directly; it returns an *Error and lets the HTTP layer translate it.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the error codes enumerated in spec §7.
type Code string

// All error codes from spec §7.
const (
	CodeInvalidName      Code = "INVALID_NAME"
	CodeInvalidIndex     Code = "INVALID_INDEX"
	CodeInvalidRange     Code = "INVALID_RANGE"
	CodeInvalidPodName   Code = "INVALID_POD_NAME"
	CodeInvalidSchema    Code = "INVALID_SCHEMA"
	CodeInvalidPattern   Code = "INVALID_PATTERN"
	CodeMissingToken     Code = "MISSING_TOKEN"
	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeStreamNotFound   Code = "STREAM_NOT_FOUND"
	CodePodNotFound      Code = "POD_NOT_FOUND"
	CodeRecordNotFound   Code = "RECORD_NOT_FOUND"
	CodeRecordDeleted    Code = "RECORD_DELETED"
	CodeNameConflict     Code = "NAME_CONFLICT"
	CodeNameExists       Code = "NAME_EXISTS"
	CodeRateLimited      Code = "RATE_LIMIT_EXCEEDED"
	CodeDatabaseError    Code = "DATABASE_ERROR"
	CodeWriteError       Code = "WRITE_ERROR"
	CodeInternalError    Code = "INTERNAL_ERROR"
)

// Error is the typed error every storage, permission, and cache operation
// returns. The HTTP layer never sees a raw error string; Code drives the
// status, Message is safe to show to a client.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given code that also carries an
// underlying cause, for logging, without leaking the cause to clients.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As retrieves an *Error from err, the same way errors.As would.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps an error code to the HTTP status from spec §7.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidName, CodeInvalidIndex, CodeInvalidRange, CodeInvalidPodName,
		CodeInvalidSchema, CodeInvalidPattern:
		return http.StatusBadRequest
	case CodeMissingToken, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeStreamNotFound, CodePodNotFound, CodeRecordNotFound, CodeRecordDeleted:
		return http.StatusNotFound
	case CodeNameConflict, CodeNameExists:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeDatabaseError, CodeWriteError, CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
