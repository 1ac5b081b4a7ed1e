// Package apperr defines the coded errors shared by the match coordinator
// and the shell around it.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// Auth errors
	CodeExpiredToken   Code = "EXPIRED_TOKEN"
	CodeMalformedToken Code = "MALFORMED_TOKEN"
	CodeNotController  Code = "NOT_CONTROLLER"
	CodeNotMember      Code = "NOT_MEMBER"

	// Session errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionEnded    Code = "SESSION_ENDED"

	// Store errors
	CodePersistFailed Code = "PERSIST_FAILED"
	CodeDeleteFailed  Code = "DELETE_FAILED"

	// Protocol errors
	CodeMissingField    Code = "MISSING_FIELD"
	CodeInvalidMutation Code = "INVALID_MUTATION"
)

// HTTPStatus maps a code onto the status the HTTP shell reports.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeExpiredToken, CodeMalformedToken:
		return http.StatusUnauthorized
	case CodeNotController, CodeNotMember:
		return http.StatusForbidden
	case CodeSessionNotFound:
		return http.StatusNotFound
	case CodeSessionEnded:
		return http.StatusGone
	case CodePersistFailed, CodeDeleteFailed:
		return http.StatusServiceUnavailable
	case CodeMissingField, CodeInvalidMutation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error carrying a code and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so errors.Is(err, ErrSessionEnded)
// holds for wrapped and re-messaged variants alike.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Retryable reports whether the caller may retry the failed operation.
func (e *Error) Retryable() bool {
	return e.Code == CodePersistFailed || e.Code == CodeDeleteFailed
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrExpiredToken   = New(CodeExpiredToken, "token expired")
	ErrMalformedToken = New(CodeMalformedToken, "malformed token")
	ErrNotController  = New(CodeNotController, "not the controller of this match")
	ErrNotMember      = New(CodeNotMember, "not a member of this match")

	ErrSessionNotFound = New(CodeSessionNotFound, "match not found")
	ErrSessionEnded    = New(CodeSessionEnded, "match ended")

	ErrPersistFailed = New(CodePersistFailed, "persist failed")
	ErrDeleteFailed  = New(CodeDeleteFailed, "delete failed")

	ErrMissingField    = New(CodeMissingField, "missing field")
	ErrInvalidMutation = New(CodeInvalidMutation, "invalid mutation")
)

// MissingField reports which field was absent.
func MissingField(field string) *Error {
	return New(CodeMissingField, field+" is required")
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
