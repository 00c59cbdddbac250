// Package errors provides coded domain errors for the library API.
//
// Resolvers return *Error values; the GraphQL boundary turns the Code into
// the "code" extension of the response error and keeps the message.
//
//	if errors.Is(err, errors.ErrUnauthenticated) {
//	    ...
//	}
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeNotFound           Code = "NOT_FOUND"
	CodeStorageFailure     Code = "STORAGE_FAILURE"
	CodeValidation         Code = "VALIDATION_FAILURE"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL"
)

// Internal reports whether errors of this code hide a server side failure.
func (c Code) Internal() bool {
	switch c {
	case CodeStorageFailure, CodeInternal:
		return true
	default:
		return false
	}
}

// Error is a domain error with a code, a message and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// Sentinel errors for use with errors.Is.
var (
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Message: "not authenticated"}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "wrong credentials"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrStorageFailure     = &Error{Code: CodeStorageFailure, Message: "storage failure"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Message: "too many requests"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
)

func Unauthenticated(msg string) *Error {
	return &Error{Code: CodeUnauthenticated, Message: msg}
}

// InvalidCredentials is shared by every login failure so callers cannot tell
// an unknown user from a wrong password.
func InvalidCredentials() *Error {
	return &Error{Code: CodeInvalidCredentials, Message: ErrInvalidCredentials.Message}
}

func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Message: msg}
}

func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Storage wraps a failed store call with the operation that issued it,
// e.g. Storage(err, "Saving book failed").
func Storage(err error, msg string) *Error {
	return &Error{Code: CodeStorageFailure, Message: msg, cause: err}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
