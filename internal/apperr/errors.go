// Package apperr is the error taxonomy shared by services and handlers.
//
// Services return *AppError for anything the caller should see; everything
// else (driver errors, I/O) is treated as internal and never surfaced.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeForbidden       Code = "FORBIDDEN"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeExpired         Code = "EXPIRED"
	CodeInternal        Code = "INTERNAL"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on code and message so package-level sentinels work with
// errors.Is even when a fresh copy is returned.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error   { return New(CodeInvalidArgument, msg) }
func NotFound(msg string) error     { return New(CodeNotFound, msg) }
func Conflict(msg string) error     { return New(CodeConflict, msg) }
func Forbidden(msg string) error    { return New(CodeForbidden, msg) }
func Unauthorized(msg string) error { return New(CodeUnauthenticated, msg) }
func Expired(msg string) error      { return New(CodeExpired, msg) }
func Internal(msg string) error     { return New(CodeInternal, msg) }

// CodeOf returns the code carried by err, or CodeInternal for errors that
// did not come from this package.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code written by the API layer.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument, CodeConflict:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to a client. Internal errors
// collapse to a generic string.
func PublicMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Code != CodeInternal && ae.Code != CodeUnknown {
		return ae.Message
	}
	return "internal server error"
}
