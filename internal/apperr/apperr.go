package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error category the API can return to clients.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeRateLimited       Code = "RATE_LIMIT_EXCEEDED"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeUpstream          Code = "UPSTREAM_ERROR"
	CodeDelivery          Code = "DELIVERY_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error is a structured application error that carries a client-safe
// code and message, plus an optional internal cause that is never
// serialized to responses.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	// RetryAfterSeconds is set for rate-limit errors only.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
	cause             error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches an internal cause for logging; the cause is not
// exposed to API clients.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// HTTPStatus maps the error code to an HTTP response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodeUpstream, CodeDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

func NotFound(resource string) *Error {
	return &Error{Code: CodeNotFound, Message: resource + " not found"}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Code:              CodeRateLimited,
		Message:           "rate limit exceeded",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("illegal session transition %s -> %s", from, to),
	}
}

func Upstream(message string) *Error {
	return &Error{Code: CodeUpstream, Message: message}
}

func Delivery(message string) *Error {
	return &Error{Code: CodeDelivery, Message: message}
}

func Internal(message string) *Error {
	return &Error{Code: CodeInternal, Message: message}
}

// From extracts an *Error from err, wrapping unknown errors as internal
// so handlers never leak raw error strings to clients.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal server error").WithCause(err)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}
