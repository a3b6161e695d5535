package pipeline

import (
	"net/http"
	"time"
)

// Code classifies a terminal pipeline error
type Code string

const (
	CodeInvalidInput        Code = "invalid_input"
	CodeNotFound            Code = "not_found"
	CodeForbidden           Code = "forbidden"
	CodeRateLimited         Code = "rate_limited"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeInternal            Code = "internal"
)

// Error is a terminal pipeline outcome that maps onto a caller-facing
// HTTP status. Message is safe to show only when debug responses are on.
type Error struct {
	Code       Code
	HTTPStatus int
	Message    string
	// RetryAfter is set for rate-limited rejections
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return e.Message
}

func invalidInput(msg string) *Error {
	return &Error{Code: CodeInvalidInput, HTTPStatus: http.StatusBadRequest, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Code: CodeNotFound, HTTPStatus: http.StatusNotFound, Message: msg}
}

func forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, HTTPStatus: http.StatusForbidden, Message: msg}
}

func rateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		HTTPStatus: http.StatusTooManyRequests,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

func upstreamUnavailable(msg string) *Error {
	return &Error{Code: CodeUpstreamUnavailable, HTTPStatus: http.StatusInternalServerError, Message: msg}
}

func internalError(msg string) *Error {
	return &Error{Code: CodeInternal, HTTPStatus: http.StatusInternalServerError, Message: msg}
}
