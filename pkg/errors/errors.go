// Package errors defines custom error types and error handling utilities for the TSA broker.
// Every error that can reach a client carries a fixed error code, an HTTP status and a
// message drawn from the reviewed vocabulary in pkg/constants.
package errors

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// TSAError represents a structured error with additional metadata
type TSAError interface {
	error

	// Code returns the machine readable error category
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Description returns the client-visible message
	Description() string

	// RetryAfter returns the retry hint, zero when none applies
	RetryAfter() time.Duration

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) TSAError

	// WithRetryAfter sets the retry hint
	WithRetryAfter(d time.Duration) TSAError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) TSAError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	retryAfter  time.Duration
	cause       error
	metadata    map[string]interface{}
}

// Error implements the error interface. The cause is included for server-side logs only;
// clients receive Description.
func (e *baseError) Error() string {
	if e.cause != nil {
		return e.description + ": " + e.cause.Error()
	}
	return e.description
}

func (e *baseError) Code() constants.ErrorCode { return e.code }

func (e *baseError) HTTPStatus() int { return e.httpStatus }

func (e *baseError) Description() string { return e.description }

func (e *baseError) RetryAfter() time.Duration { return e.retryAfter }

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) WithCause(cause error) TSAError {
	e.cause = cause
	return e
}

func (e *baseError) WithRetryAfter(d time.Duration) TSAError {
	e.retryAfter = d
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) TSAError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// Is reports whether target carries the same code, so errors.Is works against the
// sentinel-like constructors below.
func (e *baseError) Is(target error) bool {
	var t *baseError
	if stderrors.As(target, &t) {
		return t.code == e.code
	}
	return false
}

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new TSAError with the specified parameters
func NewError(code constants.ErrorCode, httpStatus int, description string) TSAError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
	}
}

// ================================================================================
// Taxonomy Constructors
// ================================================================================

// ErrValidation creates a 400 validation error. excerpt is the offending input; it is
// sanitized and truncated before being echoed.
func ErrValidation(message string, excerpt string) TSAError {
	description := message
	if excerpt != "" {
		description = message + " (got \"" + SanitizeExcerpt(excerpt) + "\")"
	}
	return NewError(constants.ErrCodeValidation, http.StatusBadRequest, description).
		WithMetadata("reason", message)
}

// ErrAuthentication creates a 401 error
func ErrAuthentication() TSAError {
	return NewError(constants.ErrCodeAuthentication, http.StatusUnauthorized, constants.MsgAuthenticationFail)
}

// ErrAdminAuthentication creates a 401 error for the admin surface
func ErrAdminAuthentication() TSAError {
	return NewError(constants.ErrCodeAuthentication, http.StatusUnauthorized, constants.MsgAdminAuthentication)
}

// ErrAuthorization creates a 403 error
func ErrAuthorization() TSAError {
	return NewError(constants.ErrCodeAuthorization, http.StatusForbidden, constants.MsgForbidden)
}

// ErrRateLimit creates a 429 error
func ErrRateLimit(scope constants.RateLimitScope) TSAError {
	return NewError(constants.ErrCodeRateLimit, http.StatusTooManyRequests, constants.MsgRateLimited).
		WithMetadata("scope", string(scope))
}

// ErrBackpressure creates the 202 deferred outcome
func ErrBackpressure(message string, retryAfter time.Duration) TSAError {
	return NewError(constants.ErrCodeBackpressure, http.StatusAccepted, message).
		WithRetryAfter(retryAfter)
}

// ErrProviderExhausted creates the 503 outcome for "no provider could serve the request"
func ErrProviderExhausted() TSAError {
	return NewError(constants.ErrCodeProviderExhausted, http.StatusServiceUnavailable, constants.MsgProviderExhausted)
}

// ErrQueueFull creates the 503 outcome for admission rejection
func ErrQueueFull(retryAfter time.Duration) TSAError {
	return NewError(constants.ErrCodeQueueFull, http.StatusServiceUnavailable, constants.MsgQueueFull).
		WithRetryAfter(retryAfter)
}

// ErrQueueExpired creates the 503 outcome for an entry that outlived the queue TTL
func ErrQueueExpired() TSAError {
	return NewError(constants.ErrCodeQueueExpired, http.StatusServiceUnavailable, constants.MsgQueueExpired)
}

// ErrNotFound creates a 404 error
func ErrNotFound(message string) TSAError {
	return NewError(constants.ErrCodeNotFound, http.StatusNotFound, message)
}

// ErrInternal creates a 500 error. The cause is kept for logs and never rendered.
func ErrInternal(cause error) TSAError {
	return NewError(constants.ErrCodeInternal, http.StatusInternalServerError, constants.MsgInternal).
		WithCause(cause)
}

// ================================================================================
// Error Type Checking
// ================================================================================

// AsTSAError attempts to convert an error to TSAError
func AsTSAError(err error) (TSAError, bool) {
	var tsaErr TSAError
	if stderrors.As(err, &tsaErr) {
		return tsaErr, true
	}
	return nil, false
}

// HasCode reports whether err is a TSAError with the given code
func HasCode(err error, code constants.ErrorCode) bool {
	if tsaErr, ok := AsTSAError(err); ok {
		return tsaErr.Code() == code
	}
	return false
}

// ================================================================================
// Error Response
// ================================================================================

// ErrorResponse is the wire shape of every non-200 response
type ErrorResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	RetryAfter    *int64 `json:"retry_after,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ToErrorResponse converts any error to an ErrorResponse. Unknown errors collapse to the
// generic internal message.
func ToErrorResponse(err error, correlationID string) (int, *ErrorResponse) {
	tsaErr, ok := AsTSAError(err)
	if !ok {
		tsaErr = ErrInternal(err)
	}

	resp := &ErrorResponse{
		Success: false,
		Error:   tsaErr.Description(),
	}
	if ra := tsaErr.RetryAfter(); ra > 0 {
		secs := RetryAfterSeconds(ra)
		resp.RetryAfter = &secs
	}
	if tsaErr.HTTPStatus() >= http.StatusInternalServerError && tsaErr.Code() == constants.ErrCodeInternal {
		resp.CorrelationID = correlationID
	}
	return tsaErr.HTTPStatus(), resp
}

// RetryAfterSeconds rounds a duration up to whole seconds, minimum one.
func RetryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ================================================================================
// Error Classification
// ================================================================================

// IsTransientError reports whether the client may retry the same request later
func IsTransientError(err error) bool {
	if tsaErr, ok := AsTSAError(err); ok {
		switch tsaErr.Code() {
		case constants.ErrCodeBackpressure, constants.ErrCodeQueueFull,
			constants.ErrCodeQueueExpired, constants.ErrCodeProviderExhausted,
			constants.ErrCodeRateLimit:
			return true
		}
	}
	return false
}

// ShouldLogError determines if an error should be logged at error level
func ShouldLogError(err error) bool {
	if tsaErr, ok := AsTSAError(err); ok {
		return tsaErr.HTTPStatus() >= http.StatusInternalServerError && tsaErr.Code() == constants.ErrCodeInternal
	}
	return true
}

// ================================================================================
// Sanitizing
// ================================================================================

// SanitizeExcerpt keeps printable ASCII only and truncates to MaxErrorExcerpt runes.
func SanitizeExcerpt(s string) string {
	var b strings.Builder
	count := 0
	truncated := false
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if count == constants.MaxErrorExcerpt {
			truncated = true
			break
		}
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('?')
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		default:
			b.WriteByte('?')
		}
		count++
	}
	if truncated {
		b.WriteString("...")
	}
	return b.String()
}
