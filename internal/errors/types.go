package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// Kind is the closed set of error categories the gateway ever returns.
// Every component maps whatever it sees (upstream HTTP status, network
// failure, cache backend panic, storage constraint violation) into one
// of these before it leaves the component boundary.
type Kind string

const (
	NotFound      Kind = "not_found"
	RateLimited   Kind = "rate_limited"
	Timeout       Kind = "timeout"
	NetworkError  Kind = "network_error"
	AuthError     Kind = "auth_error"
	Unavailable   Kind = "unavailable"
	Other         Kind = "other"
	InvalidRequest Kind = "invalid_request"
	InternalError Kind = "internal_error"
	CacheError    Kind = "cache_error"
	StorageError  Kind = "storage_error"
)

// GatewayError is the structured error type returned across component
// boundaries (C1-C8). It always carries a closed Kind so callers can
// switch on it instead of matching strings.
type GatewayError struct {
	Kind       Kind                   `json:"kind"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Stack      string                 `json:"stack,omitempty"`
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation"`
	Timestamp  time.Time              `json:"timestamp"`
	RequestID  string                 `json:"request_id,omitempty"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Code, e.Message)
}

func (e *GatewayError) Is(target error) bool {
	if t, ok := target.(*GatewayError); ok {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return false
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

func (e *GatewayError) String() string {
	return e.Error()
}

// HTTPStatus maps the closed Kind taxonomy onto HTTP status codes, per
// the gateway's error -> status table.
func (e *GatewayError) HTTPStatus() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Kind {
	case NotFound:
		return http.StatusNotFound
	case InvalidRequest:
		return http.StatusBadRequest
	case AuthError:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case NetworkError, Unavailable:
		return http.StatusServiceUnavailable
	case CacheError, StorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBuilder assembles a GatewayError one field at a time, mirroring
// the fluent construction used throughout the provider/service layers.
type ErrorBuilder struct {
	err *GatewayError
}

func NewError(kind Kind, code, message string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &GatewayError{
			Kind:      kind,
			Code:      code,
			Message:   message,
			Details:   make(map[string]interface{}),
			Timestamp: time.Now(),
			Retryable: kind == Timeout || kind == NetworkError || kind == Unavailable || kind == RateLimited,
		},
	}
}

func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

func (b *ErrorBuilder) WithComponent(component string) *ErrorBuilder {
	b.err.Component = component
	return b
}

func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

func (b *ErrorBuilder) WithDetail(key string, value interface{}) *ErrorBuilder {
	b.err.Details[key] = value
	return b
}

func (b *ErrorBuilder) WithDetails(details map[string]interface{}) *ErrorBuilder {
	for k, v := range details {
		b.err.Details[k] = v
	}
	return b
}

func (b *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	b.err.RequestID = requestID
	return b
}

func (b *ErrorBuilder) WithStatusCode(statusCode int) *ErrorBuilder {
	b.err.StatusCode = statusCode
	return b
}

func (b *ErrorBuilder) WithStack() *ErrorBuilder {
	b.err.Stack = captureStack()
	return b
}

func (b *ErrorBuilder) Retryable(retryable bool) *ErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *ErrorBuilder) Build() *GatewayError {
	return b.err
}

// Predefined constructors, one per Kind plus a couple of component-specific
// shorthands used across the repository/cache/upstream layers.

func NewNotFoundErr(resource, id string) *GatewayError {
	return NewError(NotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id).
		Retryable(false).
		Build()
}

func NewInvalidRequestErr(message, field string, value interface{}) *GatewayError {
	return NewError(InvalidRequest, "INVALID_REQUEST", message).
		WithDetail("field", field).
		WithDetail("rejected_value", value).
		Retryable(false).
		Build()
}

func NewAuthErr(message string) *GatewayError {
	return NewError(AuthError, "AUTH_FAILED", message).Retryable(false).Build()
}

func NewRateLimitedErr(message string, retryAfter time.Duration) *GatewayError {
	return NewError(RateLimited, "RATE_LIMITED", message).
		WithDetail("retry_after", retryAfter.String()).
		Build()
}

func NewTimeoutErr(operation string, timeout time.Duration) *GatewayError {
	return NewError(Timeout, "TIMEOUT", fmt.Sprintf("operation %s timed out", operation)).
		WithOperation(operation).
		WithDetail("timeout", timeout.String()).
		Build()
}

func NewNetworkErr(message string, cause error) *GatewayError {
	return NewError(NetworkError, "NETWORK_ERROR", message).WithCause(cause).Build()
}

func NewUnavailableErr(service string, cause error) *GatewayError {
	return NewError(Unavailable, "UNAVAILABLE", fmt.Sprintf("%s unavailable", service)).
		WithDetail("service", service).
		WithCause(cause).
		Build()
}

func NewStorageErr(operation string, cause error) *GatewayError {
	return NewError(StorageError, "STORAGE_ERROR", "storage operation failed").
		WithOperation(operation).
		WithCause(cause).
		WithComponent("storage").
		Build()
}

func NewCacheErr(operation string, cause error) *GatewayError {
	return NewError(CacheError, "CACHE_ERROR", "cache operation failed").
		WithOperation(operation).
		WithCause(cause).
		WithComponent("cache").
		Build()
}

func NewInternalErr(message string, cause error) *GatewayError {
	b := NewError(InternalError, "INTERNAL_ERROR", message)
	if cause != nil {
		b = b.WithCause(cause)
	}
	return b.Build()
}

func NewOtherErr(message string, cause error) *GatewayError {
	return NewError(Other, "OTHER", message).WithCause(cause).Build()
}

func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var buf strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}

	return buf.String()
}

var (
	ErrInvalidInput = NewError(InvalidRequest, "INVALID_INPUT", "invalid input provided").Build()
	ErrUnauthorized = NewError(AuthError, "UNAUTHORIZED", "authentication required").Build()
	ErrInternal     = NewError(InternalError, "INTERNAL_ERROR", "internal server error").Build()
)

// IsDuplicateKeyError reports whether err looks like a unique-constraint
// violation from either gorm dialector (postgres or sqlite).
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "already exists")
}

// AsGatewayError unwraps err looking for a *GatewayError, falling back to
// wrapping it as Other so callers never have to type-assert defensively.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return NewOtherErr(err.Error(), err)
}
