package errors

import (
	"net/http"
	"strings"
)

// ErrorClassifier turns raw errors (Go stdlib errors, upstream HTTP
// responses) into the closed Kind taxonomy. Every Upstream Client call
// runs its error through this before returning it to the Paper Service.
type ErrorClassifier struct {
	timeoutPatterns   []string
	networkPatterns   []string
	rateLimitPatterns []string
	authPatterns      []string
}

func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{
		timeoutPatterns: []string{
			"timeout",
			"deadline exceeded",
			"context canceled",
		},
		networkPatterns: []string{
			"connection refused",
			"no such host",
			"network unreachable",
			"connection reset",
			"broken pipe",
			"connection closed",
			"eof",
		},
		rateLimitPatterns: []string{
			"rate limit",
			"too many requests",
			"quota exceeded",
			"throttled",
		},
		authPatterns: []string{
			"unauthorized",
			"invalid api key",
			"authentication failed",
			"forbidden",
		},
	}
}

// Classify inspects a raw Go error (no HTTP status attached) and returns
// the closed-taxonomy GatewayError. Used for transport-level failures
// (dial errors, context cancellation) rather than HTTP responses.
func (ec *ErrorClassifier) Classify(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case ec.matches(errStr, ec.timeoutPatterns):
		return NewError(Timeout, "TIMEOUT", "operation timed out").WithCause(err).WithStack().Build()
	case ec.matches(errStr, ec.networkPatterns):
		return NewNetworkErr("network connectivity issue", err)
	case ec.matches(errStr, ec.rateLimitPatterns):
		return NewError(RateLimited, "RATE_LIMITED", "rate limit exceeded").WithCause(err).WithStack().Build()
	case ec.matches(errStr, ec.authPatterns):
		return NewAuthErr("authentication failed")
	case ec.isStorageError(errStr):
		return NewStorageErr("storage operation", err)
	default:
		return NewOtherErr("unclassified error", err)
	}
}

// ClassifyHTTPStatus maps an upstream HTTP status code onto the closed
// taxonomy, per the Upstream Client's error-mapping rule (spec C5).
func (ec *ErrorClassifier) ClassifyHTTPStatus(statusCode int, body string) *GatewayError {
	switch {
	case statusCode == http.StatusNotFound:
		return NewError(NotFound, "UPSTREAM_NOT_FOUND", "upstream reported not found").
			WithDetail("status_code", statusCode).Retryable(false).Build()
	case statusCode == http.StatusTooManyRequests:
		return NewError(RateLimited, "UPSTREAM_RATE_LIMITED", "upstream rate limit exceeded").
			WithDetail("status_code", statusCode).WithDetail("response_body", body).Build()
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewError(AuthError, "UPSTREAM_AUTH_FAILED", "upstream authentication failed").
			WithDetail("status_code", statusCode).Retryable(false).Build()
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return NewError(Timeout, "UPSTREAM_TIMEOUT", "upstream request timed out").
			WithDetail("status_code", statusCode).Build()
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return NewError(InvalidRequest, "UPSTREAM_BAD_REQUEST", "upstream rejected the request").
			WithDetail("status_code", statusCode).WithDetail("response_body", body).Retryable(false).Build()
	case statusCode == http.StatusBadGateway || statusCode == http.StatusServiceUnavailable:
		return NewError(Unavailable, "UPSTREAM_UNAVAILABLE", "upstream unavailable").
			WithDetail("status_code", statusCode).Build()
	case statusCode >= 500:
		return NewError(Unavailable, "UPSTREAM_SERVER_ERROR", "upstream server error").
			WithDetail("status_code", statusCode).WithDetail("response_body", body).Build()
	default:
		return NewError(Other, "UPSTREAM_ERROR", "unexpected upstream response").
			WithDetail("status_code", statusCode).WithDetail("response_body", body).Build()
	}
}

func (ec *ErrorClassifier) matches(errStr string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

func (ec *ErrorClassifier) isStorageError(errStr string) bool {
	patterns := []string{
		"database", "sql", "connection pool", "deadlock",
		"constraint", "foreign key", "duplicate key",
		"table doesn't exist", "column doesn't exist", "no such table",
	}
	return ec.matches(errStr, patterns)
}

// IsTimeoutError reports whether err classifies as Timeout.
func IsTimeoutError(err error) bool { return kindOf(err) == Timeout }

// IsRateLimitedError reports whether err classifies as RateLimited.
func IsRateLimitedError(err error) bool { return kindOf(err) == RateLimited }

// IsNetworkErrorKind reports whether err classifies as NetworkError.
func IsNetworkErrorKind(err error) bool { return kindOf(err) == NetworkError }

// IsNotFoundError reports whether err classifies as NotFound.
func IsNotFoundError(err error) bool { return kindOf(err) == NotFound }

func kindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge.Kind
	}
	return NewErrorClassifier().Classify(err).Kind
}
