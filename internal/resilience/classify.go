package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// StatusError is a non-2xx response from an HTTP engine
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// UnavailableError marks an error as meaning the engine could not be reached
// or could not serve the request, as opposed to rejecting its content
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an UnavailableError
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Err: err}
}

// IsUnavailable reports whether err means the engine is unreachable,
// timed out, overloaded, or short-circuited by its breaker
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return true
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode >= http.StatusInternalServerError ||
			status.StatusCode == http.StatusTooManyRequests ||
			status.StatusCode == http.StatusUnauthorized ||
			status.StatusCode == http.StatusForbidden
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return IsNetworkError(err)
}

// IsNetworkError checks an error message for connection, timeout and
// resource exhaustion failures reported by SDKs that do not expose typed errors
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	return containsAny(msg,
		// Connection errors
		"connection refused",
		"connection reset",
		"connection closed",
		"transport is closing",
		"unavailable",
		"network is unreachable",
		"no route to host",
		"no such host",
		// Timeout errors
		"deadline exceeded",
		"timeout",
		// Resource exhaustion (may be temporary)
		"resource exhausted",
		"too many connections",
		"rate limit",
	)
}

func containsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
