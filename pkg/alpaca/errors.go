package alpaca

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// NetworkError wraps transport failures and timeouts. Transient.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("alpaca: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError is returned for HTTP 429. Transient.
type RateLimitError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("alpaca: rate limited, retry after %s", e.RetryAfter)
	}
	return "alpaca: rate limited"
}

// RetryDelay returns the wait the provider asked for, relative to now.
func (e *RateLimitError) RetryDelay(now time.Time) time.Duration {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	if !e.ResetAt.IsZero() {
		if d := e.ResetAt.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// AuthError is returned for HTTP 401/403. Fatal for the whole job.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("alpaca: authentication failed (status %d): %s", e.StatusCode, e.Body)
}

// BodyTooLargeError is returned when a response exceeds the client's size
// bound. Permanent.
type BodyTooLargeError struct {
	Path       string
	StatusCode int
	Limit      int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("alpaca: %s response (status %d) exceeds %d bytes", e.Path, e.StatusCode, e.Limit)
}

// StatusError covers the remaining non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("alpaca: http status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusRequestTimeout
}

// IsTransient reports whether err may succeed on another attempt.
func IsTransient(err error) bool {
	var (
		netErr  *NetworkError
		rateErr *RateLimitError
		status  *StatusError
	)
	switch {
	case errors.As(err, &netErr), errors.As(err, &rateErr):
		return true
	case errors.As(err, &status):
		return status.Temporary()
	default:
		return false
	}
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
