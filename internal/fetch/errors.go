package fetch

import (
	"errors"
	"fmt"
	"time"
)

// NetworkError wraps transport failures (DNS, connection reset, timeouts).
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError is an HTTP 429. RetryAfter is zero when the server sent no hint.
type RateLimitError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s (retry after %s)", e.URL, e.RetryAfter)
}

// ServerError is a 5xx response.
type ServerError struct {
	URL        string
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d from %s", e.StatusCode, e.URL)
}

// BadRequestError is an HTTP 400.
type BadRequestError struct {
	URL string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("bad request to %s", e.URL)
}

// StatusError is any other non-2xx response. It is never retried.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// StatusCode extracts the HTTP status carried by a fetch error, or 0.
func StatusCode(err error) int {
	var (
		rl  *RateLimitError
		se  *ServerError
		br  *BadRequestError
		ste *StatusError
	)
	switch {
	case errors.As(err, &rl):
		return 429
	case errors.As(err, &se):
		return se.StatusCode
	case errors.As(err, &br):
		return 400
	case errors.As(err, &ste):
		return ste.StatusCode
	default:
		return 0
	}
}

// Retryable reports whether another attempt at the same URL may succeed.
func Retryable(err error) bool {
	var (
		ne *NetworkError
		rl *RateLimitError
		se *ServerError
	)
	return errors.As(err, &ne) || errors.As(err, &rl) || errors.As(err, &se)
}

// Kind returns a short label for logs and metrics.
func Kind(err error) string {
	var (
		ne  *NetworkError
		rl  *RateLimitError
		se  *ServerError
		br  *BadRequestError
		ste *StatusError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &se):
		return "server_error"
	case errors.As(err, &br):
		return "bad_request"
	case errors.As(err, &ste):
		return "client_error"
	case errors.As(err, &ne):
		return "network_error"
	default:
		return "error"
	}
}
