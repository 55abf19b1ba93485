package fetch

import (
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy computes jittered exponential backoff between attempts.
type RetryPolicy struct {
	maxCalls  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRetryPolicy builds a policy. maxCalls counts every call including the first.
func NewRetryPolicy(maxCalls int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxCalls <= 0 {
		maxCalls = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = 30 * time.Second
	}
	return &RetryPolicy{maxCalls: maxCalls, baseDelay: baseDelay, maxDelay: maxDelay}
}

// MaxCalls is the total number of calls allowed per URL.
func (p *RetryPolicy) MaxCalls() int {
	return p.maxCalls
}

// ShouldRetry decides whether the error warrants another call. attempt is the
// number of calls already made.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxCalls {
		return false
	}
	return Retryable(err)
}

// Backoff returns the wait before call number attempt+1.
func (p *RetryPolicy) Backoff(err error, attempt int) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			return p.cap(rl.RetryAfter)
		}
		return p.cap(time.Duration(math.Pow(2, float64(attempt))) * time.Second)
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *RetryPolicy) cap(d time.Duration) time.Duration {
	if d > p.maxDelay {
		return p.maxDelay
	}
	return d
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// ParseRetryAfter reads a Retry-After header given as seconds or an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
