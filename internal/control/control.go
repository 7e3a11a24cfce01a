package control

import "time"

// ErrorClass names a failure kind of an upstream call.
type ErrorClass string

const (
	ClassNone           ErrorClass = ""
	ClassRateLimited    ErrorClass = "rate_limited"
	ClassTimeout        ErrorClass = "timeout"
	ClassUpstreamStatus ErrorClass = "upstream_status"
	ClassMalformed      ErrorClass = "malformed_response"
	ClassTransport      ErrorClass = "transport"
	ClassCacheRefresh   ErrorClass = "cache_refresh"
)

// Retryable reports whether another attempt may succeed where this one failed.
func (c ErrorClass) Retryable() bool {
	return c == ClassRateLimited || c == ClassTimeout
}

// RetryPolicy defines the attempt budget of one completion call.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff[i] is slept after attempt i+1 was rate limited.
	Backoff []time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
}

// DefaultRetryPolicy returns three attempts with a 2s/5s/10s rate-limit backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		Timeout:     60 * time.Second,
	}
}

// ShouldRetry returns whether a failed attempt (1-based) gets a successor.
func (p RetryPolicy) ShouldRetry(class ErrorClass, attempt int) bool {
	return class.Retryable() && attempt < p.MaxAttempts
}

// Delay returns how long to wait before retrying after attempt failed.
// Timeouts are retried immediately.
func (p RetryPolicy) Delay(class ErrorClass, attempt int) time.Duration {
	if class != ClassRateLimited || attempt <= 0 || len(p.Backoff) == 0 {
		return 0
	}
	if attempt > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt-1]
}
