package flowclient

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/pinnacle/pkg/schema"
)

// RetryPolicy controls how idempotent requests are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	Delay       time.Duration
	// Backoff is one of "constant", "linear" or "exponential".
	Backoff  string
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries idempotent reads three times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       200 * time.Millisecond,
		Backoff:     "exponential",
		MaxDelay:    2 * time.Second,
	}
}

// IsRetryableError classifies whether an error should be retried.
// Retryable: network errors, timeouts of a single attempt, 5xx responses.
// Non-retryable: cancellation, client errors, typed FlowErrors with non-retryable codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Cancelled means the caller gave up.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		if status, ok := flowErr.Details["status"].(int); ok && status < 500 {
			return false
		}
		return flowErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ComputeBackoff calculates the delay before the next retry attempt (0-based),
// capped at MaxDelay when set.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	base := policy.Delay
	if base <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = base << attempt
	case "linear":
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
