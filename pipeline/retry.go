package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// HTTPError is the transport-agnostic HTTP failure workers and providers
// surface so the retry policy can classify by status code without importing
// any provider SDK types.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// HTTPStatus returns the status code. Provider packages expose the same
// method on their own error types so classification works across package
// boundaries without a shared error type.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// statusCoder is implemented by any error carrying an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// RetryPolicy defines retry behavior for transient provider failures,
// applied inside workers and external-call stages (never by the pool or the
// executor).
//
// The delay before attempt k (zero-based) is:
//
//	min(BaseDelay * 2^k, MaxDelay) + jitter
//
// with jitter drawn uniformly from [-Jitter, +Jitter] and the sum floored
// at zero.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the exponential backoff base.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component.
	MaxDelay time.Duration

	// Jitter is the half-width of the uniform additive jitter window.
	Jitter time.Duration

	// Retryable overrides the default classification when non-nil.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the standard policy: 3 retries, 1s base, 16s
// cap, ±1s jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   16 * time.Second,
		Jitter:     time.Second,
	}
}

// LightRetryPolicy returns the policy for lighter providers: 3 retries, 1s
// base, 8s cap, ±500ms jitter.
func LightRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
		Jitter:     500 * time.Millisecond,
	}
}

// Validate checks policy constraints: MaxRetries >= 0 and, when both are
// set, MaxDelay >= BaseDelay.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return ErrInvalidRetryPolicy
	}
	if p.MaxDelay > 0 && p.BaseDelay > 0 && p.MaxDelay < p.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// retryablePatterns are error-message substrings treated as transient.
var retryablePatterns = []string{
	"timeout",
	"timed out",
	"network",
	"connection reset",
	"connection refused",
	"temporary",
}

// IsRetryable classifies an error as transient (retry) or permanent (fail
// fast). Retryable: HTTP 429, HTTP 500/502/503/504, and network-ish error
// strings. Non-retryable: all other 4xx and anything unclassified.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatus(); {
		case code == 429:
			return true
		case code == 500, code == 502, code == 503, code == 504:
			return true
		case code >= 400 && code < 500:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// computeBackoff calculates the pre-retry delay for a zero-based attempt:
// exponential growth capped at maxDelay plus uniform jitter in
// [-jitter, +jitter], floored at zero.
func computeBackoff(attempt int, base, maxDelay, jitter time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if jitter > 0 {
		var offset int64
		if rng != nil {
			offset = rng.Int63n(int64(2*jitter)) - int64(jitter)
		} else {
			offset = rand.Int63n(int64(2*jitter)) - int64(jitter) // #nosec G404 -- retry timing, not security
		}
		delay += time.Duration(offset)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Retry runs fn under the policy, sleeping between attempts with
// exponential backoff and jitter. The backoff timer is cancelled if ctx is
// done; the last error is returned once attempts are exhausted or a
// non-retryable error occurs.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == policy.MaxRetries {
			return lastErr
		}

		delay := computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay, policy.Jitter, nil)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
