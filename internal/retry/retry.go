// Package retry implements the bounded retry budget used when fetching from
// the external policy authority: exponential backoff with optional jitter,
// gated on transport errors and a configurable set of HTTP status codes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config defines retry behavior for upstream requests.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int
	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier float64
	// Jitter adds randomness to backoff to prevent thundering herd.
	Jitter bool
	// RetryableStatusCodes defines which HTTP status codes should trigger retries.
	RetryableStatusCodes map[int]bool
}

// DefaultConfig returns sensible defaults for retry behavior.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableStatusCodes: map[int]bool{
			http.StatusRequestTimeout:      true, // 408
			http.StatusTooManyRequests:     true, // 429
			http.StatusInternalServerError: true, // 500
			http.StatusBadGateway:          true, // 502
			http.StatusServiceUnavailable:  true, // 503
			http.StatusGatewayTimeout:      true, // 504
		},
	}
}

// Policy decides whether and when a failed request is retried.
type Policy struct {
	config Config
}

// NewPolicy creates a retry policy, filling non-positive fields from the defaults.
func NewPolicy(config Config) *Policy {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.RetryableStatusCodes == nil {
		config.RetryableStatusCodes = DefaultConfig().RetryableStatusCodes
	}

	return &Policy{config: config}
}

// Config returns a copy of the current retry configuration.
func (p *Policy) Config() Config {
	return p.config
}

// ShouldRetry reports whether another attempt is allowed after a failure.
// A transport error (statusCode 0) is always retryable within the budget; an
// HTTP failure is retryable only when its status code is configured so.
func (p *Policy) ShouldRetry(statusCode int, err error, attempt int) bool {
	if attempt >= p.config.MaxRetries {
		return false
	}
	return p.retryable(statusCode, err)
}

func (p *Policy) retryable(statusCode int, err error) bool {
	if err == nil {
		return false
	}
	if statusCode > 0 {
		return p.config.RetryableStatusCodes[statusCode]
	}
	return true
}

// CalculateBackoff returns the delay before the next retry attempt.
func (p *Policy) CalculateBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(p.config.InitialBackoff) * math.Pow(p.config.BackoffMultiplier, float64(attempt)))
	if backoff > p.config.MaxBackoff {
		backoff = p.config.MaxBackoff
	}

	if p.config.Jitter {
		// Up to 25% of the backoff.
		if quarter := int64(backoff / 4); quarter > 0 {
			// #nosec G404 - Non-cryptographic random is acceptable for jitter
			backoff += time.Duration(rand.Int63n(quarter))
		}
	}

	return backoff
}

// ExecuteWithRetry runs fn until it succeeds, fails non-retryably, exhausts
// the budget, or the context is done. fn reports the HTTP status code it saw
// (0 when the failure never produced a response). A non-retryable failure is
// returned as-is; an exhausted budget wraps the last error in
// ErrMaxRetriesExceeded.
func (p *Policy) ExecuteWithRetry(ctx context.Context, fn func() (int, error)) (int, error) {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		statusCode, err := fn()
		if err == nil {
			return statusCode, nil
		}
		if !p.retryable(statusCode, err) {
			return statusCode, err
		}
		if attempt >= p.config.MaxRetries {
			return statusCode, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, err)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(p.CalculateBackoff(attempt)):
		}
	}
}
