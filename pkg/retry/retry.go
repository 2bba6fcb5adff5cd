package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config controls exponential backoff behavior.
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0; +/- this share of the delay is randomized
	MaxSameErrorType int     // give up after N consecutive failures of the same kind
}

// DefaultConfig returns the profile used for database operations: 3 retries
// starting at 100ms, doubling up to 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// ExtractionConfig returns defaults tuned for extraction-service calls.
// Slower initial delay than the database profile because rate-limit
// responses from hosted LLM endpoints usually need a couple of seconds.
func ExtractionConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     2 * time.Second,
		MaxDelay:         10 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 3,
	}
}

// backoff sleeps for the current delay (with jitter) and advances it toward
// MaxDelay. Returns the context error if cancelled mid-wait.
func (c *Config) backoff(ctx context.Context, delay *time.Duration) error {
	wait := *delay
	if c.JitterFactor > 0 {
		jitter := float64(wait) * c.JitterFactor * (rand.Float64()*2 - 1)
		wait = time.Duration(float64(wait) + jitter)
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}

	*delay = time.Duration(float64(*delay) * c.Multiplier)
	if *delay > c.MaxDelay {
		*delay = c.MaxDelay
	}
	return nil
}

// Do runs fn with exponential backoff, retrying every failure up to
// MaxRetries. Returns nil on success or the last error once attempts are
// exhausted. Cancellation during a wait ends the loop early.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt < cfg.MaxRetries {
			if err := cfg.backoff(ctx, &delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// DoWithResult is Do for functions that return a value, such as opening a
// connection pool.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if attempt < cfg.MaxRetries {
			if werr := cfg.backoff(ctx, &delay); werr != nil {
				return result, werr
			}
		}
	}
	return result, lastErr
}

// RetryableError lets errors declare their own retryability. LLM errors
// implement it so classification decided there does not have to be
// re-derived here from strings.
type RetryableError interface {
	error
	IsRetryable() bool
}

// retryablePatterns are substrings of error text that indicate a transient
// failure when the error does not implement RetryableError. Covers network
// flaps, Postgres contention, and HTTP backpressure responses.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"i/o timeout",
	"network is unreachable",
	"connection timed out",
	"429",
	"500",
	"502",
	"503",
	"504",
	"rate limit",
	"service busy",
	"service unavailable",
	"too many requests",
}

// IsRetryable reports whether an error is transient and worth another
// attempt. Errors implementing RetryableError decide for themselves;
// everything else is matched against known transient patterns. Permanent
// failures (bad credentials, malformed payloads) return false so retries
// are not wasted on them.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if r, ok := err.(RetryableError); ok {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// errorKind buckets an error for repeat detection, so a wall of identical
// 503s is recognized as one persistent outage rather than fresh failures.
func errorKind(err error) string {
	if err == nil {
		return "nil"
	}
	errStr := strings.ToLower(err.Error())

	for _, code := range []string{"503", "502", "504", "500", "429", "404", "403", "401", "400"} {
		if strings.Contains(errStr, code) {
			return code
		}
	}
	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"):
		return "rate_limit"
	}
	return "unknown"
}

// DoIfRetryable retries only transient errors; permanent ones return
// immediately. MaxSameErrorType consecutive failures of the same kind
// escalate to a permanent failure, since an endpoint that has answered 503
// five times in a row is down, not flapping.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay
	repeats := 0
	lastKind := ""

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if !IsRetryable(lastErr) {
			return lastErr
		}

		kind := errorKind(lastErr)
		if kind == lastKind {
			repeats++
			if cfg.MaxSameErrorType > 0 && repeats >= cfg.MaxSameErrorType {
				return fmt.Errorf("repeated error (%d times, type=%s): %w", repeats, kind, lastErr)
			}
		} else {
			repeats = 1
			lastKind = kind
		}

		if attempt < cfg.MaxRetries {
			if err := cfg.backoff(ctx, &delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}
