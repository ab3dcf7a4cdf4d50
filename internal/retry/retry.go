// Package retry wraps operations with classification-driven exponential
// backoff. It is the sole place where transient LLM-call failure is
// absorbed; callers above never special-case provider error types.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter scales each delay by a uniform factor in [0.5, 1.5).
	Jitter bool

	// Sleep, when set, replaces the default context-aware wait. Tests use
	// this to count and skip delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig matches the backoff profile used for hosted providers.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Factor:      2.0,
		Jitter:      true,
	}
}

// LocalConfig uses shorter delays, suited to local model servers.
func LocalConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Factor:      2.0,
		Jitter:      true,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// DoWithValue executes op with retries, returning its value on first
// success. A non-retryable error propagates immediately; exhausting
// MaxAttempts returns the last error.
func DoWithValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var zero T
	cfg.applyDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !Retryable(err) {
			slog.Warn("non-retryable error", "error", err)
			return zero, err
		}
		if attempt+1 >= cfg.MaxAttempts {
			slog.Error("all attempts failed", "attempts", cfg.MaxAttempts, "error", err)
			return zero, err
		}

		delay := Delay(attempt, cfg)
		if ra, ok := RetryAfter(err); ok {
			delay = ra
		}
		slog.Warn("retrying after transient error",
			"attempt", attempt+1, "max_attempts", cfg.MaxAttempts, "delay", delay, "error", err)

		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Do executes an operation that returns only an error.
func Do(ctx context.Context, cfg Config, op func() error) error {
	_, err := DoWithValue(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// Delay computes the backoff for a given zero-based attempt number:
// min(base × factor^attempt, max), optionally scaled by jitter.
func Delay(attempt int, cfg Config) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Factor, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		d *= 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	}
	return time.Duration(d)
}

// retryableStatusCodes are the HTTP statuses that indicate a transient
// provider condition.
var retryableStatusCodes = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// retryableVocab are message fragments used to classify untyped errors.
var retryableVocab = []string{
	"rate limit",
	"too many requests",
	"overloaded",
	"capacity",
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatusCode() int
}

// RetryAfterer is implemented by errors that carry an explicit
// provider-supplied retry-after duration.
type RetryAfterer interface {
	RetryAfterDuration() (time.Duration, bool)
}

// Retryable classifies an error as transient. Timeout and connection
// errors, retryable HTTP statuses, and rate-limit/overload vocabulary all
// qualify; everything else propagates immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return retryableStatusCodes[sc.HTTPStatusCode()]
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range retryableVocab {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return true
	}
	return false
}

// RetryAfter extracts an explicit retry-after hint from the error chain.
func RetryAfter(err error) (time.Duration, bool) {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfterDuration()
	}
	return 0, false
}
