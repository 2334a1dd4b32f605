package gateway

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/gradeloop/authkit"
)

// RetryConfig controls the caller-invoked retry helper. The gateway itself
// never retries beyond the single 401 refresh-and-retry; everything else is
// the caller's decision, made through Retry.
type RetryConfig struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// JitterFactor adds ±N% randomness to each delay.
	JitterFactor float64
}

// DefaultRetryConfig matches the documented policy: 3 bounded attempts,
// exponential delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Retry runs fn with exponential backoff. Authentication, authorization,
// validation and rate-limit errors are never retried; they surface
// immediately. Context cancellation aborts the wait.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !authkit.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		jitter := d * cfg.JitterFactor
		d = d - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(d)
}
