package embed

import (
	"context"
	"math/rand"
	"time"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// RetryConfig configures retry behavior for provider requests.
type RetryConfig struct {
	MaxAttempts  int           // Total attempts including the first
	InitialDelay time.Duration // Delay before first retry
	MaxDelay     time.Duration // Cap on delay between retries
	Multiplier   float64       // Geometric backoff factor
	Jitter       bool          // Randomize each delay in [0, delay)
}

// DefaultRetryConfig returns the default retry configuration:
// 100ms initial, x3 growth, 30s cap, 5 attempts, full jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   3.0,
		Jitter:       true,
	}
}

// WithRetry executes fn with geometric backoff. Only retryable errors
// (provider_transient) are retried; anything else returns immediately.
// When attempts are exhausted the last error is wrapped as provider_failed.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !ierr.IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.Jitter && wait > 0 {
			wait = time.Duration(rand.Int63n(int64(wait)) + 1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return ierr.ProviderFailed("retries exhausted", lastErr)
}
