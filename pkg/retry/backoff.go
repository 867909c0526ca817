// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/okian/civicstake/pkg/logger"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool

	// Retryable decides whether an error is worth another attempt.
	// nil retries every error.
	Retryable func(error) bool
}

// DefaultConfig returns settings suited to short in-process conflicts.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// WithBackoff executes fn until it succeeds, returns a non-retryable error,
// the context is done, or MaxRetries attempts have been made.
func WithBackoff(ctx context.Context, cfg Config, log logger.Logger, operation string, fn func() error) error {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				log.Debug(ctx, "operation succeeded after retries",
					logger.String("operation", operation),
					logger.Int("attempts", attempt))
			}
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := calculateBackoff(cfg, attempt)
		log.Warn(ctx, "operation failed, retrying",
			logger.String("operation", operation),
			logger.Int("attempt", attempt),
			logger.Int("max_retries", cfg.MaxRetries),
			logger.Duration("retry_in", delay),
			logger.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w: %w", operation, cfg.MaxRetries, ErrExhausted, lastErr)
}

func calculateBackoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	// +/-15% spread
	if cfg.JitterEnabled {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}
	return time.Duration(delay)
}
