// Package resilience provides the retry and circuit-breaking primitives the
// metric store client uses to shield the playback-correction path from
// remote failures.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Default retry parameters for pattern store calls.
const (
	DefaultAttempts       = 3
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 5 * time.Second
)

// RetryConfig tunes [Retry]. Zero-value fields fall back to defaults.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// InitialBackoff is the sleep before the second attempt. It doubles on
	// each subsequent attempt up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-attempt backoff.
	MaxBackoff time.Duration

	// RetryIf, when non-nil, decides whether an error is worth retrying.
	// Non-retryable errors (e.g. invalid credentials) abort immediately.
	RetryIf func(error) bool
}

// withDefaults returns cfg with zero values replaced by defaults.
func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return cfg
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// attempts, respecting ctx cancellation while sleeping. op names the
// operation in log messages.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return lastErr
		}
		if attempt < cfg.Attempts {
			slog.Debug("operation failed, retrying",
				"op", op,
				"attempt", attempt,
				"error", lastErr)
		}
	}
	return lastErr
}

// RetryValue is the result-returning variant of [Retry]. It is a package
// function because Go does not support method-level type parameters.
func RetryValue[T any](ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, cfg, op, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = fn(ctx)
		return innerErr
	})
	return out, err
}
