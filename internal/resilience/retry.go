package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig tunes [Retry].
type RetryConfig struct {
	// Attempts is the total number of tries. Default: 3.
	Attempts int

	// Base is the delay before the second try; it doubles after every
	// failure. Default: 500ms.
	Base time.Duration

	// MaxDelay caps a single wait. Default: 10s.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the startup retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Base: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retry calls fn until it succeeds, returns a [Permanent] error, ctx is done,
// or the attempts run out. The last error is returned unwrapped.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func(ctx context.Context) error) error {
	def := DefaultRetryConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}

	b := retry.NewExponential(cfg.Base)
	b = retry.WithCappedDuration(cfg.MaxDelay, b)
	b = retry.WithMaxRetries(uint64(cfg.Attempts-1), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		slog.Warn("resilience: attempt failed", "op", name, "attempt", attempt, "of", cfg.Attempts, "err", err)
		return retry.RetryableError(err)
	})
	return err
}
