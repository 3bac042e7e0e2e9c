package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default retry parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// RetryConfig configures [Retry].
type RetryConfig struct {
	// Name labels log lines.
	Name string

	// MaxRetries is the number of attempts after the first. Default: 10.
	MaxRetries int

	// Backoff is the wait after the first failure. It doubles per attempt up
	// to MaxBackoff. Default: 1s.
	Backoff time.Duration

	// MaxBackoff caps the wait. Default: 30s.
	MaxBackoff time.Duration

	// Retryable, if set, ends the loop early for errors it rejects.
	Retryable func(error) bool
}

// Retry calls fn until it succeeds, the retries are used up, a
// non-retryable error occurs, or ctx is done. It returns the last error.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	wait := cfg.Backoff
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			if attempt > 0 {
				slog.Info("resilience: retry succeeded", "name", cfg.Name, "attempt", attempt+1)
			}
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			break
		}
		slog.Warn("resilience: attempt failed, backing off",
			"name", cfg.Name,
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"backoff", wait,
			"err", err,
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("resilience: %s: %w (last error: %w)", cfg.Name, ctx.Err(), err)
		case <-t.C:
		}
		wait = min(wait*2, cfg.MaxBackoff)
	}
	slog.Error("resilience: giving up", "name", cfg.Name, "max_retries", cfg.MaxRetries, "err", err)
	return err
}
