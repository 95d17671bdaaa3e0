package resilience

import (
	"context"
	"time"
)

// Default retry parameters for provider calls.
const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 250 * time.Millisecond
	defaultMaxBackoff    = 5 * time.Second
)

// RetryConfig configures [Retry]. Zero-value fields fall back to defaults.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Backoff is the initial wait between attempts; it doubles each retry.
	Backoff time.Duration

	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// failures. It returns nil on the first success, ctx.Err() if the context is
// cancelled while waiting, and the last error once every attempt has failed.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}
