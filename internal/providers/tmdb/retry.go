package tmdb

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RetryConfig controls RetryWithBackoff. The delay between attempts is fixed.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// RetryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// or MaxAttempts is reached. Context cancellation between attempts is
// respected.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// isRetryable reports rate limiting and server-side failures.
func isRetryable(err error) bool {
	var statusErr *statusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
}
