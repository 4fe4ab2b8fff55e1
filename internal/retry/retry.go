// Package retry implements the retry policy (C5): classification is the
// caller's job (adapters classify via gwerrors.Kind); this package owns the
// backoff schedule and the retry loop as a standalone, provider-agnostic
// helper, grounded on the exponential-backoff-with-jitter shape of
// BaSui01-agentflow's llm/retry/backoff.go.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/coregate/gateway/internal/gwerrors"
)

// Config tunes the exponential-backoff-with-jitter schedule.
type Config struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultConfig matches §4.5's stated defaults (pipeline-level). The
// adapters do not retry on their own; Do is the only retry loop.
func DefaultConfig() Config {
	return Config{BaseDelay: time.Second, MaxAttempts: 3}
}

// backoff computes base*2^attempt plus jitter in [0, base), then applies the
// Retry-After floor if the upstream declared one.
func backoff(cfg Config, attempt int, retryAfterSecs int) time.Duration {
	computed := cfg.BaseDelay * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Int63n(int64(cfg.BaseDelay)))
	computed += jitter

	if retryAfterSecs > 0 {
		floor := time.Duration(retryAfterSecs) * time.Second
		if floor > computed {
			return floor
		}
	}
	return computed
}

// Do runs fn, retrying while the classified error is Retryable() and the
// attempt budget remains. Cancellation is never retried — a context error
// from fn is surfaced immediately without consuming retry budget, per §5.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	var zero T

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}

		ge, ok := gwerrors.As(err)
		if !ok || !ge.Kind.Retryable() {
			return zero, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := backoff(cfg, attempt, ge.RetryAfterSecs)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
