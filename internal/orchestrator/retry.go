package orchestrator

import (
	"context"
	"fmt"
	"time"

	"overseer/internal/backend"
	"overseer/internal/logging"
)

// callWithRetry wraps one backend call with the retry policy.
// RateLimited errors back off exponentially (base * 2^(attempt-1)),
// Transient errors retry after a fixed base delay, Permanent and Cancelled
// abort immediately. Backoff sleeps are interrupted by cancellation.
func (o *Orchestrator) callWithRetry(ctx context.Context, op string, call func(context.Context) error) error {
	attempts := o.cfg.Retry.Attempts
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}

		kind := backend.Classify(err)
		logging.Retry("%s attempt %d/%d failed (%s): %v", op, attempt, attempts, kind, err)
		o.sink.Count("overseer_backend_failures_total", 1,
			map[string]string{"op": op, "kind": string(kind)})

		switch kind {
		case backend.KindPermanent, backend.KindCancelled:
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := retryDelay(kind, o.cfg.Retry.BaseDelay, attempt)
		logging.RetryDebug("%s backing off %v before attempt %d", op, delay, attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, attempts, lastErr)
}

// retryDelay computes the wait before the next attempt.
func retryDelay(kind backend.ErrorKind, base time.Duration, attempt int) time.Duration {
	if kind == backend.KindRateLimited {
		shift := attempt - 1
		if shift > 10 {
			shift = 10
		}
		return base * time.Duration(1<<shift)
	}
	return base
}

// saveWithRetry persists the live session, retrying store I/O failures up
// to the configured attempt bound before giving up.
func (o *Orchestrator) saveWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.Retry.Attempts; attempt++ {
		if err := o.store.Save(o.session); err != nil {
			lastErr = err
			logging.Get(logging.CategoryStore).Warn("Save attempt %d failed: %v", attempt, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.Retry.BaseDelay):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("session save failed after %d attempts: %w", o.cfg.Retry.Attempts, lastErr)
}
