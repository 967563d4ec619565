// Package retry provides a reusable retry policy with exponential backoff
// and jitter, applied uniformly to search, fetch, full-text and index
// operations.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/helixir/rag-ingestion-service/internal/domain"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; doubled each attempt.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Defaults to DefaultRetryable when nil.
	Retryable func(error) bool
}

// DefaultPolicy matches the backoff used against the PubMed E-utilities:
// base 1s, doubling, capped, 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   DefaultRetryable,
	}
}

// DefaultRetryable classifies transient-network and rate-limit errors as
// retryable. Permanent record errors and context cancellation are not.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}

	var apiErr *domain.ExternalAPIError
	if errors.As(err, &apiErr) {
		// 429 and 5xx are transient; 4xx otherwise is permanent.
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// Do runs fn under the policy. It returns nil as soon as fn succeeds, the
// context error if the context ends while waiting, and the last error from fn
// once attempts are exhausted or the error is classified non-retryable.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// delay computes the backoff before the given attempt (1-based for retries),
// with up to 25% random jitter to avoid thundering-herd retries across
// workers hitting the same API.
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	d := base << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// sleep waits for the duration, respecting context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
