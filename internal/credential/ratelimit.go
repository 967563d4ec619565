package credential

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a fixed minimum interval between requests issued under
// one credential. The burst size is pinned to 1 so that the steady-state
// ceiling is never exceeded even momentarily; NCBI throttles server-side on
// bursts above the per-key allowance.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a rate limiter admitting ratePerSecond requests per
// second with no burst allowance.
//
// Example configurations:
//   - without an API key: NewRateLimiter(3) for 3 requests per second
//   - with an API key: NewRateLimiter(10) for 10 requests per second
func NewRateLimiter(ratePerSecond float64) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}
}

// Acquire blocks until issuing one more request would not exceed the
// configured ceiling, or the context ends. It returns an error only when the
// context is cancelled or its deadline would be exceeded by the wait.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed without waiting, consuming a
// token when it may. Used by tests and monitoring; Workers always Acquire.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}
