// Package ratelimit provides the token bucket every upstream call acquires from.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with capacity rate and a continuous refill of rate per period.
// One Limiter is shared by every caller that talks to the same upstream.
type Limiter struct {
	bucket *rate.Limiter
	calls  atomic.Int64
}

// New returns a Limiter allowing n calls per period, starting with a full bucket.
func New(n int, per time.Duration) (*Limiter, error) {
	if n <= 0 {
		return nil, fmt.Errorf("ratelimit: rate must be positive, got %d", n)
	}
	if per <= 0 {
		return nil, fmt.Errorf("ratelimit: period must be positive, got %s", per)
	}
	every := per / time.Duration(n)
	return &Limiter{bucket: rate.NewLimiter(rate.Every(every), n)}, nil
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	l.calls.Add(1)
	return nil
}

// Calls returns the number of tokens granted so far.
func (l *Limiter) Calls() int64 {
	return l.calls.Load()
}
