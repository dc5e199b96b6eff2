package analysis

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces calls to the analysis service
type RateLimiter interface {
	Wait(ctx context.Context) error
	BlockUntil(t time.Time)
}

// serviceRateLimiter enforces a minimum spacing between calls and honours
// Retry-After windows reported by the service
type serviceRateLimiter struct {
	mu           sync.Mutex
	minDelay     time.Duration
	lastCall     time.Time
	blockedUntil time.Time
	now          func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(minDelay time.Duration) RateLimiter {
	return &serviceRateLimiter{
		minDelay: minDelay,
		now:      time.Now,
	}
}

// Wait waits until it's safe to make another call
func (r *serviceRateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		next := r.lastCall.Add(r.minDelay)
		if r.blockedUntil.After(next) {
			next = r.blockedUntil
		}
		if !next.After(now) {
			r.lastCall = now
			r.mu.Unlock()
			return nil
		}
		wait := next.Sub(now)
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// BlockUntil delays every call until t, e.g. after an HTTP 429
func (r *serviceRateLimiter) BlockUntil(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.blockedUntil) {
		r.blockedUntil = t
	}
}
