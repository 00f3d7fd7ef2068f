// Package marketdata fetches historical bars from remote vendors and guards
// those calls with rate limiting and circuit breaking.
package marketdata

import (
	"context"
	"sync"
	"time"
)

// Limiter throttles outbound data requests
type Limiter interface {
	// Wait blocks until a request may proceed or ctx is canceled
	Wait(ctx context.Context) error
	// Allow reports whether a request may proceed immediately, consuming a token if so
	Allow() bool
}

// TokenBucket is a Limiter refilled continuously at a fixed rate
type TokenBucket struct {
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a bucket that starts full
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// PerMinute returns a limiter allowing n requests per minute with a burst of
// n/10. A non-positive n disables limiting.
func PerMinute(n int) Limiter {
	if n <= 0 {
		return Unlimited{}
	}
	return NewTokenBucket(float64(n)/60, max(1, n/10))
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastUpdate).Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastUpdate = now
}

// take consumes a token if one is available, otherwise it returns how long
// until one will be
func (tb *TokenBucket) take() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return 0, true
	}
	return time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second)), false
}

// Wait blocks until a token is available or ctx is canceled
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow consumes a token if one is immediately available
func (tb *TokenBucket) Allow() bool {
	_, ok := tb.take()
	return ok
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (Unlimited) Allow() bool                    { return true }
