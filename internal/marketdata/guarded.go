package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/store"
)

var _ store.BarSource = (*Guarded)(nil)

// Guarded wraps a remote BarSource with a rate limiter and a circuit breaker
type Guarded struct {
	source  store.BarSource
	limiter Limiter
	breaker *Breaker
	// observe, when set, receives the duration and outcome of every fetch
	observe func(d time.Duration, err error)
}

// NewGuarded wraps source. A nil limiter or breaker disables that guard.
func NewGuarded(source store.BarSource, limiter Limiter, breaker *Breaker) *Guarded {
	if limiter == nil {
		limiter = Unlimited{}
	}
	return &Guarded{source: source, limiter: limiter, breaker: breaker}
}

// SetObserver registers a callback for fetch latency
func (g *Guarded) SetObserver(fn func(d time.Duration, err error)) {
	g.observe = fn
}

// Breaker returns the wrapped breaker, nil when disabled
func (g *Guarded) Breaker() *Breaker {
	return g.breaker
}

// ReadBars waits for the limiter, then reads through the breaker.
// Cancellation does not count as a source failure.
func (g *Guarded) ReadBars(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	began := time.Now()
	var bars []market.Bar
	fetch := func() error {
		var err error
		bars, err = g.source.ReadBars(ctx, symbol, tf, start, end)
		return err
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(fetch, isCancellation)
	} else {
		err = fetch()
	}

	if g.observe != nil && !IsRejected(err) {
		g.observe(time.Since(began), err)
	}
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// IsRejected reports whether err came from the breaker refusing a call
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrProbeInFlight)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
