package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	calls int
	bars  []market.Bar
	err   error
}

func (s *stubSource) ReadBars(context.Context, string, market.Timeframe, time.Time, time.Time) ([]market.Bar, error) {
	s.calls++
	return s.bars, s.err
}

func TestGuardedPassesThrough(t *testing.T) {
	src := &stubSource{bars: testutils.BarsFromCloses(1, 2, 3)}
	g := NewGuarded(src, nil, nil)

	var observed int
	g.SetObserver(func(time.Duration, error) { observed++ })

	bars, err := g.ReadBars(context.Background(), "X", market.Timeframe1d, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, bars, 3)
	assert.Equal(t, 1, observed)
}

func TestGuardedBreakerRejects(t *testing.T) {
	src := &stubSource{err: errors.New("boom")}
	g := NewGuarded(src, Unlimited{}, NewBreaker("stub", &BreakerConfig{MaxFailures: 2, Cooldown: time.Hour}))

	var observed int
	g.SetObserver(func(time.Duration, error) { observed++ })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := g.ReadBars(ctx, "X", market.Timeframe1d, time.Time{}, time.Time{})
		assert.EqualError(t, err, "boom")
	}

	_, err := g.ReadBars(ctx, "X", market.Timeframe1d, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 2, observed)
	assert.Equal(t, StateOpen, g.Breaker().State())
}

func TestGuardedLimiterCanceled(t *testing.T) {
	src := &stubSource{}
	limiter := NewTokenBucket(0.01, 1)
	limiter.Allow()
	g := NewGuarded(src, limiter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.ReadBars(ctx, "X", market.Timeframe1d, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls)
}
