package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/guyghost/quantbt/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	bars  []market.Bar
	err   error
	calls int
}

func (s *countingSource) ReadBars(_ context.Context, _ string, _ market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return market.InRange(s.bars, start, end), nil
}

func TestReadThroughArchivesRemoteBars(t *testing.T) {
	ctx := context.Background()
	archive := store.NewParquetStore(t.TempDir())
	remote := &countingSource{bars: testutils.BarsFromCloses(10, 11, 12, 13)}
	cache := NewReadThrough(archive, remote)

	first, err := cache.ReadBars(ctx, "aapl", market.Timeframe1d, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, first, 4)
	assert.Equal(t, 1, remote.calls)

	second, err := cache.ReadBars(ctx, "AAPL", market.Timeframe1d, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, second, 4)
	assert.Equal(t, 1, remote.calls, "second read must come from the archive")
	assert.True(t, second[3].Close.Equal(first[3].Close))
}

func TestReadThroughRemoteError(t *testing.T) {
	boom := errors.New("upstream down")
	cache := NewReadThrough(store.NewParquetStore(t.TempDir()), &countingSource{err: boom})

	_, err := cache.ReadBars(context.Background(), "AAPL", market.Timeframe1d, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, boom)
}

func TestReadThroughEmptyRemote(t *testing.T) {
	remote := &countingSource{}
	cache := NewReadThrough(store.NewParquetStore(t.TempDir()), remote)

	bars, err := cache.ReadBars(context.Background(), "AAPL", market.Timeframe1d, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Equal(t, 1, remote.calls)
}
