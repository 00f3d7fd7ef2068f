package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	alpaca "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBarsClient struct {
	symbol string
	req    alpaca.GetBarsRequest
	bars   []alpaca.Bar
	err    error
}

func (f *fakeBarsClient) GetBars(symbol string, req alpaca.GetBarsRequest) ([]alpaca.Bar, error) {
	f.symbol = symbol
	f.req = req
	return f.bars, f.err
}

func TestAlpacaSourceReadBars(t *testing.T) {
	ts := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	client := &fakeBarsClient{bars: []alpaca.Bar{
		{Timestamp: ts, Open: 10, High: 12, Low: 9.5, Close: 11.25, Volume: 1500},
	}}
	src := &AlpacaSource{client: client, feed: "iex"}

	start := ts.AddDate(0, 0, -1)
	bars, err := src.ReadBars(context.Background(), "aapl", market.Timeframe("4h"), start, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "AAPL", client.symbol)
	assert.Equal(t, alpaca.NewTimeFrame(4, alpaca.Hour), client.req.TimeFrame)
	assert.True(t, client.req.Start.Equal(start))
	assert.Equal(t, alpaca.Feed("iex"), client.req.Feed)

	require.Len(t, bars, 1)
	assert.True(t, bars[0].Timestamp.Equal(ts))
	assert.True(t, bars[0].Close.Equal(decimal.NewFromFloat(11.25)))
	assert.True(t, bars[0].Volume.Equal(decimal.NewFromInt(1500)))
}

func TestAlpacaSourceErrors(t *testing.T) {
	client := &fakeBarsClient{err: errors.New("forbidden")}
	src := &AlpacaSource{client: client}

	_, err := src.ReadBars(context.Background(), "AAPL", market.Timeframe1d, time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "forbidden")

	_, err = src.ReadBars(context.Background(), "AAPL", market.Timeframe("bad"), time.Time{}, time.Time{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.ReadBars(ctx, "AAPL", market.Timeframe1d, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToTimeFrame(t *testing.T) {
	tests := []struct {
		tf   market.Timeframe
		want alpaca.TimeFrame
	}{
		{market.Timeframe1m, alpaca.NewTimeFrame(1, alpaca.Min)},
		{market.Timeframe5m, alpaca.NewTimeFrame(5, alpaca.Min)},
		{market.Timeframe1h, alpaca.NewTimeFrame(1, alpaca.Hour)},
		{market.Timeframe1d, alpaca.NewTimeFrame(1, alpaca.Day)},
		{market.Timeframe("1w"), alpaca.NewTimeFrame(1, alpaca.Week)},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			got, err := toTimeFrame(tt.tf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
