package marketdata

import (
	"context"
	"fmt"
	"time"

	alpaca "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/shopspring/decimal"
)

var _ store.BarSource = (*AlpacaSource)(nil)

// barsClient is the subset of the Alpaca client AlpacaSource uses
type barsClient interface {
	GetBars(symbol string, req alpaca.GetBarsRequest) ([]alpaca.Bar, error)
}

// AlpacaSource reads historical bars from the Alpaca market data API
type AlpacaSource struct {
	client barsClient
	feed   alpaca.Feed
}

// AlpacaOptions configures an AlpacaSource
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	// BaseURL overrides the data endpoint
	BaseURL string
	// Feed selects the data feed, e.g. "iex" or "sip"; empty uses the account default
	Feed string
}

// NewAlpacaSource creates a source backed by the Alpaca data client
func NewAlpacaSource(opts AlpacaOptions) *AlpacaSource {
	clientOpts := alpaca.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.BaseURL != "" {
		clientOpts.BaseURL = opts.BaseURL
	}

	return &AlpacaSource{
		client: alpaca.NewClient(clientOpts),
		feed:   alpaca.Feed(opts.Feed),
	}
}

// ReadBars fetches bars in [start, end]. An open end means up to now.
func (s *AlpacaSource) ReadBars(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeFrame, err := toTimeFrame(tf)
	if err != nil {
		return nil, err
	}

	bars, err := s.client.GetBars(store.NormalizeSymbol(symbol), alpaca.GetBarsRequest{
		TimeFrame: timeFrame,
		Start:     start,
		End:       end,
		Feed:      s.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetBars %s: %w", symbol, err)
	}

	out := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, fromAlpacaBar(b))
	}
	return out, nil
}

// toTimeFrame maps a timeframe onto Alpaca's (amount, unit) form
func toTimeFrame(tf market.Timeframe) (alpaca.TimeFrame, error) {
	n, unit, err := tf.Parse()
	if err != nil {
		return alpaca.TimeFrame{}, err
	}

	switch unit {
	case market.UnitMinute:
		return alpaca.NewTimeFrame(n, alpaca.Min), nil
	case market.UnitHour:
		return alpaca.NewTimeFrame(n, alpaca.Hour), nil
	case market.UnitDay:
		return alpaca.NewTimeFrame(n, alpaca.Day), nil
	default:
		return alpaca.NewTimeFrame(n, alpaca.Week), nil
	}
}

func fromAlpacaBar(b alpaca.Bar) market.Bar {
	return market.Bar{
		Timestamp: b.Timestamp.UTC(),
		Open:      decimal.NewFromFloat(b.Open),
		High:      decimal.NewFromFloat(b.High),
		Low:       decimal.NewFromFloat(b.Low),
		Close:     decimal.NewFromFloat(b.Close),
		Volume:    decimal.NewFromFloat(float64(b.Volume)),
	}
}
