package testutils

import (
	"time"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/shopspring/decimal"
)

// BaseTime is the timestamp of the first fixture bar
var BaseTime = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// BarsFromCloses builds daily bars whose OHLC all equal the given closes.
// Volume is a constant 1000.
func BarsFromCloses(closes ...float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = market.Bar{
			Timestamp: BaseTime.AddDate(0, 0, i),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars
}

// SampleBars returns 100 hourly bars trending up from 50000
func SampleBars() []market.Bar {
	bars := make([]market.Bar, 100)

	for i := 0; i < 100; i++ {
		price := 50000 + float64(i)*100
		bars[i] = market.Bar{
			Timestamp: BaseTime.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(price - 50),
			High:      decimal.NewFromFloat(price + 100),
			Low:       decimal.NewFromFloat(price - 100),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(100 + float64(i)),
		}
	}

	return bars
}

// ZigZagBars returns n daily bars oscillating around 100 with a period of
// eight bars, enough to trigger both entries and exits.
func ZigZagBars(n int) []market.Bar {
	pattern := []float64{100, 103, 106, 104, 101, 97, 94, 98}
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = pattern[i%len(pattern)] + float64(i/len(pattern))
	}
	bars := BarsFromCloses(closes...)
	for i := range bars {
		bars[i].Volume = decimal.NewFromInt(int64(1000 + (i%5)*400))
	}
	return bars
}
