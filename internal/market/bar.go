package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents one OHLCV sample for a fixed interval
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Side is the direction of a position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Closes extracts closing prices
func Closes(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// Volumes extracts volumes
func Volumes(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i := range bars {
		out[i] = bars[i].Volume
	}
	return out
}

// InRange filters bars to the inclusive [start, end] interval. A zero bound is open.
func InRange(bars []Bar, start, end time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
