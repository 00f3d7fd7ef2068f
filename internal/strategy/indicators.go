package strategy

import (
	"github.com/guyghost/quantbt/pkg/utils"
	"github.com/shopspring/decimal"
)

var (
	rsiNeutral = decimal.NewFromInt(50)
	rsiMax     = decimal.NewFromInt(100)
)

// SMA calculates the Simple Moving Average of the last period prices.
// Returns zero when there is not enough data.
func SMA(prices []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(prices) < period {
		return decimal.Zero
	}
	return utils.Mean(prices[len(prices)-period:])
}

// RSI calculates the Relative Strength Index over the last period price changes.
// It returns 50 when fewer than period+1 prices are available and 100 when the
// average loss is exactly zero.
func RSI(prices []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(prices) < period+1 {
		return rsiNeutral
	}

	gains := decimal.Zero
	losses := decimal.Zero
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i].Sub(prices[i-1])
		if change.IsPositive() {
			gains = gains.Add(change)
		} else {
			losses = losses.Add(change.Abs())
		}
	}

	n := decimal.NewFromInt(int64(period))
	avgGain := gains.Div(n)
	avgLoss := losses.Div(n)
	if avgLoss.IsZero() {
		return rsiMax
	}

	rs := avgGain.Div(avgLoss)
	return rsiMax.Sub(rsiMax.Div(decimal.NewFromInt(1).Add(rs)))
}

// AverageVolume returns the mean of the last lookback volumes, or of all of
// them when fewer are available
func AverageVolume(volumes []decimal.Decimal, lookback int) decimal.Decimal {
	if len(volumes) == 0 {
		return decimal.Zero
	}
	if lookback > 0 && len(volumes) > lookback {
		volumes = volumes[len(volumes)-lookback:]
	}
	return utils.Mean(volumes)
}
