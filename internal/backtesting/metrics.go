package backtesting

import (
	"math"

	"github.com/guyghost/quantbt/pkg/utils"
	"github.com/shopspring/decimal"
)

// TradingDaysPerYear annualizes the per-trade Sharpe ratio
const TradingDaysPerYear = 252

var annualization = decimal.NewFromFloat(math.Sqrt(TradingDaysPerYear))

// Aggregate reduces the trade list and equity curve of a finished run into a
// Result. Every ratio with a zero denominator reads as zero.
func Aggregate(initialCapital, finalCapital, maxDrawdown decimal.Decimal, trades []Trade, curve []EquityPoint) *Result {
	if trades == nil {
		trades = make([]Trade, 0)
	}
	if curve == nil {
		curve = make([]EquityPoint, 0)
	}

	result := &Result{
		InitialCapital: initialCapital,
		FinalCapital:   finalCapital,
		MaxDrawdown:    maxDrawdown,
		TotalReturn:    utils.PercentChange(initialCapital, finalCapital),
		TotalTrades:    len(trades),
		Trades:         trades,
		EquityCurve:    curve,
	}

	if len(trades) == 0 {
		return result
	}

	wins := make([]decimal.Decimal, 0, len(trades))
	losses := make([]decimal.Decimal, 0, len(trades))
	returns := make([]decimal.Decimal, 0, len(trades))
	largestWin := trades[0].PnL
	largestLoss := trades[0].PnL

	for _, trade := range trades {
		returns = append(returns, trade.Return())

		if trade.IsWin() {
			result.WinningTrades++
			wins = append(wins, trade.PnL)
		} else {
			result.LosingTrades++
			losses = append(losses, trade.PnL.Abs())
		}

		largestWin = utils.MaxDecimal(largestWin, trade.PnL)
		largestLoss = utils.MinDecimal(largestLoss, trade.PnL)
	}

	total := decimal.NewFromInt(int64(result.TotalTrades))
	result.WinRate = decimal.NewFromInt(int64(result.WinningTrades)).Div(total).Mul(hundred)

	result.Metrics = Metrics{
		AvgWin:      utils.Mean(wins),
		AvgLoss:     utils.Mean(losses),
		LargestWin:  largestWin,
		LargestLoss: largestLoss,
	}
	result.ProfitFactor = utils.SafeDiv(result.Metrics.AvgWin, result.Metrics.AvgLoss)

	avgReturn := utils.Mean(returns)
	result.AvgTradeReturn = avgReturn.Mul(hundred)
	if stddev := utils.StandardDeviation(returns); !stddev.IsZero() {
		result.SharpeRatio = avgReturn.Div(stddev).Mul(annualization)
	}

	return result
}
