package backtesting

import (
	"testing"
	"time"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/testutils"
	"github.com/shopspring/decimal"
)

func testTrade(entry, exit, qty float64) Trade {
	pnl := dec(exit).Sub(dec(entry)).Mul(dec(qty))
	return Trade{
		Side:       market.SideLong,
		EntryTime:  testutils.BaseTime,
		EntryPrice: dec(entry),
		ExitTime:   testutils.BaseTime.Add(24 * time.Hour),
		ExitPrice:  dec(exit),
		Quantity:   dec(qty),
		PnL:        pnl,
	}
}

func TestAggregate_NoTrades(t *testing.T) {
	result := Aggregate(dec(10000), dec(10000), decimal.Zero, nil, nil)

	testutils.AssertEqual(t, 0, result.TotalTrades, "Total trades should be 0")
	testutils.AssertEqual(t, 0, result.WinningTrades, "Winning trades should be 0")
	testutils.AssertEqual(t, 0, result.LosingTrades, "Losing trades should be 0")
	testutils.AssertTrue(t, result.WinRate.IsZero(), "Win rate should be 0")
	testutils.AssertTrue(t, result.ProfitFactor.IsZero(), "Profit factor should be 0")
	testutils.AssertTrue(t, result.SharpeRatio.IsZero(), "Sharpe ratio should be 0")
	testutils.AssertTrue(t, result.TotalReturn.IsZero(), "Total return should be 0")
	testutils.AssertTrue(t, result.Metrics.LargestWin.IsZero(), "Largest win should be 0")
	testutils.AssertTrue(t, result.Metrics.LargestLoss.IsZero(), "Largest loss should be 0")
	testutils.AssertTrue(t, result.Trades != nil, "Trades should serialize as an empty list")
}

func TestAggregate_WithTrades(t *testing.T) {
	trades := []Trade{
		testTrade(100, 110, 10), // +100, return 0.10
		testTrade(100, 95, 10),  // -50, return -0.05
	}

	result := Aggregate(dec(10000), dec(10050), dec(1.5), trades, nil)

	testutils.AssertEqual(t, 2, result.TotalTrades, "Total trades should be 2")
	testutils.AssertEqual(t, 1, result.WinningTrades, "Winning trades should be 1")
	testutils.AssertEqual(t, 1, result.LosingTrades, "Losing trades should be 1")
	testutils.AssertDecimal(t, dec(50), result.WinRate, "Win rate should be 50")
	testutils.AssertDecimal(t, dec(100), result.Metrics.AvgWin, "Avg win should be 100")
	testutils.AssertDecimal(t, dec(50), result.Metrics.AvgLoss, "Avg loss should be the mean absolute loss")
	testutils.AssertDecimal(t, dec(2), result.ProfitFactor, "Profit factor should be avg win / avg loss")
	testutils.AssertDecimal(t, dec(100), result.Metrics.LargestWin, "Largest win should be the max PnL")
	testutils.AssertDecimal(t, dec(-50), result.Metrics.LargestLoss, "Largest loss should be the min PnL")
	testutils.AssertDecimal(t, dec(2.5), result.AvgTradeReturn, "Avg trade return should be 2.5%")
	testutils.AssertDecimal(t, dec(0.5), result.TotalReturn, "Total return should be 0.5%")
	testutils.AssertDecimal(t, dec(1.5), result.MaxDrawdown, "Max drawdown should pass through")

	// mean 0.025 / stddev 0.075 * sqrt(252)
	sharpe := result.SharpeRatio.InexactFloat64()
	testutils.AssertTrue(t, sharpe > 5.2914 && sharpe < 5.2916, "Sharpe ratio should be about 5.2915")
}

func TestAggregate_BreakEvenIsLoss(t *testing.T) {
	result := Aggregate(dec(10000), dec(10000), decimal.Zero, []Trade{testTrade(100, 100, 5)}, nil)

	testutils.AssertEqual(t, 0, result.WinningTrades, "Break-even should not be a win")
	testutils.AssertEqual(t, 1, result.LosingTrades, "Break-even should count as a loss")
	testutils.AssertTrue(t, result.ProfitFactor.IsZero(), "Profit factor should be 0 when avg loss is 0")
	testutils.AssertTrue(t, result.SharpeRatio.IsZero(), "Sharpe should be 0 with zero deviation")
}

func TestAggregate_IdenticalReturnsHaveNoSharpe(t *testing.T) {
	trades := []Trade{testTrade(100, 110, 1), testTrade(200, 220, 1)}
	result := Aggregate(dec(10000), dec(10030), decimal.Zero, trades, nil)

	testutils.AssertTrue(t, result.SharpeRatio.IsZero(), "Sharpe should be 0 when every return is equal")
	testutils.AssertDecimal(t, dec(10), result.AvgTradeReturn, "Avg trade return should be 10%")
	testutils.AssertDecimal(t, dec(100), result.WinRate, "Win rate should be 100")
}
