package backtesting

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/guyghost/quantbt/internal/logger"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/strategy"
	"github.com/guyghost/quantbt/internal/testutils"
	"github.com/shopspring/decimal"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func riskRules(stopLoss, takeProfit, maxPosition float64) strategy.RiskRules {
	return strategy.RiskRules{
		StopLossPercent:    dec(stopLoss),
		TakeProfitPercent:  dec(takeProfit),
		MaxPositionPercent: dec(maxPosition),
	}
}

func trendStrategy(risk strategy.RiskRules) *strategy.Strategy {
	return &strategy.Strategy{
		ID:         "trend",
		Symbol:     "TEST",
		Timeframe:  market.Timeframe1d,
		EntryRules: []strategy.Rule{strategy.NewPriceAboveMA(2)},
		Risk:       risk,
	}
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine(nil)

	testutils.AssertNotNil(t, engine, "Engine should not be nil")
	testutils.AssertDecimal(t, decimal.NewFromInt(10000), engine.Config().InitialCapital, "Default capital should be 10000")
	testutils.AssertEqual(t, DefaultWindowSize, engine.Config().WindowSize, "Default window size should be 20")
	testutils.AssertDecimal(t, strategy.DefaultVoteThreshold, engine.Config().VoteThreshold, "Default threshold should be 0.6")
	testutils.AssertFalse(t, engine.Config().CloseAtEnd, "Open positions should not be closed at the end by default")
}

func TestEngine_Run_WarnsOnLookbackBeyondWindow(t *testing.T) {
	run := func(period int) string {
		var buf bytes.Buffer
		engine := NewEngine(DefaultConfig())
		engine.SetLogger(logger.New(&logger.Config{Level: slog.LevelWarn, Format: "text", Output: &buf}))

		s := trendStrategy(riskRules(2, 3, 10))
		s.EntryRules = []strategy.Rule{strategy.NewPriceAboveMA(period)}
		_, err := engine.Run(s, testutils.ZigZagBars(60))
		testutils.AssertNoError(t, err, "Run should not return error")
		return buf.String()
	}

	output := run(50)
	testutils.AssertTrue(t, strings.Contains(output, "lookback=50"), "A 50 bar MA should warn against the 20 bar window")
	testutils.AssertTrue(t, strings.Contains(output, "window=20"), "Warning should name the window")

	testutils.AssertEqual(t, "", run(DefaultWindowSize), "A lookback that fits the window should not warn")
}

func TestEngine_Run_NoEntryRules(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	bars := testutils.ZigZagBars(40)

	s := &strategy.Strategy{ID: "idle", Risk: strategy.DefaultRiskRules()}

	result, err := engine.Run(s, bars)
	testutils.AssertNoError(t, err, "Run should not return error")

	testutils.AssertEqual(t, 0, result.TotalTrades, "No trades should be opened")
	testutils.AssertDecimal(t, engine.Config().InitialCapital, result.FinalCapital, "Final capital should equal initial capital")
	testutils.AssertTrue(t, result.MaxDrawdown.IsZero(), "Max drawdown should be zero")
	testutils.AssertEqual(t, len(bars)-1, len(result.EquityCurve), "One equity point per bar after the first")
	testutils.AssertTrue(t, result.OpenPosition == nil, "No position should be open")
}

// Scenario: a single price-above-MA rule on strictly rising closes opens a
// long on the second bar and holds it to the end.
func TestEngine_Run_RisingClosesHoldsLong(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	bars := testutils.BarsFromCloses(10, 11, 12, 13, 14)

	result, err := engine.Run(trendStrategy(riskRules(2, 50, 10)), bars)
	testutils.AssertNoError(t, err, "Run should not return error")

	testutils.AssertEqual(t, 0, result.TotalTrades, "Open position should not count as a trade")
	testutils.AssertEqual(t, 0, len(result.Trades), "Trades should be empty")
	testutils.AssertEqual(t, 4, len(result.EquityCurve), "Equity curve should have len(bars)-1 points")

	pos := result.OpenPosition
	testutils.AssertTrue(t, pos != nil, "Position should still be open")
	testutils.AssertEqual(t, market.SideLong, pos.Side, "Position should be long")
	testutils.AssertDecimal(t, dec(11), pos.EntryPrice, "Entry should be the second close")
	testutils.AssertTrue(t, pos.EntryTime.Equal(bars[1].Timestamp), "Entry time should be the second bar")
	testutils.AssertDecimal(t, dec(90), pos.Quantity, "Quantity should be floor(1000 / 11)")

	// 9010 cash + 90 * 14
	testutils.AssertDecimal(t, dec(10270), result.FinalCapital, "Unrealized gain should be in final capital")
	testutils.AssertDecimal(t, dec(2.7), result.TotalReturn, "Total return should be 2.7%")
	testutils.AssertDecimal(t, dec(10000), result.EquityCurve[0].Equity, "Equity at entry bar should be unchanged")
	testutils.AssertDecimal(t, dec(10090), result.EquityCurve[1].Equity, "Equity should be marked to market")
}

func TestEngine_Run_CloseAtEnd(t *testing.T) {
	config := DefaultConfig()
	config.CloseAtEnd = true
	engine := NewEngine(config)

	result, err := engine.Run(trendStrategy(riskRules(2, 50, 10)), testutils.BarsFromCloses(10, 11, 12, 13, 14))
	testutils.AssertNoError(t, err, "Run should not return error")

	testutils.AssertEqual(t, 1, result.TotalTrades, "Final position should be realized")
	testutils.AssertEqual(t, strategy.ExitEndOfData, result.Trades[0].ExitReason, "Exit reason should be end_of_data")
	testutils.AssertDecimal(t, dec(270), result.Trades[0].PnL, "PnL should be (14 - 11) * 90")
	testutils.AssertDecimal(t, dec(10270), result.FinalCapital, "Final capital should match the marked value")
	testutils.AssertTrue(t, result.OpenPosition == nil, "No position should remain open")
}

// Scenario: RSI-oversold entry with empty exit rules is closed by take profit.
func TestEngine_Run_OversoldEntryTakeProfit(t *testing.T) {
	closes := make([]float64, 0, 16)
	for i := 0; i < 15; i++ {
		closes = append(closes, 100-0.5*float64(i))
	}
	closes = append(closes, 98.58) // 93 * 1.06

	s := &strategy.Strategy{
		ID:         "oversold",
		EntryRules: []strategy.Rule{strategy.NewRSIOversold(0, decimal.Zero)},
		Risk:       strategy.DefaultRiskRules(),
	}

	result, err := NewEngine(DefaultConfig()).Run(s, testutils.BarsFromCloses(closes...))
	testutils.AssertNoError(t, err, "Run should not return error")

	testutils.AssertEqual(t, 1, result.TotalTrades, "Exactly one trade should close")
	trade := result.Trades[0]
	testutils.AssertEqual(t, strategy.ExitTakeProfit, trade.ExitReason, "Trade should close via take profit")
	testutils.AssertEqual(t, market.SideLong, trade.Side, "Trade should be long")
	testutils.AssertDecimal(t, dec(93), trade.EntryPrice, "Entry at the first bar with a full RSI window")
	testutils.AssertDecimal(t, dec(10), trade.Quantity, "Quantity should be floor(1000 / 93)")
	testutils.AssertDecimal(t, dec(55.8), trade.PnL, "PnL should be 5.58 * 10")
	testutils.AssertDecimal(t, dec(6), trade.PnLPercent, "PnL percent should be 6")
	testutils.AssertDecimal(t, dec(10055.8), result.FinalCapital, "Final capital should include the realized gain")
	testutils.AssertEqual(t, 1, result.WinningTrades, "Trade should be a win")
	testutils.AssertTrue(t, trade.ID != "", "Trade should have an ID")
}

func TestCalculatePositionSize(t *testing.T) {
	size := CalculatePositionSize(decimal.NewFromInt(10000), riskRules(2, 5, 10))
	testutils.AssertDecimal(t, decimal.NewFromInt(1000), size, "Position size should be 10% of capital")
}

func TestEngine_Run_ZeroMaxPosition(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	result, err := engine.Run(trendStrategy(riskRules(2, 5, 0)), testutils.BarsFromCloses(10, 11, 12, 13, 14))
	testutils.AssertNoError(t, err, "Run should not return error")

	testutils.AssertEqual(t, 0, result.TotalTrades, "No trades should open")
	testutils.AssertTrue(t, result.OpenPosition == nil, "No position should open")
	testutils.AssertDecimal(t, engine.Config().InitialCapital, result.FinalCapital, "Final capital should equal initial capital")
}

func TestEngine_Run_InsufficientCapitalSkips(t *testing.T) {
	config := DefaultConfig()
	config.InitialCapital = decimal.NewFromInt(50)
	engine := NewEngine(config)

	// 100% allocation of 50 cannot buy a single unit at 60
	result, err := engine.Run(trendStrategy(riskRules(2, 5, 100)), testutils.BarsFromCloses(55, 60, 65))
	testutils.AssertNoError(t, err, "Insufficient capital should not be an error")
	testutils.AssertEqual(t, 0, result.TotalTrades, "No trades should open")
	testutils.AssertTrue(t, result.OpenPosition == nil, "No position should open")
}

func TestEngine_Run_ShortTakeProfit(t *testing.T) {
	result, err := NewEngine(DefaultConfig()).Run(trendStrategy(riskRules(2, 5, 10)), testutils.BarsFromCloses(10, 9, 8))
	testutils.AssertNoError(t, err, "Run should not return error")

	testutils.AssertEqual(t, 1, result.TotalTrades, "Short should be closed")
	trade := result.Trades[0]
	testutils.AssertEqual(t, market.SideShort, trade.Side, "Trade should be short")
	testutils.AssertEqual(t, strategy.ExitTakeProfit, trade.ExitReason, "8 is below the 8.55 target")
	testutils.AssertDecimal(t, dec(111), trade.PnL, "PnL should be (9 - 8) * 111")

	// Short equity counts locked collateral plus unrealized PnL
	testutils.AssertDecimal(t, dec(10000), result.EquityCurve[0].Equity, "Equity at short entry should be unchanged")
	testutils.AssertDecimal(t, dec(10111), result.FinalCapital, "Final capital should include the short gain")
}

func TestEngine_Run_ExitRulesNoSameBarReentry(t *testing.T) {
	s := trendStrategy(riskRules(2, 5, 10))
	s.ExitRules = []strategy.Rule{strategy.NewPriceAboveMA(2)}

	bars := testutils.BarsFromCloses(10, 11, 12, 11.5, 12, 13)
	result, err := NewEngine(DefaultConfig()).Run(s, bars)
	testutils.AssertNoError(t, err, "Run should not return error")

	testutils.AssertEqual(t, 1, result.TotalTrades, "One trade should be closed by the exit rule")
	trade := result.Trades[0]
	testutils.AssertEqual(t, strategy.ExitSignal, trade.ExitReason, "Exit should come from the rule")
	testutils.AssertDecimal(t, dec(45), trade.PnL, "PnL should be 0.5 * 90")
	testutils.AssertTrue(t, trade.ExitTime.Equal(bars[3].Timestamp), "Exit should happen on the bearish bar")

	// The bearish exit bar would have entered short if re-entry were attempted
	pos := result.OpenPosition
	testutils.AssertTrue(t, pos != nil, "A new position should open after the exit bar")
	testutils.AssertEqual(t, market.SideLong, pos.Side, "Re-entry should be long")
	testutils.AssertTrue(t, pos.EntryTime.Equal(bars[4].Timestamp), "Re-entry should happen on the next bar")
	testutils.AssertDecimal(t, dec(83), pos.Quantity, "Quantity should be floor(1004.5 / 12)")
	testutils.AssertDecimal(t, dec(10128), result.FinalCapital, "Final capital should be 9049 + 83 * 13")
}

func TestEngine_Run_MaxDrawdown(t *testing.T) {
	result, err := NewEngine(DefaultConfig()).Run(trendStrategy(riskRules(2, 50, 10)), testutils.BarsFromCloses(10, 11, 10.9))
	testutils.AssertNoError(t, err, "Run should not return error")

	// peak 10000, trough 9010 + 90 * 10.9 = 9991
	testutils.AssertDecimal(t, dec(0.09), result.MaxDrawdown, "Max drawdown should be 0.09%")
}

func TestEngine_Run_Properties(t *testing.T) {
	bars := testutils.ZigZagBars(120)
	strategies := []*strategy.Strategy{
		trendStrategy(riskRules(2, 5, 10)),
		trendStrategy(riskRules(1, 2, 95)),
		{
			ID: "mixed",
			EntryRules: []strategy.Rule{
				strategy.NewPriceAboveMA(5),
				strategy.NewRSIOversold(5, dec(40)),
				strategy.NewVolumeSurge(dec(1.2)),
			},
			ExitRules: []strategy.Rule{strategy.NewRSIOverbought(5, dec(60))},
			Risk:      riskRules(3, 6, 50),
		},
	}

	for _, s := range strategies {
		engine := NewEngine(DefaultConfig())

		first, err := engine.Run(s, bars)
		testutils.AssertNoError(t, err, "Run should not return error")
		second, err := NewEngine(DefaultConfig()).Run(s, bars)
		testutils.AssertNoError(t, err, "Run should not return error")

		a, _ := json.Marshal(first)
		b, _ := json.Marshal(second)
		testutils.AssertEqual(t, string(a), string(b), "Repeated runs should serialize identically")

		testutils.AssertEqual(t, len(bars)-1, len(first.EquityCurve), "Equity curve length")
		testutils.AssertEqual(t, first.TotalTrades, first.WinningTrades+first.LosingTrades, "Wins and losses should add up")
		testutils.AssertEqual(t, first.TotalTrades, len(first.Trades), "Trade count should match trades")
	}
}

func TestEngine_Step_NeverOverspends(t *testing.T) {
	bars := testutils.ZigZagBars(80)
	s := trendStrategy(riskRules(1, 2, 100))
	engine := NewEngine(DefaultConfig())

	st := NewState(engine.Config().InitialCapital)
	opened := 0
	for i := 1; i < len(bars); i++ {
		start := max(0, i-DefaultWindowSize+1)
		tr := engine.Step(s, st, strategy.NewWindow(bars[start:i+1]))
		if tr.Opened != nil {
			opened++
			testutils.AssertTrue(t, tr.Opened.Cost().LessThanOrEqual(st.Cash), "Position cost should not exceed cash")
			testutils.AssertTrue(t, tr.Opened.Quantity.GreaterThanOrEqual(decimal.NewFromInt(1)), "Quantity should be at least 1")
		}
		st = tr.State
	}
	testutils.AssertTrue(t, opened > 0, "Some positions should open")
}

func TestEngine_Step_DoesNotMutateInput(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	s := trendStrategy(riskRules(2, 50, 10))
	bars := testutils.BarsFromCloses(10, 11, 12)

	st := NewState(decimal.NewFromInt(10000))
	tr := engine.Step(s, st, strategy.NewWindow(bars[:2]))
	testutils.AssertTrue(t, tr.Opened != nil, "Step should open a long")
	testutils.AssertTrue(t, st.Position == nil, "Input state should stay flat")
	testutils.AssertDecimal(t, decimal.NewFromInt(10000), st.Cash, "Input cash should be unchanged")

	held := tr.State
	entry := held.Position.EntryPrice
	next := engine.Step(s, held, strategy.NewWindow(bars[1:3]))
	testutils.AssertTrue(t, next.Closed == nil, "12 is within the 2% / 50% band of 11")
	testutils.AssertTrue(t, held.Position != nil, "Input position should remain")
	testutils.AssertDecimal(t, entry, held.Position.EntryPrice, "Input position should be unchanged")
}

func TestEngine_Run_InputErrors(t *testing.T) {
	valid := trendStrategy(riskRules(2, 5, 10))
	bars := testutils.BarsFromCloses(10, 11, 12)

	unordered := testutils.BarsFromCloses(10, 11, 12)
	unordered[2].Timestamp = unordered[1].Timestamp

	badCapital := DefaultConfig()
	badCapital.InitialCapital = decimal.Zero

	badStrategy := trendStrategy(riskRules(2, 5, 10))
	badStrategy.EntryRules = []strategy.Rule{strategy.PriceAboveMA{Period: 0}}

	tests := []struct {
		name     string
		config   *Config
		strategy *strategy.Strategy
		bars     []market.Bar
		target   error
	}{
		{"nil strategy", DefaultConfig(), nil, bars, ErrNilStrategy},
		{"invalid strategy", DefaultConfig(), badStrategy, bars, strategy.ErrInvalidStrategy},
		{"no bars", DefaultConfig(), valid, nil, ErrNoBars},
		{"single bar", DefaultConfig(), valid, bars[:1], ErrInsufficientBars},
		{"unordered bars", DefaultConfig(), valid, unordered, ErrUnorderedBars},
		{"zero capital", badCapital, valid, bars, ErrInvalidCapital},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewEngine(tt.config).Run(tt.strategy, tt.bars)
			testutils.AssertError(t, err, "Run should reject the input")
			testutils.AssertTrue(t, result == nil, "No partial result should be returned")
			testutils.AssertTrue(t, errors.Is(err, tt.target), "Error should wrap "+tt.target.Error())
			testutils.AssertTrue(t, IsInputError(err), "Error should be an InputError")
		})
	}
}

func TestEngine_Callbacks(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	bars := testutils.ZigZagBars(60)

	var trades, points int
	engine.SetOnTrade(func(trade *Trade) {
		trades++
		testutils.AssertTrue(t, trade.ID != "", "Trade passed to callback should have an ID")
	})
	engine.SetOnEquityUpdate(func(EquityPoint) {
		points++
	})

	result, err := engine.Run(trendStrategy(riskRules(2, 5, 10)), bars)
	testutils.AssertNoError(t, err, "Run should not return error")

	testutils.AssertEqual(t, result.TotalTrades, trades, "Trade callback should fire once per trade")
	testutils.AssertEqual(t, len(bars)-1, points, "Equity callback should fire once per bar after the first")
}
