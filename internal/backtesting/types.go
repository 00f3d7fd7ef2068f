package backtesting

import (
	"time"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/strategy"
	"github.com/shopspring/decimal"
)

// Position represents the open position during backtesting
type Position struct {
	Side       market.Side     `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`
	Quantity   decimal.Decimal `json:"quantity"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
}

// Levels returns the protective prices of the position
func (p *Position) Levels() strategy.Levels {
	return strategy.Levels{Side: p.Side, StopLoss: p.StopLoss, TakeProfit: p.TakeProfit}
}

// Cost is the capital locked when the position was opened
func (p *Position) Cost() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// PnL returns the profit or loss of closing the position at price
func (p *Position) PnL(price decimal.Decimal) decimal.Decimal {
	if p.Side == market.SideLong {
		return price.Sub(p.EntryPrice).Mul(p.Quantity)
	}
	return p.EntryPrice.Sub(price).Mul(p.Quantity)
}

// MarketValue is the position's contribution to equity at price: the locked
// capital plus the unrealized PnL.
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Cost().Add(p.PnL(price))
}

// Trade represents a completed position
type Trade struct {
	ID         string              `json:"id"`
	Side       market.Side         `json:"type"`
	EntryTime  time.Time           `json:"entry_time"`
	EntryPrice decimal.Decimal     `json:"entry_price"`
	ExitTime   time.Time           `json:"exit_time"`
	ExitPrice  decimal.Decimal     `json:"exit_price"`
	Quantity   decimal.Decimal     `json:"quantity"`
	PnL        decimal.Decimal     `json:"pnl"`
	PnLPercent decimal.Decimal     `json:"pnl_percent"`
	ExitReason strategy.ExitReason `json:"exit_reason"`
}

// Return is the PnL relative to the capital committed to the trade
func (t Trade) Return() decimal.Decimal {
	cost := t.EntryPrice.Mul(t.Quantity)
	if cost.IsZero() {
		return decimal.Zero
	}
	return t.PnL.Div(cost)
}

// IsWin reports whether the trade made money. Break-even trades are losses.
func (t Trade) IsWin() bool {
	return t.PnL.IsPositive()
}

// EquityPoint represents a point in the equity curve
type EquityPoint struct {
	Time   time.Time       `json:"timestamp"`
	Equity decimal.Decimal `json:"equity"`
}

// Metrics holds the per-trade PnL extremes and averages
type Metrics struct {
	AvgWin      decimal.Decimal `json:"avg_win"`
	AvgLoss     decimal.Decimal `json:"avg_loss"`
	LargestWin  decimal.Decimal `json:"largest_win"`
	LargestLoss decimal.Decimal `json:"largest_loss"`
}

// Result is the outcome of one backtest run
type Result struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital"`
	TotalTrades    int             `json:"total_trades"`
	WinningTrades  int             `json:"winning_trades"`
	LosingTrades   int             `json:"losing_trades"`
	WinRate        decimal.Decimal `json:"win_rate"`
	ProfitFactor   decimal.Decimal `json:"profit_factor"`
	SharpeRatio    decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	TotalReturn    decimal.Decimal `json:"total_return"`
	AvgTradeReturn decimal.Decimal `json:"avg_trade_return"`
	Trades         []Trade         `json:"trades_data"`
	EquityCurve    []EquityPoint   `json:"equity_curve"`
	Metrics        Metrics         `json:"metrics"`
	OpenPosition   *Position       `json:"open_position,omitempty"`
}

// Config holds configuration for backtesting
type Config struct {
	InitialCapital decimal.Decimal
	// WindowSize is the number of trailing bars, current bar included, the
	// rules are evaluated against.
	WindowSize    int
	VoteThreshold decimal.Decimal
	// CloseAtEnd realizes a position still open at the final bar as a trade
	// with reason end_of_data instead of only marking it to market.
	CloseAtEnd bool
}

// DefaultWindowSize is the trailing window used for rule evaluation
const DefaultWindowSize = 20

// DefaultConfig returns default backtesting configuration
func DefaultConfig() *Config {
	return &Config{
		InitialCapital: decimal.NewFromInt(10000),
		WindowSize:     DefaultWindowSize,
		VoteThreshold:  strategy.DefaultVoteThreshold,
	}
}
