// Package store persists strategies, historical bars and backtest runs.
package store

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/strategy"
)

// ErrNotFound is returned when a strategy or run does not exist
var ErrNotFound = errors.New("not found")

// StrategyStore persists strategy definitions
type StrategyStore interface {
	SaveStrategy(ctx context.Context, s *strategy.Strategy) error
	GetStrategy(ctx context.Context, id string) (*strategy.Strategy, error)
	ListStrategies(ctx context.Context) ([]*strategy.Strategy, error)
}

// BarSource reads historical bars in ascending timestamp order. Zero start or
// end bounds are open.
type BarSource interface {
	ReadBars(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error)
}

// BarWriter stores historical bars, replacing bars with the same timestamp
type BarWriter interface {
	WriteBars(ctx context.Context, symbol string, tf market.Timeframe, bars []market.Bar) error
}

// ResultStore persists backtest runs
type ResultStore interface {
	SaveResult(ctx context.Context, run *Run) error
	GetResult(ctx context.Context, id string) (*Run, error)
	// ListResults returns runs newest first; an empty strategyID lists all
	ListResults(ctx context.Context, strategyID string) ([]*Run, error)
}

// Run is one persisted backtest execution
type Run struct {
	ID         string              `json:"id"`
	StrategyID string              `json:"strategy_id"`
	Symbol     string              `json:"symbol"`
	Timeframe  market.Timeframe    `json:"timeframe"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	CreatedAt  time.Time           `json:"created_at"`
	Result     *backtesting.Result `json:"result"`
}

// NormalizeSymbol is the canonical form symbols are stored under
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// millisRange converts an open-ended time range into inclusive unix millis
func millisRange(start, end time.Time) (int64, int64) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !start.IsZero() {
		lo = start.UnixMilli()
	}
	if !end.IsZero() {
		hi = end.UnixMilli()
	}
	return lo, hi
}
