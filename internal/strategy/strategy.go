package strategy

import (
	"errors"
	"fmt"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/pkg/utils"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidStrategy is wrapped by every validation failure
var ErrInvalidStrategy = errors.New("invalid strategy")

// RiskRules are the per-trade limits of a strategy, all expressed in percent
type RiskRules struct {
	StopLossPercent    decimal.Decimal
	TakeProfitPercent  decimal.Decimal
	MaxPositionPercent decimal.Decimal
}

// DefaultRiskRules returns the limits applied when a definition omits them
func DefaultRiskRules() RiskRules {
	return RiskRules{
		StopLossPercent:    decimal.NewFromInt(2),
		TakeProfitPercent:  decimal.NewFromInt(5),
		MaxPositionPercent: decimal.NewFromInt(10),
	}
}

// PositionSize returns the capital allocated to a new position
func (r RiskRules) PositionSize(capital decimal.Decimal) decimal.Decimal {
	return utils.Percent(capital, r.MaxPositionPercent)
}

// Levels derives stop-loss and take-profit prices for an entry
func (r RiskRules) Levels(side market.Side, entry decimal.Decimal) Levels {
	sl := r.StopLossPercent.Div(hundred)
	tp := r.TakeProfitPercent.Div(hundred)
	one := decimal.NewFromInt(1)

	if side == market.SideLong {
		return Levels{
			Side:       side,
			StopLoss:   entry.Mul(one.Sub(sl)),
			TakeProfit: entry.Mul(one.Add(tp)),
		}
	}
	return Levels{
		Side:       side,
		StopLoss:   entry.Mul(one.Add(sl)),
		TakeProfit: entry.Mul(one.Sub(tp)),
	}
}

// Validate checks that the limits are usable
func (r RiskRules) Validate() error {
	if r.StopLossPercent.IsNegative() {
		return fmt.Errorf("%w: stop_loss_percent must not be negative", ErrInvalidStrategy)
	}
	if r.TakeProfitPercent.IsNegative() {
		return fmt.Errorf("%w: take_profit_percent must not be negative", ErrInvalidStrategy)
	}
	if r.MaxPositionPercent.IsNegative() || r.MaxPositionPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: max_position_percent must be within [0, 100]", ErrInvalidStrategy)
	}
	return nil
}

// Strategy is an immutable trading strategy definition
type Strategy struct {
	ID         string
	Name       string
	Symbol     string
	Timeframe  market.Timeframe
	EntryRules []Rule
	ExitRules  []Rule
	Risk       RiskRules
}

// Validate checks the strategy before it is simulated or stored
func (s *Strategy) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil strategy", ErrInvalidStrategy)
	}
	if s.Timeframe != "" {
		if err := s.Timeframe.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
		}
	}
	for i, r := range s.EntryRules {
		if err := validateRule(r); err != nil {
			return fmt.Errorf("%w: entry rule %d: %v", ErrInvalidStrategy, i, err)
		}
	}
	for i, r := range s.ExitRules {
		if err := validateRule(r); err != nil {
			return fmt.Errorf("%w: exit rule %d: %v", ErrInvalidStrategy, i, err)
		}
	}
	return s.Risk.Validate()
}

// MaxLookback returns the longest history any rule of the strategy reads
func (s *Strategy) MaxLookback() int {
	longest := 0
	for _, rules := range [][]Rule{s.EntryRules, s.ExitRules} {
		for _, r := range rules {
			n := 0
			switch r := r.(type) {
			case PriceAboveMA:
				n = r.Period
			case RSIOversold:
				n = r.Period + 1
			case RSIOverbought:
				n = r.Period + 1
			case VolumeSurge:
				n = r.Lookback
			}
			if n > longest {
				longest = n
			}
		}
	}
	return longest
}
