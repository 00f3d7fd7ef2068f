package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Signal is the reading a rule produces for one bar
type Signal string

const (
	SignalNone    Signal = "none"
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalExit    Signal = "exit"
)

// RuleKind is the wire tag of a rule
type RuleKind string

const (
	KindPriceAboveMA  RuleKind = "price_above_ma"
	KindRSIOversold   RuleKind = "rsi_oversold"
	KindRSIOverbought RuleKind = "rsi_overbought"
	KindVolumeSurge   RuleKind = "volume_surge"
)

// Rule defaults
const (
	DefaultMAPeriod       = 20
	DefaultRSIPeriod      = 14
	DefaultVolumeLookback = 20
)

var (
	DefaultOversold        = decimal.NewFromInt(30)
	DefaultOverbought      = decimal.NewFromInt(70)
	DefaultSurgeMultiplier = decimal.NewFromFloat(1.5)
)

// Rule is one of PriceAboveMA, RSIOversold, RSIOverbought or VolumeSurge.
// The set is closed: only this package can add variants.
type Rule interface {
	Kind() RuleKind
	rule()
}

// PriceAboveMA is bullish when the close is above its simple moving average
// and bearish otherwise.
type PriceAboveMA struct {
	Period int
}

// RSIOversold is bullish when RSI drops below Threshold.
type RSIOversold struct {
	Period    int
	Threshold decimal.Decimal
}

// RSIOverbought is bearish when RSI rises above Threshold.
type RSIOverbought struct {
	Period    int
	Threshold decimal.Decimal
}

// VolumeSurge is bullish when the current volume exceeds the average volume
// of the last Lookback bars times Multiplier.
type VolumeSurge struct {
	Multiplier decimal.Decimal
	Lookback   int
}

func (PriceAboveMA) Kind() RuleKind  { return KindPriceAboveMA }
func (RSIOversold) Kind() RuleKind   { return KindRSIOversold }
func (RSIOverbought) Kind() RuleKind { return KindRSIOverbought }
func (VolumeSurge) Kind() RuleKind   { return KindVolumeSurge }

func (PriceAboveMA) rule()  {}
func (RSIOversold) rule()   {}
func (RSIOverbought) rule() {}
func (VolumeSurge) rule()   {}

// NewPriceAboveMA builds a PriceAboveMA rule, applying the default period when zero
func NewPriceAboveMA(period int) PriceAboveMA {
	if period == 0 {
		period = DefaultMAPeriod
	}
	return PriceAboveMA{Period: period}
}

// NewRSIOversold builds an RSIOversold rule with defaults for zero values
func NewRSIOversold(period int, threshold decimal.Decimal) RSIOversold {
	if period == 0 {
		period = DefaultRSIPeriod
	}
	if threshold.IsZero() {
		threshold = DefaultOversold
	}
	return RSIOversold{Period: period, Threshold: threshold}
}

// NewRSIOverbought builds an RSIOverbought rule with defaults for zero values
func NewRSIOverbought(period int, threshold decimal.Decimal) RSIOverbought {
	if period == 0 {
		period = DefaultRSIPeriod
	}
	if threshold.IsZero() {
		threshold = DefaultOverbought
	}
	return RSIOverbought{Period: period, Threshold: threshold}
}

// NewVolumeSurge builds a VolumeSurge rule with defaults for zero values
func NewVolumeSurge(multiplier decimal.Decimal) VolumeSurge {
	if multiplier.IsZero() {
		multiplier = DefaultSurgeMultiplier
	}
	return VolumeSurge{Multiplier: multiplier, Lookback: DefaultVolumeLookback}
}

// validateRule checks the parameters of a single rule
func validateRule(r Rule) error {
	switch r := r.(type) {
	case PriceAboveMA:
		if r.Period <= 0 {
			return fmt.Errorf("%s: period must be positive, got %d", r.Kind(), r.Period)
		}
	case RSIOversold:
		if r.Period <= 0 {
			return fmt.Errorf("%s: period must be positive, got %d", r.Kind(), r.Period)
		}
		return validateRSIThreshold(r.Kind(), r.Threshold)
	case RSIOverbought:
		if r.Period <= 0 {
			return fmt.Errorf("%s: period must be positive, got %d", r.Kind(), r.Period)
		}
		return validateRSIThreshold(r.Kind(), r.Threshold)
	case VolumeSurge:
		if r.Multiplier.IsNegative() {
			return fmt.Errorf("%s: multiplier must not be negative", r.Kind())
		}
		if r.Lookback <= 0 {
			return fmt.Errorf("%s: lookback must be positive, got %d", r.Kind(), r.Lookback)
		}
	case nil:
		return fmt.Errorf("nil rule")
	default:
		return fmt.Errorf("unsupported rule %T", r)
	}
	return nil
}

func validateRSIThreshold(kind RuleKind, threshold decimal.Decimal) error {
	if threshold.IsNegative() || threshold.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s: threshold must be within [0, 100], got %s", kind, threshold)
	}
	return nil
}
