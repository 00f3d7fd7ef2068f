package strategy

import (
	"fmt"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/shopspring/decimal"
)

// DefaultVoteThreshold is the share of entry rules that must agree on a
// direction before a position is opened.
var DefaultVoteThreshold = decimal.NewFromFloat(0.6)

// Window is the trailing slice of bars a rule is evaluated against. The last
// bar is the current one.
type Window struct {
	Bars []market.Bar
}

// NewWindow wraps bars as an evaluation window
func NewWindow(bars []market.Bar) Window {
	return Window{Bars: bars}
}

// Current returns the bar being evaluated
func (w Window) Current() market.Bar {
	if len(w.Bars) == 0 {
		return market.Bar{}
	}
	return w.Bars[len(w.Bars)-1]
}

// Previous returns the bar before the current one, or the zero bar
func (w Window) Previous() market.Bar {
	if len(w.Bars) < 2 {
		return market.Bar{}
	}
	return w.Bars[len(w.Bars)-2]
}

// Evaluate maps a rule and a window to a directional signal
func Evaluate(r Rule, w Window) Signal {
	if len(w.Bars) == 0 {
		return SignalNone
	}
	current := w.Current()

	switch r := r.(type) {
	case PriceAboveMA:
		sma := SMA(market.Closes(w.Bars), r.Period)
		if current.Close.GreaterThan(sma) {
			return SignalBullish
		}
		return SignalBearish

	case RSIOversold:
		if RSI(market.Closes(w.Bars), r.Period).LessThan(r.Threshold) {
			return SignalBullish
		}
		return SignalNone

	case RSIOverbought:
		if RSI(market.Closes(w.Bars), r.Period).GreaterThan(r.Threshold) {
			return SignalBearish
		}
		return SignalNone

	case VolumeSurge:
		avg := AverageVolume(market.Volumes(w.Bars), r.Lookback)
		if current.Volume.GreaterThan(avg.Mul(r.Multiplier)) {
			return SignalBullish
		}
		return SignalNone

	default:
		panic(fmt.Sprintf("strategy: unhandled rule %T", r))
	}
}

// Votes tallies the directional signals of a rule set
type Votes struct {
	Bullish int
	Bearish int
	Total   int
}

// Tally evaluates every rule against the window
func Tally(rules []Rule, w Window) Votes {
	v := Votes{Total: len(rules)}
	for _, r := range rules {
		switch Evaluate(r, w) {
		case SignalBullish:
			v.Bullish++
		case SignalBearish:
			v.Bearish++
		}
	}
	return v
}

// EntryDecision returns the side to open, if any. A direction wins when its
// vote count reaches threshold * len(rules); bullish is checked first.
func EntryDecision(rules []Rule, w Window, threshold decimal.Decimal) (market.Side, bool) {
	if len(rules) == 0 {
		return "", false
	}

	votes := Tally(rules, w)
	needed := threshold.Mul(decimal.NewFromInt(int64(votes.Total)))

	if decimal.NewFromInt(int64(votes.Bullish)).GreaterThanOrEqual(needed) {
		return market.SideLong, true
	}
	if decimal.NewFromInt(int64(votes.Bearish)).GreaterThanOrEqual(needed) {
		return market.SideShort, true
	}
	return "", false
}

// ExitReason says why a position was closed
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitSignal     ExitReason = "signal"
	ExitEndOfData  ExitReason = "end_of_data"
)

// Levels are the protective prices fixed when a position is opened
type Levels struct {
	Side       market.Side
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// RuleExit turns a rule reading into an exit signal for an open side. A
// rule calls for an exit when its direction opposes the position.
func RuleExit(r Rule, w Window, side market.Side) Signal {
	switch Evaluate(r, w) {
	case SignalBearish:
		if side == market.SideLong {
			return SignalExit
		}
	case SignalBullish:
		if side == market.SideShort {
			return SignalExit
		}
	}
	return SignalNone
}

// ExitDecision reports whether the open position must be closed on the
// current bar. With no exit rules the stop-loss and take-profit levels are
// checked against the close; otherwise any rule signalling exit closes it.
func ExitDecision(rules []Rule, w Window, lv Levels) (ExitReason, bool) {
	if len(rules) == 0 {
		return levelExit(w.Current().Close, lv)
	}

	for _, r := range rules {
		if RuleExit(r, w, lv.Side) == SignalExit {
			return ExitSignal, true
		}
	}
	return "", false
}

func levelExit(price decimal.Decimal, lv Levels) (ExitReason, bool) {
	if lv.Side == market.SideLong {
		if price.LessThanOrEqual(lv.StopLoss) {
			return ExitStopLoss, true
		}
		if price.GreaterThanOrEqual(lv.TakeProfit) {
			return ExitTakeProfit, true
		}
		return "", false
	}

	if price.GreaterThanOrEqual(lv.StopLoss) {
		return ExitStopLoss, true
	}
	if price.LessThanOrEqual(lv.TakeProfit) {
		return ExitTakeProfit, true
	}
	return "", false
}
