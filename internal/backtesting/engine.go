package backtesting

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/guyghost/quantbt/internal/logger"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/strategy"
	"github.com/guyghost/quantbt/pkg/utils"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Engine is the backtesting engine. It holds no per-run state, but its
// callbacks are not synchronized, so an Engine should serve one run at a time.
type Engine struct {
	config *Config
	log    *logger.Logger

	// Callbacks
	onTrade        func(*Trade)
	onEquityUpdate func(EquityPoint)
}

// NewEngine creates a new backtesting engine
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config: config,
		log:    logger.Component("backtesting"),
	}
}

// Config returns the engine configuration
func (e *Engine) Config() *Config {
	return e.config
}

// SetLogger replaces the engine logger
func (e *Engine) SetLogger(l *logger.Logger) {
	if l != nil {
		e.log = l
	}
}

// SetOnTrade sets the callback for closed trades
func (e *Engine) SetOnTrade(callback func(*Trade)) {
	e.onTrade = callback
}

// SetOnEquityUpdate sets the callback for equity updates
func (e *Engine) SetOnEquityUpdate(callback func(EquityPoint)) {
	e.onEquityUpdate = callback
}

// State is the position tracker threaded through the execution loop
type State struct {
	Cash        decimal.Decimal
	Position    *Position
	PeakEquity  decimal.Decimal
	MaxDrawdown decimal.Decimal
}

// NewState returns the flat state a run starts from
func NewState(initialCapital decimal.Decimal) State {
	return State{
		Cash:       initialCapital,
		PeakEquity: initialCapital,
	}
}

// InPosition reports whether a position is open
func (s State) InPosition() bool {
	return s.Position != nil
}

// Equity returns cash plus the value of the open position at price
func (s State) Equity(price decimal.Decimal) decimal.Decimal {
	if s.Position == nil {
		return s.Cash
	}
	return s.Cash.Add(s.Position.MarketValue(price))
}

// Transition is the outcome of processing one bar
type Transition struct {
	State  State
	Closed *Trade
	Opened *Position
	Equity EquityPoint
}

// Step processes the current bar of the window and returns the next state.
// It does not modify st or the position it points to.
func (e *Engine) Step(s *strategy.Strategy, st State, w strategy.Window) Transition {
	bar := w.Current()
	next := st
	var tr Transition

	if st.Position != nil {
		if reason, ok := strategy.ExitDecision(s.ExitRules, w, st.Position.Levels()); ok {
			trade := closePosition(st.Position, bar, reason)
			next.Cash = next.Cash.Add(st.Position.Cost()).Add(trade.PnL)
			next.Position = nil
			tr.Closed = &trade
		}
	} else if side, ok := strategy.EntryDecision(s.EntryRules, w, e.voteThreshold()); ok {
		if pos := openPosition(s.Risk, side, bar, next.Cash); pos != nil {
			next.Cash = next.Cash.Sub(pos.Cost())
			next.Position = pos
			tr.Opened = pos
		}
	}

	equity := next.Equity(bar.Close)
	next.PeakEquity = utils.MaxDecimal(next.PeakEquity, equity)
	if next.PeakEquity.IsPositive() {
		drawdown := next.PeakEquity.Sub(equity).Div(next.PeakEquity).Mul(hundred)
		next.MaxDrawdown = utils.MaxDecimal(next.MaxDrawdown, drawdown)
	}

	tr.State = next
	tr.Equity = EquityPoint{Time: bar.Timestamp, Equity: equity}
	return tr
}

// Run executes the backtest over bars. Bar 0 only seeds history; every
// later bar produces one equity point.
func (e *Engine) Run(s *strategy.Strategy, bars []market.Bar) (*Result, error) {
	if err := e.validate(s, bars); err != nil {
		return nil, err
	}

	log := e.log.Strategy(s.ID)
	log.Debug("Starting backtest", "bars", len(bars), "entry_rules", len(s.EntryRules), "exit_rules", len(s.ExitRules))

	size := e.windowSize()
	if lookback := s.MaxLookback(); lookback > size {
		log.Warn("Rule lookback exceeds evaluation window", "lookback", lookback, "window", size)
	}
	st := NewState(e.config.InitialCapital)
	trades := make([]Trade, 0)
	curve := make([]EquityPoint, 0, len(bars)-1)

	for i := 1; i < len(bars); i++ {
		start := max(0, i-size+1)
		tr := e.Step(s, st, strategy.NewWindow(bars[start:i+1]))

		if tr.Closed != nil {
			trades = e.recordTrade(log, s, trades, *tr.Closed)
		}

		curve = append(curve, tr.Equity)
		if e.onEquityUpdate != nil {
			e.onEquityUpdate(tr.Equity)
		}
		st = tr.State
	}

	last := bars[len(bars)-1]
	if st.Position != nil && e.config.CloseAtEnd {
		trade := closePosition(st.Position, last, strategy.ExitEndOfData)
		st.Cash = st.Cash.Add(st.Position.Cost()).Add(trade.PnL)
		st.Position = nil
		trades = e.recordTrade(log, s, trades, trade)
	}

	result := Aggregate(e.config.InitialCapital, st.Equity(last.Close), st.MaxDrawdown, trades, curve)
	result.OpenPosition = st.Position

	log.Debug("Backtest finished",
		"trades", result.TotalTrades,
		"final_capital", result.FinalCapital.String(),
		"open_position", st.Position != nil)

	return result, nil
}

// CalculatePositionSize returns the capital allocated to a new position
func CalculatePositionSize(capital decimal.Decimal, risk strategy.RiskRules) decimal.Decimal {
	return risk.PositionSize(capital)
}

// openPosition sizes a position at the bar close. It returns nil when less
// than one unit fits in the allocation or the cost exceeds the cash.
func openPosition(risk strategy.RiskRules, side market.Side, bar market.Bar, cash decimal.Decimal) *Position {
	size := CalculatePositionSize(cash, risk)
	qty := utils.FloorDiv(size, bar.Close)
	if qty.LessThan(one) {
		return nil
	}
	if qty.Mul(bar.Close).GreaterThan(cash) {
		return nil
	}

	levels := risk.Levels(side, bar.Close)
	return &Position{
		Side:       side,
		EntryPrice: bar.Close,
		EntryTime:  bar.Timestamp,
		Quantity:   qty,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
	}
}

// closePosition realizes the position at the bar close
func closePosition(pos *Position, bar market.Bar, reason strategy.ExitReason) Trade {
	pnl := pos.PnL(bar.Close)
	return Trade{
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		EntryPrice: pos.EntryPrice,
		ExitTime:   bar.Timestamp,
		ExitPrice:  bar.Close,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPercent: utils.SafeDiv(pnl, pos.Cost()).Mul(hundred),
		ExitReason: reason,
	}
}

// tradeNamespace seeds the name-based trade IDs. Deriving IDs from the
// strategy and trade sequence keeps repeated runs identical.
var tradeNamespace = uuid.MustParse("6f2c1d3e-8a4b-4c7e-9f10-2b3a4c5d6e7f")

func (e *Engine) recordTrade(log *logger.Logger, s *strategy.Strategy, trades []Trade, trade Trade) []Trade {
	key := fmt.Sprintf("%s/%d/%d", s.ID, len(trades), trade.EntryTime.UnixNano())
	trade.ID = uuid.NewSHA1(tradeNamespace, []byte(key)).String()
	trades = append(trades, trade)

	log.Trade(map[string]any{
		"trade_id":    trade.ID,
		"side":        string(trade.Side),
		"entry_price": trade.EntryPrice.String(),
		"exit_price":  trade.ExitPrice.String(),
		"quantity":    trade.Quantity.String(),
		"pnl":         trade.PnL.String(),
		"exit_reason": string(trade.ExitReason),
	})

	if e.onTrade != nil {
		e.onTrade(&trades[len(trades)-1])
	}
	return trades
}

func (e *Engine) validate(s *strategy.Strategy, bars []market.Bar) error {
	if s == nil {
		return NewInputError(OperationValidate, "", ErrNilStrategy)
	}
	if err := s.Validate(); err != nil {
		return NewInputError(OperationLoadRules, s.ID, err)
	}
	if !e.config.InitialCapital.IsPositive() {
		return NewInputError(OperationValidate, e.config.InitialCapital.String(), ErrInvalidCapital)
	}
	if len(bars) == 0 {
		return NewInputError(OperationLoadBars, s.Symbol, ErrNoBars)
	}
	if len(bars) < 2 {
		return NewInputError(OperationLoadBars, s.Symbol, fmt.Errorf("%w: got %d", ErrInsufficientBars, len(bars)))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return NewInputError(OperationLoadBars, s.Symbol, fmt.Errorf("%w: bar %d at %s", ErrUnorderedBars, i, bars[i].Timestamp))
		}
	}
	return nil
}

func (e *Engine) windowSize() int {
	if e.config.WindowSize <= 0 {
		return DefaultWindowSize
	}
	return e.config.WindowSize
}

func (e *Engine) voteThreshold() decimal.Decimal {
	if e.config.VoteThreshold.IsZero() {
		return strategy.DefaultVoteThreshold
	}
	return e.config.VoteThreshold
}
