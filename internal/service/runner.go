// Package service runs backtests against stored strategies and bar sources.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/id"
	"github.com/guyghost/quantbt/internal/logger"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/marketdata"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/guyghost/quantbt/internal/strategy"
	"github.com/guyghost/quantbt/internal/telemetry"
	"github.com/shopspring/decimal"
)

// Run is a persisted backtest execution
type Run = store.Run

// ErrNoSymbol is returned when neither the request nor the strategy names a symbol
var ErrNoSymbol = errors.New("symbol is required")

// Request asks for one backtest of a stored strategy. Empty fields fall back
// to the strategy (symbol, timeframe) or the runner config (capital). A
// negative capital is rejected.
type Request struct {
	StrategyID     string           `json:"strategy_id"`
	Symbol         string           `json:"symbol,omitempty"`
	Timeframe      market.Timeframe `json:"timeframe,omitempty"`
	Start          time.Time        `json:"start,omitempty"`
	End            time.Time        `json:"end,omitempty"`
	InitialCapital decimal.Decimal  `json:"initial_capital,omitempty"`
}

// Options configures a Runner
type Options struct {
	// Results persists completed runs; nil skips persistence
	Results store.ResultStore
	// Config is the engine configuration; nil uses backtesting.DefaultConfig
	Config *backtesting.Config
	// FetchRetries and FetchBackoff control retries of failed bar fetches
	FetchRetries int
	FetchBackoff time.Duration
	Notifier     Notifier
	Logger       *logger.Logger
}

// Runner loads a strategy and its bars, simulates, persists and publishes
// the outcome. It is safe for concurrent use.
type Runner struct {
	strategies store.StrategyStore
	bars       store.BarSource
	results    store.ResultStore
	config     backtesting.Config
	retries    int
	backoff    time.Duration
	notifier   Notifier
	log        *logger.Logger
	now        func() time.Time
}

// NewRunner creates a Runner
func NewRunner(strategies store.StrategyStore, bars store.BarSource, opts Options) *Runner {
	config := backtesting.DefaultConfig()
	if opts.Config != nil {
		config = opts.Config
	}
	log := opts.Logger
	if log == nil {
		log = logger.Component("runner")
	}

	return &Runner{
		strategies: strategies,
		bars:       bars,
		results:    opts.Results,
		config:     *config,
		retries:    max(1, opts.FetchRetries),
		backoff:    opts.FetchBackoff,
		notifier:   opts.Notifier,
		log:        log,
		now:        time.Now,
	}
}

// Run executes req. Invalid input is reported as a *backtesting.InputError
// and nothing is stored.
func (r *Runner) Run(ctx context.Context, req Request) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := r.strategies.GetStrategy(ctx, req.StrategyID)
	if errors.Is(err, store.ErrNotFound) {
		telemetry.RecordError("input")
		return nil, backtesting.NewInputError(backtesting.OperationLoadRules, req.StrategyID, err)
	}
	if err != nil {
		telemetry.RecordError("store")
		return nil, fmt.Errorf("load strategy %s: %w", req.StrategyID, err)
	}
	return r.RunStrategy(ctx, st, req)
}

// RunStrategy is Run for a strategy already in hand; req.StrategyID is ignored.
func (r *Runner) RunStrategy(ctx context.Context, st *strategy.Strategy, req Request) (*Run, error) {
	if st == nil {
		return nil, backtesting.NewInputError(backtesting.OperationValidate, "", backtesting.ErrNilStrategy)
	}

	symbol := req.Symbol
	if symbol == "" {
		symbol = st.Symbol
	}
	if symbol == "" {
		telemetry.RecordError("input")
		return nil, backtesting.NewInputError(backtesting.OperationValidate, st.ID, ErrNoSymbol)
	}
	tf := st.Timeframe
	if req.Timeframe != "" {
		tf = req.Timeframe
	}
	if req.InitialCapital.IsNegative() {
		telemetry.RecordError("input")
		return nil, backtesting.NewInputError(backtesting.OperationValidate, req.InitialCapital.String(), backtesting.ErrInvalidCapital)
	}

	bars, err := r.fetchBars(ctx, symbol, tf, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	return r.Execute(ctx, st, Job{
		Symbol:         symbol,
		Timeframe:      tf,
		Bars:           bars,
		InitialCapital: req.InitialCapital,
	})
}

// Job is a simulation over bars already in hand
type Job struct {
	Symbol         string
	Timeframe      market.Timeframe
	Bars           []market.Bar
	InitialCapital decimal.Decimal
}

// Execute simulates st over job.Bars, then persists and publishes the run
func (r *Runner) Execute(ctx context.Context, st *strategy.Strategy, job Job) (*Run, error) {
	if st == nil {
		return nil, backtesting.NewInputError(backtesting.OperationValidate, "", backtesting.ErrNilStrategy)
	}

	runID := id.New()
	log := r.log.Run(runID).Strategy(st.ID).Symbol(job.Symbol)
	base := Event{RunID: runID, StrategyID: st.ID, Symbol: store.NormalizeSymbol(job.Symbol)}

	publish := func(e Event) {
		e.Time = r.now().UTC()
		notify(r.notifier, log, e)
	}
	fail := func(err error) (*Run, error) {
		telemetry.RecordRun("failed")
		e := base
		e.Type = EventFailed
		e.Error = err.Error()
		publish(e)
		log.WithError(err).Warn("Backtest failed")
		return nil, err
	}

	started := base
	started.Type = EventStarted
	publish(started)

	// Zero means unset; any other value reaches the engine, which rejects
	// non-positive capital.
	config := r.config
	if !job.InitialCapital.IsZero() {
		config.InitialCapital = job.InitialCapital
	}

	engine := backtesting.NewEngine(&config)
	engine.SetLogger(log)
	engine.SetOnTrade(func(t *backtesting.Trade) {
		telemetry.RecordTrade(string(t.Side), string(t.ExitReason))
		e := base
		e.Type = EventTrade
		trade := *t
		e.Trade = &trade
		publish(e)
	})

	result, err := engine.Run(st, job.Bars)
	if err != nil {
		if backtesting.IsInputError(err) {
			telemetry.RecordError("input")
		}
		return fail(err)
	}
	telemetry.RecordBars(len(job.Bars))

	run := &Run{
		ID:         runID,
		StrategyID: st.ID,
		Symbol:     store.NormalizeSymbol(job.Symbol),
		Timeframe:  job.Timeframe,
		Start:      job.Bars[0].Timestamp,
		End:        job.Bars[len(job.Bars)-1].Timestamp,
		CreatedAt:  r.now().UTC(),
		Result:     result,
	}

	if r.results != nil {
		if err := r.results.SaveResult(ctx, run); err != nil {
			telemetry.RecordError("store")
			return fail(fmt.Errorf("persist run: %w", err))
		}
	}

	telemetry.RecordRun("completed")
	completed := base
	completed.Type = EventCompleted
	completed.Summary = summarize(result)
	publish(completed)

	log.Info("Backtest completed",
		"trades", result.TotalTrades,
		"final_capital", result.FinalCapital.String(),
		"total_return", result.TotalReturn.StringFixed(2))

	return run, nil
}

func (r *Runner) fetchBars(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, backtesting.NewInputError(backtesting.OperationLoadBars, symbol,
			fmt.Errorf("end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)))
	}

	var bars []market.Bar
	err := RetryIf(ctx, r.retries, r.backoff, retryableFetch, func() error {
		var err error
		bars, err = r.bars.ReadBars(ctx, symbol, tf, start, end)
		if err != nil {
			r.log.WithError(err).Debug("Bar fetch failed", "symbol", symbol, "timeframe", tf)
		}
		return err
	})
	if err != nil {
		telemetry.RecordError("fetch")
		return nil, fmt.Errorf("fetch bars %s %s: %w", symbol, tf, err)
	}
	return bars, nil
}

// retryableFetch stops retrying once the source's breaker rejects calls
func retryableFetch(err error) bool {
	return !marketdata.IsRejected(err)
}
