package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/logger"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/service"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/guyghost/quantbt/internal/strategy"
	"github.com/guyghost/quantbt/internal/tui"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type runFlags struct {
	strategyFile string
	strategyID   string
	dataFile     string
	source       string
	symbol       string
	timeframe    string
	start        string
	end          string
	capital      string
	save         bool
	interactive  bool
	tradeLog     bool
	asJSON       bool
	cache        bool
}

func (a *app) runCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest and print the report",
		Example: `  quantbt run --strategy trend.yaml --data aapl.csv
  quantbt run --strategy-id trend --source parquet --symbol AAPL --start 2023-01-01 --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBacktest(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.strategyFile, "strategy", "s", "", "strategy YAML or JSON file")
	flags.StringVar(&f.strategyID, "strategy-id", "", "stored strategy ID")
	flags.StringVarP(&f.dataFile, "data", "d", "", "CSV file with historical bars")
	flags.StringVar(&f.source, "source", "", "bar source when --data is absent: sqlite, parquet, clickhouse or alpaca (default from config)")
	flags.StringVar(&f.symbol, "symbol", "", "symbol, overrides the strategy's")
	flags.StringVar(&f.timeframe, "timeframe", "", "bar timeframe, overrides the strategy's")
	flags.StringVar(&f.start, "start", "", "first bar date (YYYY-MM-DD or RFC3339)")
	flags.StringVar(&f.end, "end", "", "last bar date (YYYY-MM-DD or RFC3339)")
	flags.StringVar(&f.capital, "capital", "", "initial capital (default from config)")
	flags.BoolVar(&f.save, "save", false, "store the strategy and the run in SQLite")
	flags.BoolVar(&f.interactive, "tui", false, "show the result in the interactive viewer")
	flags.BoolVar(&f.tradeLog, "trades", false, "print the detailed trade log")
	flags.BoolVar(&f.asJSON, "json", false, "print the run as JSON instead of the report")
	flags.BoolVar(&f.cache, "cache", false, "archive bars fetched from remote sources as Parquet")
	cmd.MarkFlagsMutuallyExclusive("strategy", "strategy-id")
	cmd.MarkFlagsOneRequired("strategy", "strategy-id")
	cmd.MarkFlagsMutuallyExclusive("data", "source")
	cmd.MarkFlagsMutuallyExclusive("tui", "json")

	return cmd
}

func (a *app) runBacktest(ctx context.Context, f *runFlags) error {
	if f.cache {
		a.cfg.Backtest.CacheBars = true
	}
	start, end, err := parseRange(f.start, f.end)
	if err != nil {
		return err
	}
	var capital decimal.Decimal
	if f.capital != "" {
		if capital, err = decimal.NewFromString(f.capital); err != nil {
			return fmt.Errorf("invalid --capital %q: %w", f.capital, err)
		}
		if !capital.IsPositive() {
			return backtesting.NewInputError(backtesting.OperationValidate, f.capital, backtesting.ErrInvalidCapital)
		}
	}

	var db *store.SQLiteStore
	if f.save || f.strategyID != "" {
		if db, err = store.NewSQLiteStore(a.cfg.Storage.SQLitePath); err != nil {
			return err
		}
		defer db.Close()
	}

	st, err := a.loadStrategy(ctx, db, f)
	if err != nil {
		return err
	}
	if f.save {
		if st.ID == "" {
			return fmt.Errorf("--save needs a strategy with an id")
		}
		if err := db.SaveStrategy(ctx, st); err != nil {
			return err
		}
	}

	req := service.Request{
		StrategyID:     st.ID,
		Symbol:         f.symbol,
		Timeframe:      market.Timeframe(f.timeframe),
		Start:          start,
		End:            end,
		InitialCapital: capital,
	}
	if req.Timeframe == "" && st.Timeframe == "" {
		req.Timeframe = market.Timeframe1d
	}

	opts := service.Options{
		Config:       a.engineConfig(),
		FetchRetries: a.cfg.Backtest.FetchRetries,
		FetchBackoff: a.cfg.Backtest.FetchBackoff,
		Logger:       a.log.Component("runner"),
	}
	if f.save {
		opts.Results = db
	}

	var execute func(runner *service.Runner) (*service.Run, error)
	var source store.BarSource
	if f.dataFile != "" {
		bars, err := backtesting.NewDataLoader().LoadFromCSV(f.dataFile)
		if err != nil {
			return backtesting.NewInputError(backtesting.OperationLoadBars, f.dataFile, err)
		}
		job := service.Job{
			Symbol:         req.Symbol,
			Timeframe:      req.Timeframe,
			Bars:           market.InRange(bars, start, end),
			InitialCapital: capital,
		}
		if job.Symbol == "" {
			job.Symbol = st.Symbol
		}
		if job.Timeframe == "" {
			job.Timeframe = st.Timeframe
		}
		execute = func(runner *service.Runner) (*service.Run, error) {
			return runner.Execute(ctx, st, job)
		}
	} else {
		name := f.source
		if name == "" {
			name = a.cfg.Backtest.BarSource
		}
		src, closeSource, err := a.openBarSource(ctx, name)
		if err != nil {
			return err
		}
		defer closeSource()
		source = src
		execute = func(runner *service.Runner) (*service.Run, error) {
			return runner.RunStrategy(ctx, st, req)
		}
	}

	if f.interactive {
		return a.runInteractive(st, source, opts, execute)
	}

	run, err := execute(service.NewRunner(nil, source, opts))
	if err != nil {
		return err
	}
	return a.printRun(run, f.asJSON, f.tradeLog)
}

func (a *app) loadStrategy(ctx context.Context, db *store.SQLiteStore, f *runFlags) (*strategy.Strategy, error) {
	if f.strategyFile != "" {
		st, err := strategy.LoadFile(f.strategyFile)
		if err != nil {
			return nil, backtesting.NewInputError(backtesting.OperationLoadRules, f.strategyFile, err)
		}
		return st, nil
	}

	st, err := db.GetStrategy(ctx, f.strategyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, backtesting.NewInputError(backtesting.OperationLoadRules, f.strategyID, err)
	}
	return st, err
}

// runInteractive runs the backtest behind the viewer, streaming run events into it
func (a *app) runInteractive(st *strategy.Strategy, source store.BarSource, opts service.Options, execute func(*service.Runner) (*service.Run, error)) error {
	title := st.Name
	if title == "" {
		title = st.ID
	}

	program := tea.NewProgram(tui.NewModel(title, nil), tea.WithOutput(a.out))
	opts.Notifier = service.NotifierFunc(func(e service.Event) {
		program.Send(tui.EventMsg(e))
	})
	// the viewer owns the terminal
	opts.Logger = logger.Discard()

	runner := service.NewRunner(nil, source, opts)
	go func() {
		run, err := execute(runner)
		program.Send(tui.RunDoneMsg{Run: run, Err: err})
	}()

	_, err := program.Run()
	return err
}

func (a *app) printRun(run *service.Run, asJSON, tradeLog bool) error {
	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	reporter := backtesting.NewReporter()
	fmt.Fprintf(a.out, "Run %s  %s %s  %s → %s\n\n", run.ID, run.Symbol, run.Timeframe,
		run.Start.Format("2006-01-02"), run.End.Format("2006-01-02"))
	fmt.Fprintln(a.out, reporter.GenerateReport(run.Result))
	if tradeLog && len(run.Result.Trades) > 0 {
		fmt.Fprintln(a.out, reporter.GenerateTradeLog(run.Result))
	}
	return nil
}
