package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/service"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/spf13/cobra"
)

type batchFlags struct {
	strategyIDs []string
	symbols     []string
	source      string
	timeframe   string
	start       string
	end         string
	save        bool
}

func (a *app) batchCmd() *cobra.Command {
	f := &batchFlags{}
	cmd := &cobra.Command{
		Use:     "batch",
		Short:   "Run stored strategies over several symbols concurrently",
		Example: `  quantbt batch --strategy-ids trend,meanrev --symbols AAPL,MSFT,NVDA --source parquet`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.strategyIDs, "strategy-ids", nil, "stored strategy IDs (required)")
	flags.StringSliceVar(&f.symbols, "symbols", nil, "symbols, each strategy's own symbol when empty")
	flags.StringVar(&f.source, "source", "", "bar source (default from config)")
	flags.StringVar(&f.timeframe, "timeframe", "", "bar timeframe, overrides the strategies'")
	flags.StringVar(&f.start, "start", "", "first bar date")
	flags.StringVar(&f.end, "end", "", "last bar date")
	flags.BoolVar(&f.save, "save", false, "store every completed run")
	_ = cmd.MarkFlagRequired("strategy-ids")

	return cmd
}

// batchRequests is the cross product of strategies and symbols
func batchRequests(f *batchFlags) ([]service.Request, error) {
	start, end, err := parseRange(f.start, f.end)
	if err != nil {
		return nil, err
	}

	symbols := f.symbols
	if len(symbols) == 0 {
		symbols = []string{""}
	}

	reqs := make([]service.Request, 0, len(f.strategyIDs)*len(symbols))
	for _, id := range f.strategyIDs {
		for _, symbol := range symbols {
			reqs = append(reqs, service.Request{
				StrategyID: strings.TrimSpace(id),
				Symbol:     strings.TrimSpace(symbol),
				Timeframe:  market.Timeframe(f.timeframe),
				Start:      start,
				End:        end,
			})
		}
	}
	return reqs, nil
}

func (a *app) runBatch(ctx context.Context, f *batchFlags) error {
	reqs, err := batchRequests(f)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	name := f.source
	if name == "" {
		name = a.cfg.Backtest.BarSource
	}
	bars, closeSource, err := a.openBarSource(ctx, name)
	if err != nil {
		return err
	}
	defer closeSource()

	opts := service.Options{
		Config:       a.engineConfig(),
		FetchRetries: a.cfg.Backtest.FetchRetries,
		FetchBackoff: a.cfg.Backtest.FetchBackoff,
		Logger:       a.log.Component("runner"),
	}
	if f.save {
		opts.Results = db
	}

	runner := service.NewRunner(db, bars, opts)
	outcomes := service.NewPool(runner, a.cfg.Backtest.Workers).RunAll(ctx, reqs)

	reporter := backtesting.NewReporter()
	rows := make([][]string, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		row := []string{o.Request.StrategyID, o.Request.Symbol, "", ""}
		if o.Err != nil {
			failed++
			row[3] = "error: " + o.Err.Error()
		} else {
			row[1] = o.Run.Symbol
			row[2] = o.Run.ID
			row[3] = reporter.GenerateSummary(o.Run.Result)
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(a.out, renderTable([]string{"STRATEGY", "SYMBOL", "RUN", "SUMMARY"}, rows))

	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
	}
	return nil
}
