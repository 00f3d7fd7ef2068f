package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/spf13/cobra"
)

type importFlags struct {
	symbol    string
	timeframe string
	from      string
	to        []string
	start     string
	end       string
}

func (a *app) importCmd() *cobra.Command {
	f := &importFlags{}
	cmd := &cobra.Command{
		Use:   "import [csv-file]",
		Short: "Copy bars from a CSV file or a bar source into local archives",
		Example: `  quantbt import aapl.csv --symbol AAPL --to sqlite,parquet
  quantbt import --from alpaca --symbol AAPL --start 2023-01-01 --end 2023-12-31 --to parquet`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return a.importBars(cmd.Context(), file, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.symbol, "symbol", "", "symbol the bars belong to (required)")
	flags.StringVar(&f.timeframe, "timeframe", string(market.Timeframe1d), "bar timeframe")
	flags.StringVar(&f.from, "from", "", "read bars from sqlite, parquet, clickhouse or alpaca instead of a file")
	flags.StringSliceVar(&f.to, "to", []string{"sqlite"}, "archives to write: sqlite, parquet, clickhouse")
	flags.StringVar(&f.start, "start", "", "first bar date when reading from a source")
	flags.StringVar(&f.end, "end", "", "last bar date when reading from a source")
	_ = cmd.MarkFlagRequired("symbol")

	return cmd
}

func (a *app) importBars(ctx context.Context, file string, f *importFlags) error {
	tf := market.Timeframe(f.timeframe)
	if err := tf.Validate(); err != nil {
		return err
	}
	if (file == "") == (f.from == "") {
		return fmt.Errorf("give either a CSV file or --from")
	}
	start, end, err := parseRange(f.start, f.end)
	if err != nil {
		return err
	}

	bars, err := a.readImportBars(ctx, file, f.from, f.symbol, tf, start, end)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return backtesting.NewInputError(backtesting.OperationLoadBars, f.symbol, backtesting.ErrNoBars)
	}

	log := a.log.Component("import").Symbol(f.symbol)
	for _, target := range f.to {
		target = strings.TrimSpace(target)
		if strings.EqualFold(target, f.from) {
			return fmt.Errorf("cannot import from %s into itself", target)
		}
		writer, closeWriter, err := a.openBarWriter(ctx, target)
		if err != nil {
			return err
		}
		err = writer.WriteBars(ctx, f.symbol, tf, bars)
		closeWriter()
		if err != nil {
			return fmt.Errorf("write bars to %s: %w", target, err)
		}
		log.Info("Imported bars", "target", target, "bars", len(bars))
		fmt.Fprintf(a.out, "✓ %d %s %s bars → %s\n", len(bars), store.NormalizeSymbol(f.symbol), tf, target)
	}
	return nil
}

func (a *app) readImportBars(ctx context.Context, file, from, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	if file != "" {
		bars, err := backtesting.NewDataLoader().LoadFromCSV(file)
		if err != nil {
			return nil, backtesting.NewInputError(backtesting.OperationLoadBars, file, err)
		}
		return market.InRange(bars, start, end), nil
	}

	source, closeSource, err := a.openBarSource(ctx, from)
	if err != nil {
		return nil, err
	}
	defer closeSource()
	return source.ReadBars(ctx, symbol, tf, start, end)
}
