package main

import (
	"fmt"
	"os"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/spf13/cobra"
)

func (a *app) sampleCmd() *cobra.Command {
	var (
		out       string
		count     int
		price     float64
		timeframe string
		start     string
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write a deterministic sample bar series as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			interval, err := market.Timeframe(timeframe).Duration()
			if err != nil {
				return err
			}
			from, err := parseDate(start)
			if err != nil {
				return err
			}
			if from.IsZero() {
				from = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			}

			loader := backtesting.NewDataLoader()
			bars := loader.GenerateSampleData(from, interval, count, price)

			w := a.out
			if out != "" && out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer file.Close()
				w = file
			}
			if err := loader.WriteCSV(w, bars); err != nil {
				return err
			}
			if w != a.out {
				fmt.Fprintf(a.out, "✓ wrote %d bars to %s\n", len(bars), out)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&out, "out", "o", "", "output file, stdout when empty")
	flags.IntVar(&count, "count", 500, "number of bars")
	flags.Float64Var(&price, "price", 100, "starting price")
	flags.StringVar(&timeframe, "timeframe", string(market.Timeframe1d), "bar spacing")
	flags.StringVar(&start, "start", "", "first bar date (default 2024-01-01)")
	return cmd
}
