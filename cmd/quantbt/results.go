package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/guyghost/quantbt/internal/store"
	"github.com/spf13/cobra"
)

func (a *app) resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "results",
		Aliases: []string{"runs"},
		Short:   "Inspect stored backtest runs",
	}

	var strategyID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(db *store.SQLiteStore) error {
				return a.listResults(cmd.Context(), db, strategyID)
			})
		},
	}
	list.Flags().StringVar(&strategyID, "strategy", "", "only runs of this strategy")

	var asJSON, tradeLog bool
	show := &cobra.Command{
		Use:   "show RUN-ID",
		Short: "Print the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(db *store.SQLiteStore) error {
				run, err := db.GetResult(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printRun(run, asJSON, tradeLog)
			})
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	show.Flags().BoolVar(&tradeLog, "trades", false, "print the detailed trade log")

	cmd.AddCommand(list, show)
	return cmd
}

func (a *app) listResults(ctx context.Context, db *store.SQLiteStore, strategyID string) error {
	runs, err := db.ListResults(ctx, strategyID)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "No runs stored")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID, run.StrategyID, run.Symbol, string(run.Timeframe),
			strconv.Itoa(run.Result.TotalTrades), run.Result.TotalReturn.StringFixed(2) + "%",
			run.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	fmt.Fprintln(a.out, renderTable([]string{"ID", "STRATEGY", "SYMBOL", "TF", "TRADES", "RETURN", "CREATED"}, rows))
	return nil
}
