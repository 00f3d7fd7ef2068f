package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/guyghost/quantbt/internal/store"
	"github.com/guyghost/quantbt/internal/strategy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) strategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "strategy",
		Aliases: []string{"strategies"},
		Short:   "Manage stored strategies",
	}

	add := &cobra.Command{
		Use:   "add FILE...",
		Short: "Validate strategy files and store them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(db *store.SQLiteStore) error {
				return a.addStrategies(cmd.Context(), db, args)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(db *store.SQLiteStore) error {
				return a.listStrategies(cmd.Context(), db)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print a stored strategy as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(db *store.SQLiteStore) error {
				st, err := db.GetStrategy(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(st.Definition())
			})
		},
	}

	cmd.AddCommand(add, list, show)
	return cmd
}

// withStore opens the SQLite store for the duration of fn
func (a *app) withStore(fn func(db *store.SQLiteStore) error) error {
	db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (a *app) addStrategies(ctx context.Context, db *store.SQLiteStore, files []string) error {
	for _, file := range files {
		st, err := strategy.LoadFile(file)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if err := db.SaveStrategy(ctx, st); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		fmt.Fprintf(a.out, "✓ stored strategy %s\n", st.ID)
	}
	return nil
}

func (a *app) listStrategies(ctx context.Context, db *store.SQLiteStore) error {
	strategies, err := db.ListStrategies(ctx)
	if err != nil {
		return err
	}
	if len(strategies) == 0 {
		fmt.Fprintln(a.out, "No strategies stored")
		return nil
	}

	rows := make([][]string, 0, len(strategies))
	for _, st := range strategies {
		rows = append(rows, []string{
			st.ID, st.Name, st.Symbol, string(st.Timeframe),
			strconv.Itoa(len(st.EntryRules)), strconv.Itoa(len(st.ExitRules)),
		})
	}
	fmt.Fprintln(a.out, renderTable([]string{"ID", "NAME", "SYMBOL", "TIMEFRAME", "ENTRY", "EXIT"}, rows))
	return nil
}
