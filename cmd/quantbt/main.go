package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/config"
	"github.com/guyghost/quantbt/internal/logger"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed
type app struct {
	configPath string
	cfg        *config.AppConfig
	log        *logger.Logger
	out        io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "quantbt",
		Short: "Backtest rule-based trading strategies against historical bars",
		Long: `quantbt replays historical OHLCV bars through a rule-based strategy and
reports the trades, equity curve and performance statistics.

It can read bars from CSV files, SQLite, Parquet archives, ClickHouse or the
Alpaca market data API, store strategies and results in SQLite, and serve
everything over HTTP with a websocket stream of run events.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")

	root.AddCommand(
		a.runCmd(),
		a.importCmd(),
		a.strategyCmd(),
		a.resultsCmd(),
		a.serveCmd(),
		a.sampleCmd(),
		a.batchCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()

	logCfg := logger.DefaultConfig()
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	logCfg.Output = cmd.ErrOrStderr()
	if output := os.Getenv("LOG_OUTPUT_PATH"); output != "" {
		logCfg.OutputPath = output
	}

	a.log = logger.New(logCfg)
	logger.SetDefault(a.log)
	return nil
}

// engineConfig turns the backtest section of the config into engine settings
func (a *app) engineConfig() *backtesting.Config {
	bt := a.cfg.Backtest
	config := backtesting.DefaultConfig()
	config.InitialCapital = bt.InitialCapital
	if bt.WindowSize > 0 {
		config.WindowSize = bt.WindowSize
	}
	if bt.VoteThreshold > 0 {
		config.VoteThreshold = decimal.NewFromFloat(bt.VoteThreshold)
	}
	config.CloseAtEnd = bt.CloseAtEnd
	return config
}

// parseDate accepts a calendar date or an RFC3339 timestamp. Empty is the zero time.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

// parseRange parses --start/--end pairs
func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := parseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", end, start)
	}
	return from, to, nil
}
