package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guyghost/quantbt/internal/api"
	"github.com/guyghost/quantbt/internal/service"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/guyghost/quantbt/internal/telemetry"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	var addr, telemetryAddr, source string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, the run event stream and telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.APIAddr = addr
			}
			if cmd.Flags().Changed("telemetry-addr") {
				a.cfg.Server.TelemetryAddr = telemetryAddr
			}
			if source != "" {
				a.cfg.Backtest.BarSource = source
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (default from config)")
	cmd.Flags().StringVar(&telemetryAddr, "telemetry-addr", "", "telemetry listen address, empty disables it")
	cmd.Flags().StringVar(&source, "source", "", "bar source for runs (default from config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	log := a.log.Component("serve")

	db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	// runs share the API's connection when bars live in the same database
	bars := store.BarSource(guard("sqlite", db, nil, false))
	if a.cfg.Backtest.BarSource != "sqlite" {
		src, closeSource, err := a.openBarSource(ctx, a.cfg.Backtest.BarSource)
		if err != nil {
			return err
		}
		defer closeSource()
		bars = src
	}

	metricsServer := telemetry.NewServer(a.cfg.Server.TelemetryAddr)
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start telemetry server: %w", err)
	}
	defer func() {
		metricsServer.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	hub := api.NewHub()
	go hub.Run(ctx)

	runner := service.NewRunner(db, bars, service.Options{
		Results:      db,
		Config:       a.engineConfig(),
		FetchRetries: a.cfg.Backtest.FetchRetries,
		FetchBackoff: a.cfg.Backtest.FetchBackoff,
		Notifier:     hub,
		Logger:       a.log.Component("runner"),
	})

	server := api.NewServer(a.cfg.Server.APIAddr, db, db, runner, hub)
	server.SetWorkers(a.cfg.Backtest.Workers)
	metricsServer.SetReady(true)
	log.Info("Serving",
		"api_addr", a.cfg.Server.APIAddr,
		"telemetry_addr", a.cfg.Server.TelemetryAddr,
		"bar_source", a.cfg.Backtest.BarSource)

	err = server.ListenAndServe(ctx)
	log.Info("Stopped")
	return err
}
