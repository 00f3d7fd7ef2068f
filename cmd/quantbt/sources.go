package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guyghost/quantbt/internal/marketdata"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/guyghost/quantbt/internal/telemetry"
)

// closer releases whatever a source or writer holds open
type closer func() error

func noop() error { return nil }

// openBarSource opens the named bar source wrapped in its guards. Remote
// sources get a circuit breaker; Alpaca also gets the configured rate limit.
func (a *app) openBarSource(ctx context.Context, name string) (store.BarSource, closer, error) {
	switch strings.ToLower(name) {
	case "sqlite":
		db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return guard("sqlite", db, nil, false), db.Close, nil

	case "parquet":
		return guard("parquet", store.NewParquetStore(a.cfg.Storage.ParquetDir), nil, false), noop, nil

	case "clickhouse":
		ch, err := a.openClickHouse(ctx)
		if err != nil {
			return nil, nil, err
		}
		return a.cached(guard("clickhouse", ch, nil, true)), ch.Close, nil

	case "alpaca":
		if !a.cfg.Alpaca.Enabled() {
			return nil, nil, fmt.Errorf("alpaca source needs ALPACA_API_KEY and ALPACA_API_SECRET")
		}
		src := marketdata.NewAlpacaSource(marketdata.AlpacaOptions{
			APIKey:    a.cfg.Alpaca.APIKey,
			APISecret: a.cfg.Alpaca.APISecret,
			BaseURL:   a.cfg.Alpaca.DataURL,
		})
		return a.cached(guard("alpaca", src, marketdata.PerMinute(a.cfg.Alpaca.RateLimitPerMin), true)), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown bar source %q", name)
	}
}

// openBarWriter opens the named bar archive for writing
func (a *app) openBarWriter(ctx context.Context, name string) (store.BarWriter, closer, error) {
	switch strings.ToLower(name) {
	case "sqlite":
		db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case "parquet":
		return store.NewParquetStore(a.cfg.Storage.ParquetDir), noop, nil
	case "clickhouse":
		ch, err := a.openClickHouse(ctx)
		if err != nil {
			return nil, nil, err
		}
		if err := ch.EnsureSchema(ctx); err != nil {
			ch.Close()
			return nil, nil, err
		}
		return ch, ch.Close, nil
	default:
		return nil, nil, fmt.Errorf("cannot write bars to %q", name)
	}
}

func (a *app) openClickHouse(ctx context.Context) (*store.ClickHouseStore, error) {
	s := a.cfg.Storage
	if s.ClickHouseAddr == "" {
		return nil, fmt.Errorf("clickhouse source needs CLICKHOUSE_ADDR")
	}
	return store.NewClickHouseStore(ctx, store.ClickHouseConfig{
		Addr:     s.ClickHouseAddr,
		Database: s.ClickHouseDB,
		Username: s.ClickHouseUser,
		Password: s.ClickHousePass,
		Table:    s.ClickHouseTbl,
	})
}

// cached puts the Parquet archive in front of a remote source when enabled
func (a *app) cached(remote store.BarSource) store.BarSource {
	if !a.cfg.Backtest.CacheBars || a.cfg.Storage.ParquetDir == "" {
		return remote
	}
	return marketdata.NewReadThrough(store.NewParquetStore(a.cfg.Storage.ParquetDir), remote)
}

func guard(name string, src store.BarSource, limiter marketdata.Limiter, remote bool) *marketdata.Guarded {
	var breaker *marketdata.Breaker
	if remote {
		cfg := marketdata.DefaultBreakerConfig()
		cfg.OnStateChange = func(name string, _, to marketdata.BreakerState) {
			telemetry.RecordBreakerState(name, int(to))
		}
		breaker = marketdata.NewBreaker(name, cfg)
	}

	g := marketdata.NewGuarded(src, limiter, breaker)
	g.SetObserver(func(d time.Duration, err error) {
		telemetry.RecordFetch(name, d, err)
	})
	return g
}
