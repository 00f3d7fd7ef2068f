package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/shopspring/decimal"
)

// Compile-time interface checks.
var _ BarSource = (*ClickHouseStore)(nil)
var _ BarWriter = (*ClickHouseStore)(nil)

// ClickHouseConfig locates the candle table
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// ClickHouseStore reads and writes bars in a ReplacingMergeTree candle table
// keyed by (symbol, interval, open_time_ms).
type ClickHouseStore struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseStore connects and pings the server
func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	return &ClickHouseStore{conn: conn, table: qualifiedTable(cfg.Database, cfg.Table)}, nil
}

// Close closes the connection
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the candle table when missing
func (s *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, createTableDDL(s.table))
}

// ReadBars reads bars in [start, end], collapsing replaced rows with FINAL
func (s *ClickHouseStore) ReadBars(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	query, args := readBarsQuery(s.table, symbol, tf, start, end)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse query: %w", err)
	}
	defer rows.Close()

	bars := make([]market.Bar, 0)
	for rows.Next() {
		var openMs uint64
		var open, high, low, closep, volume float64
		if err := rows.Scan(&openMs, &open, &high, &low, &closep, &volume); err != nil {
			return nil, fmt.Errorf("clickhouse scan: %w", err)
		}
		bars = append(bars, candleToBar(openMs, open, high, low, closep, volume))
	}
	return bars, rows.Err()
}

// WriteBars appends bars in one batch. A per-batch version makes newer
// writes replace older rows on merge.
func (s *ClickHouseStore) WriteBars(ctx context.Context, symbol string, tf market.Timeframe, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	symbol = NormalizeSymbol(symbol)
	version := uint64(time.Now().UnixNano())
	for _, b := range bars {
		if err := batch.Append(
			symbol, string(tf),
			uint64(b.Timestamp.UnixMilli()),
			b.Open.InexactFloat64(), b.High.InexactFloat64(), b.Low.InexactFloat64(), b.Close.InexactFloat64(),
			b.Volume.InexactFloat64(),
			version,
		); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	return nil
}

func qualifiedTable(database, table string) string {
	if table == "" {
		table = "bars"
	}
	if database == "" {
		return table
	}
	return database + "." + table
}

func createTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
	`, table)
}

func readBarsQuery(table, symbol string, tf market.Timeframe, start, end time.Time) (string, []any) {
	query := fmt.Sprintf(`SELECT open_time_ms, open, high, low, close, volume FROM %s FINAL WHERE symbol = ? AND interval = ?`, table)
	args := []any{NormalizeSymbol(symbol), string(tf)}

	if !start.IsZero() {
		query += " AND open_time_ms >= ?"
		args = append(args, uint64(max(start.UnixMilli(), 0)))
	}
	if !end.IsZero() {
		query += " AND open_time_ms <= ?"
		args = append(args, uint64(max(end.UnixMilli(), 0)))
	}
	query += " ORDER BY open_time_ms"
	return query, args
}

func candleToBar(openMs uint64, open, high, low, closep, volume float64) market.Bar {
	return market.Bar{
		Timestamp: time.UnixMilli(int64(openMs)).UTC(),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(closep),
		Volume:    decimal.NewFromFloat(volume),
	}
}
