package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/strategy"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ StrategyStore = (*SQLiteStore)(nil)
var _ BarSource = (*SQLiteStore)(nil)
var _ BarWriter = (*SQLiteStore)(nil)
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore keeps strategies, bars and runs in one SQLite database.
// Decimals are stored as TEXT and times as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy inserts or replaces a strategy definition
func (s *SQLiteStore) SaveStrategy(ctx context.Context, st *strategy.Strategy) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if st.ID == "" {
		return fmt.Errorf("%w: id is required", strategy.ErrInvalidStrategy)
	}

	definition, err := json.Marshal(st.Definition())
	if err != nil {
		return fmt.Errorf("encode strategy %s: %w", st.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, symbol, timeframe, definition, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			timeframe = excluded.timeframe,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		st.ID, st.Name, NormalizeSymbol(st.Symbol), string(st.Timeframe), string(definition), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save strategy %s: %w", st.ID, err)
	}
	return nil
}

// GetStrategy loads a strategy by ID
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*strategy.Strategy, error) {
	var definition string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM strategies WHERE id = ?`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy %s: %w", id, err)
	}
	return strategy.ParseJSON([]byte(definition))
}

// ListStrategies returns every strategy ordered by ID
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]*strategy.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	strategies := make([]*strategy.Strategy, 0)
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		st, err := strategy.ParseJSON([]byte(definition))
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, st)
	}
	return strategies, rows.Err()
}

// ---------------------------------------------------------------------------
// BarSource / BarWriter implementation
// ---------------------------------------------------------------------------

// WriteBars upserts bars in a single transaction
func (s *SQLiteStore) WriteBars(ctx context.Context, symbol string, tf market.Timeframe, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, ts) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	symbol = NormalizeSymbol(symbol)
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx,
			symbol, string(tf), b.Timestamp.UnixMilli(),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
		); err != nil {
			return fmt.Errorf("write bar %s %s: %w", symbol, b.Timestamp, err)
		}
	}

	return tx.Commit()
}

// ReadBars reads bars in [start, end]
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	lo, hi := millisRange(start, end)

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM bars
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts`,
		NormalizeSymbol(symbol), string(tf), lo, hi,
	)
	if err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}
	defer rows.Close()

	bars := make([]market.Bar, 0)
	for rows.Next() {
		var ts int64
		var fields [5]string
		if err := rows.Scan(&ts, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4]); err != nil {
			return nil, err
		}
		bar, err := barFromStrings(ts, fields)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

func barFromStrings(ts int64, fields [5]string) (market.Bar, error) {
	var values [5]decimal.Decimal
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return market.Bar{}, fmt.Errorf("decode bar at %d: %w", ts, err)
		}
		values[i] = v
	}
	return market.Bar{
		Timestamp: time.UnixMilli(ts).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveResult inserts a run. Runs are immutable, so saving an existing ID fails.
func (s *SQLiteStore) SaveResult(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" || run.Result == nil {
		return errors.New("run with id and result is required")
	}

	payload, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, strategy_id, symbol, timeframe, start_ms, end_ms, created_at,
			initial_capital, final_capital, total_trades, total_return, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StrategyID, NormalizeSymbol(run.Symbol), string(run.Timeframe),
		run.Start.UnixMilli(), run.End.UnixMilli(), run.CreatedAt.UnixMilli(),
		run.Result.InitialCapital.String(), run.Result.FinalCapital.String(),
		run.Result.TotalTrades, run.Result.TotalReturn.String(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, strategy_id, symbol, timeframe, start_ms, end_ms, created_at, result`

// GetResult loads a run by ID
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListResults returns runs newest first
func (s *SQLiteStore) ListResults(ctx context.Context, strategyID string) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                       Run
		timeframe, payload        string
		startMs, endMs, createdMs int64
	)
	if err := row.Scan(&run.ID, &run.StrategyID, &run.Symbol, &timeframe, &startMs, &endMs, &createdMs, &payload); err != nil {
		return nil, err
	}

	run.Timeframe = market.Timeframe(timeframe)
	run.Start = time.UnixMilli(startMs).UTC()
	run.End = time.UnixMilli(endMs).UTC()
	run.CreatedAt = time.UnixMilli(createdMs).UTC()

	var result backtesting.Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", run.ID, err)
	}
	run.Result = &result
	return &run, nil
}
