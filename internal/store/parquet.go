package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
)

// Compile-time interface checks.
var _ BarSource = (*ParquetStore)(nil)
var _ BarWriter = (*ParquetStore)(nil)

// ParquetStore keeps bars in yearly Parquet files:
//
//	<DataDir>/<SYMBOL>/<timeframe>/<YYYY>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at dataDir
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the on-disk Parquet schema for one bar
type BarRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// WriteBars merges bars into the yearly files, newer values winning on
// duplicate timestamps.
func (s *ParquetStore) WriteBars(_ context.Context, symbol string, tf market.Timeframe, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.Timestamp.UTC().Year()
		groups[year] = append(groups[year], toRecord(b))
	}

	for year, records := range groups {
		path := s.barPath(symbol, tf, year)

		existing, err := readExisting(path)
		if err != nil {
			return fmt.Errorf("reading existing bars for %s/%d: %w", symbol, year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// ReadBars reads bars in [start, end] across every yearly file in range
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	years, err := s.years(symbol, tf)
	if err != nil {
		return nil, err
	}

	lo, hi := millisRange(start, end)
	bars := make([]market.Bar, 0)
	for _, year := range years {
		if !start.IsZero() && year < start.UTC().Year() {
			continue
		}
		if !end.IsZero() && year > end.UTC().Year() {
			continue
		}

		records, err := readParquetFile[BarRecord](s.barPath(symbol, tf, year))
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}
		for _, r := range records {
			if r.Timestamp >= lo && r.Timestamp <= hi {
				bars = append(bars, fromRecord(r))
			}
		}
	}
	return bars, nil
}

// ListSymbols lists every symbol with stored bars
func (s *ParquetStore) ListSymbols() ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// years lists the yearly files present for a symbol and timeframe, ascending
func (s *ParquetStore) years(symbol string, tf market.Timeframe) ([]int, error) {
	dir := filepath.Dir(s.barPath(symbol, tf, 0))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var years []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok || e.IsDir() {
			continue
		}
		if year, err := strconv.Atoi(name); err == nil {
			years = append(years, year)
		}
	}
	sort.Ints(years)
	return years, nil
}

func (s *ParquetStore) barPath(symbol string, tf market.Timeframe, year int) string {
	return filepath.Join(s.DataDir, NormalizeSymbol(symbol), string(tf), fmt.Sprintf("%04d.parquet", year))
}

func toRecord(b market.Bar) BarRecord {
	return BarRecord{
		Timestamp: b.Timestamp.UnixMilli(),
		Open:      b.Open.InexactFloat64(),
		High:      b.High.InexactFloat64(),
		Low:       b.Low.InexactFloat64(),
		Close:     b.Close.InexactFloat64(),
		Volume:    b.Volume.InexactFloat64(),
	}
}

func fromRecord(r BarRecord) market.Bar {
	return market.Bar{
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Open:      decimal.NewFromFloat(r.Open),
		High:      decimal.NewFromFloat(r.High),
		Low:       decimal.NewFromFloat(r.Low),
		Close:     decimal.NewFromFloat(r.Close),
		Volume:    decimal.NewFromFloat(r.Volume),
	}
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// readExisting returns the records already archived at path. Only a missing
// file counts as empty; an unreadable one must not be overwritten.
func readExisting(path string) ([]BarRecord, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return readParquetFile[BarRecord](path)
}

// mergeBarRecords deduplicates by timestamp, preferring incoming records
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
