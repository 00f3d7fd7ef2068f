package backtesting

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/shopspring/decimal"
)

// DataLoader loads historical bars for backtesting
type DataLoader struct{}

// NewDataLoader creates a new data loader
func NewDataLoader() *DataLoader {
	return &DataLoader{}
}

// LoadFromCSV loads historical bars from a CSV file.
// Expected CSV format: timestamp,open,high,low,close,volume
// timestamp can be a Unix timestamp (seconds or milliseconds), RFC3339 or a date
func (dl *DataLoader) LoadFromCSV(filename string) ([]market.Bar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return dl.ReadCSV(file)
}

// ReadCSV parses bars from r. A leading header row is skipped, as are rows
// that cannot be parsed. The result is sorted by timestamp.
func (dl *DataLoader) ReadCSV(r io.Reader) ([]market.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	bars := make([]market.Bar, 0)
	first := true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		if len(record) < 6 {
			continue // Skip invalid records
		}

		// Header detection: a first row whose open column is not numeric
		if first {
			first = false
			if _, err := strconv.ParseFloat(record[1], 64); err != nil {
				continue
			}
		}

		bar, err := dl.parseCSVRecord(record)
		if err != nil {
			continue // Skip invalid records
		}

		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	return bars, nil
}

// WriteCSV writes bars with a header row, timestamps as RFC3339
func (dl *DataLoader) WriteCSV(w io.Writer, bars []market.Bar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, bar := range bars {
		record := []string{
			bar.Timestamp.UTC().Format(time.RFC3339),
			bar.Open.String(),
			bar.High.String(),
			bar.Low.String(),
			bar.Close.String(),
			bar.Volume.String(),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// parseCSVRecord parses a single CSV record into a Bar
func (dl *DataLoader) parseCSVRecord(record []string) (market.Bar, error) {
	timestamp, err := dl.parseTimestamp(record[0])
	if err != nil {
		return market.Bar{}, err
	}

	fields := make([]decimal.Decimal, 5)
	names := []string{"open price", "high price", "low price", "close price", "volume"}
	for i := range fields {
		fields[i], err = decimal.NewFromString(record[i+1])
		if err != nil {
			return market.Bar{}, fmt.Errorf("invalid %s: %w", names[i], err)
		}
	}

	return market.Bar{
		Timestamp: timestamp,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

// parseTimestamp parses timestamp from string
// Supports Unix timestamp (seconds or milliseconds) and RFC3339 format
func (dl *DataLoader) parseTimestamp(s string) (time.Time, error) {
	// Try parsing as Unix timestamp
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Check if it's in milliseconds (13 digits) or seconds (10 digits)
		if ts > 10000000000 {
			return time.UnixMilli(ts).UTC(), nil
		}
		return time.Unix(ts, 0).UTC(), nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// GenerateSampleData generates a deterministic bar series for testing and
// demos. Prices follow a slow sine-like swing around basePrice.
func (dl *DataLoader) GenerateSampleData(startTime time.Time, interval time.Duration, count int, basePrice float64) []market.Bar {
	bars := make([]market.Bar, 0, count)

	currentTime := startTime
	currentPrice := decimal.NewFromFloat(basePrice)

	for i := 0; i < count; i++ {
		// ±0.5% movement in a repeating 10-bar cycle, with a 40-bar drift
		step := float64(i%10) - 4.5
		if (i/40)%2 == 1 {
			step = -step
		}
		change := decimal.NewFromFloat(step * 0.002)
		open := currentPrice
		close := currentPrice.Add(currentPrice.Mul(change)).Round(4)

		high := decimal.Max(open, close).Mul(decimal.NewFromFloat(1.001)).Round(4)
		low := decimal.Min(open, close).Mul(decimal.NewFromFloat(0.999)).Round(4)
		volume := decimal.NewFromInt(int64(1000 + (i*37)%500))

		bars = append(bars, market.Bar{
			Timestamp: currentTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
		})

		currentTime = currentTime.Add(interval)
		currentPrice = close
	}

	return bars
}
