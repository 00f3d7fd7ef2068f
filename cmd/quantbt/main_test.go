package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trendYAML = `
id: trend
name: Trend follower
symbol: TEST
timeframe: 1d
entry_rules:
  - type: price_above_ma
    period: 5
risk_rules:
  stop_loss_percent: 2
  take_profit_percent: 3
`

// workspace points every store at a temp dir and writes the fixtures
func workspace(t *testing.T) (dir, strategyFile, dataFile string) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "quantbt.db"))
	t.Setenv("PARQUET_DIR", filepath.Join(dir, "parquet"))
	t.Setenv("BAR_SOURCE", "sqlite")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_API_SECRET", "")

	strategyFile = filepath.Join(dir, "trend.yaml")
	require.NoError(t, os.WriteFile(strategyFile, []byte(trendYAML), 0o644))

	dataFile = filepath.Join(dir, "bars.csv")
	_, err := execute(t, "sample", "--count", "200", "--out", dataFile)
	require.NoError(t, err)
	return dir, strategyFile, dataFile
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeRun(t *testing.T, out string) *store.Run {
	t.Helper()
	var run store.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	require.NotNil(t, run.Result)
	return &run
}

func TestSampleWritesCSV(t *testing.T) {
	_, _, dataFile := workspace(t)

	bars, err := backtesting.NewDataLoader().LoadFromCSV(dataFile)
	require.NoError(t, err)
	require.Len(t, bars, 200)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bars[0].Timestamp.UTC())
	assert.Equal(t, 24*time.Hour, bars[1].Timestamp.Sub(bars[0].Timestamp))
}

func TestRunFromCSV(t *testing.T) {
	_, strategyFile, dataFile := workspace(t)

	out, err := execute(t, "run", "--strategy", strategyFile, "--data", dataFile)
	require.NoError(t, err)
	assert.Contains(t, out, "BACKTESTING PERFORMANCE REPORT")
	assert.Contains(t, out, "TEST 1d")

	out, err = execute(t, "run", "--strategy", strategyFile, "--data", dataFile, "--json", "--capital", "5000")
	require.NoError(t, err)
	run := decodeRun(t, out)
	assert.Equal(t, "trend", run.StrategyID)
	assert.True(t, run.Result.InitialCapital.Equal(decimal.NewFromInt(5000)))
	assert.NotEmpty(t, run.Result.EquityCurve)
}

func TestRunDateRange(t *testing.T) {
	_, strategyFile, dataFile := workspace(t)

	out, err := execute(t, "run", "--strategy", strategyFile, "--data", dataFile, "--json",
		"--start", "2024-02-01", "--end", "2024-02-29")
	require.NoError(t, err)
	run := decodeRun(t, out)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), run.Start.UTC())
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), run.End.UTC())
}

func TestRunRejectsBadInput(t *testing.T) {
	_, strategyFile, dataFile := workspace(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no strategy", []string{"run", "--data", dataFile}},
		{"both strategies", []string{"run", "--strategy", strategyFile, "--strategy-id", "trend", "--data", dataFile}},
		{"missing file", []string{"run", "--strategy", strategyFile, "--data", "nope.csv"}},
		{"reversed range", []string{"run", "--strategy", strategyFile, "--data", dataFile, "--start", "2024-03-01", "--end", "2024-02-01"}},
		{"bad capital", []string{"run", "--strategy", strategyFile, "--data", dataFile, "--capital", "lots"}},
		{"zero capital", []string{"run", "--strategy", strategyFile, "--data", dataFile, "--capital", "0"}},
		{"negative capital", []string{"run", "--strategy", strategyFile, "--data", dataFile, "--capital", "-500"}},
		{"unknown stored strategy", []string{"run", "--strategy-id", "ghost"}},
		{"range without bars", []string{"run", "--strategy", strategyFile, "--data", dataFile, "--start", "2030-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}

	_, err := execute(t, "run", "--strategy-id", "ghost")
	assert.True(t, backtesting.IsInputError(err))
}

func TestStrategyCommands(t *testing.T) {
	_, strategyFile, _ := workspace(t)

	out, err := execute(t, "strategy", "add", strategyFile)
	require.NoError(t, err)
	assert.Contains(t, out, "stored strategy trend")

	out, err = execute(t, "strategy", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Trend follower")

	out, err = execute(t, "strategy", "show", "trend")
	require.NoError(t, err)
	assert.Contains(t, out, "price_above_ma")

	_, err = execute(t, "strategy", "show", "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveAndInspectResults(t *testing.T) {
	_, strategyFile, dataFile := workspace(t)

	out, err := execute(t, "results", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs stored")

	out, err = execute(t, "run", "--strategy", strategyFile, "--data", dataFile, "--save", "--json")
	require.NoError(t, err)
	saved := decodeRun(t, out)

	out, err = execute(t, "results", "list", "--strategy", "trend")
	require.NoError(t, err)
	assert.Contains(t, out, saved.ID)

	out, err = execute(t, "results", "show", saved.ID, "--json")
	require.NoError(t, err)
	loaded := decodeRun(t, out)
	assert.Equal(t, saved.ID, loaded.ID)
	assert.True(t, saved.Result.FinalCapital.Equal(loaded.Result.FinalCapital))

	// the strategy was stored alongside the run
	out, err = execute(t, "strategy", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "trend")
}

func TestImportThenRunFromArchives(t *testing.T) {
	dir, strategyFile, dataFile := workspace(t)

	out, err := execute(t, "import", dataFile, "--symbol", "test", "--to", "sqlite,parquet")
	require.NoError(t, err)
	assert.Contains(t, out, "200 TEST 1d bars → sqlite")
	assert.Contains(t, out, "→ parquet")
	assert.DirExists(t, filepath.Join(dir, "parquet", "TEST", "1d"))

	_, err = execute(t, "strategy", "add", strategyFile)
	require.NoError(t, err)

	for _, source := range []string{"sqlite", "parquet"} {
		out, err := execute(t, "run", "--strategy-id", "trend", "--source", source, "--json")
		require.NoError(t, err, source)
		run := decodeRun(t, out)
		assert.Equal(t, "TEST", run.Symbol, source)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), run.Start.UTC(), source)
	}

	// copying between archives goes through the source path
	_, err = execute(t, "import", "--from", "sqlite", "--symbol", "TEST", "--to", "sqlite")
	assert.Error(t, err)
	_, err = execute(t, "import", "--symbol", "TEST")
	assert.Error(t, err)
}

func TestUnknownSourceAndWriter(t *testing.T) {
	_, strategyFile, dataFile := workspace(t)

	_, err := execute(t, "run", "--strategy", strategyFile, "--source", "carrier-pigeon")
	assert.ErrorContains(t, err, "unknown bar source")

	_, err = execute(t, "import", dataFile, "--symbol", "TEST", "--to", "alpaca")
	assert.ErrorContains(t, err, "cannot write bars")

	_, err = execute(t, "run", "--strategy", strategyFile, "--source", "alpaca")
	assert.ErrorContains(t, err, "ALPACA_API_KEY")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false},
		{"2024-03-05T14:30:00Z", time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), false},
		{"05/03/2024", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := parseDate(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), tt.in)
	}
}

func TestBatchAcrossArchivedSymbols(t *testing.T) {
	_, strategyFile, dataFile := workspace(t)

	for _, symbol := range []string{"AAA", "BBB"} {
		_, err := execute(t, "import", dataFile, "--symbol", symbol)
		require.NoError(t, err)
	}
	_, err := execute(t, "strategy", "add", strategyFile)
	require.NoError(t, err)

	out, err := execute(t, "batch", "--strategy-ids", "trend", "--symbols", "AAA,BBB", "--save")
	require.NoError(t, err)
	assert.Contains(t, out, "AAA")
	assert.Contains(t, out, "BBB")
	assert.Contains(t, out, "Return:")

	out, err = execute(t, "results", "list", "--strategy", "trend")
	require.NoError(t, err)
	assert.Contains(t, out, "AAA")
	assert.Contains(t, out, "BBB")

	// TEST has no bars in the archive, so its run fails without stopping the others
	out, err = execute(t, "batch", "--strategy-ids", "trend", "--symbols", "AAA,TEST")
	assert.ErrorContains(t, err, "1 of 2 runs failed")
	assert.Contains(t, out, "error:")
}

func TestBatchRequests(t *testing.T) {
	reqs, err := batchRequests(&batchFlags{
		strategyIDs: []string{"a", "b"},
		symbols:     []string{"X", " Y"},
		start:       "2024-01-01",
	})
	require.NoError(t, err)
	require.Len(t, reqs, 4)
	assert.Equal(t, "a", reqs[0].StrategyID)
	assert.Equal(t, "Y", reqs[1].Symbol)
	assert.Equal(t, "b", reqs[3].StrategyID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), reqs[2].Start)

	reqs, err = batchRequests(&batchFlags{strategyIDs: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Symbol)
}
