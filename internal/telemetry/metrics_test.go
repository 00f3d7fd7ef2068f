package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCounters(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	RecordRun("completed")
	RecordRun("completed")
	RecordRun("failed")
	RecordTrade("long", "take_profit")
	RecordTrade("short", "")
	RecordBars(120)
	RecordFetch("alpaca", 100*time.Millisecond, nil)
	RecordFetch("alpaca", 300*time.Millisecond, errors.New("boom"))
	RecordBreakerState("alpaca", 1)
	RecordError("input")
	RecordCallbackPanic()

	out := Render()
	for _, want := range []string{
		`quantbt_runs_total{outcome="completed"} 2`,
		`quantbt_runs_total{outcome="failed"} 1`,
		`quantbt_trades_total{side="long",exit_reason="take_profit"} 1`,
		`quantbt_trades_total{side="short",exit_reason="unknown"} 1`,
		`quantbt_bars_processed_total 120`,
		`quantbt_bar_fetches_total{source="alpaca",outcome="error"} 1`,
		`quantbt_bar_fetches_total{source="alpaca",outcome="ok"} 1`,
		`quantbt_bar_fetch_latency_seconds{source="alpaca"} 0.200000`,
		`quantbt_breaker_state{source="alpaca"} 1`,
		`quantbt_errors_total{type="input"} 1`,
		`quantbt_callback_panics_total 1`,
	} {
		assert.Contains(t, out, want)
	}
}

func TestFetchLatencyWindow(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	for i := 0; i < latencySamples+10; i++ {
		RecordFetch("sqlite", time.Second, nil)
	}

	metricsMu.RLock()
	defer metricsMu.RUnlock()
	assert.Len(t, fetchLatency["sqlite"], latencySamples)
}

func TestServerEndpoints(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	RecordRun("completed")

	s := NewServer(":0")
	require.NotNil(t, s)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	s.SetReady(true)
	code, body = get("/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, `quantbt_runs_total{outcome="completed"} 1`))
}

func TestNilServer(t *testing.T) {
	var s *Server
	assert.Nil(t, NewServer(""))
	assert.NoError(t, s.Start())
	assert.NoError(t, s.Shutdown(context.Background()))
	s.SetReady(true)
}
