package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const latencySamples = 100

var (
	metricsMu      sync.RWMutex
	runCounts      = make(map[string]uint64)            // outcome -> count
	tradeCounts    = make(map[string]map[string]uint64) // side -> exit reason -> count
	barsProcessed  uint64
	fetchCounts    = make(map[string]map[string]uint64) // source -> outcome -> count
	fetchLatency   = make(map[string][]time.Duration)   // source -> recent latencies
	breakerStates  = make(map[string]float64)           // source -> 0 closed, 1 open, 2 half-open
	errorCounts    = make(map[string]uint64)            // error type -> count
	callbackPanics uint64
)

// RecordRun counts a finished backtest run by outcome (completed, failed)
func RecordRun(outcome string) {
	outcome = orUnknown(outcome)

	metricsMu.Lock()
	defer metricsMu.Unlock()
	runCounts[outcome]++
}

// RecordTrade counts a closed simulated trade
func RecordTrade(side, exitReason string) {
	side = orUnknown(side)
	exitReason = orUnknown(exitReason)

	metricsMu.Lock()
	defer metricsMu.Unlock()
	if _, exists := tradeCounts[side]; !exists {
		tradeCounts[side] = make(map[string]uint64)
	}
	tradeCounts[side][exitReason]++
}

// RecordBars adds to the number of bars simulated
func RecordBars(n int) {
	if n > 0 {
		atomic.AddUint64(&barsProcessed, uint64(n))
	}
}

// RecordFetch records one bar fetch against a data source
func RecordFetch(source string, latency time.Duration, err error) {
	source = orUnknown(source)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	metricsMu.Lock()
	defer metricsMu.Unlock()
	if _, exists := fetchCounts[source]; !exists {
		fetchCounts[source] = make(map[string]uint64)
	}
	fetchCounts[source][outcome]++

	latencies := fetchLatency[source]
	if len(latencies) >= latencySamples {
		latencies = latencies[1:]
	}
	fetchLatency[source] = append(latencies, latency)
}

// RecordBreakerState records the current circuit state of a data source
func RecordBreakerState(source string, state int) {
	source = orUnknown(source)

	metricsMu.Lock()
	defer metricsMu.Unlock()
	breakerStates[source] = float64(state)
}

// RecordError records errors by type.
func RecordError(errorType string) {
	errorType = orUnknown(errorType)

	metricsMu.Lock()
	defer metricsMu.Unlock()
	errorCounts[errorType]++
}

// RecordCallbackPanic records a recovered panic in a run callback.
func RecordCallbackPanic() {
	atomic.AddUint64(&callbackPanics, 1)
}

// Reset clears every metric
func Reset() {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	runCounts = make(map[string]uint64)
	tradeCounts = make(map[string]map[string]uint64)
	fetchCounts = make(map[string]map[string]uint64)
	fetchLatency = make(map[string][]time.Duration)
	breakerStates = make(map[string]float64)
	errorCounts = make(map[string]uint64)
	atomic.StoreUint64(&barsProcessed, 0)
	atomic.StoreUint64(&callbackPanics, 0)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render writes every metric in Prometheus text exposition format
func Render() string {
	builder := &strings.Builder{}

	metricsMu.RLock()
	defer metricsMu.RUnlock()

	builder.WriteString("# HELP quantbt_runs_total Backtest runs by outcome\n")
	builder.WriteString("# TYPE quantbt_runs_total counter\n")
	for _, outcome := range sortedKeys(runCounts) {
		fmt.Fprintf(builder, "quantbt_runs_total{outcome=\"%s\"} %d\n", outcome, runCounts[outcome])
	}

	builder.WriteString("# HELP quantbt_trades_total Simulated trades by side and exit reason\n")
	builder.WriteString("# TYPE quantbt_trades_total counter\n")
	for _, side := range sortedKeys(tradeCounts) {
		reasons := tradeCounts[side]
		for _, reason := range sortedKeys(reasons) {
			fmt.Fprintf(builder, "quantbt_trades_total{side=\"%s\",exit_reason=\"%s\"} %d\n", side, reason, reasons[reason])
		}
	}

	builder.WriteString("# HELP quantbt_bars_processed_total Bars fed through the simulator\n")
	builder.WriteString("# TYPE quantbt_bars_processed_total counter\n")
	fmt.Fprintf(builder, "quantbt_bars_processed_total %d\n", atomic.LoadUint64(&barsProcessed))

	builder.WriteString("# HELP quantbt_bar_fetches_total Bar fetches by source and outcome\n")
	builder.WriteString("# TYPE quantbt_bar_fetches_total counter\n")
	for _, source := range sortedKeys(fetchCounts) {
		outcomes := fetchCounts[source]
		for _, outcome := range sortedKeys(outcomes) {
			fmt.Fprintf(builder, "quantbt_bar_fetches_total{source=\"%s\",outcome=\"%s\"} %d\n", source, outcome, outcomes[outcome])
		}
	}

	// Average over the most recent samples
	builder.WriteString("# HELP quantbt_bar_fetch_latency_seconds Average bar fetch latency by source\n")
	builder.WriteString("# TYPE quantbt_bar_fetch_latency_seconds gauge\n")
	for _, source := range sortedKeys(fetchLatency) {
		latencies := fetchLatency[source]
		if len(latencies) == 0 {
			continue
		}
		var sum time.Duration
		for _, lat := range latencies {
			sum += lat
		}
		avg := sum / time.Duration(len(latencies))
		fmt.Fprintf(builder, "quantbt_bar_fetch_latency_seconds{source=\"%s\"} %f\n", source, avg.Seconds())
	}

	builder.WriteString("# HELP quantbt_breaker_state Circuit state by source (0 closed, 1 open, 2 half-open)\n")
	builder.WriteString("# TYPE quantbt_breaker_state gauge\n")
	for _, source := range sortedKeys(breakerStates) {
		fmt.Fprintf(builder, "quantbt_breaker_state{source=\"%s\"} %g\n", source, breakerStates[source])
	}

	builder.WriteString("# HELP quantbt_errors_total Errors by type\n")
	builder.WriteString("# TYPE quantbt_errors_total counter\n")
	for _, errorType := range sortedKeys(errorCounts) {
		fmt.Fprintf(builder, "quantbt_errors_total{type=\"%s\"} %d\n", errorType, errorCounts[errorType])
	}

	builder.WriteString("# HELP quantbt_callback_panics_total Recovered panics from run callbacks\n")
	builder.WriteString("# TYPE quantbt_callback_panics_total counter\n")
	fmt.Fprintf(builder, "quantbt_callback_panics_total %d\n", atomic.LoadUint64(&callbackPanics))

	return builder.String()
}

// Server exposes metrics and health endpoints.
type Server struct {
	srv        *http.Server
	readyState atomic.Bool
}

// NewServer creates a new telemetry server. An empty addr disables it.
func NewServer(addr string) *Server {
	if addr == "" {
		return nil
	}

	server := &Server{}
	server.srv = &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

// Handler returns the metrics and health routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.readyState.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})
	return mux
}

func metricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(Render()))
}

// Start begins serving metrics and health endpoints in a separate goroutine.
func (s *Server) Start() error {
	if s == nil || s.srv == nil {
		return nil
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			RecordError("telemetry_server")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// SetReady updates the readiness state exposed on /readyz.
func (s *Server) SetReady(ready bool) {
	if s == nil {
		return
	}
	s.readyState.Store(ready)
}
