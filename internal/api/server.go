// Package api serves strategies, backtest runs and live run events over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/logger"
	"github.com/guyghost/quantbt/internal/service"
	"github.com/guyghost/quantbt/internal/store"
	"github.com/guyghost/quantbt/internal/strategy"
	"gopkg.in/yaml.v3"
)

const maxBodyBytes = 1 << 20

// maxBatchSize caps the requests accepted by one batch call
const maxBatchSize = 100

// Server is the HTTP API
type Server struct {
	strategies store.StrategyStore
	results    store.ResultStore
	runner     *service.Runner
	pool       *service.Pool
	hub        *Hub
	log        *logger.Logger
	srv        *http.Server
}

// NewServer wires the API. hub may be nil, which disables /ws.
func NewServer(addr string, strategies store.StrategyStore, results store.ResultStore, runner *service.Runner, hub *Hub) *Server {
	s := &Server{
		strategies: strategies,
		results:    results,
		runner:     runner,
		pool:       service.NewPool(runner, 1),
		hub:        hub,
		log:        logger.Component("api"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetWorkers bounds how many runs of a batch execute at once
func (s *Server) SetWorkers(n int) {
	s.pool = service.NewPool(s.runner, n)
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/strategies", s.handleSaveStrategy)
	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	mux.HandleFunc("GET /api/strategies/{id}/backtests", s.handleListBacktests)
	mux.HandleFunc("POST /api/backtests", s.handleRunBacktest)
	mux.HandleFunc("POST /api/backtests/batch", s.handleRunBatch)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetBacktest)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.ServeWS)
	}
	return corsMiddleware(mux)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("API listening", "addr", s.srv.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSaveStrategy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, badRequest(err))
		return
	}

	var def strategy.Definition
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		err = yaml.Unmarshal(body, &def)
	} else {
		err = json.Unmarshal(body, &def)
	}
	if err != nil {
		s.writeError(w, badRequest(fmt.Errorf("decode strategy: %w", err)))
		return
	}
	if def.ID == "" {
		s.writeError(w, badRequest(errors.New("strategy id is required")))
		return
	}

	st, err := def.Build()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.strategies.SaveStrategy(r.Context(), st); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, st.Definition())
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.strategies.ListStrategies(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	defs := make([]strategy.Definition, 0, len(strategies))
	for _, st := range strategies {
		defs = append(defs, st.Definition())
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.strategies.GetStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Definition())
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.strategies.GetStrategy(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	runs, err := s.results.ListResults(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, badRequest(fmt.Errorf("decode request: %w", err)))
		return
	}
	if req.StrategyID == "" {
		s.writeError(w, badRequest(errors.New("strategy_id is required")))
		return
	}

	run, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// batchItem is one entry of a batch response; exactly one of Run and Error is set
type batchItem struct {
	Request service.Request `json:"request"`
	Run     *service.Run    `json:"run,omitempty"`
	Error   string          `json:"error,omitempty"`
	Status  int             `json:"status"`
}

func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []service.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&reqs); err != nil {
		s.writeError(w, badRequest(fmt.Errorf("decode requests: %w", err)))
		return
	}
	if len(reqs) == 0 || len(reqs) > maxBatchSize {
		s.writeError(w, badRequest(fmt.Errorf("batch must hold 1 to %d requests, got %d", maxBatchSize, len(reqs))))
		return
	}
	for i, req := range reqs {
		if req.StrategyID == "" {
			s.writeError(w, badRequest(fmt.Errorf("request %d: strategy_id is required", i)))
			return
		}
	}

	outcomes := s.pool.RunAll(r.Context(), reqs)
	items := make([]batchItem, len(outcomes))
	for i, o := range outcomes {
		items[i] = batchItem{Request: o.Request, Run: o.Run, Status: http.StatusCreated}
		if o.Err != nil {
			items[i].Run = nil
			items[i].Error = o.Err.Error()
			items[i].Status = statusFor(o.Err)
		}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	run, err := s.results.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// requestError marks errors caused by a malformed request
type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err: err} }

// statusFor maps an error to its HTTP status. Input errors win over not
// found, so a run naming an unknown strategy is a bad request.
func statusFor(err error) int {
	var re requestError
	switch {
	case errors.As(err, &re),
		backtesting.IsInputError(err),
		errors.Is(err, strategy.ErrInvalidStrategy):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("writing JSON response", "error", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
