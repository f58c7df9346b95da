// Package httpapi serves the backtest and strategy REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"marlin/internal/backtest"
	"marlin/internal/domain"
	"marlin/internal/export"
	"marlin/internal/store"
	"marlin/internal/strategy"
)

// Server serves the backtest HTTP API.
type Server struct {
	runner     *backtest.Runner
	strategies store.StrategyStore
	defaults   domain.RunConfig
	exportDir  string
	log        *slog.Logger
}

// NewServer creates a Server. defaults fills BacktestRequest config fields
// the caller leaves unset; exportDir receives CSV ledgers when a backtest
// request asks for one.
func NewServer(runner *backtest.Runner, strategies store.StrategyStore, defaults domain.RunConfig, exportDir string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		runner:     runner,
		strategies: strategies,
		defaults:   defaults,
		exportDir:  exportDir,
		log:        log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backtest", s.handleBacktest)
	mux.HandleFunc("POST /api/strategy", s.handleSaveStrategy)
	mux.HandleFunc("GET /api/strategy", s.handleListStrategies)
	mux.HandleFunc("GET /api/strategy/{name}", s.handleGetStrategy)
	mux.HandleFunc("PUT /api/strategy/{name}", s.handleUpdateStrategy)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseTimestamp accepts RFC 3339 or a plain date.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// mergeConfig fills unset request fields from the server defaults. Remaining
// zero fields get the simulator's built-in defaults.
func (s *Server) mergeConfig(req domain.RunConfig) domain.RunConfig {
	out := s.defaults
	if req.InitialCap != 0 {
		out.InitialCap = req.InitialCap
	}
	if req.Leverage != 0 {
		out.Leverage = req.Leverage
	}
	if req.AmountType != "" {
		out.AmountType = req.AmountType
	}
	if req.Amount != 0 {
		out.Amount = req.Amount
	}
	if req.Slippage != 0 {
		out.Slippage = req.Slippage
	}
	if req.Fee {
		out.Fee = true
	}
	if req.OrderLimit != 0 {
		out.OrderLimit = req.OrderLimit
	}
	return out
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" || req.StrategyName == "" {
		writeError(w, http.StatusBadRequest, "symbol and strategyName are required")
		return
	}
	start, err := parseTimestamp(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start %q", req.Start))
		return
	}
	end, err := parseTimestamp(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end %q", req.End))
		return
	}

	doc, err := s.strategies.GetStrategy(r.Context(), req.StrategyName)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", req.StrategyName))
		return
	}
	if err != nil {
		s.log.Error("loading strategy", "name", req.StrategyName, "error", err)
		writeError(w, http.StatusInternalServerError, "loading strategy failed")
		return
	}
	def, err := strategy.Parse(doc)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := s.runner.RunDefinition(r.Context(), req.Symbol, start, end, def, s.mergeConfig(req.Config))
	if err != nil {
		s.log.Error("backtest failed", "strategy", req.StrategyName, "symbol", req.Symbol, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := BacktestResponse{Summary: res.Summary, Trades: res.Trades}
	if resp.Trades == nil {
		resp.Trades = []domain.Trade{}
	}
	if r.URL.Query().Get("csv") == "true" && len(res.Trades) > 0 {
		path, err := export.SaveTrades(s.exportDir, req.StrategyName, res.Trades)
		if err != nil {
			s.log.Error("exporting ledger", "error", err)
			writeError(w, http.StatusInternalServerError, "exporting ledger failed")
			return
		}
		resp.CSVPath = path
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveStrategy(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body failed")
		return
	}
	def, err := strategy.Parse(doc)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.strategies.SaveStrategy(r.Context(), def.Name, doc); err != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("saving strategy %q failed", def.Name))
		return
	}
	writeJSON(w, http.StatusCreated, StrategySavedResponse{Name: def.Name})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	names, err := s.strategies.ListStrategies(r.Context())
	if err != nil {
		s.log.Error("listing strategies", "error", err)
		writeError(w, http.StatusInternalServerError, "listing strategies failed")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, StrategyListResponse{Strategies: names})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	doc, err := s.strategies.GetStrategy(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown strategy %q", name))
		return
	}
	if err != nil {
		s.log.Error("loading strategy", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "loading strategy failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body failed")
		return
	}
	def, err := strategy.Parse(doc)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if def.Name != name {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("document name %q does not match path %q", def.Name, name))
		return
	}
	if err := s.strategies.UpdateStrategy(r.Context(), name, doc); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown strategy %q", name))
			return
		}
		s.log.Error("updating strategy", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "updating strategy failed")
		return
	}
	writeJSON(w, http.StatusOK, StrategySavedResponse{Name: name})
}
