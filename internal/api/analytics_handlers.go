package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/internal/analytics"
	"github.com/tradelab/trading-backend/internal/storage"
	"github.com/tradelab/trading-backend/internal/workers"
	"github.com/tradelab/trading-backend/pkg/types"
)

// Request limits
const (
	MaxShortWindow   = 100
	MaxLongWindow    = 500
	MaxSimulations   = 10000
	MaxHorizonDays   = 2520
	DefaultListLimit = 50
)

// Computation kinds used as metric labels
const (
	computeRisk       = "risk"
	computeCorr       = "correlation"
	computeStress     = "stress_test"
	computeMonteCarlo = "monte_carlo"
	computeBacktest   = "backtest"
)

// AnalyticsHandlers serves risk analytics and backtests. Every computation
// runs on the worker pool.
type AnalyticsHandlers struct {
	logger  *zap.Logger
	service *analytics.Service
	store   *storage.SQLiteStore
	pool    *workers.Pool
	hub     *Hub
	metrics *Metrics
}

// NewAnalyticsHandlers creates new analytics handlers.
func NewAnalyticsHandlers(logger *zap.Logger, deps Deps, metrics *Metrics) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		logger:  logger.Named("analytics-api"),
		service: deps.Service,
		store:   deps.Store,
		pool:    deps.Pool,
		hub:     deps.Hub,
		metrics: metrics,
	}
}

// RegisterRoutes registers the risk and backtest routes.
func (h *AnalyticsHandlers) RegisterRoutes(r *mux.Router) {
	// Risk Endpoints
	r.HandleFunc("/risk/calculate", h.CalculateRisk).Methods("POST")
	r.HandleFunc("/risk/metrics/{portfolioId}", h.GetRiskMetrics).Methods("GET")
	r.HandleFunc("/risk/correlation", h.Correlation).Methods("POST")
	r.HandleFunc("/risk/stress-test", h.StressTest).Methods("POST")
	r.HandleFunc("/risk/monte-carlo", h.MonteCarlo).Methods("POST")

	// Backtest Endpoints
	r.HandleFunc("/backtest/run", h.RunBacktest).Methods("POST")
	r.HandleFunc("/backtest/results", h.ListBacktests).Methods("GET")
	r.HandleFunc("/backtest/results/{id}", h.GetBacktest).Methods("GET")
}

// compute runs fn on the pool and records its duration under kind.
func compute[T any](ctx context.Context, h *AnalyticsHandlers, kind string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := workers.Do(ctx, h.pool, fn)
	h.metrics.ObserveCompute(kind, start, err)
	if isInsufficientData(err) {
		h.metrics.InsufficientData.WithLabelValues(kind).Inc()
	}
	return v, err
}

// ==================== Risk Endpoints ====================

// PortfolioRequest identifies the portfolio a computation runs on.
type PortfolioRequest struct {
	PortfolioID string `json:"portfolioId"`
}

func (h *AnalyticsHandlers) decodePortfolio(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req PortfolioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(h.logger, w, err)
		return "", false
	}
	if strings.TrimSpace(req.PortfolioID) == "" {
		writeError(h.logger, w, http.StatusBadRequest, "portfolioId is required")
		return "", false
	}
	return req.PortfolioID, true
}

// CalculateRisk computes and stores a new risk snapshot.
func (h *AnalyticsHandlers) CalculateRisk(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.decodePortfolio(w, r)
	if !ok {
		return
	}

	result, err := compute(r.Context(), h, computeRisk, func(ctx context.Context) (types.RiskMetricsResult, error) {
		return h.service.CalculateRisk(ctx, portfolioID)
	})
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	h.hub.NotifyRiskCalculated(result)
	writeJSON(h.logger, w, http.StatusOK, result)
}

// GetRiskMetrics returns stored snapshots of a portfolio, newest first.
func (h *AnalyticsHandlers) GetRiskMetrics(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["portfolioId"]

	limit, err := parseLimit(r, DefaultListLimit)
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	if _, err := h.store.GetPortfolio(r.Context(), portfolioID); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	snapshots, err := h.store.ListRiskMetrics(r.Context(), portfolioID, limit)
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	if snapshots == nil {
		snapshots = []types.RiskMetricsResult{}
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"portfolioId": portfolioID,
		"metrics":     snapshots,
		"count":       len(snapshots),
	})
}

// Correlation returns the correlation matrix of a portfolio's assets.
func (h *AnalyticsHandlers) Correlation(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.decodePortfolio(w, r)
	if !ok {
		return
	}

	result, err := compute(r.Context(), h, computeCorr, func(ctx context.Context) (types.CorrelationResult, error) {
		return h.service.Correlation(ctx, portfolioID)
	})
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, result)
}

// StressTest runs the stress scenario catalog against a portfolio.
func (h *AnalyticsHandlers) StressTest(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.decodePortfolio(w, r)
	if !ok {
		return
	}

	result, err := compute(r.Context(), h, computeStress, func(ctx context.Context) (types.StressTestResult, error) {
		return h.service.StressTest(ctx, portfolioID)
	})
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, result)
}

// MonteCarloRequest represents a Monte Carlo projection request.
type MonteCarloRequest struct {
	PortfolioID    string `json:"portfolioId"`
	NumSimulations int    `json:"numSimulations,omitempty"` // Default 1000
	HorizonDays    int    `json:"horizonDays,omitempty"`    // Default 252
}

func (req MonteCarloRequest) validate() error {
	if strings.TrimSpace(req.PortfolioID) == "" {
		return invalidf("portfolioId is required")
	}
	if req.NumSimulations < 0 || req.NumSimulations > MaxSimulations {
		return invalidf("numSimulations must be between 1 and %d", MaxSimulations)
	}
	if req.HorizonDays < 0 || req.HorizonDays > MaxHorizonDays {
		return invalidf("horizonDays must be between 1 and %d", MaxHorizonDays)
	}
	return nil
}

// MonteCarlo projects a portfolio forward without storing the result.
func (h *AnalyticsHandlers) MonteCarlo(w http.ResponseWriter, r *http.Request) {
	var req MonteCarloRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	result, err := compute(r.Context(), h, computeMonteCarlo, func(ctx context.Context) (types.MonteCarloSummary, error) {
		return h.service.MonteCarlo(ctx, req.PortfolioID, req.NumSimulations, req.HorizonDays)
	})
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, result)
}

// ==================== Backtest Endpoints ====================

// ValidateRun checks a backtest request against the accepted parameter ranges.
func ValidateRun(run types.BacktestRun) error {
	if strings.TrimSpace(run.Symbol) == "" {
		return invalidf("symbol is required")
	}
	if !run.AssetType.Valid() {
		return invalidf("assetType must be one of stock, crypto")
	}
	if run.ShortWindow < 1 || run.ShortWindow > MaxShortWindow {
		return invalidf("shortWindow must be between 1 and %d", MaxShortWindow)
	}
	if run.LongWindow < 1 || run.LongWindow > MaxLongWindow {
		return invalidf("longWindow must be between 1 and %d", MaxLongWindow)
	}
	if !run.InitialCapital.IsPositive() {
		return invalidf("initialCapital must be positive")
	}
	if !run.StartDate.IsZero() && !run.EndDate.IsZero() && run.EndDate.Before(run.StartDate) {
		return invalidf("endDate must not be before startDate")
	}
	return nil
}

// RunBacktest runs and stores a moving-average crossover backtest.
func (h *AnalyticsHandlers) RunBacktest(w http.ResponseWriter, r *http.Request) {
	var run types.BacktestRun
	if err := decodeJSON(r, &run); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	// Result IDs are always assigned by the server
	run.ID = ""
	run.Symbol = strings.ToUpper(strings.TrimSpace(run.Symbol))
	if err := ValidateRun(run); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	result, err := compute(r.Context(), h, computeBacktest, func(ctx context.Context) (types.BacktestResult, error) {
		return h.service.RunBacktest(ctx, run)
	})
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	h.hub.NotifyBacktestComplete(result)
	writeJSON(h.logger, w, http.StatusOK, result)
}

// ListBacktests returns summaries of stored backtests, newest first.
func (h *AnalyticsHandlers) ListBacktests(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, DefaultListLimit)
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	results, err := h.store.ListBacktestResults(r.Context(), limit)
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	if results == nil {
		results = []storage.BacktestSummary{}
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// GetBacktest returns a stored backtest with its trades and equity curve.
func (h *AnalyticsHandlers) GetBacktest(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.GetBacktestResult(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, result)
}
