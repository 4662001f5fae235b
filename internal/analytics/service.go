// Package analytics wires price history, the portfolio registry and the
// results repository around the risk and backtest engines.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/internal/backtester"
	"github.com/tradelab/trading-backend/internal/returns"
	"github.com/tradelab/trading-backend/internal/risk"
	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

// PriceProvider returns the ordered daily bars of a symbol within [start, end]
type PriceProvider interface {
	LoadPrices(ctx context.Context, symbol string, assetType types.AssetType, start, end time.Time) ([]types.PricePoint, error)
}

// Registry resolves portfolios and their assets
type Registry interface {
	GetPortfolio(ctx context.Context, id string) (types.Portfolio, error)
	ListAssets(ctx context.Context, portfolioID string) ([]types.Asset, error)
}

// ResultStore persists computed results
type ResultStore interface {
	SaveRiskMetrics(ctx context.Context, r types.RiskMetricsResult) error
	SaveBacktestResult(ctx context.Context, r types.BacktestResult) error
}

// Config holds the service settings
type Config struct {
	LookbackDays       int
	BenchmarkSymbol    string
	BenchmarkAssetType types.AssetType
}

// DefaultConfig returns the default service settings
func DefaultConfig() Config {
	return Config{
		LookbackDays:       365,
		BenchmarkSymbol:    "SPY",
		BenchmarkAssetType: types.AssetTypeStock,
	}
}

// ConfigFromRisk builds the service settings from the risk configuration
func ConfigFromRisk(cfg types.RiskConfig) Config {
	out := DefaultConfig()
	if cfg.LookbackDays > 0 {
		out.LookbackDays = cfg.LookbackDays
	}
	if cfg.BenchmarkSymbol != "" {
		out.BenchmarkSymbol = cfg.BenchmarkSymbol
	}
	if at := types.AssetType(cfg.BenchmarkAssetType); at.Valid() {
		out.BenchmarkAssetType = at
	}
	return out
}

// Service runs risk and backtest computations for stored portfolios
type Service struct {
	logger     *zap.Logger
	prices     PriceProvider
	registry   Registry
	results    ResultStore
	calculator *risk.Calculator
	engine     *backtester.Engine
	config     Config

	now   func() time.Time
	newID func() string
}

// NewService creates a new analytics service
func NewService(
	logger *zap.Logger,
	prices PriceProvider,
	registry Registry,
	results ResultStore,
	calculator *risk.Calculator,
	engine *backtester.Engine,
	config Config,
) *Service {
	return &Service{
		logger:     logger,
		prices:     prices,
		registry:   registry,
		results:    results,
		calculator: calculator,
		engine:     engine,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.New().String() },
	}
}

// WithClock replaces the clock used for lookback windows and timestamps
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AssetReturns loads the lookback window of every asset in the portfolio and
// converts it to return series keyed by symbol.
func (s *Service) AssetReturns(ctx context.Context, portfolioID string) (map[string]returns.Series, error) {
	if _, err := s.registry.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}

	assets, err := s.registry.ListAssets(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	window := utils.LookbackRange(s.now(), s.config.LookbackDays)
	series := make(map[string]returns.Series, len(assets))

	for _, asset := range assets {
		prices, err := s.prices.LoadPrices(ctx, asset.Symbol, asset.AssetType, window.Start, window.End)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", asset.Symbol, err)
		}
		series[seriesKey(asset, series)] = returns.FromPrices(prices)
	}

	return series, nil
}

// seriesKey is the asset symbol, qualified by asset type when a symbol is held
// under both asset types.
func seriesKey(asset types.Asset, existing map[string]returns.Series) string {
	if _, taken := existing[asset.Symbol]; taken {
		return fmt.Sprintf("%s:%s", asset.Symbol, asset.AssetType)
	}
	return asset.Symbol
}

func (s *Service) benchmark(ctx context.Context) returns.Series {
	window := utils.LookbackRange(s.now(), s.config.LookbackDays)

	prices, err := s.prices.LoadPrices(ctx, s.config.BenchmarkSymbol, s.config.BenchmarkAssetType, window.Start, window.End)
	if err != nil {
		s.logger.Warn("Benchmark unavailable",
			zap.String("symbol", s.config.BenchmarkSymbol),
			zap.Error(err),
		)
		return nil
	}
	return returns.FromPrices(prices)
}

func (s *Service) portfolioSeries(ctx context.Context, portfolioID string) (returns.Series, error) {
	assets, err := s.AssetReturns(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	series, err := returns.Portfolio(assets)
	if err != nil {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioID, err)
	}
	return series, nil
}

// CalculateRisk computes and stores a new risk snapshot for the portfolio
func (s *Service) CalculateRisk(ctx context.Context, portfolioID string) (types.RiskMetricsResult, error) {
	assets, err := s.AssetReturns(ctx, portfolioID)
	if err != nil {
		return types.RiskMetricsResult{}, err
	}

	result, err := s.calculator.Compute(assets, s.benchmark(ctx))
	if err != nil {
		return types.RiskMetricsResult{}, fmt.Errorf("portfolio %s: %w", portfolioID, err)
	}

	result.ID = s.newID()
	result.PortfolioID = portfolioID
	result.CalculatedAt = s.now()

	if err := s.results.SaveRiskMetrics(ctx, result); err != nil {
		return types.RiskMetricsResult{}, fmt.Errorf("failed to save risk metrics: %w", err)
	}

	s.logger.Info("Risk metrics calculated",
		zap.String("portfolioId", portfolioID),
		zap.String("id", result.ID),
		zap.Float64("var95", result.VaR95),
		zap.Float64("beta", result.Beta),
	)

	return result, nil
}

// Correlation analyzes the cross-asset correlation of the portfolio
func (s *Service) Correlation(ctx context.Context, portfolioID string) (types.CorrelationResult, error) {
	assets, err := s.AssetReturns(ctx, portfolioID)
	if err != nil {
		return types.CorrelationResult{}, err
	}
	return risk.Analyze(assets), nil
}

// StressTest runs the scenario catalog against the portfolio's return history
func (s *Service) StressTest(ctx context.Context, portfolioID string) (types.StressTestResult, error) {
	series, err := s.portfolioSeries(ctx, portfolioID)
	if err != nil {
		return types.StressTestResult{}, err
	}
	return risk.RunStressTest(series), nil
}

// MonteCarlo projects the portfolio forward. Non-positive counts fall back to
// the simulator defaults.
func (s *Service) MonteCarlo(ctx context.Context, portfolioID string, numSimulations, horizonDays int) (types.MonteCarloSummary, error) {
	series, err := s.portfolioSeries(ctx, portfolioID)
	if err != nil {
		return types.MonteCarloSummary{}, err
	}

	cfg := s.calculator.Simulator().Config()
	if numSimulations <= 0 {
		numSimulations = cfg.NumSimulations
	}
	if horizonDays <= 0 {
		horizonDays = cfg.HorizonDays
	}

	return s.calculator.Simulator().Run(series.Values(), numSimulations, horizonDays), nil
}

// RunBacktest loads the run's price history, simulates it and stores the result
func (s *Service) RunBacktest(ctx context.Context, run types.BacktestRun) (types.BacktestResult, error) {
	if err := backtester.Validate(run); err != nil {
		return types.BacktestResult{}, err
	}

	if run.ID == "" {
		run.ID = s.newID()
	}

	prices, err := s.prices.LoadPrices(ctx, run.Symbol, run.AssetType, run.StartDate, run.EndDate)
	if err != nil {
		return types.BacktestResult{}, fmt.Errorf("failed to load prices for %s: %w", run.Symbol, err)
	}

	result, err := s.engine.Run(prices, run)
	if err != nil {
		return types.BacktestResult{}, fmt.Errorf("backtest %s: %w", run.Symbol, err)
	}

	result.ID = run.ID
	result.CreatedAt = s.now()

	if err := s.results.SaveBacktestResult(ctx, result); err != nil {
		return types.BacktestResult{}, fmt.Errorf("failed to save backtest result: %w", err)
	}

	return result, nil
}
