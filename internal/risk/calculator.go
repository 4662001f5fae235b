package risk

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/internal/montecarlo"
	"github.com/tradelab/trading-backend/internal/returns"
	"github.com/tradelab/trading-backend/pkg/types"
)

// Calculator computes the full risk metrics set for a portfolio
type Calculator struct {
	logger       *zap.Logger
	simulator    *montecarlo.Simulator
	riskFreeRate float64
	confidence   float64
}

// NewCalculator creates a new risk calculator
func NewCalculator(logger *zap.Logger, simulator *montecarlo.Simulator, riskFreeRate float64) *Calculator {
	if simulator == nil {
		simulator = montecarlo.NewSimulator(logger, nil)
	}
	return &Calculator{
		logger:       logger,
		simulator:    simulator,
		riskFreeRate: riskFreeRate,
		confidence:   DefaultConfidence,
	}
}

// Simulator returns the Monte Carlo simulator used by the calculator
func (c *Calculator) Simulator() *montecarlo.Simulator {
	return c.simulator
}

// Compute builds the equal-weight portfolio series from the per-asset return
// series and derives every risk metric from it. The benchmark series feeds
// Beta only and may be empty. Returns returns.ErrInsufficientData when the
// portfolio series has fewer than two observations.
func (c *Calculator) Compute(assetSeries map[string]returns.Series, benchmark returns.Series) (types.RiskMetricsResult, error) {
	portfolio, err := returns.Portfolio(assetSeries)
	if err != nil {
		return types.RiskMetricsResult{}, fmt.Errorf("portfolio returns: %w", err)
	}

	r := portfolio.Values()

	result := types.RiskMetricsResult{
		VaR95:        VaR(r, c.confidence),
		CVaR95:       CVaR(r, c.confidence),
		SharpeRatio:  SharpeRatio(r, c.riskFreeRate),
		SortinoRatio: SortinoRatio(r, c.riskFreeRate),
		Beta:         Beta(portfolio, benchmark),
		MaxDrawdown:  MaxDrawdown(r),
		MonteCarlo:   c.simulator.RunDefault(r),
	}

	if len(benchmark) == 0 {
		c.logger.Debug("Benchmark unavailable, beta defaults to zero")
	}

	c.logger.Debug("Risk metrics computed",
		zap.Int("assets", len(assetSeries)),
		zap.Int("observations", len(r)),
		zap.Float64("var95", result.VaR95),
		zap.Float64("sharpe", result.SharpeRatio),
	)

	return result, nil
}
