// Package risk provides portfolio risk analytics: VaR, CVaR, Sharpe,
// Sortino, drawdown, beta, correlation and stress testing.
package risk

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/tradelab/trading-backend/internal/returns"
	"github.com/tradelab/trading-backend/pkg/utils"
)

const (
	// TradingDaysPerYear is the annualization factor for daily returns
	TradingDaysPerYear = 252

	// DefaultRiskFreeRate is the annual risk-free rate used by Sharpe and Sortino
	DefaultRiskFreeRate = 0.02

	// DefaultConfidence is the confidence level for VaR and CVaR
	DefaultConfidence = 0.95

	// epsilon below which a dispersion estimate is treated as zero
	epsilon = 1e-12
)

// Percentile returns the p-th percentile (0-100) of values with linear interpolation.
func Percentile(values []float64, p float64) float64 {
	return utils.Percentile(values, p)
}

// VaR returns the historical Value at Risk: the (1-confidence) percentile of returns.
func VaR(r []float64, confidence float64) float64 {
	if len(r) == 0 {
		return 0
	}
	return utils.Finite(Percentile(r, (1-confidence)*100))
}

// CVaR returns the mean of all returns at or below VaR, or 0 when none qualify.
func CVaR(r []float64, confidence float64) float64 {
	if len(r) == 0 {
		return 0
	}

	threshold := VaR(r, confidence)

	var sum float64
	var n int
	for _, v := range r {
		if v <= threshold {
			sum += v
			n++
		}
	}

	if n == 0 {
		return 0
	}
	return utils.Finite(sum / float64(n))
}

// SharpeRatio returns the annualized Sharpe ratio of daily returns against
// an annual risk-free rate.
func SharpeRatio(r []float64, riskFreeRate float64) float64 {
	if len(r) < 2 {
		return 0
	}

	sd := stat.StdDev(r, nil)
	if nearZero(sd) {
		return 0
	}

	return utils.Finite(excessMean(r, riskFreeRate) / sd * math.Sqrt(TradingDaysPerYear))
}

// SortinoRatio is SharpeRatio with the standard deviation of negative returns
// as denominator.
func SortinoRatio(r []float64, riskFreeRate float64) float64 {
	if len(r) < 2 {
		return 0
	}

	var downside []float64
	for _, v := range r {
		if v < 0 {
			downside = append(downside, v)
		}
	}
	if len(downside) < 2 {
		return 0
	}

	sd := stat.StdDev(downside, nil)
	if nearZero(sd) {
		return 0
	}

	return utils.Finite(excessMean(r, riskFreeRate) / sd * math.Sqrt(TradingDaysPerYear))
}

func nearZero(v float64) bool {
	return math.IsNaN(v) || math.Abs(v) < epsilon
}

func excessMean(r []float64, riskFreeRate float64) float64 {
	daily := riskFreeRate / TradingDaysPerYear
	return stat.Mean(r, nil) - daily
}

// MaxDrawdown returns the largest peak-to-trough decline of the cumulative
// wealth index built from r. The result is <= 0.
func MaxDrawdown(r []float64) float64 {
	if len(r) < 2 {
		return 0
	}

	wealth := 1.0
	peak := math.Inf(-1)
	worst := 0.0

	for _, v := range r {
		wealth *= 1 + v
		if wealth > peak {
			peak = wealth
		}
		if peak == 0 {
			continue
		}
		if dd := (wealth - peak) / peak; dd < worst {
			worst = dd
		}
	}

	return utils.Finite(worst)
}

// Beta returns cov(portfolio, benchmark) / var(benchmark) over the dates both
// series share. Covariance is the sample estimate and variance the population
// estimate. Missing benchmark data, fewer than two shared dates or a flat
// benchmark yield 0.
func Beta(portfolio, benchmark returns.Series) float64 {
	if len(portfolio) == 0 || len(benchmark) == 0 {
		return 0
	}

	dates, aligned := returns.Align(map[string]returns.Series{
		"portfolio": portfolio,
		"benchmark": benchmark,
	})
	if len(dates) < 2 {
		return 0
	}

	p, b := aligned["portfolio"], aligned["benchmark"]
	variance := stat.PopVariance(b, nil)
	if nearZero(math.Sqrt(variance)) {
		return 0
	}

	return utils.Finite(stat.Covariance(p, b, nil) / variance)
}

// AnnualVolatility returns the annualized standard deviation of daily returns
func AnnualVolatility(r []float64) float64 {
	if len(r) < 2 {
		return 0
	}
	return utils.Finite(stat.StdDev(r, nil) * math.Sqrt(TradingDaysPerYear))
}
