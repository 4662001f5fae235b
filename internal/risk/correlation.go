package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tradelab/trading-backend/internal/returns"
	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

const (
	msgNeedMoreAssets   = "need at least 2 assets"
	msgInsufficientData = "insufficient price data"
)

// Analyze builds the Pearson correlation matrix of the given assets over the
// dates they all share and derives diversification scores from its upper
// triangle. Too few assets or too little data produce an informational
// result rather than an error.
func Analyze(assetSeries map[string]returns.Series) types.CorrelationResult {
	if len(assetSeries) < 2 {
		return types.CorrelationResult{
			Status:  types.CorrelationStatusNeedMoreAssets,
			Message: msgNeedMoreAssets,
		}
	}

	usable := make(map[string]returns.Series, len(assetSeries))
	for symbol, s := range assetSeries {
		if s.Len() >= returns.MinObservations {
			usable[symbol] = s
		}
	}
	if len(usable) < 2 {
		return insufficientCorrelation()
	}

	dates, aligned := returns.Align(usable)
	if len(dates) < returns.MinObservations {
		return insufficientCorrelation()
	}

	symbols := make([]string, 0, len(aligned))
	for symbol := range aligned {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	matrix := make(map[string]map[string]float64, len(symbols))
	for _, symbol := range symbols {
		matrix[symbol] = make(map[string]float64, len(symbols))
		matrix[symbol][symbol] = 1.0
	}

	var upper []float64
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			a, b := symbols[i], symbols[j]
			rho := utils.Finite(stat.Correlation(aligned[a], aligned[b], nil))
			matrix[a][b] = rho
			matrix[b][a] = rho
			upper = append(upper, rho)
		}
	}

	avg := stat.Mean(upper, nil)
	maxCorr, minCorr := math.Inf(-1), math.Inf(1)
	for _, rho := range upper {
		maxCorr = math.Max(maxCorr, rho)
		minCorr = math.Min(minCorr, rho)
	}

	return types.CorrelationResult{
		Status:               types.CorrelationStatusOK,
		Symbols:              symbols,
		Matrix:               matrix,
		AverageCorrelation:   utils.Finite(avg),
		MaxCorrelation:       utils.Finite(maxCorr),
		MinCorrelation:       utils.Finite(minCorr),
		DiversificationScore: utils.Finite(1 - avg),
		Observations:         len(dates),
	}
}

func insufficientCorrelation() types.CorrelationResult {
	return types.CorrelationResult{
		Status:  types.CorrelationStatusInsufficientData,
		Message: msgInsufficientData,
	}
}
