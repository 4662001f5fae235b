package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelab/trading-backend/internal/returns"
	"github.com/tradelab/trading-backend/pkg/types"
)

func TestAnalyzeNeedMoreAssets(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	result := Analyze(map[string]returns.Series{"AAPL": series(start, 0.01, 0.02, 0.03)})
	assert.Equal(t, types.CorrelationStatusNeedMoreAssets, result.Status)
	assert.Equal(t, "need at least 2 assets", result.Message)
	assert.Nil(t, result.Matrix)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	result := Analyze(map[string]returns.Series{
		"AAPL": series(start, 0.01, 0.02, 0.03),
		"MSFT": series(start, 0.01),
	})
	assert.Equal(t, types.CorrelationStatusInsufficientData, result.Status)
	assert.Equal(t, "insufficient price data", result.Message)

	disjoint := Analyze(map[string]returns.Series{
		"AAPL": series(start, 0.01, 0.02, 0.03),
		"MSFT": series(start.AddDate(0, 1, 0), 0.01, 0.02, 0.03),
	})
	assert.Equal(t, types.CorrelationStatusInsufficientData, disjoint.Status)
}

func TestAnalyzeMatrix(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a := series(start, 0.01, -0.02, 0.03, 0.005, -0.01)
	b := series(start, 0.02, -0.04, 0.06, 0.010, -0.02)    // perfectly correlated with a
	c := series(start, -0.01, 0.02, -0.03, -0.005, 0.01)   // perfectly anti-correlated with a
	d := series(start, 0.003, 0.001, -0.002, 0.004, 0.000) // unrelated

	result := Analyze(map[string]returns.Series{"A": a, "B": b, "C": c, "D": d})
	require.Equal(t, types.CorrelationStatusOK, result.Status)
	assert.Equal(t, []string{"A", "B", "C", "D"}, result.Symbols)
	assert.Equal(t, 5, result.Observations)

	for _, x := range result.Symbols {
		assert.Equal(t, 1.0, result.Matrix[x][x], "diagonal %s", x)
		for _, y := range result.Symbols {
			assert.Equal(t, result.Matrix[x][y], result.Matrix[y][x], "symmetry %s/%s", x, y)
			assert.GreaterOrEqual(t, result.Matrix[x][y], -1.0-1e-12)
			assert.LessOrEqual(t, result.Matrix[x][y], 1.0+1e-12)
		}
	}

	assert.InDelta(t, 1.0, result.Matrix["A"]["B"], 1e-9)
	assert.InDelta(t, -1.0, result.Matrix["A"]["C"], 1e-9)
	assert.InDelta(t, 1.0, result.MaxCorrelation, 1e-9)
	assert.InDelta(t, -1.0, result.MinCorrelation, 1e-9)
	assert.Equal(t, 1-result.AverageCorrelation, result.DiversificationScore)
}

func TestAnalyzeScoreNotClamped(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a := series(start, 0.01, -0.02, 0.03)
	b := series(start, -0.01, 0.02, -0.03)

	result := Analyze(map[string]returns.Series{"A": a, "B": b})
	require.Equal(t, types.CorrelationStatusOK, result.Status)
	assert.InDelta(t, -1.0, result.AverageCorrelation, 1e-9)
	assert.InDelta(t, 2.0, result.DiversificationScore, 1e-9)
}

func TestAnalyzeFlatSeriesCoercedToZero(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a := series(start, 0.01, -0.02, 0.03)
	flat := series(start, 0, 0, 0)

	result := Analyze(map[string]returns.Series{"A": a, "FLAT": flat})
	require.Equal(t, types.CorrelationStatusOK, result.Status)
	assert.Zero(t, result.Matrix["A"]["FLAT"])
	assert.Equal(t, 1.0, result.DiversificationScore)
}
