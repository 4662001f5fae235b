package returns

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelab/trading-backend/pkg/types"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func bars(start time.Time, closes ...float64) []types.PricePoint {
	out := make([]types.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = types.PricePoint{
			Timestamp: start.AddDate(0, 0, i),
			Close:     decimal.NewFromFloat(c),
		}
	}
	return out
}

func TestFromPrices(t *testing.T) {
	series := FromPrices(bars(day0, 100, 110, 99))

	require.Len(t, series, 2)
	assert.InDelta(t, 0.10, series[0].Return, 1e-12)
	assert.InDelta(t, -0.10, series[1].Return, 1e-12)
	assert.Equal(t, day0.AddDate(0, 0, 1), series[0].Timestamp)
}

func TestFromPricesTooShort(t *testing.T) {
	assert.Empty(t, FromPrices(nil))
	assert.Empty(t, FromPrices(bars(day0, 100)))
}

func TestFromPricesSortsUnorderedInput(t *testing.T) {
	input := bars(day0, 100, 200)
	input[0], input[1] = input[1], input[0]

	series := FromPrices(input)
	require.Len(t, series, 1)
	assert.InDelta(t, 1.0, series[0].Return, 1e-12)
}

func TestFromPricesSkipsZeroClose(t *testing.T) {
	series := FromPrices(bars(day0, 0, 100, 110))

	require.Len(t, series, 1)
	assert.InDelta(t, 0.10, series[0].Return, 1e-12)
}

func TestPortfolioSingleAsset(t *testing.T) {
	aapl := FromPrices(bars(day0, 100, 101, 102))

	series, err := Portfolio(map[string]Series{"AAPL": aapl, "EMPTY": {}})
	require.NoError(t, err)
	assert.Equal(t, aapl, series)
}

func TestPortfolioEqualWeightIntersection(t *testing.T) {
	a := FromPrices(bars(day0, 100, 110, 121, 133.1))
	// starts one day later: only the last two return dates overlap
	b := FromPrices(bars(day0.AddDate(0, 0, 1), 50, 45, 40.5))

	series, err := Portfolio(map[string]Series{"A": a, "B": b})
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, day0.AddDate(0, 0, 2), series[0].Timestamp)
	assert.InDelta(t, (0.10+-0.10)/2, series[0].Return, 1e-9)
	assert.InDelta(t, (0.10+-0.10)/2, series[1].Return, 1e-9)
}

func TestPortfolioNoOverlap(t *testing.T) {
	a := FromPrices(bars(day0, 100, 101, 102))
	b := FromPrices(bars(day0.AddDate(0, 1, 0), 100, 101, 102))

	_, err := Portfolio(map[string]Series{"A": a, "B": b})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPortfolioSingleReturn(t *testing.T) {
	_, err := Portfolio(map[string]Series{"A": FromPrices(bars(day0, 100, 101))})
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Portfolio(map[string]Series{})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAlignIgnoresIntradayTime(t *testing.T) {
	a := Series{
		{Timestamp: day0.Add(16 * time.Hour), Return: 0.01},
		{Timestamp: day0.AddDate(0, 0, 1).Add(16 * time.Hour), Return: 0.02},
	}
	b := Series{
		{Timestamp: day0, Return: -0.01},
		{Timestamp: day0.AddDate(0, 0, 1), Return: -0.02},
	}

	dates, aligned := Align(map[string]Series{"A": a, "B": b})
	require.Len(t, dates, 2)
	assert.Equal(t, []float64{0.01, 0.02}, aligned["A"])
	assert.Equal(t, []float64{-0.01, -0.02}, aligned["B"])
}
