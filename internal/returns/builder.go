// Package returns converts OHLC price history into aligned daily return series.
package returns

import (
	"errors"
	"sort"
	"time"

	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

// ErrInsufficientData is returned when too few aligned observations remain to compute risk.
var ErrInsufficientData = errors.New("insufficient data")

// MinObservations is the minimum number of returns a series needs for risk computation.
const MinObservations = 2

// Series is an ordered sequence of simple returns
type Series []types.ReturnPoint

// Values returns the raw return values in order
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Return
	}
	return out
}

// Len returns the number of observations
func (s Series) Len() int { return len(s) }

// FromPrices builds a simple-return series from ordered price points.
// Fewer than two points yields an empty series.
func FromPrices(prices []types.PricePoint) Series {
	if len(prices) < 2 {
		return Series{}
	}

	sorted := make([]types.PricePoint, len(prices))
	copy(sorted, prices)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	series := make(Series, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1].Close
		if !prev.IsPositive() {
			continue
		}
		ret, _ := sorted[i].Close.Div(prev).Float64()
		series = append(series, types.ReturnPoint{
			Timestamp: sorted[i].Timestamp,
			Return:    ret - 1,
		})
	}

	return series
}

// Align inner-joins several series on calendar day. It returns the shared
// dates in ascending order and, per symbol, the values on those dates.
// Empty series are ignored.
func Align(series map[string]Series) ([]time.Time, map[string][]float64) {
	counts := make(map[time.Time]int)
	byDay := make(map[string]map[time.Time]float64, len(series))
	contributing := 0

	for symbol, s := range series {
		if len(s) == 0 {
			continue
		}
		contributing++
		days := make(map[time.Time]float64, len(s))
		for _, p := range s {
			days[utils.DayKey(p.Timestamp)] = p.Return
		}
		for day := range days {
			counts[day]++
		}
		byDay[symbol] = days
	}

	dates := make([]time.Time, 0, len(counts))
	for day, n := range counts {
		if n == contributing {
			dates = append(dates, day)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	aligned := make(map[string][]float64, len(byDay))
	for symbol, days := range byDay {
		values := make([]float64, len(dates))
		for i, day := range dates {
			values[i] = days[day]
		}
		aligned[symbol] = values
	}

	return dates, aligned
}

// Portfolio builds the equal-weight portfolio return series from per-asset
// series. A single contributing asset is used as-is; multiple assets are
// restricted to the dates they all share.
func Portfolio(series map[string]Series) (Series, error) {
	var nonEmpty []Series
	for _, s := range series {
		if len(s) > 0 {
			nonEmpty = append(nonEmpty, s)
		}
	}

	if len(nonEmpty) == 1 {
		if len(nonEmpty[0]) < MinObservations {
			return nil, ErrInsufficientData
		}
		out := make(Series, len(nonEmpty[0]))
		copy(out, nonEmpty[0])
		return out, nil
	}

	dates, aligned := Align(series)
	if len(dates) < MinObservations {
		return nil, ErrInsufficientData
	}

	symbols := make([]string, 0, len(aligned))
	for symbol := range aligned {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	out := make(Series, len(dates))
	weight := 1.0 / float64(len(symbols))
	for i, day := range dates {
		var sum float64
		for _, symbol := range symbols {
			sum += aligned[symbol][i]
		}
		out[i] = types.ReturnPoint{Timestamp: day, Return: sum * weight}
	}

	return out, nil
}
