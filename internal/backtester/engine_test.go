package backtester_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/internal/backtester"
	"github.com/tradelab/trading-backend/pkg/types"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func pricesFrom(closes ...float64) []types.PricePoint {
	out := make([]types.PricePoint, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = types.PricePoint{
			Timestamp: day0.AddDate(0, 0, i),
			Open:      d,
			High:      d,
			Low:       d,
			Close:     d,
			Volume:    1000,
		}
	}
	return out
}

func testRun(short, long int, capital int64) types.BacktestRun {
	return types.BacktestRun{
		Symbol:         "AAPL",
		AssetType:      types.AssetTypeStock,
		ShortWindow:    short,
		LongWindow:     long,
		InitialCapital: decimal.NewFromInt(capital),
	}
}

// roundTripCloses buys at 100 on bar 5 and sells at 104 on bar 8 with windows 1/3.
func roundTripCloses() []float64 {
	closes := []float64{100, 99, 98, 97, 96, 100, 104, 108, 104, 100}
	for c := 99.0; len(closes) < 30; c-- {
		closes = append(closes, c)
	}
	return closes
}

func TestEngineRunRoundTrip(t *testing.T) {
	engine := backtester.NewEngine(zap.NewNop())

	result, err := engine.Run(pricesFrom(roundTripCloses()...), testRun(1, 3, 1000))
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	buy, sell := result.Trades[0], result.Trades[1]

	assert.Equal(t, types.OrderSideBuy, buy.Side)
	assert.True(t, buy.Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, day0.AddDate(0, 0, 5), buy.Date)
	assert.True(t, buy.Commission.Equal(decimal.RequireFromString("0.1")))

	assert.Equal(t, types.OrderSideSell, sell.Side)
	assert.True(t, sell.Price.Equal(decimal.NewFromInt(104)))
	assert.Equal(t, day0.AddDate(0, 0, 8), sell.Date)

	assert.Equal(t, 1, result.TotalTrades)
	assert.Equal(t, 1, result.WinningTrades)
	assert.Equal(t, 1.0, result.WinRate)

	want := decimal.RequireFromString("1003.796")
	assert.True(t, result.FinalCapital.Equal(want), result.FinalCapital.String())
	assert.InDelta(t, 0.003796, result.TotalReturn, 1e-12)

	assert.Len(t, result.EquityCurve, 30)
	assert.Equal(t, 30, result.BarsProcessed)
	assert.LessOrEqual(t, result.MaxDrawdown, 0.0)
	assert.False(t, math.IsNaN(result.SharpeRatio))
}

func TestEngineEquityMarkedAfterFill(t *testing.T) {
	engine := backtester.NewEngine(zap.NewNop())

	result, err := engine.Run(pricesFrom(roundTripCloses()...), testRun(1, 3, 1000))
	require.NoError(t, err)

	// bar 5: bought one unit at 100 with 0.1 commission
	point := result.EquityCurve[5]
	assert.True(t, point.Cash.Equal(decimal.RequireFromString("899.9")), point.Cash.String())
	assert.True(t, point.Equity.Equal(decimal.RequireFromString("999.9")), point.Equity.String())

	// bar 7: position marked at 108
	assert.True(t, result.EquityCurve[7].Equity.Equal(decimal.RequireFromString("1007.9")))

	for _, p := range result.EquityCurve[:5] {
		assert.True(t, p.Equity.Equal(decimal.NewFromInt(1000)))
	}
}

func TestEngineIdempotent(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/7) + float64(i%5)
	}
	prices := pricesFrom(closes...)
	run := testRun(5, 20, 10000)

	engine := backtester.NewEngine(zap.NewNop())
	first, err := engine.Run(prices, run)
	require.NoError(t, err)
	second, err := engine.Run(prices, run)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.Trades)
}

func TestEngineMonotonicSingleBuy(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	result, err := backtester.NewEngine(zap.NewNop()).Run(pricesFrom(closes...), testRun(5, 20, 10000))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, types.OrderSideBuy, result.Trades[0].Side)
	assert.True(t, result.Trades[0].Price.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, 0, result.TotalTrades)
	assert.Equal(t, 0.0, result.WinRate)
}

func TestEngineFlatSeriesHasNoTrades(t *testing.T) {
	tests := []struct {
		close       float64
		short, long int
	}{
		{100.1, 5, 20},
		{100.1, 10, 30},
		{0.1, 3, 7},
		{33.3, 7, 13},
		{0.07, 10, 30},
		{1234.5678, 2, 50},
	}

	engine := backtester.NewEngine(zap.NewNop())
	for _, tt := range tests {
		closes := make([]float64, 60)
		for i := range closes {
			closes[i] = tt.close
		}

		result, err := engine.Run(pricesFrom(closes...), testRun(tt.short, tt.long, 10000))
		require.NoError(t, err)

		assert.Empty(t, result.Trades, "close=%v windows=%d/%d", tt.close, tt.short, tt.long)
		assert.Equal(t, 0, result.TotalTrades)
		assert.True(t, result.FinalCapital.Equal(decimal.NewFromInt(10000)), result.FinalCapital.String())
	}
}

func TestSpread(t *testing.T) {
	assert.Zero(t, backtester.Spread(100.1, 100.10000000000001))
	assert.Zero(t, backtester.Spread(0.07, 0.06999999999999999))
	assert.Zero(t, backtester.Spread(0, 0))
	assert.InDelta(t, 0.5, backtester.Spread(100.5, 100), 1e-12)
	assert.InDelta(t, -0.001, backtester.Spread(99.999, 100), 1e-9)
}

func TestStepPnLReconcilesEquity(t *testing.T) {
	capital := decimal.NewFromInt(1000)
	s := backtester.NewState(backtester.Params{ShortWindow: 1, LongWindow: 3}, capital)

	var sells []backtester.FillEvent
	for i, c := range roundTripCloses() {
		var evts []backtester.Event
		s, evts = backtester.Step(s, backtester.Bar{Timestamp: day0.AddDate(0, 0, i), Close: decimal.NewFromFloat(c)})

		for _, ev := range evts {
			switch e := ev.(type) {
			case backtester.FillEvent:
				if e.Trade.Side == types.OrderSideSell {
					sells = append(sells, e)
				} else {
					assert.True(t, e.RealizedPnL.IsZero())
				}
			case backtester.EquityEvent:
				total := capital.Add(e.RealizedPnL).Add(e.UnrealizedPnL)
				assert.True(t, e.Point.Equity.Equal(total), "bar %d: equity %s, capital+pnl %s", i, e.Point.Equity, total)
			}
		}
	}

	// bought at 100 for 100.1, sold at 104 less 0.104 commission
	require.Len(t, sells, 1)
	assert.True(t, sells[0].RealizedPnL.Equal(decimal.RequireFromString("3.796")), sells[0].RealizedPnL.String())
	assert.True(t, s.RealizedPnL.Equal(decimal.RequireFromString("3.796")), s.RealizedPnL.String())
}

func TestEngineInsufficientData(t *testing.T) {
	engine := backtester.NewEngine(zap.NewNop())

	closes := make([]float64, backtester.MinBars-1)
	for i := range closes {
		closes[i] = 100
	}
	_, err := engine.Run(pricesFrom(closes...), testRun(5, 20, 10000))
	assert.ErrorIs(t, err, backtester.ErrInsufficientData)

	// a zero close is not a usable bar
	closes = append(closes, 0)
	_, err = engine.Run(pricesFrom(closes...), testRun(5, 20, 10000))
	assert.ErrorIs(t, err, backtester.ErrInsufficientData)
}

func TestEngineRejectsInvalidRun(t *testing.T) {
	engine := backtester.NewEngine(zap.NewNop())
	prices := pricesFrom(roundTripCloses()...)

	_, err := engine.Run(prices, testRun(0, 3, 1000))
	assert.ErrorIs(t, err, backtester.ErrInvalidRun)

	_, err = engine.Run(prices, testRun(1, 3, 0))
	assert.ErrorIs(t, err, backtester.ErrInvalidRun)
}

func TestEngineUnaffordableBuyIsRejected(t *testing.T) {
	result, err := backtester.NewEngine(zap.NewNop()).Run(pricesFrom(roundTripCloses()...), testRun(1, 3, 50))
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.True(t, result.FinalCapital.Equal(decimal.NewFromInt(50)))
}

func TestStepIsPure(t *testing.T) {
	s := backtester.NewState(backtester.Params{ShortWindow: 1, LongWindow: 3}, decimal.NewFromInt(1000))
	bar := backtester.Bar{Timestamp: day0, Close: decimal.NewFromInt(100)}

	s, _ = backtester.Step(s, bar)
	before := len(s.Window)

	a, evA := backtester.Step(s, backtester.Bar{Timestamp: day0.AddDate(0, 0, 1), Close: decimal.NewFromInt(90)})
	b, evB := backtester.Step(s, backtester.Bar{Timestamp: day0.AddDate(0, 0, 1), Close: decimal.NewFromInt(90)})

	assert.Equal(t, a, b)
	assert.Equal(t, evA, evB)
	assert.Len(t, s.Window, before)

	require.NotEmpty(t, evA)
	last, ok := evA[len(evA)-1].(backtester.EquityEvent)
	require.True(t, ok)
	assert.True(t, last.Point.Equity.Equal(decimal.NewFromInt(1000)))
}

func TestStepWindowBounded(t *testing.T) {
	s := backtester.NewState(backtester.Params{ShortWindow: 2, LongWindow: 4}, decimal.NewFromInt(1000))
	for i := 0; i < 10; i++ {
		s, _ = backtester.Step(s, backtester.Bar{Timestamp: day0.AddDate(0, 0, i), Close: decimal.NewFromInt(int64(100 + i))})
	}
	assert.Equal(t, []float64{106, 107, 108, 109}, s.Window)
}

func TestStepEmitsSignalAndFill(t *testing.T) {
	s := backtester.NewState(backtester.Params{ShortWindow: 1, LongWindow: 3}, decimal.NewFromInt(1000))
	var all []backtester.Event
	for i, c := range roundTripCloses()[:6] {
		var evts []backtester.Event
		s, evts = backtester.Step(s, backtester.Bar{Timestamp: day0.AddDate(0, 0, i), Close: decimal.NewFromFloat(c)})
		all = append(all, evts...)
	}

	assert.Equal(t, backtester.StateLong, s.Position)

	var signals, fills int
	for _, ev := range all {
		switch e := ev.(type) {
		case backtester.SignalEvent:
			signals++
		case backtester.FillEvent:
			fills++
			assert.Equal(t, types.OrderSideBuy, e.Trade.Side)
		}
	}
	// a down cross on bar 1 while flat, then the up cross on bar 5
	assert.Equal(t, 2, signals)
	assert.Equal(t, 1, fills)
}

func TestMovingAverage(t *testing.T) {
	assert.Equal(t, 2.0, backtester.MovingAverage([]float64{1, 2, 3}, 5))
	assert.InDelta(t, 5.0, backtester.MovingAverage([]float64{1, 2, 3, 4, 5, 6}, 3), 1e-12)
	assert.InDelta(t, 6.0, backtester.MovingAverage([]float64{1, 2, 3, 4, 5, 6}, 1), 1e-12)
	assert.Zero(t, backtester.MovingAverage(nil, 3))
}

func TestWinRate(t *testing.T) {
	trade := func(side types.OrderSide, price int64) types.SimulatedTrade {
		return types.SimulatedTrade{Side: side, Price: decimal.NewFromInt(price), Size: decimal.NewFromInt(1)}
	}

	trades := []types.SimulatedTrade{
		trade(types.OrderSideBuy, 100),
		trade(types.OrderSideSell, 120),
		trade(types.OrderSideBuy, 110),
		trade(types.OrderSideSell, 90),
	}

	total, winning, rate := backtester.WinRate(trades)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, winning)
	assert.Equal(t, 0.5, rate)

	total, winning, rate = backtester.WinRate(trades[:1])
	assert.Zero(t, total)
	assert.Zero(t, winning)
	assert.Zero(t, rate)
}

func TestEquityReturns(t *testing.T) {
	curve := []types.EquityCurvePoint{
		{Equity: decimal.NewFromInt(100)},
		{Equity: decimal.NewFromInt(110)},
		{Equity: decimal.NewFromInt(99)},
	}

	r := backtester.EquityReturns(curve)
	require.Len(t, r, 2)
	assert.InDelta(t, 0.10, r[0], 1e-12)
	assert.InDelta(t, -0.10, r[1], 1e-12)
	assert.Nil(t, backtester.EquityReturns(curve[:1]))
}

func TestPortfolioBuySell(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(10000))

	p = p.Buy(decimal.NewFromInt(2), decimal.NewFromInt(100))
	assert.True(t, p.Cash.Equal(decimal.RequireFromString("9799.8")), p.Cash.String())
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, p.Equity(decimal.NewFromInt(110)).Equal(decimal.RequireFromString("10019.8")))
	assert.True(t, p.CostBasis.Equal(decimal.RequireFromString("200.2")), p.CostBasis.String())
	assert.True(t, p.UnrealizedPnL(decimal.NewFromInt(110)).Equal(decimal.RequireFromString("19.8")))

	p, pnl := p.Sell(decimal.NewFromInt(110))
	assert.True(t, pnl.Equal(decimal.RequireFromString("19.58")), pnl.String())
	assert.True(t, p.Cash.Equal(decimal.RequireFromString("10019.58")), p.Cash.String())
	assert.True(t, p.Quantity.IsZero())
	assert.True(t, p.CostBasis.IsZero())

	_, pnl = p.Sell(decimal.NewFromInt(110))
	assert.True(t, pnl.IsZero())
}
