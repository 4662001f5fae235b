package backtester

import (
	"github.com/shopspring/decimal"

	"github.com/tradelab/trading-backend/internal/risk"
	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

// WinRate pairs the i-th buy with the i-th sell in execution order. It
// returns the number of completed pairs, how many sold above their buy
// price, and the winning fraction.
func WinRate(trades []types.SimulatedTrade) (total, winning int, rate float64) {
	var buys, sells []decimal.Decimal
	for _, t := range trades {
		switch t.Side {
		case types.OrderSideBuy:
			buys = append(buys, t.Price)
		case types.OrderSideSell:
			sells = append(sells, t.Price)
		}
	}

	total = min(len(buys), len(sells))
	for i := 0; i < total; i++ {
		if sells[i].GreaterThan(buys[i]) {
			winning++
		}
	}

	if total > 0 {
		rate = float64(winning) / float64(total)
	}
	return total, winning, rate
}

// EquityReturns returns the period-over-period percentage changes of the curve
func EquityReturns(curve []types.EquityCurvePoint) []float64 {
	if len(curve) < 2 {
		return nil
	}

	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			out = append(out, 0)
			continue
		}
		r, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		out = append(out, r)
	}
	return out
}

func buildResult(run types.BacktestRun, trades []types.SimulatedTrade, curve []types.EquityCurvePoint) types.BacktestResult {
	finalCapital := run.InitialCapital
	if len(curve) > 0 {
		finalCapital = curve[len(curve)-1].Equity
	}

	totalReturn, _ := finalCapital.Sub(run.InitialCapital).Div(run.InitialCapital).Float64()
	changes := EquityReturns(curve)
	total, winning, rate := WinRate(trades)

	return types.BacktestResult{
		Run:            run,
		InitialCapital: run.InitialCapital,
		FinalCapital:   finalCapital,
		TotalReturn:    utils.Finite(totalReturn),
		SharpeRatio:    risk.SharpeRatio(changes, 0),
		MaxDrawdown:    risk.MaxDrawdown(changes),
		WinRate:        rate,
		TotalTrades:    total,
		WinningTrades:  winning,
		BarsProcessed:  len(curve),
		EquityCurve:    curve,
		Trades:         trades,
	}
}
