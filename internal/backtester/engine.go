// Package backtester replays daily price history through a moving-average
// crossover strategy and reports the simulated performance.
package backtester

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/pkg/types"
)

// MinBars is the minimum number of usable bars a backtest needs
const MinBars = 30

var (
	// ErrInsufficientData is returned when fewer than MinBars usable bars are supplied
	ErrInsufficientData = errors.New("insufficient data for backtest")

	// ErrInvalidRun is returned for invalid strategy parameters or capital
	ErrInvalidRun = errors.New("invalid backtest run")
)

// PositionState is FLAT or LONG
type PositionState string

const (
	StateFlat PositionState = "FLAT"
	StateLong PositionState = "LONG"
)

// Bar is the slice of a price point the strategy consumes
type Bar struct {
	Timestamp time.Time
	Close     decimal.Decimal
}

// State is the full simulation state between two bars
type State struct {
	Params    Params
	Position  PositionState
	Portfolio Portfolio
	Window    []float64
	PrevDiff  float64
	HasPrev   bool

	// RealizedPnL accumulates the PnL of closed positions net of commissions
	RealizedPnL decimal.Decimal
}

// NewState returns the state before the first bar
func NewState(params Params, initialCapital decimal.Decimal) State {
	return State{
		Params:    params,
		Position:  StateFlat,
		Portfolio: NewPortfolio(initialCapital),
	}
}

// Step advances the simulation by one bar. It never mutates s and returns the
// new state together with the events the bar produced. An EquityEvent is
// always the last event.
func Step(s State, bar Bar) (State, []Event) {
	price, _ := bar.Close.Float64()

	next := s
	next.Window = appendWindow(s.Window, price, s.Params.maxWindow())

	shortMA := MovingAverage(next.Window, s.Params.ShortWindow)
	longMA := MovingAverage(next.Window, s.Params.LongWindow)
	diff := Spread(shortMA, longMA)

	cross := CrossNone
	if s.HasPrev {
		cross = detectCross(s.PrevDiff, diff)
	}
	next.PrevDiff = diff
	next.HasPrev = true

	var evts []Event
	if cross != CrossNone {
		evts = append(evts, SignalEvent{
			BaseEvent: BaseEvent{Type: EventTypeSignal, Timestamp: bar.Timestamp},
			Cross:     cross,
			ShortMA:   shortMA,
			LongMA:    longMA,
		})
	}

	switch {
	case cross == CrossUp && s.Position == StateFlat:
		if !s.Portfolio.CanAfford(OrderSize, bar.Close) {
			evts = append(evts, RejectedEvent{
				BaseEvent: BaseEvent{Type: EventTypeRejected, Timestamp: bar.Timestamp},
				Reason:    "insufficient cash",
			})
			break
		}
		next.Portfolio = s.Portfolio.Buy(OrderSize, bar.Close)
		next.Position = StateLong
		evts = append(evts, fill(bar, types.OrderSideBuy, OrderSize))

	case cross == CrossDown && s.Position == StateLong:
		size := s.Portfolio.Quantity
		var pnl decimal.Decimal
		next.Portfolio, pnl = s.Portfolio.Sell(bar.Close)
		next.Position = StateFlat
		next.RealizedPnL = s.RealizedPnL.Add(pnl)
		sell := fill(bar, types.OrderSideSell, size)
		sell.RealizedPnL = pnl
		evts = append(evts, sell)
	}

	evts = append(evts, EquityEvent{
		BaseEvent: BaseEvent{Type: EventTypeEquity, Timestamp: bar.Timestamp},
		Point: types.EquityCurvePoint{
			Timestamp: bar.Timestamp,
			Equity:    next.Portfolio.Equity(bar.Close),
			Cash:      next.Portfolio.Cash,
		},
		RealizedPnL:   next.RealizedPnL,
		UnrealizedPnL: next.Portfolio.UnrealizedPnL(bar.Close),
	})

	return next, evts
}

func fill(bar Bar, side types.OrderSide, size decimal.Decimal) FillEvent {
	value := size.Mul(bar.Close)
	return FillEvent{
		BaseEvent: BaseEvent{Type: EventTypeFill, Timestamp: bar.Timestamp},
		Trade: types.SimulatedTrade{
			Date:       bar.Timestamp,
			Side:       side,
			Price:      bar.Close,
			Size:       size,
			Value:      value,
			Commission: Commission(value),
		},
	}
}

// appendWindow returns a new slice holding the last size values of window plus v
func appendWindow(window []float64, v float64, size int) []float64 {
	if size < 1 {
		size = 1
	}
	start := 0
	if len(window)+1 > size {
		start = len(window) + 1 - size
	}
	out := make([]float64, 0, len(window)-start+1)
	out = append(out, window[start:]...)
	return append(out, v)
}

// Replay folds Step over bars and collects the trades and equity curve
func Replay(s State, bars []Bar) (State, []types.SimulatedTrade, []types.EquityCurvePoint) {
	trades := make([]types.SimulatedTrade, 0)
	curve := make([]types.EquityCurvePoint, 0, len(bars))

	for _, bar := range bars {
		var evts []Event
		s, evts = Step(s, bar)
		for _, ev := range evts {
			switch e := ev.(type) {
			case FillEvent:
				trades = append(trades, e.Trade)
			case EquityEvent:
				curve = append(curve, e.Point)
			}
		}
	}

	return s, trades, curve
}

// UsableBars orders prices by timestamp and keeps those with a positive close
func UsableBars(prices []types.PricePoint) []Bar {
	bars := make([]Bar, 0, len(prices))
	for _, p := range prices {
		if p.Close.IsPositive() {
			bars = append(bars, Bar{Timestamp: p.Timestamp, Close: p.Close})
		}
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars
}

// Engine runs moving-average crossover backtests
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a new backtesting engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Validate checks the run parameters
func Validate(run types.BacktestRun) error {
	if run.ShortWindow < 1 || run.LongWindow < 1 {
		return fmt.Errorf("%w: windows must be positive (short=%d, long=%d)", ErrInvalidRun, run.ShortWindow, run.LongWindow)
	}
	if !run.InitialCapital.IsPositive() {
		return fmt.Errorf("%w: initial capital must be positive", ErrInvalidRun)
	}
	return nil
}

// Run executes a backtest over prices. The result carries no ID or creation
// time; identical inputs always produce identical results.
func (e *Engine) Run(prices []types.PricePoint, run types.BacktestRun) (types.BacktestResult, error) {
	if err := Validate(run); err != nil {
		return types.BacktestResult{}, err
	}

	bars := UsableBars(prices)
	if len(bars) < MinBars {
		return types.BacktestResult{}, fmt.Errorf("%w: %d bars, need %d", ErrInsufficientData, len(bars), MinBars)
	}

	params := Params{ShortWindow: run.ShortWindow, LongWindow: run.LongWindow}
	final, trades, curve := Replay(NewState(params, run.InitialCapital), bars)

	result := buildResult(run, trades, curve)

	e.logger.Info("Backtest completed",
		zap.String("symbol", run.Symbol),
		zap.Int("bars", len(bars)),
		zap.Int("fills", len(trades)),
		zap.String("finalPosition", string(final.Position)),
		zap.String("realizedPnl", final.RealizedPnL.String()),
		zap.String("finalCapital", result.FinalCapital.String()),
	)

	return result, nil
}
