package backtester

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradelab/trading-backend/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeSignal   EventType = "signal"
	EventTypeFill     EventType = "fill"
	EventTypeRejected EventType = "rejected"
	EventTypeEquity   EventType = "equity"
)

// Event is the base interface for all events emitted by Step
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) GetType() EventType      { return e.Type }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// SignalEvent is emitted when the moving averages cross
type SignalEvent struct {
	BaseEvent
	Cross   Cross   `json:"cross"`
	ShortMA float64 `json:"shortMa"`
	LongMA  float64 `json:"longMa"`
}

// FillEvent is emitted when a synthetic order is executed
type FillEvent struct {
	BaseEvent
	Trade types.SimulatedTrade `json:"trade"`

	// RealizedPnL is set on sells: proceeds less cost basis and commission
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// RejectedEvent is emitted when a buy signal cannot be funded
type RejectedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// EquityEvent carries the mark-to-market point recorded for every bar.
// Point.Equity always equals initial capital plus RealizedPnL plus UnrealizedPnL.
type EquityEvent struct {
	BaseEvent
	Point         types.EquityCurvePoint `json:"point"`
	RealizedPnL   decimal.Decimal        `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal        `json:"unrealizedPnl"`
}
