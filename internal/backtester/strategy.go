package backtester

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// Cross is the direction of a moving-average crossover
type Cross int

const (
	CrossNone Cross = iota
	CrossUp
	CrossDown
)

func (c Cross) String() string {
	switch c {
	case CrossUp:
		return "up"
	case CrossDown:
		return "down"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler
func (c Cross) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Params are the strategy parameters of a moving-average crossover run
type Params struct {
	ShortWindow int
	LongWindow  int
}

func (p Params) maxWindow() int {
	return max(p.ShortWindow, p.LongWindow)
}

// MovingAverage returns the simple moving average of the last period closes.
// With fewer closes than period it falls back to the mean of all of them.
func MovingAverage(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if period <= 0 || len(closes) < period {
		return stat.Mean(closes, nil)
	}

	sma := talib.Sma(closes[len(closes)-period:], period)
	return sma[len(sma)-1]
}

// spreadTolerance is the relative gap below which two averages are equal
const spreadTolerance = 1e-9

// Spread returns shortMA - longMA, or zero when the averages differ only by
// floating-point rounding. A flat series therefore has no spread.
func Spread(shortMA, longMA float64) float64 {
	diff := shortMA - longMA
	if math.Abs(diff) <= spreadTolerance*math.Max(math.Abs(shortMA), math.Abs(longMA)) {
		return 0
	}
	return diff
}

// detectCross compares the sign of the previous and current MA spread
func detectCross(prevDiff, diff float64) Cross {
	switch {
	case prevDiff <= 0 && diff > 0:
		return CrossUp
	case prevDiff >= 0 && diff < 0:
		return CrossDown
	default:
		return CrossNone
	}
}
