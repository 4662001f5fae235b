// Package utils provides common utility functions.
package utils

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Finite returns v, or 0 when v is NaN or infinite.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Percentile returns the p-th percentile (0-100) of values using linear
// interpolation between the closest ranks of the sorted sample.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return PercentileSorted(sorted, p)
}

// PercentileSorted is Percentile for input already sorted ascending.
func PercentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// DayKey truncates a timestamp to its UTC calendar day.
func DayKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TimeRange represents a closed time range. A zero Start or End leaves that
// side open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains checks if a time is within the range.
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	return tr.End.IsZero() || !t.After(tr.End)
}

// LookbackRange returns the range ending at end and spanning the given number of days.
func LookbackRange(end time.Time, days int) TimeRange {
	return TimeRange{Start: end.AddDate(0, 0, -days), End: end}
}

// ParseTimeRange parses a time range string (e.g., "30d", "12w", "1y").
func ParseTimeRange(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid time range: %s", s)
	}

	value := 0
	for i, c := range s {
		if c >= '0' && c <= '9' {
			value = value*10 + int(c-'0')
			continue
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid time range: %s", s)
		}
		switch unit := s[i:]; unit {
		case "d", "day", "days":
			return time.Duration(value) * 24 * time.Hour, nil
		case "w", "week", "weeks":
			return time.Duration(value) * 7 * 24 * time.Hour, nil
		case "mo", "month", "months":
			return time.Duration(value) * 30 * 24 * time.Hour, nil
		case "y", "year", "years":
			return time.Duration(value) * 365 * 24 * time.Hour, nil
		default:
			return 0, fmt.Errorf("unknown time unit: %s", unit)
		}
	}

	return 0, fmt.Errorf("invalid time range: %s", s)
}

// FormatMoney formats a decimal as money.
func FormatMoney(d decimal.Decimal, currency string) string {
	switch strings.ToUpper(currency) {
	case "USD", "USDT", "USDC":
		return "$" + d.StringFixed(2)
	case "GBP":
		return "£" + d.StringFixed(2)
	case "EUR":
		return "€" + d.StringFixed(2)
	case "BTC":
		return d.StringFixed(8) + " BTC"
	default:
		return d.StringFixed(2) + " " + currency
	}
}

// FormatPercent formats a ratio (0.0123) as a percentage string ("1.23%").
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%.2f%%", Finite(ratio)*100)
}
