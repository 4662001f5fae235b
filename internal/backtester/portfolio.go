package backtester

import (
	"github.com/shopspring/decimal"
)

var (
	// CommissionRate is charged on the notional value of every fill
	CommissionRate = decimal.NewFromFloat(0.001)

	// OrderSize is the fixed number of units bought on every entry
	OrderSize = decimal.NewFromInt(1)
)

// Portfolio is the simulated broker account of a single-symbol backtest.
// It is a value type: Buy and Sell return the updated account.
type Portfolio struct {
	Cash     decimal.Decimal
	Quantity decimal.Decimal

	// CostBasis is what the open position cost, buy commissions included
	CostBasis decimal.Decimal
}

// NewPortfolio creates a new portfolio
func NewPortfolio(initialCash decimal.Decimal) Portfolio {
	return Portfolio{Cash: initialCash}
}

// Commission returns the commission charged on a fill of the given notional value
func Commission(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(CommissionRate)
}

// CanAfford reports whether cash covers quantity units at price plus commission
func (p Portfolio) CanAfford(quantity, price decimal.Decimal) bool {
	notional := quantity.Mul(price)
	return p.Cash.GreaterThanOrEqual(notional.Add(Commission(notional)))
}

// Buy adds quantity units at price, deducting notional and commission from cash
func (p Portfolio) Buy(quantity, price decimal.Decimal) Portfolio {
	notional := quantity.Mul(price)
	cost := notional.Add(Commission(notional))

	return Portfolio{
		Cash:      p.Cash.Sub(cost),
		Quantity:  p.Quantity.Add(quantity),
		CostBasis: p.CostBasis.Add(cost),
	}
}

// Sell closes the whole position at price and returns the account and the realized PnL
func (p Portfolio) Sell(price decimal.Decimal) (Portfolio, decimal.Decimal) {
	if !p.Quantity.IsPositive() {
		return p, decimal.Zero
	}

	notional := p.Quantity.Mul(price)
	commission := Commission(notional)
	pnl := notional.Sub(p.CostBasis).Sub(commission)

	return Portfolio{Cash: p.Cash.Add(notional).Sub(commission)}, pnl
}

// Equity returns cash plus the position marked at price
func (p Portfolio) Equity(price decimal.Decimal) decimal.Decimal {
	return p.Cash.Add(p.Quantity.Mul(price))
}

// UnrealizedPnL returns the open position's PnL marked at price
func (p Portfolio) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price).Sub(p.CostBasis)
}
