package risk

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PositionLimit caps each ticker's exposure at MaxPositionPct of equity.
type PositionLimit struct {
	MaxPositionPct float64
}

// RemainingShares returns floor(equity*pct/price) minus what is already held,
// never negative. A non-positive price yields zero.
func (l PositionLimit) RemainingShares(equity, price, held decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !equity.IsPositive() || l.MaxPositionPct <= 0 {
		return decimal.Zero
	}
	limit := equity.Mul(decimal.NewFromFloat(l.MaxPositionPct)).Div(hundred).Div(price).Floor()
	remaining := limit.Sub(held.Abs())
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Budgets computes remaining shares for every priced ticker.
func (l PositionLimit) Budgets(equity decimal.Decimal, prices map[string]decimal.Decimal, positions map[string]Holding) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(prices))
	for t, p := range prices {
		h := positions[t]
		out[t] = l.RemainingShares(equity, p, h.Long.Add(h.Short))
	}
	return out
}
