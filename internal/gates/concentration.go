package gates

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Concentration caps a single ticker's share of the portfolio.
type Concentration struct {
	MaxPct float64
}

// Check allows the trade when (existing + proposed) / portfolio is at most
// MaxPct. The boundary is inclusive.
func (c Concentration) Check(ticker string, existing, proposed, portfolio decimal.Decimal) (bool, string) {
	if !portfolio.IsPositive() {
		return false, "portfolio value unavailable"
	}
	resulting := existing.Abs().Add(proposed.Abs())
	limit := portfolio.Mul(decimal.NewFromFloat(c.MaxPct)).Div(hundred)
	if resulting.LessThanOrEqual(limit) {
		return true, ""
	}
	pct := resulting.Div(portfolio).Mul(hundred)
	return false, fmt.Sprintf("concentration %s%% of portfolio in %s would exceed %.1f%% limit",
		pct.StringFixed(1), ticker, c.MaxPct)
}
