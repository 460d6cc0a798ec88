package gates

import (
	"fmt"

	"alpha_autotrader/internal/models"

	"github.com/shopspring/decimal"
)

// PDTGuard blocks a cycle when the account is below the pattern-day-trade
// equity threshold and has used up its day trades.
type PDTGuard struct {
	EquityThreshold decimal.Decimal
	MaxDayTrades    int
}

// Check returns false with a reason when the cycle must not trade.
func (g PDTGuard) Check(acct models.Account) (bool, string) {
	if acct.Equity.GreaterThanOrEqual(g.EquityThreshold) {
		return true, ""
	}
	if acct.DaytradeCount >= g.MaxDayTrades {
		return false, fmt.Sprintf("pattern day trade guard: %d day trades with equity %s below %s",
			acct.DaytradeCount, acct.Equity.StringFixed(2), g.EquityThreshold.StringFixed(2))
	}
	if acct.PatternDayTrader {
		return false, fmt.Sprintf("pattern day trade guard: account flagged PDT with equity %s below %s",
			acct.Equity.StringFixed(2), g.EquityThreshold.StringFixed(2))
	}
	return true, ""
}
