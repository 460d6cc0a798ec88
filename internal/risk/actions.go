// Package risk turns prices, holdings and limits into the bounded action
// space the decision engine may choose from.
package risk

import (
	"fmt"
	"strings"

	"alpha_autotrader/internal/models"

	"github.com/shopspring/decimal"
)

// fractionalPlaces is the precision used for fractionable buys.
const fractionalPlaces = 4

// paperShortEquityCap bounds the relaxed short cap to a share of equity.
var paperShortEquityCap = decimal.NewFromFloat(0.30)

// Holding is the held quantity per side, both non-negative.
type Holding struct {
	Long  decimal.Decimal
	Short decimal.Decimal
}

// Portfolio is the account view the calculator needs.
type Portfolio struct {
	Cash              decimal.Decimal
	BuyingPower       decimal.Decimal
	Equity            decimal.Decimal
	MarginRequirement decimal.Decimal // fraction of position value posted as margin, e.g. 0.5
	MarginUsed        decimal.Decimal
	Positions         map[string]Holding
	OpenOrders        map[string]int
}

// AvailableMargin is equity/margin_requirement - margin_used, floored at zero.
func (p Portfolio) AvailableMargin() decimal.Decimal {
	if !p.MarginRequirement.IsPositive() {
		return decimal.Zero
	}
	m := p.Equity.Div(p.MarginRequirement).Sub(p.MarginUsed)
	if m.IsNegative() {
		return decimal.Zero
	}
	return m
}

// Inputs to AllowedActions. RiskBudgets are remaining shares per ticker.
type Inputs struct {
	Prices       map[string]decimal.Decimal
	RiskBudgets  map[string]decimal.Decimal
	Fractionable map[string]bool
	Portfolio    Portfolio
	Paper        bool
	// PaperRelaxation lets paper accounts buy or short past a zero risk
	// budget. Live accounts ignore it.
	PaperRelaxation bool
}

// AllowedActions computes the action caps for each ticker. It performs no
// I/O and returns the same result for the same inputs.
func AllowedActions(in Inputs, tickers []string) map[string]models.AllowedActionSet {
	out := make(map[string]models.AllowedActionSet, len(tickers))
	for _, t := range tickers {
		out[t] = allowedFor(in, t)
	}
	return out
}

func allowedFor(in Inputs, ticker string) models.AllowedActionSet {
	price := in.Prices[ticker]
	budget := in.RiskBudgets[ticker]
	held := in.Portfolio.Positions[ticker]
	openOrders := in.Portfolio.OpenOrders[ticker]
	fractionable := in.Fractionable[ticker]
	bp := in.Portfolio.BuyingPower
	margin := in.Portfolio.AvailableMargin()

	caps := map[models.Action]decimal.Decimal{
		models.ActionBuy:    decimal.Zero,
		models.ActionSell:   nonNegative(held.Long),
		models.ActionShort:  decimal.Zero,
		models.ActionCover:  nonNegative(held.Short),
		models.ActionHold:   decimal.Zero,
		models.ActionCancel: decimal.NewFromInt(int64(max(openOrders, 0))),
	}

	var reasons []string
	switch {
	case openOrders > 0:
		reasons = append(reasons, fmt.Sprintf("pending order: %d open on %s", openOrders, ticker))
	case !price.IsPositive():
		reasons = append(reasons, fmt.Sprintf("no valid price for %s", ticker))
	case !budget.IsPositive():
		reasons = append(reasons, fmt.Sprintf("risk budget exhausted for %s", ticker))
		if in.Paper && in.PaperRelaxation {
			if bp.GreaterThan(price) {
				caps[models.ActionBuy] = shares(bp.Div(price), fractionable)
			}
			caps[models.ActionShort] = shares(decimal.Min(margin, in.Portfolio.Equity.Mul(paperShortEquityCap)).Div(price), false)
			reasons = append(reasons, "paper relaxation applied")
		}
	default:
		buy := decimal.Min(budget, shares(bp.Div(price), fractionable))
		if !buy.IsPositive() {
			reasons = append(reasons, fmt.Sprintf("insufficient buying power (%s) for one share at %s", bp.StringFixed(2), price.StringFixed(2)))
			buy = decimal.Zero
		}
		short := decimal.Min(budget.Floor(), shares(margin.Div(price), false))
		if !short.IsPositive() {
			reasons = append(reasons, "insufficient margin to short")
			short = decimal.Zero
		}
		caps[models.ActionBuy] = buy
		caps[models.ActionShort] = short
	}

	return models.AllowedActionSet{
		Ticker:      ticker,
		Caps:        caps,
		BlockReason: strings.Join(reasons, "; "),
	}
}

// shares rounds a share count down to what the broker will accept.
func shares(q decimal.Decimal, fractionable bool) decimal.Decimal {
	if !q.IsPositive() {
		return decimal.Zero
	}
	if fractionable {
		return q.RoundFloor(fractionalPlaces)
	}
	return q.Floor()
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Table renders a set as "buy<=2 sell<=0 ..." in AllActions order.
func Table(s models.AllowedActionSet) string {
	parts := make([]string, 0, len(models.AllActions))
	for _, a := range models.AllActions {
		parts = append(parts, fmt.Sprintf("%s<=%s", a, s.Cap(a).String()))
	}
	return strings.Join(parts, " ")
}
