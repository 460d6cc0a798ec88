package gates

import (
	"fmt"
	"time"

	"alpha_autotrader/internal/models"

	"github.com/shopspring/decimal"
)

// RotationCandidate is the position chosen to free capital.
type RotationCandidate struct {
	Ticker       string
	Qty          decimal.Decimal
	Short        bool
	Score        float64
	CapitalFreed decimal.Decimal
	Reason       string
}

// RotationScorer ranks open positions for a single greedy close.
type RotationScorer struct {
	MinBuyingPowerPct float64
	Now               func() time.Time
}

// Needed reports whether buying power is below MinBuyingPowerPct of the
// portfolio value.
func (s RotationScorer) Needed(buyingPower, portfolioValue decimal.Decimal) bool {
	if !portfolioValue.IsPositive() {
		return false
	}
	floor := portfolioValue.Mul(decimal.NewFromFloat(s.MinBuyingPowerPct)).Div(hundred)
	return buyingPower.LessThan(floor)
}

// Score combines loss severity, staleness in days and the share of capital
// the close would free. Losing positions always outrank flat or winning ones.
func (s RotationScorer) Score(p models.BrokerPosition, openedAt time.Time, totalValue decimal.Decimal) float64 {
	score := 0.0
	plpc, _ := p.UnrealizedPLPC.Float64()
	if plpc < 0 {
		score += 100 - plpc*100
	}
	if !openedAt.IsZero() {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		score += now().Sub(openedAt).Hours() / 24
	}
	if totalValue.IsPositive() {
		share, _ := p.MarketValue.Abs().Div(totalValue).Float64()
		score += share * 10
	}
	return score
}

// Pick returns the highest-scoring position. Ties go to the larger capital
// freed, then to the lexically smaller ticker.
func (s RotationScorer) Pick(positions []models.BrokerPosition, openedAt map[string]time.Time) (RotationCandidate, bool) {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue.Abs())
	}

	var best RotationCandidate
	found := false
	for _, p := range positions {
		if p.AbsQty().IsZero() {
			continue
		}
		c := RotationCandidate{
			Ticker:       p.Symbol,
			Qty:          p.AbsQty(),
			Short:        p.IsShort(),
			Score:        s.Score(p, openedAt[p.Symbol], total),
			CapitalFreed: p.MarketValue.Abs(),
		}
		if !found || better(c, best) {
			best = c
			found = true
		}
	}
	if found {
		best.Reason = fmt.Sprintf("rotation: closing %s (score %.1f, frees %s)", best.Ticker, best.Score, best.CapitalFreed.StringFixed(2))
	}
	return best, found
}

func better(a, b RotationCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CapitalFreed.Equal(b.CapitalFreed) {
		return a.CapitalFreed.GreaterThan(b.CapitalFreed)
	}
	return a.Ticker < b.Ticker
}
