// Package monitor watches open positions on its own tick and closes them
// when a take-profit, stop-loss or hold-time limit is reached.
package monitor

import (
	"context"
	"fmt"
	"time"

	"alpha_autotrader/internal/market"
	"alpha_autotrader/internal/models"
	"alpha_autotrader/internal/positions"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Trigger types.
const (
	TakeProfit = "take_profit"
	StopLoss   = "stop_loss"
	MaxHold    = "max_hold"
)

// rulePruneGrace keeps a fresh rule alive while its opening order fills.
const rulePruneGrace = 15 * time.Minute

var hundred = decimal.NewFromInt(100)

// AlertRecorder stores alerts.
type AlertRecorder interface {
	AppendAlert(ctx context.Context, a models.Alert) error
}

// Notifier receives operator messages. Implementations must not block.
type Notifier interface {
	Notify(text string)
}

// Config holds the default exit thresholds, in percent.
type Config struct {
	DefaultStopLossPct   float64
	DefaultTakeProfitPct float64
	CallTimeout          time.Duration
}

// Deps are the collaborators. Broker and Rules are required.
type Deps struct {
	Broker   market.Broker
	Data     market.DataProvider
	Live     *market.LivePrices
	Rules    *positions.RuleStore
	Records  AlertRecorder
	Notifier Notifier
	Logger   *zap.Logger
	Now      func() time.Time
}

// Skip is a position that was not evaluated or not closed.
type Skip struct {
	Ticker string
	Reason string
}

// TickResult enumerates what one tick did.
type TickResult struct {
	Checked int
	Alerts  []models.Alert
	Skips   []Skip
	Errors  []error
}

// Monitor is the position monitor.
type Monitor struct {
	cfg    Config
	d      Deps
	logger *zap.Logger
}

// New creates a monitor.
func New(cfg Config, d Deps) *Monitor {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Monitor{cfg: cfg, d: d, logger: d.Logger}
}

// Tick checks every open position once. It never returns an error: a failed
// exit is an alert with a failed outcome and is retried next tick.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	ctx = context.WithoutCancel(ctx)
	var res TickResult

	held, err := market.Call(ctx, m.cfg.CallTimeout, m.d.Broker.ListPositions)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list positions: %w", err))
		m.logger.Warn("monitor tick failed", zap.Error(err))
		return res
	}
	open, err := market.Call(ctx, m.cfg.CallTimeout, func() ([]models.Order, error) {
		return m.d.Broker.ListOrders("open")
	})
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list open orders: %w", err))
		m.logger.Warn("monitor tick failed", zap.Error(err))
		return res
	}

	for _, p := range held {
		res.Checked++
		m.check(ctx, &res, p, open)
	}
	m.pruneRules(held, open)

	for _, s := range res.Skips {
		m.logger.Debug("monitor skip", zap.String("ticker", s.Ticker), zap.String("reason", s.Reason))
	}
	if len(res.Alerts) > 0 || len(res.Errors) > 0 {
		m.logger.Info("monitor tick",
			zap.Int("checked", res.Checked),
			zap.Int("alerts", len(res.Alerts)),
			zap.Int("errors", len(res.Errors)))
	}
	return res
}

func (m *Monitor) check(ctx context.Context, res *TickResult, p models.BrokerPosition, open []models.Order) {
	t := p.Symbol
	if !p.AvgEntryPrice.IsPositive() || p.AbsQty().IsZero() {
		res.Skips = append(res.Skips, Skip{t, "no entry price or quantity"})
		return
	}

	price, err := m.price(ctx, p)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("%s price: %w", t, err))
		return
	}

	rule, hasRule := m.d.Rules.Get(t)
	trigger, triggerPrice := m.evaluate(p, price, rule, hasRule)
	if trigger == "" {
		return
	}

	if hasExitOrder(open, p) {
		res.Skips = append(res.Skips, Skip{t, fmt.Sprintf("%s hit but exit order already open", trigger)})
		return
	}

	alert := models.Alert{
		Ticker:       t,
		Trigger:      trigger,
		CurrentPrice: price,
		TriggerPrice: triggerPrice,
		PnLPct:       PnLPct(p.AvgEntryPrice, price, p.IsShort()),
		At:           m.d.Now(),
	}

	order, err := market.Call(ctx, m.cfg.CallTimeout, func() (*models.Order, error) {
		return m.d.Broker.ClosePosition(t, p.AbsQty())
	})
	if err != nil {
		alert.Outcome = "failed: " + err.Error()
		res.Errors = append(res.Errors, fmt.Errorf("%s close: %w", t, err))
	} else {
		alert.Outcome = "closed"
		if order != nil {
			alert.OrderID = order.ID
		}
		m.d.Rules.Delete(t)
	}
	res.Alerts = append(res.Alerts, alert)

	if m.d.Records != nil {
		if err := m.d.Records.AppendAlert(ctx, alert); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("%s record alert: %w", t, err))
		}
	}
	if m.d.Notifier != nil {
		m.d.Notifier.Notify(FormatAlert(alert))
	}
	m.logger.Info("exit trigger",
		zap.String("ticker", t),
		zap.String("trigger", trigger),
		zap.String("price", price.String()),
		zap.String("trigger_price", triggerPrice.String()),
		zap.String("outcome", alert.Outcome))
}

// evaluate returns the trigger type and price, or "" when nothing fired.
// Take-profit wins over stop-loss, which wins over the hold-time limit.
func (m *Monitor) evaluate(p models.BrokerPosition, price decimal.Decimal, rule models.PositionRule, hasRule bool) (string, decimal.Decimal) {
	sl, tp := m.cfg.DefaultStopLossPct, m.cfg.DefaultTakeProfitPct
	if hasRule {
		if rule.StopLossPct > 0 {
			sl = rule.StopLossPct
		}
		if rule.TakeProfitPct > 0 {
			tp = rule.TakeProfitPct
		}
	}

	short := p.IsShort()
	slPrice, tpPrice := TriggerPrices(p.AvgEntryPrice, sl, tp, short)

	if tp > 0 {
		if (!short && price.GreaterThanOrEqual(tpPrice)) || (short && price.LessThanOrEqual(tpPrice)) {
			return TakeProfit, tpPrice
		}
	}
	if sl > 0 {
		if (!short && price.LessThanOrEqual(slPrice)) || (short && price.GreaterThanOrEqual(slPrice)) {
			return StopLoss, slPrice
		}
	}
	if hasRule && rule.MaxHold > 0 && !rule.OpenedAt.IsZero() && m.d.Now().Sub(rule.OpenedAt) >= rule.MaxHold {
		return MaxHold, price
	}
	return "", decimal.Zero
}

// price prefers a fresh streamed trade, then the broker's mark on the
// position, then a data provider lookup.
func (m *Monitor) price(ctx context.Context, p models.BrokerPosition) (decimal.Decimal, error) {
	if px, ok := m.d.Live.Latest(p.Symbol); ok {
		return px, nil
	}
	if p.CurrentPrice.IsPositive() {
		return p.CurrentPrice, nil
	}
	if m.d.Data == nil {
		return decimal.Zero, fmt.Errorf("no price source")
	}
	return market.Call(ctx, m.cfg.CallTimeout, func() (decimal.Decimal, error) {
		return m.d.Data.GetPrice(p.Symbol)
	})
}

// pruneRules drops rules for tickers that are neither held nor pending,
// sparing rules set within the last few minutes.
func (m *Monitor) pruneRules(held []models.BrokerPosition, open []models.Order) {
	keep := make(map[string]bool)
	for _, p := range held {
		keep[p.Symbol] = true
	}
	for _, o := range open {
		keep[o.Symbol] = true
	}
	now := m.d.Now()
	for t, r := range m.d.Rules.Snapshot() {
		if now.Sub(r.OpenedAt) < rulePruneGrace {
			keep[t] = true
		}
	}
	if removed := m.d.Rules.Prune(keep); len(removed) > 0 {
		m.logger.Info("pruned rules for closed positions", zap.Strings("tickers", removed))
	}
}

// TriggerPrices returns the stop-loss and take-profit prices for an entry.
// Shorts mirror longs.
func TriggerPrices(entry decimal.Decimal, slPct, tpPct float64, short bool) (decimal.Decimal, decimal.Decimal) {
	sl := decimal.NewFromFloat(slPct).Div(hundred)
	tp := decimal.NewFromFloat(tpPct).Div(hundred)
	one := decimal.NewFromInt(1)
	if short {
		return entry.Mul(one.Add(sl)), entry.Mul(one.Sub(tp))
	}
	return entry.Mul(one.Sub(sl)), entry.Mul(one.Add(tp))
}

// PnLPct is the unrealized return in percent, positive when the position
// is winning.
func PnLPct(entry, price decimal.Decimal, short bool) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	pct := price.Sub(entry).Div(entry).Mul(hundred)
	if short {
		pct = pct.Neg()
	}
	return pct.Round(2)
}

// hasExitOrder reports an open order that would reduce the position.
func hasExitOrder(open []models.Order, p models.BrokerPosition) bool {
	exitSide := "sell"
	if p.IsShort() {
		exitSide = "buy"
	}
	for _, o := range open {
		if o.Symbol == p.Symbol && o.Side == exitSide {
			return true
		}
	}
	return false
}

// FormatAlert renders an alert for the operator.
func FormatAlert(a models.Alert) string {
	icon := "🛑"
	switch a.Trigger {
	case TakeProfit:
		icon = "🎯"
	case MaxHold:
		icon = "⏳"
	}
	return fmt.Sprintf("%s %s %s\nPrice: %s (trigger %s)\nP&L: %s%%\nOutcome: %s",
		icon, a.Trigger, a.Ticker, a.CurrentPrice.StringFixed(2), a.TriggerPrice.StringFixed(2),
		a.PnLPct.StringFixed(2), a.Outcome)
}
