// Package orchestrator runs one trading cycle end to end: guards, capital
// rotation, screening, validation, analysis, decision, safety gates,
// execution and the tally.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"alpha_autotrader/internal/decision"
	"alpha_autotrader/internal/gates"
	"alpha_autotrader/internal/market"
	"alpha_autotrader/internal/models"
	"alpha_autotrader/internal/positions"
	"alpha_autotrader/internal/risk"
	"alpha_autotrader/internal/screener"
	"alpha_autotrader/internal/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Screener is the candidate source; *screener.Screener satisfies it.
type Screener interface {
	Screen(ctx context.Context, tickers []string, minConfidence float64, topN int) screener.ScreenResult
}

// Validator is the research check; *validation.Validator satisfies it.
type Validator interface {
	Validate(ctx context.Context, sig models.TradingSignal) (models.ValidationResult, validation.Outcome)
}

// Analyzer is the analyst consensus; *analysis.Consensus satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, tickers []string, mode string) ([]models.AnalysisResult, map[string]error)
}

// Decider is the decision engine; *decision.Engine satisfies it.
type Decider interface {
	Decide(ctx context.Context, inputs []decision.Input) map[string]models.PortfolioDecision
}

// Recorder appends trade records.
type Recorder interface {
	Append(ctx context.Context, r models.TradeRecord) error
}

// Notifier receives operator messages. Implementations must not block.
type Notifier interface {
	Notify(text string)
}

// Config holds the cycle tunables.
type Config struct {
	Universe             []string
	MinSignalConfidence  float64
	MaxCandidates        int
	AnalysisMode         string
	CallTimeout          time.Duration
	MarketHoursOnly      bool
	Paper                bool
	PaperRelaxation      bool
	RotationEnabled      bool
	DefaultStopLossPct   float64
	DefaultTakeProfitPct float64
	MaxHold              time.Duration
}

// Deps are the collaborators. Broker, Data, Screener, Validator, Analyzer,
// Decider, Cooldown and Rules are required.
type Deps struct {
	Broker        market.Broker
	Data          market.DataProvider
	Screener      Screener
	Validator     Validator
	Analyzer      Analyzer
	Decider       Decider
	Records       Recorder
	Notifier      Notifier
	Cooldown      *gates.Cooldown
	Concentration gates.Concentration
	PDT           gates.PDTGuard
	Rotation      gates.RotationScorer
	Budgets       risk.PositionLimit
	Rules         *positions.RuleStore
	Logger        *zap.Logger
	Now           func() time.Time
	NewID         func() string
}

// Orchestrator runs cycles. Run never overlaps with itself.
type Orchestrator struct {
	cfg     Config
	d       Deps
	logger  *zap.Logger
	enabled atomic.Bool
	running sync.Mutex
}

// New creates an orchestrator with the switch set to enabled.
func New(cfg Config, d Deps, enabled bool) *Orchestrator {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	o := &Orchestrator{cfg: cfg, d: d, logger: d.Logger}
	o.enabled.Store(enabled)
	return o
}

// Enabled reports the global trading switch.
func (o *Orchestrator) Enabled() bool { return o.enabled.Load() }

// SetEnabled flips the global trading switch.
func (o *Orchestrator) SetEnabled(v bool) {
	o.enabled.Store(v)
	o.logger.Info("trading switch changed", zap.Bool("enabled", v))
}

// candidate carries one ticker through the cycle.
type candidate struct {
	signal     models.TradingSignal
	validation models.ValidationResult
	analysis   models.AnalysisResult
	price      decimal.Decimal
}

// portfolio is the account view loaded at the start of a cycle.
type portfolio struct {
	acct      *models.Account
	positions []models.BrokerPosition
	orders    []models.Order
}

func (p portfolio) holdings() map[string]risk.Holding {
	out := make(map[string]risk.Holding, len(p.positions))
	for _, pos := range p.positions {
		h := out[pos.Symbol]
		if pos.IsShort() {
			h.Short = h.Short.Add(pos.AbsQty())
		} else {
			h.Long = h.Long.Add(pos.AbsQty())
		}
		out[pos.Symbol] = h
	}
	return out
}

func (p portfolio) openOrders() map[string][]models.Order {
	out := make(map[string][]models.Order)
	for _, ord := range p.orders {
		out[ord.Symbol] = append(out[ord.Symbol], ord)
	}
	return out
}

func (p portfolio) positionValue(ticker string) decimal.Decimal {
	v := decimal.Zero
	for _, pos := range p.positions {
		if pos.Symbol == ticker {
			v = v.Add(pos.MarketValue.Abs())
		}
	}
	return v
}

func (p portfolio) snapshot() models.PortfolioSnapshot {
	s := models.PortfolioSnapshot{
		Equity:         p.acct.Equity,
		Cash:           p.acct.Cash,
		BuyingPower:    p.acct.BuyingPower,
		PortfolioValue: p.acct.PortfolioValue,
		Positions:      make(map[string]decimal.Decimal, len(p.positions)),
	}
	for _, pos := range p.positions {
		s.Positions[pos.Symbol] = pos.Qty
	}
	return s
}

// riskPortfolio maps the broker account onto the calculator's inputs. The
// margin requirement is the inverse of the account multiplier.
func (p portfolio) riskPortfolio() risk.Portfolio {
	mult := p.acct.Multiplier
	if !mult.IsPositive() {
		mult = decimal.NewFromInt(1)
	}
	counts := make(map[string]int)
	for _, ord := range p.orders {
		counts[ord.Symbol]++
	}
	return risk.Portfolio{
		Cash:              p.acct.Cash,
		BuyingPower:       p.acct.BuyingPower,
		Equity:            p.acct.Equity,
		MarginRequirement: decimal.NewFromInt(1).Div(mult),
		MarginUsed:        p.acct.InitialMargin,
		Positions:         p.holdings(),
		OpenOrders:        counts,
	}
}

// Run executes one cycle. The caller's cancellation is ignored once the
// cycle starts; every external call is bounded by CallTimeout instead.
// A non-nil error means the cycle stopped at its guards with no side
// effects.
func (o *Orchestrator) Run(ctx context.Context) (*CycleResult, error) {
	if !o.running.TryLock() {
		return nil, ErrCycleRunning
	}
	defer o.running.Unlock()

	ctx = context.WithoutCancel(ctx)
	res := newCycleResult(o.d.NewID(), o.d.Now())
	log := o.logger.With(zap.String("cycle", shortID(res.CycleID)))
	defer func() { res.Finished = o.d.Now() }()

	// 1. Guards
	pf, err := o.guard(ctx)
	if err != nil {
		log.Warn("cycle blocked", zap.Error(err))
		return res, err
	}

	// 2. Capital rotation
	if o.cfg.RotationEnabled {
		if refreshed, ok := o.rotate(ctx, res, pf); ok {
			pf = refreshed
		}
	}

	// 3. Screening
	sr := o.d.Screener.Screen(ctx, o.cfg.Universe, o.cfg.MinSignalConfidence, o.cfg.MaxCandidates)
	for _, t := range sortedKeys(sr.Errors) {
		res.fail(t, StageScreen, sr.Errors[t])
	}
	res.Screened = len(sr.Signals)

	// 4. Validation
	cands := o.validate(ctx, res, sr.Signals)
	res.Validated = len(cands)

	// 5. Analysis
	cands = o.analyze(ctx, res, cands)
	res.Analyzed = len(cands)

	// 6. Decision
	allowed := o.decide(ctx, res, pf, cands)

	// 7-8. Gates and execution, one ticker at a time.
	snap := pf.snapshot()
	orders := pf.openOrders()
	buyingPower := pf.acct.BuyingPower
	for _, c := range cands {
		t := c.signal.Ticker
		o.execute(ctx, res, pf, snap, &buyingPower, c, res.Decisions[t], allowed[t], orders[t])
	}

	// 9. Tally
	for _, s := range res.Skips {
		log.Info("skip", zap.String("ticker", s.Ticker), zap.String("stage", s.Stage), zap.String("reason", s.Reason))
	}
	for _, e := range res.Errors {
		log.Warn("ticker error", zap.String("ticker", e.Ticker), zap.String("stage", e.Stage), zap.Error(e.Err))
	}
	log.Info(res.Summary())
	return res, nil
}

func (o *Orchestrator) guard(ctx context.Context) (portfolio, error) {
	if !o.Enabled() {
		return portfolio{}, ErrTradingDisabled
	}

	acct, err := market.Call(ctx, o.cfg.CallTimeout, o.d.Broker.GetAccount)
	if err != nil {
		return portfolio{}, fmt.Errorf("get account: %w", err)
	}
	if acct.IsAccountBlocked || acct.IsTradingBlocked {
		return portfolio{}, ErrAccountBlocked
	}
	if ok, reason := o.d.PDT.Check(*acct); !ok {
		return portfolio{}, fmt.Errorf("%w: %s", ErrPDTBlocked, reason)
	}
	if o.cfg.MarketHoursOnly {
		clock, err := market.Call(ctx, o.cfg.CallTimeout, o.d.Broker.GetClock)
		if err != nil {
			return portfolio{}, fmt.Errorf("get clock: %w", err)
		}
		if !clock.IsOpen {
			return portfolio{}, fmt.Errorf("%w: next open %s", ErrMarketClosed, clock.NextOpen.Format(time.RFC3339))
		}
	}
	return o.loadPortfolio(ctx, acct)
}

func (o *Orchestrator) loadPortfolio(ctx context.Context, acct *models.Account) (portfolio, error) {
	pos, err := market.Call(ctx, o.cfg.CallTimeout, o.d.Broker.ListPositions)
	if err != nil {
		return portfolio{}, fmt.Errorf("list positions: %w", err)
	}
	orders, err := market.Call(ctx, o.cfg.CallTimeout, func() ([]models.Order, error) {
		return o.d.Broker.ListOrders("open")
	})
	if err != nil {
		return portfolio{}, fmt.Errorf("list open orders: %w", err)
	}
	return portfolio{acct: acct, positions: pos, orders: orders}, nil
}

// rotate closes at most one position when buying power is short. It returns
// the refreshed portfolio when a close went through.
func (o *Orchestrator) rotate(ctx context.Context, res *CycleResult, pf portfolio) (portfolio, bool) {
	if !o.d.Rotation.Needed(pf.acct.BuyingPower, pf.acct.PortfolioValue) {
		return pf, false
	}
	opened := make(map[string]time.Time)
	for t, r := range o.d.Rules.Snapshot() {
		opened[t] = r.OpenedAt
	}
	// Tickers with working orders are left alone.
	pending := pf.openOrders()
	var eligible []models.BrokerPosition
	for _, p := range pf.positions {
		if len(pending[p.Symbol]) == 0 {
			eligible = append(eligible, p)
		}
	}
	cand, ok := o.d.Rotation.Pick(eligible, opened)
	if !ok {
		res.skip("", StageRotation, "rotation needed but no eligible position")
		return pf, false
	}

	order, err := market.Call(ctx, o.cfg.CallTimeout, func() (*models.Order, error) {
		return o.d.Broker.ClosePosition(cand.Ticker, decimal.Zero)
	})
	if err != nil {
		res.fail(cand.Ticker, StageRotation, err)
		return pf, false
	}
	res.Rotation = cand.Reason
	o.d.Rules.Delete(cand.Ticker)

	action := models.ActionSell
	if cand.Short {
		action = models.ActionCover
	}
	rec := models.TradeRecord{
		CycleID:   res.CycleID,
		Ticker:    cand.Ticker,
		Action:    action,
		Quantity:  cand.Qty,
		OrderID:   orderID(order),
		Strategy:  StageRotation,
		Snapshot:  pf.snapshot(),
		Decision:  models.PortfolioDecision{Action: action, Quantity: cand.Qty, Reasoning: cand.Reason},
		CreatedAt: o.d.Now(),
	}
	if p, ok := positionFor(pf.positions, cand.Ticker); ok {
		rec.EntryPrice = p.CurrentPrice
	}
	o.record(ctx, res, rec)
	o.notify(fmt.Sprintf("🔄 %s", cand.Reason))

	acct, err := market.Call(ctx, o.cfg.CallTimeout, o.d.Broker.GetAccount)
	if err != nil {
		res.fail(cand.Ticker, StageRotation, fmt.Errorf("refresh account: %w", err))
		return pf, false
	}
	refreshed, err := o.loadPortfolio(ctx, acct)
	if err != nil {
		res.fail(cand.Ticker, StageRotation, err)
		return pf, false
	}
	return refreshed, true
}

func (o *Orchestrator) validate(ctx context.Context, res *CycleResult, signals []models.TradingSignal) []candidate {
	type verdict struct {
		result  models.ValidationResult
		outcome validation.Outcome
	}
	verdicts := make([]verdict, len(signals))

	g, gctx := errgroup.WithContext(ctx)
	for i, sig := range signals {
		g.Go(func() error {
			r, out := o.d.Validator.Validate(gctx, sig)
			verdicts[i] = verdict{r, out}
			return nil
		})
	}
	_ = g.Wait()

	var out []candidate
	for i, sig := range signals {
		v := verdicts[i]
		res.Validations[sig.Ticker] = v.result
		if !v.outcome.Pass {
			res.skip(sig.Ticker, StageValidate, v.outcome.Reason)
			continue
		}
		out = append(out, candidate{signal: sig, validation: v.result})
	}
	return out
}

func (o *Orchestrator) analyze(ctx context.Context, res *CycleResult, cands []candidate) []candidate {
	if len(cands) == 0 {
		return nil
	}
	tickers := make([]string, len(cands))
	for i, c := range cands {
		tickers[i] = c.signal.Ticker
	}
	results, errs := o.d.Analyzer.Analyze(ctx, tickers, o.cfg.AnalysisMode)

	byTicker := make(map[string]models.AnalysisResult, len(results))
	for _, r := range results {
		r.CycleID = res.CycleID
		byTicker[r.Ticker] = r
	}

	var out []candidate
	for _, c := range cands {
		t := c.signal.Ticker
		if err, ok := errs[t]; ok {
			res.fail(t, StageAnalyze, err)
			continue
		}
		r, ok := byTicker[t]
		if !ok {
			res.fail(t, StageAnalyze, errors.New("no analysis result"))
			continue
		}
		c.analysis = r
		out = append(out, c)
	}
	return out
}

// decide prices the candidates, computes their action caps and asks the
// engine for decisions. It returns the caps by ticker.
func (o *Orchestrator) decide(ctx context.Context, res *CycleResult, pf portfolio, cands []candidate) map[string]models.AllowedActionSet {
	if len(cands) == 0 {
		return nil
	}

	prices := make(map[string]decimal.Decimal, len(cands))
	fractionable := make(map[string]bool, len(cands))
	tickers := make([]string, len(cands))
	for i := range cands {
		c := &cands[i]
		t := c.signal.Ticker
		tickers[i] = t
		px, err := market.Call(ctx, o.cfg.CallTimeout, func() (decimal.Decimal, error) {
			return o.d.Data.GetPrice(t)
		})
		if err != nil || !px.IsPositive() {
			o.logger.Debug("latest price unavailable, using signal entry", zap.String("ticker", t), zap.Error(err))
			px = c.signal.EntryPrice
		}
		c.price = px
		prices[t] = px
		fractionable[t] = c.signal.Fractionable
	}

	rp := pf.riskPortfolio()
	allowed := risk.AllowedActions(risk.Inputs{
		Prices:          prices,
		RiskBudgets:     o.d.Budgets.Budgets(pf.acct.Equity, prices, rp.Positions),
		Fractionable:    fractionable,
		Portfolio:       rp,
		Paper:           o.cfg.Paper,
		PaperRelaxation: o.cfg.PaperRelaxation,
	}, tickers)

	inputs := make([]decision.Input, len(cands))
	for i, c := range cands {
		t := c.signal.Ticker
		inputs[i] = decision.Input{
			Ticker:       t,
			Analysis:     c.analysis,
			Allowed:      allowed[t],
			Holding:      rp.Positions[t],
			Price:        c.price,
			Cash:         pf.acct.Cash,
			Fractionable: c.signal.Fractionable,
			Research:     researchText(c.validation),
		}
	}

	for t, d := range o.d.Decider.Decide(ctx, inputs) {
		res.Decisions[t] = d
		if d.Action != models.ActionHold {
			res.Decided++
		}
	}
	return allowed
}

// execute runs one ticker's decision. buyingPower is what earlier opening
// orders in this cycle have not yet committed; it shrinks on each fill request.
func (o *Orchestrator) execute(ctx context.Context, res *CycleResult, pf portfolio, snap models.PortfolioSnapshot,
	buyingPower *decimal.Decimal, c candidate, d models.PortfolioDecision, allowed models.AllowedActionSet, open []models.Order) {
	t := c.signal.Ticker

	if d.Action == "" {
		res.fail(t, StageDecide, errors.New("no decision"))
		return
	}
	if d.Action == models.ActionHold {
		res.skip(t, StageDecide, "hold: "+d.Reasoning)
		return
	}
	if !d.Quantity.IsPositive() {
		res.skip(t, StageDecide, fmt.Sprintf("%s with zero quantity", d.Action))
		return
	}

	if d.Action.IsOpening() {
		fit, ok := fitBuyingPower(d, c.price, *buyingPower, c.signal.Fractionable)
		if !ok {
			res.skip(t, StageGate, fmt.Sprintf("buying power committed to earlier orders this cycle (%s left)", buyingPower.StringFixed(2)))
			return
		}
		if !fit.Equal(d.Quantity) {
			why := fmt.Sprintf("quantity reduced from %s to %s by buying power left this cycle", d.Quantity.String(), fit.String())
			if d.Reasoning != "" {
				why = d.Reasoning + "; " + why
			}
			d.Reasoning = why
			d.Quantity = fit
		}
	}

	rec := models.TradeRecord{
		CycleID:            res.CycleID,
		Ticker:             t,
		Action:             d.Action,
		Quantity:           d.Quantity,
		EntryPrice:         c.price,
		ClientOrderID:      ClientOrderID(res.CycleID, t, d.Action),
		Strategy:           c.signal.StrategyName,
		ValidatorSentiment: c.validation.Sentiment,
		ConsensusDirection: c.analysis.ConsensusDirection,
		ConsensusConf:      c.analysis.ConsensusConfidence,
		Snapshot:           snap,
		Decision:           d,
		BlockReason:        allowed.BlockReason,
	}

	switch d.Action {
	case models.ActionBuy, models.ActionShort:
		proposed := d.Quantity.Mul(c.price)
		if ok, reason := o.d.Concentration.Check(t, pf.positionValue(t), proposed, pf.acct.PortfolioValue); !ok {
			res.skip(t, StageGate, reason)
			return
		}
		side := "buy"
		if d.Action == models.ActionShort {
			side = "sell"
		}
		var order *models.Order
		err := o.d.Cooldown.Guard(t, func() error {
			var err error
			order, err = market.Call(ctx, o.cfg.CallTimeout, func() (*models.Order, error) {
				return o.d.Broker.PlaceOrder(models.OrderRequest{
					Symbol:        t,
					Qty:           d.Quantity,
					Side:          side,
					Type:          "market",
					ClientOrderID: rec.ClientOrderID,
				})
			})
			return err
		})
		var veto *gates.VetoError
		if errors.As(err, &veto) {
			res.skip(t, StageGate, veto.Reason)
			return
		}
		if err != nil {
			res.fail(t, StageExecute, err)
			return
		}
		rec.OrderID = orderID(order)
		*buyingPower = buyingPower.Sub(d.Quantity.Mul(c.price))
		o.setRule(t, d.Action)

	case models.ActionSell, models.ActionCover:
		order, err := market.Call(ctx, o.cfg.CallTimeout, func() (*models.Order, error) {
			return o.d.Broker.ClosePosition(t, d.Quantity)
		})
		if err != nil {
			res.fail(t, StageExecute, err)
			return
		}
		rec.OrderID = orderID(order)
		if held := allowed.Cap(d.Action); d.Quantity.GreaterThanOrEqual(held) {
			o.d.Rules.Delete(t)
		}

	case models.ActionCancel:
		n := int(d.Quantity.IntPart())
		canceled := 0
		for i := 0; i < n && i < len(open); i++ {
			id := open[i].ID
			if _, err := market.Call(ctx, o.cfg.CallTimeout, func() (struct{}, error) {
				return struct{}{}, o.d.Broker.CancelOrder(id)
			}); err != nil {
				res.fail(t, StageExecute, fmt.Errorf("cancel %s: %w", id, err))
				continue
			}
			canceled++
		}
		if canceled > 0 {
			res.Executed++
			o.notify(fmt.Sprintf("🚫 %s: canceled %d open order(s)", t, canceled))
		}
		return

	default:
		res.fail(t, StageDecide, fmt.Errorf("unsupported action %q", d.Action))
		return
	}

	res.Executed++
	rec.CreatedAt = o.d.Now()
	o.record(ctx, res, rec)
	o.notify(fmt.Sprintf("✅ %s %s %s @ %s (conf %.0f)\n%s",
		strings.ToUpper(string(d.Action)), d.Quantity.String(), t, c.price.StringFixed(2), d.Confidence, d.Reasoning))
}

// fitBuyingPower trims an opening quantity to what the remaining buying
// power pays for. ok is false when nothing fits.
func fitBuyingPower(d models.PortfolioDecision, price, buyingPower decimal.Decimal, fractionable bool) (decimal.Decimal, bool) {
	if !price.IsPositive() || d.Quantity.Mul(price).LessThanOrEqual(buyingPower) {
		return d.Quantity, true
	}
	if !buyingPower.IsPositive() {
		return decimal.Zero, false
	}
	fit := buyingPower.Div(price)
	if fractionable && d.Action == models.ActionBuy {
		fit = fit.RoundFloor(4)
	} else {
		fit = fit.Floor()
	}
	return fit, fit.IsPositive()
}

// setRule stores exit thresholds for a newly opened or increased position.
// An existing rule keeps its open time.
func (o *Orchestrator) setRule(ticker string, action models.Action) {
	side := models.Long
	if action == models.ActionShort {
		side = models.Short
	}
	rule := models.PositionRule{
		Ticker:        ticker,
		Side:          side,
		StopLossPct:   o.cfg.DefaultStopLossPct,
		TakeProfitPct: o.cfg.DefaultTakeProfitPct,
		MaxHold:       o.cfg.MaxHold,
		OpenedAt:      o.d.Now(),
	}
	if cur, ok := o.d.Rules.Get(ticker); ok && cur.Side == side {
		rule = cur
	}
	o.d.Rules.Set(rule)
}

func (o *Orchestrator) record(ctx context.Context, res *CycleResult, rec models.TradeRecord) {
	res.Trades = append(res.Trades, rec)
	if o.d.Records == nil {
		return
	}
	if err := o.d.Records.Append(ctx, rec); err != nil {
		res.fail(rec.Ticker, StageRecord, err)
	}
}

func (o *Orchestrator) notify(text string) {
	if o.d.Notifier != nil {
		o.d.Notifier.Notify(text)
	}
}

// ClientOrderID is deterministic per cycle, ticker and action so a retried
// submission is rejected by the broker as a duplicate.
func ClientOrderID(cycleID, ticker string, action models.Action) string {
	return fmt.Sprintf("%s-%s-%s", shortID(cycleID), ticker, action)
}

func researchText(v models.ValidationResult) string {
	if v.Sentiment == models.Unavailable || v.Sentiment == "" {
		return ""
	}
	if len(v.KeyPoints) > 0 {
		return fmt.Sprintf("%s (%s): %s", v.Sentiment, v.ConfidenceBucket, strings.Join(v.KeyPoints, "; "))
	}
	return v.RawResponse
}

func orderID(o *models.Order) string {
	if o == nil {
		return ""
	}
	return o.ID
}

func positionFor(ps []models.BrokerPosition, ticker string) (models.BrokerPosition, bool) {
	for _, p := range ps {
		if p.Symbol == ticker {
			return p, true
		}
	}
	return models.BrokerPosition{}, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
