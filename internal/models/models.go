package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a screening signal.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// TradingSignal is a screening candidate. Treat as immutable once produced.
type TradingSignal struct {
	Ticker               string          `json:"ticker"`
	Direction            Direction       `json:"direction"`
	Confidence           float64         `json:"confidence"` // 0..100
	EntryPrice           decimal.Decimal `json:"entry_price"`
	StrategyName         string          `json:"strategy_name"`
	Reasoning            string          `json:"reasoning"`
	PositionSizeFraction float64         `json:"position_size_fraction"`
	Fractionable         bool            `json:"fractionable"`
}

// Sentiment of the independent research validator.
type Sentiment string

const (
	Bullish     Sentiment = "bullish"
	Bearish     Sentiment = "bearish"
	Neutral     Sentiment = "neutral"
	Unavailable Sentiment = "unavailable"
)

// ValidationResult is produced once per candidate per cycle.
type ValidationResult struct {
	Ticker           string    `json:"ticker"`
	Agrees           bool      `json:"agrees"`
	Sentiment        Sentiment `json:"sentiment"`
	ConfidenceBucket string    `json:"confidence_bucket"` // high, medium, low, unknown
	KeyPoints        []string  `json:"key_points"`
	RawResponse      string    `json:"raw_response"`
	BypassReason     string    `json:"bypass_reason,omitempty"`
}

// SourceSignal is one analyst's opinion on a ticker.
type SourceSignal struct {
	Direction  string  `json:"direction"` // bullish, bearish, neutral
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// AnalysisResult aggregates per-source signals for a ticker.
type AnalysisResult struct {
	Ticker              string                  `json:"ticker"`
	Signals             map[string]SourceSignal `json:"signals"`
	ConsensusDirection  string                  `json:"consensus_direction"`
	ConsensusConfidence float64                 `json:"consensus_confidence"`
	Decision            *PortfolioDecision      `json:"decision,omitempty"`
	CycleID             string                  `json:"cycle_id"`
}

// Action is a portfolio action the decision engine may choose.
type Action string

const (
	ActionBuy    Action = "buy"
	ActionSell   Action = "sell"
	ActionShort  Action = "short"
	ActionCover  Action = "cover"
	ActionHold   Action = "hold"
	ActionCancel Action = "cancel"
)

// AllActions in display order.
var AllActions = []Action{ActionBuy, ActionSell, ActionShort, ActionCover, ActionHold, ActionCancel}

// IsOpening reports whether the action opens or increases exposure.
func (a Action) IsOpening() bool {
	return a == ActionBuy || a == ActionShort
}

// AllowedActionSet maps each action to its maximum permitted quantity.
type AllowedActionSet struct {
	Ticker      string                     `json:"ticker"`
	Caps        map[Action]decimal.Decimal `json:"caps"`
	BlockReason string                     `json:"block_reason,omitempty"`
}

// Cap returns the cap for an action, zero when absent.
func (s AllowedActionSet) Cap(a Action) decimal.Decimal {
	if s.Caps == nil {
		return decimal.Zero
	}
	return s.Caps[a]
}

// Actionable is true when anything other than hold has a positive cap.
func (s AllowedActionSet) Actionable() bool {
	for a, c := range s.Caps {
		if a != ActionHold && c.IsPositive() {
			return true
		}
	}
	return false
}

// PortfolioDecision is one decision per ticker per cycle.
type PortfolioDecision struct {
	Action     Action          `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// HoldDecision is the default used on any failure.
func HoldDecision(reason string) PortfolioDecision {
	return PortfolioDecision{Action: ActionHold, Quantity: decimal.Zero, Confidence: 0, Reasoning: reason}
}

// PortfolioSnapshot is the account view stored with each trade record.
type PortfolioSnapshot struct {
	Equity         decimal.Decimal            `json:"equity"`
	Cash           decimal.Decimal            `json:"cash"`
	BuyingPower    decimal.Decimal            `json:"buying_power"`
	PortfolioValue decimal.Decimal            `json:"portfolio_value"`
	Positions      map[string]decimal.Decimal `json:"positions"`
}

// TradeRecord is appended once per successfully submitted order.
type TradeRecord struct {
	CycleID            string            `json:"cycle_id"`
	Ticker             string            `json:"ticker"`
	Action             Action            `json:"action"`
	Quantity           decimal.Decimal   `json:"quantity"`
	EntryPrice         decimal.Decimal   `json:"entry_price"`
	OrderID            string            `json:"order_id"`
	ClientOrderID      string            `json:"client_order_id"`
	Strategy           string            `json:"strategy"`
	ValidatorSentiment Sentiment         `json:"validator_sentiment"`
	ConsensusDirection string            `json:"consensus_direction"`
	ConsensusConf      float64           `json:"consensus_confidence"`
	Snapshot           PortfolioSnapshot `json:"snapshot"`
	Decision           PortfolioDecision `json:"decision"`
	BlockReason        string            `json:"block_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// PositionRule overrides default exit thresholds for a ticker.
type PositionRule struct {
	Ticker        string        `json:"ticker"`
	Side          Direction     `json:"side"`
	StopLossPct   float64       `json:"stop_loss_pct"`
	TakeProfitPct float64       `json:"take_profit_pct"`
	MaxHold       time.Duration `json:"max_hold"`
	OpenedAt      time.Time     `json:"opened_at"`
}

// Alert is produced by the position monitor when a threshold is breached.
type Alert struct {
	Ticker       string          `json:"ticker"`
	Trigger      string          `json:"trigger"` // take_profit, stop_loss, max_hold
	CurrentPrice decimal.Decimal `json:"current_price"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	PnLPct       decimal.Decimal `json:"pnl_pct"`
	Outcome      string          `json:"outcome"`
	OrderID      string          `json:"order_id,omitempty"`
	At           time.Time       `json:"at"`
}
