package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a generic order found in any broker.
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	Type           string          `json:"type"`   // market, limit, stop, etc.
	Side           string          `json:"side"`   // buy, sell
	Status         string          `json:"status"` // new, filled, canceled, expired, rejected
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	CreatedAt      time.Time       `json:"created_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
}

// OrderRequest is what the core hands to the execution collaborator.
type OrderRequest struct {
	Symbol        string
	Qty           decimal.Decimal
	Side          string // buy, sell
	Type          string // market
	ClientOrderID string
}

// Quote represents a generic bid/ask quote.
type Quote struct {
	Symbol    string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Timestamp time.Time
}

// Account represents the generic account state.
type Account struct {
	ID                string
	Currency          string
	Equity            decimal.Decimal
	BuyingPower       decimal.Decimal
	Cash              decimal.Decimal
	PortfolioValue    decimal.Decimal
	InitialMargin     decimal.Decimal
	MaintenanceMargin decimal.Decimal
	Multiplier        decimal.Decimal
	DaytradeCount     int
	PatternDayTrader  bool
	ShortingEnabled   bool
	IsAccountBlocked  bool
	IsTradingBlocked  bool
}

// Asset represents a tradable instrument.
type Asset struct {
	ID           string
	Symbol       string
	Name         string
	Class        string // us_equity, crypto, etc.
	Exchange     string
	Status       string // active, inactive
	Tradable     bool
	Fractionable bool
	Shortable    bool
}

// Bar represents a candlestick for a timeframe.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// BrokerPosition represents a position held at the broker.
// Qty is signed: negative for shorts.
type BrokerPosition struct {
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"` // long, short
	Qty            decimal.Decimal `json:"qty"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
	ChangeToday    decimal.Decimal `json:"change_today"`
}

// IsShort reports whether the position is a short.
func (p BrokerPosition) IsShort() bool {
	return p.Side == "short" || p.Qty.IsNegative()
}

// AbsQty is the held quantity regardless of side.
func (p BrokerPosition) AbsQty() decimal.Decimal {
	return p.Qty.Abs()
}

// Clock represents the market status.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}
