package market

import (
	"sync"
	"time"

	"alpha_autotrader/internal/models"

	"github.com/shopspring/decimal"
)

// Broker is the execution collaborator. Every call either succeeds or
// returns an error carrying the broker's message.
type Broker interface {
	GetAccount() (*models.Account, error)
	GetClock() (*models.Clock, error)
	ListPositions() ([]models.BrokerPosition, error)
	ListOrders(status string) ([]models.Order, error)
	PlaceOrder(req models.OrderRequest) (*models.Order, error)
	// ClosePosition liquidates qty of symbol; a zero qty closes everything.
	ClosePosition(symbol string, qty decimal.Decimal) (*models.Order, error)
	CancelOrder(orderID string) error
}

// DataProvider is the market data collaborator. Calls are idempotent and
// safe to retry.
type DataProvider interface {
	GetPrice(ticker string) (decimal.Decimal, error)
	GetQuote(ticker string) (*models.Quote, error)
	GetBars(ticker string, limit int) ([]models.Bar, error)
	GetAsset(ticker string) (*models.Asset, error)
}

// MarketProvider is both; the Alpaca provider satisfies it.
type MarketProvider interface {
	Broker
	DataProvider
}

type livePrice struct {
	price decimal.Decimal
	at    time.Time
}

// LivePrices caches the latest streamed trade price per ticker.
type LivePrices struct {
	mu     sync.RWMutex
	prices map[string]livePrice
	maxAge time.Duration
	now    func() time.Time
}

// NewLivePrices returns a cache whose entries expire after maxAge.
func NewLivePrices(maxAge time.Duration) *LivePrices {
	return &LivePrices{
		prices: make(map[string]livePrice),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Update records a trade price. It matches StreamHandler.
func (l *LivePrices) Update(ticker string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	l.prices[ticker] = livePrice{price: decimal.NewFromFloat(price), at: l.now()}
	l.mu.Unlock()
}

// Latest returns a fresh price, false when absent or stale.
func (l *LivePrices) Latest(ticker string) (decimal.Decimal, bool) {
	if l == nil {
		return decimal.Zero, false
	}
	l.mu.RLock()
	p, ok := l.prices[ticker]
	l.mu.RUnlock()
	if !ok || l.now().Sub(p.at) > l.maxAge {
		return decimal.Zero, false
	}
	return p.price, true
}
