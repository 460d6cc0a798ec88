package alpaca

import (
	"fmt"
	"time"

	"alpha_autotrader/internal/market"
	"alpha_autotrader/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Provider implements the generic MarketProvider interface for Alpaca.
// Credentials come from the APCA_* environment variables the SDK reads.
type Provider struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
}

// Ensure Provider implements the interface
var _ market.MarketProvider = (*Provider)(nil)

// NewProvider returns a new Alpaca provider.
func NewProvider() *Provider {
	return &Provider{
		mdClient:    marketdata.NewClient(marketdata.ClientOpts{}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{}),
	}
}

// --- Market Data ---

func (p *Provider) GetPrice(ticker string) (decimal.Decimal, error) {
	trade, err := p.mdClient.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, err
	}
	if trade == nil {
		return decimal.Zero, fmt.Errorf("no trade found for %s", ticker)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

func (p *Provider) GetQuote(ticker string) (*models.Quote, error) {
	q, err := p.mdClient.GetLatestQuote(ticker, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("no quote found for %s", ticker)
	}
	return &models.Quote{
		Symbol:    ticker,
		BidPrice:  decimal.NewFromFloat(q.BidPrice),
		AskPrice:  decimal.NewFromFloat(q.AskPrice),
		Timestamp: q.Timestamp,
	}, nil
}

// GetBars returns up to limit daily bars, oldest first.
func (p *Provider) GetBars(ticker string, limit int) ([]models.Bar, error) {
	// Calendar days cover weekends and holidays.
	start := time.Now().AddDate(0, 0, -(limit*7/5 + 7))
	bars, err := p.mdClient.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	result := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		result = append(result, models.Bar{
			Time:   b.Timestamp,
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: int64(b.Volume),
		})
	}
	return result, nil
}

func (p *Provider) GetAsset(ticker string) (*models.Asset, error) {
	a, err := p.tradeClient.GetAsset(ticker)
	if err != nil {
		return nil, err
	}
	return &models.Asset{
		ID:           a.ID,
		Symbol:       a.Symbol,
		Name:         a.Name,
		Class:        string(a.Class),
		Exchange:     a.Exchange,
		Status:       string(a.Status),
		Tradable:     a.Tradable,
		Fractionable: a.Fractionable,
		Shortable:    a.Shortable,
	}, nil
}

// --- Account ---

func (p *Provider) GetAccount() (*models.Account, error) {
	a, err := p.tradeClient.GetAccount()
	if err != nil {
		return nil, err
	}
	return &models.Account{
		ID:                a.ID,
		Currency:          a.Currency,
		Equity:            a.Equity,
		BuyingPower:       a.BuyingPower,
		Cash:              a.Cash,
		PortfolioValue:    a.PortfolioValue,
		InitialMargin:     a.InitialMargin,
		MaintenanceMargin: a.MaintenanceMargin,
		Multiplier:        a.Multiplier,
		DaytradeCount:     int(a.DaytradeCount),
		PatternDayTrader:  a.PatternDayTrader,
		ShortingEnabled:   a.ShortingEnabled,
		IsAccountBlocked:  a.AccountBlocked,
		IsTradingBlocked:  a.TradingBlocked,
	}, nil
}

func (p *Provider) GetClock() (*models.Clock, error) {
	c, err := p.tradeClient.GetClock()
	if err != nil {
		return nil, err
	}
	return &models.Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}, nil
}

func (p *Provider) ListPositions() ([]models.BrokerPosition, error) {
	alpacaPositions, err := p.tradeClient.GetPositions()
	if err != nil {
		return nil, err
	}

	result := make([]models.BrokerPosition, 0, len(alpacaPositions))
	for _, x := range alpacaPositions {
		result = append(result, models.BrokerPosition{
			Symbol:         x.Symbol,
			Side:           x.Side,
			Qty:            x.Qty,
			AvgEntryPrice:  x.AvgEntryPrice,
			CurrentPrice:   deref(x.CurrentPrice),
			MarketValue:    deref(x.MarketValue),
			CostBasis:      x.CostBasis,
			UnrealizedPL:   deref(x.UnrealizedPL),
			UnrealizedPLPC: deref(x.UnrealizedPLPC),
			ChangeToday:    deref(x.ChangeToday),
		})
	}
	return result, nil
}

// --- Execution ---

// PlaceOrder submits a market day order. The client order id makes a
// retried submission idempotent on the broker side.
func (p *Provider) PlaceOrder(r models.OrderRequest) (*models.Order, error) {
	qty := r.Qty
	req := alpaca.PlaceOrderRequest{
		Symbol:        r.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(r.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: r.ClientOrderID,
	}
	if r.Type == "limit" {
		req.Type = alpaca.Limit
	}

	o, err := p.tradeClient.PlaceOrder(req)
	if err != nil {
		return nil, err
	}
	return mapOrder(o), nil
}

// ClosePosition liquidates qty shares of symbol, or the whole position when qty is zero.
func (p *Provider) ClosePosition(symbol string, qty decimal.Decimal) (*models.Order, error) {
	req := alpaca.ClosePositionRequest{}
	if qty.IsPositive() {
		req.Qty = qty
	}
	o, err := p.tradeClient.ClosePosition(symbol, req)
	if err != nil {
		return nil, err
	}
	return mapOrder(o), nil
}

func (p *Provider) GetOrder(orderID string) (*models.Order, error) {
	o, err := p.tradeClient.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	return mapOrder(o), nil
}

func (p *Provider) ListOrders(status string) ([]models.Order, error) {
	orders, err := p.tradeClient.GetOrders(alpaca.GetOrdersRequest{
		Status: status,
		Limit:  100,
	})
	if err != nil {
		return nil, err
	}

	result := make([]models.Order, 0, len(orders))
	for i := range orders {
		result = append(result, *mapOrder(&orders[i]))
	}
	return result, nil
}

func (p *Provider) CancelOrder(orderID string) error {
	return p.tradeClient.CancelOrder(orderID)
}

// Helpers

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func mapOrder(o *alpaca.Order) *models.Order {
	if o == nil {
		return nil
	}
	return &models.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Qty:            deref(o.Qty),
		FilledQty:      o.FilledQty,
		Type:           string(o.Type),
		Side:           string(o.Side),
		Status:         o.Status,
		FilledAvgPrice: deref(o.FilledAvgPrice),
		CreatedAt:      o.CreatedAt,
		FilledAt:       o.FilledAt,
	}
}
