//go:build integration

package alpaca

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"alpha_autotrader/internal/models"

	"github.com/shopspring/decimal"
)

func setupTestEnv(t *testing.T) {
	key := os.Getenv("TEST_APCA_API_KEY_ID")
	secret := os.Getenv("TEST_APCA_API_SECRET_KEY")
	url := os.Getenv("TEST_APCA_API_BASE_URL")

	if key == "" || secret == "" {
		t.Skip("Skipping integration test: TEST_APCA credentials not set")
	}

	t.Setenv("APCA_API_KEY_ID", key)
	t.Setenv("APCA_API_SECRET_KEY", secret)
	if url == "" {
		url = "https://paper-api.alpaca.markets"
	}
	t.Setenv("APCA_API_BASE_URL", url)
}

func TestIntegration_AccountAndAsset(t *testing.T) {
	setupTestEnv(t)
	provider := NewProvider()

	acct, err := provider.GetAccount()
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Equity.IsNegative() {
		t.Errorf("Expected non-negative equity, got %s", acct.Equity)
	}

	asset, err := provider.GetAsset("AAPL")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if asset.Symbol != "AAPL" {
		t.Errorf("Expected AAPL, got %s", asset.Symbol)
	}

	bars, err := provider.GetBars("AAPL", 20)
	if err != nil {
		t.Fatalf("GetBars failed: %v", err)
	}
	if len(bars) == 0 || len(bars) > 20 {
		t.Errorf("Expected 1..20 bars, got %d", len(bars))
	}
}

func TestIntegration_OpenAndClose(t *testing.T) {
	setupTestEnv(t)
	provider := NewProvider()

	clock, err := provider.GetClock()
	if err != nil {
		t.Fatalf("GetClock failed: %v", err)
	}
	if !clock.IsOpen {
		t.Skip("Market closed; fills would not happen")
	}

	ticker := "SPY"
	cleanup(t, provider, ticker)

	clientID := "it-" + time.Now().Format("150405") + "-SPY-buy"
	order, err := provider.PlaceOrder(models.OrderRequest{
		Symbol:        ticker,
		Qty:           decimal.NewFromInt(1),
		Side:          "buy",
		Type:          "market",
		ClientOrderID: clientID,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if order.ClientOrderID != clientID {
		t.Errorf("Expected client order id %s, got %s", clientID, order.ClientOrderID)
	}
	if err := waitForFill(provider, order.ID); err != nil {
		t.Fatalf("Buy not filled: %v", err)
	}

	closeOrder, err := provider.ClosePosition(ticker, decimal.Zero)
	if err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}
	if err := waitForFill(provider, closeOrder.ID); err != nil {
		t.Fatalf("Close not filled: %v", err)
	}

	positions, err := provider.ListPositions()
	if err != nil {
		t.Fatalf("ListPositions failed: %v", err)
	}
	for _, p := range positions {
		if p.Symbol == ticker {
			t.Errorf("Expected %s to be closed, still holding %s", ticker, p.Qty)
		}
	}
}

func cleanup(t *testing.T, p *Provider, ticker string) {
	orders, _ := p.ListOrders("open")
	for _, o := range orders {
		if o.Symbol == ticker {
			_ = p.CancelOrder(o.ID)
		}
	}
	positions, _ := p.ListPositions()
	for _, pos := range positions {
		if pos.Symbol == ticker {
			if _, err := p.ClosePosition(ticker, decimal.Zero); err != nil {
				t.Logf("cleanup close %s: %v", ticker, err)
			}
		}
	}
	time.Sleep(1 * time.Second)
}

func waitForFill(p *Provider, orderID string) error {
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return errors.New("timeout waiting for fill")
		case <-ticker.C:
			o, err := p.GetOrder(orderID)
			if err != nil {
				continue
			}
			switch strings.ToLower(o.Status) {
			case "filled":
				return nil
			case "canceled", "rejected", "expired":
				return errors.New("order " + o.Status)
			}
		}
	}
}
