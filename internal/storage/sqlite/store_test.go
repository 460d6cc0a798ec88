package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alpha_autotrader/internal/models"

	"github.com/shopspring/decimal"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "trades.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecentTrades(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	for i, tk := range []string{"AAPL", "MSFT"} {
		rec := models.TradeRecord{
			CycleID:            "cycle-1",
			Ticker:             tk,
			Action:             models.ActionBuy,
			Quantity:           decimal.NewFromInt(int64(i + 1)),
			EntryPrice:         decimal.RequireFromString("187.25"),
			ClientOrderID:      "abcd1234-" + tk + "-buy",
			Strategy:           "momentum",
			ValidatorSentiment: models.Bullish,
			ConsensusDirection: "bullish",
			ConsensusConf:      70,
			Decision:           models.PortfolioDecision{Action: models.ActionBuy, Quantity: decimal.NewFromInt(int64(i + 1)), Confidence: 80, Reasoning: "trend"},
			CreatedAt:          at,
		}
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append %s failed: %v", tk, err)
		}
	}

	got, err := s.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	if len(got) != 2 || got[0].Ticker != "MSFT" {
		t.Fatalf("Expected newest first, got %+v", got)
	}
	if !got[0].EntryPrice.Equal(decimal.RequireFromString("187.25")) || !got[0].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Decimal fields not preserved: %+v", got[0])
	}
	if got[0].Decision.Reasoning != "trend" || got[0].ValidatorSentiment != models.Bullish {
		t.Errorf("Unexpected record %+v", got[0])
	}
}

func TestAppend_BlockReasonRoundTrips(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rec := models.TradeRecord{
		CycleID:     "c",
		Ticker:      "TSLA",
		Action:      models.ActionSell,
		Quantity:    decimal.NewFromInt(1),
		BlockReason: "risk budget exhausted",
	}
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	got, err := s.RecentTrades(ctx, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("RecentTrades failed: %v %+v", err, got)
	}
	if got[0].BlockReason != "risk budget exhausted" {
		t.Errorf("Expected block reason stored, got %q", got[0].BlockReason)
	}
}

func TestOpen_AddsBlockReasonToOldSchema(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "trades.db")
	old, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = old.Exec(`CREATE TABLE trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    ticker TEXT NOT NULL,
    action TEXT NOT NULL,
    quantity TEXT NOT NULL,
    entry_price TEXT NOT NULL,
    order_id TEXT,
    client_order_id TEXT,
    strategy TEXT,
    validator_sentiment TEXT,
    consensus_direction TEXT,
    consensus_confidence REAL,
    confidence REAL,
    reasoning TEXT,
    snapshot TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL
)`)
	_ = old.Close()
	if err != nil {
		t.Fatalf("old schema: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open on old schema failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.Append(ctx, models.TradeRecord{CycleID: "c", Ticker: "AAPL", Action: models.ActionBuy, BlockReason: "pending order"}); err != nil {
		t.Fatalf("Append after upgrade failed: %v", err)
	}
	got, err := s.RecentTrades(ctx, 1)
	if err != nil || len(got) != 1 || got[0].BlockReason != "pending order" {
		t.Errorf("Expected upgraded table to keep block reason, got %+v (%v)", got, err)
	}
}

func TestAppend_DuplicateClientOrderRejected(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rec := models.TradeRecord{CycleID: "c", Ticker: "AAPL", Action: models.ActionBuy, ClientOrderID: "c-AAPL-buy"}
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	if err := s.Append(ctx, rec); err == nil {
		t.Errorf("Expected duplicate client order id to be rejected")
	}
}

func TestAppendAlert(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	a := models.Alert{
		Ticker:       "TSLA",
		Trigger:      "stop_loss",
		CurrentPrice: decimal.RequireFromString("94"),
		TriggerPrice: decimal.RequireFromString("95"),
		PnLPct:       decimal.RequireFromString("-6"),
		Outcome:      "closed",
	}
	if err := s.AppendAlert(ctx, a); err != nil {
		t.Fatalf("AppendAlert failed: %v", err)
	}
	n, err := s.CountAlerts(ctx, "TSLA")
	if err != nil || n != 1 {
		t.Errorf("Expected 1 alert, got %d (%v)", n, err)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Errorf("Expected error for empty path")
	}
}
