package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"alpha_autotrader/internal/models"
)

func TestLoad_MissingFileCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "autotrader_state.json")
	s := NewStore(path, nil)

	st, err := s.Load(false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.Version != CurrentVersion || st.TradingEnabled {
		t.Errorf("Unexpected template %+v", st)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected template written: %v", err)
	}
}

func TestMigrateState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotrader_state.json")

	legacyJSON := `{
		"version": "2.0",
		"trading_enabled": true,
		"position_rules": {
			"AAPL": {"side": "long", "stop_loss_pct": 0.05, "take_profit_pct": 0.15}
		}
	}`
	if err := os.WriteFile(path, []byte(legacyJSON), 0644); err != nil {
		t.Fatalf("Failed to write legacy state: %v", err)
	}

	s := NewStore(path, nil)
	st, err := s.Load(false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.Version != "2.1" {
		t.Errorf("Expected version 2.1, got %s", st.Version)
	}
	r := st.PositionRules["AAPL"]
	if r.Ticker != "AAPL" || r.StopLossPct != 5 || r.TakeProfitPct != 15 {
		t.Errorf("Expected percent thresholds, got %+v", r)
	}
	if !st.TradingEnabled {
		t.Errorf("Expected switch preserved")
	}
	if st.Cooldowns == nil {
		t.Errorf("Expected cooldown map initialised")
	}

	// Verify persistence (Load again)
	st2, err := s.Load(false)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if st2.Version != "2.1" || st2.PositionRules["AAPL"].StopLossPct != 5 {
		t.Errorf("Persisted state mismatch: %+v", st2)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotrader_state.json")
	s := NewStore(path, nil)

	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	in := State{
		TradingEnabled: true,
		PositionRules:  map[string]models.PositionRule{"MSFT": {Ticker: "MSFT", StopLossPct: 4, TakeProfitPct: 10}},
		Cooldowns:      map[string]time.Time{"MSFT": at},
		LastCycle:      &CycleSummary{CycleID: "abc", Executed: 2},
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Expected temp file renamed away")
	}

	out, err := s.Load(false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !out.Cooldowns["MSFT"].Equal(at) || out.LastCycle == nil || out.LastCycle.Executed != 2 {
		t.Errorf("Unexpected state after reload: %+v", out)
	}
}
