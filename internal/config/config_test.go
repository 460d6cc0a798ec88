package config

import (
	"os"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("APCA_API_KEY_ID", "test_key")
	t.Setenv("APCA_API_SECRET_KEY", "test_secret")
	t.Setenv("APCA_API_BASE_URL", "https://paper-api.alpaca.markets")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	optionals := []string{
		"LOG_LEVEL",
		"CYCLE_INTERVAL_MINS",
		"MONITOR_INTERVAL_SECS",
		"COOLDOWN_MINS",
		"MAX_CONCENTRATION_PCT",
		"TRADING_ENABLED",
		"UNIVERSE",
		"PAPER_RISK_RELAXATION",
	}
	for _, k := range optionals {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.LogLevel != "info" {
		t.Errorf("Expected LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.CycleIntervalMins != 15 {
		t.Errorf("Expected CycleIntervalMins 15, got %d", cfg.CycleIntervalMins)
	}
	if cfg.MonitorIntervalSecs != 60 {
		t.Errorf("Expected MonitorIntervalSecs 60, got %d", cfg.MonitorIntervalSecs)
	}
	if cfg.CooldownMins != 30 {
		t.Errorf("Expected CooldownMins 30, got %d", cfg.CooldownMins)
	}
	if cfg.MaxConcentrationPct != 20.0 {
		t.Errorf("Expected MaxConcentrationPct 20.0, got %f", cfg.MaxConcentrationPct)
	}
	if cfg.TradingEnabled {
		t.Error("Expected trading to be disabled by default")
	}
	if cfg.PaperRiskRelaxation {
		t.Error("Expected paper relaxation to be opt-in")
	}
	if !cfg.Paper {
		t.Error("Expected paper mode for paper base URL")
	}
	if len(cfg.Universe) == 0 {
		t.Error("Expected a default universe")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APCA_API_BASE_URL", "https://api.alpaca.markets")
	t.Setenv("UNIVERSE", " aapl, msft,,AAPL ")
	t.Setenv("COOLDOWN_MINS", "45")
	t.Setenv("TRADING_ENABLED", "true")
	t.Setenv("MIN_SIGNAL_CONFIDENCE", "not-a-number")
	t.Setenv("MONITOR_INTERVAL_SECS", "1")

	cfg := Load()

	if cfg.Paper {
		t.Error("Expected live mode for live base URL")
	}
	if len(cfg.Universe) != 2 || cfg.Universe[0] != "AAPL" || cfg.Universe[1] != "MSFT" {
		t.Errorf("Expected [AAPL MSFT], got %v", cfg.Universe)
	}
	if cfg.CooldownMins != 45 {
		t.Errorf("Expected CooldownMins 45, got %d", cfg.CooldownMins)
	}
	if !cfg.TradingEnabled {
		t.Error("Expected trading enabled")
	}
	if cfg.MinSignalConfidence != 60 {
		t.Errorf("Expected fallback MinSignalConfidence 60, got %f", cfg.MinSignalConfidence)
	}
	if cfg.MonitorIntervalSecs != 5 {
		t.Errorf("Expected clamped MonitorIntervalSecs 5, got %d", cfg.MonitorIntervalSecs)
	}
}
