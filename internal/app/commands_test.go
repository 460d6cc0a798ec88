package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"alpha_autotrader/internal/gates"
	"alpha_autotrader/internal/models"
	"alpha_autotrader/internal/monitor"
	"alpha_autotrader/internal/orchestrator"
	"alpha_autotrader/internal/positions"
	"alpha_autotrader/internal/storage"

	"github.com/shopspring/decimal"
)

type MockCycler struct {
	enabled bool
	Result  *orchestrator.CycleResult
	Err     error
	Runs    int
}

func (m *MockCycler) Run(ctx context.Context) (*orchestrator.CycleResult, error) {
	m.Runs++
	return m.Result, m.Err
}
func (m *MockCycler) Enabled() bool     { return m.enabled }
func (m *MockCycler) SetEnabled(v bool) { m.enabled = v }

type MockTicker struct {
	Result monitor.TickResult
	Ticks  int
}

func (m *MockTicker) Tick(ctx context.Context) monitor.TickResult {
	m.Ticks++
	return m.Result
}

type SpyNotifier struct {
	mu       sync.Mutex
	Messages []string
}

func (s *SpyNotifier) Notify(text string) {
	s.mu.Lock()
	s.Messages = append(s.Messages, text)
	s.mu.Unlock()
}

type MockBroker struct {
	Account   models.Account
	Positions []models.BrokerPosition
}

func (m *MockBroker) GetAccount() (*models.Account, error) { a := m.Account; return &a, nil }
func (m *MockBroker) GetClock() (*models.Clock, error)     { return &models.Clock{}, nil }
func (m *MockBroker) ListPositions() ([]models.BrokerPosition, error) {
	return m.Positions, nil
}
func (m *MockBroker) ListOrders(status string) ([]models.Order, error) { return nil, nil }
func (m *MockBroker) PlaceOrder(req models.OrderRequest) (*models.Order, error) {
	return nil, errors.New("unused")
}
func (m *MockBroker) ClosePosition(symbol string, qty decimal.Decimal) (*models.Order, error) {
	return nil, errors.New("unused")
}
func (m *MockBroker) CancelOrder(orderID string) error { return nil }

var now = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newApp(t *testing.T) (*App, *MockCycler, *MockTicker, *SpyNotifier, *storage.Store) {
	t.Helper()
	store := storage.NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	cyc := &MockCycler{enabled: true}
	tick := &MockTicker{}
	notif := &SpyNotifier{}
	a := New(Deps{
		Cycler:   cyc,
		Monitor:  tick,
		Store:    store,
		Rules:    positions.NewRuleStore(),
		Cooldown: gates.NewCooldown(30*time.Minute, func() time.Time { return now }),
		Broker: &MockBroker{
			Account:   models.Account{Equity: decimal.NewFromInt(100000), BuyingPower: decimal.NewFromInt(40000)},
			Positions: []models.BrokerPosition{{Symbol: "AAPL", Side: "long", Qty: decimal.NewFromInt(3), AvgEntryPrice: decimal.NewFromInt(180), UnrealizedPLPC: decimal.RequireFromString("0.0125")}},
		},
		Notifier: notif,
		Version:  "v1.0.0",
		Now:      func() time.Time { return now },
	})
	return a, cyc, tick, notif, store
}

func TestHandleCommand_StopStartPersists(t *testing.T) {
	a, cyc, _, _, store := newApp(t)

	resp := a.HandleCommand(context.Background(), "/stop")
	if !strings.Contains(resp, "DISABLED") || cyc.enabled {
		t.Fatalf("Expected trading disabled, got %q", resp)
	}
	st, err := store.Load(true)
	if err != nil || st.TradingEnabled {
		t.Errorf("Expected persisted switch off, got %+v (%v)", st, err)
	}

	a.HandleCommand(context.Background(), "/start")
	st, _ = store.Load(false)
	if !st.TradingEnabled || !cyc.enabled {
		t.Errorf("Expected persisted switch on")
	}
}

func TestHandleCommand_Status(t *testing.T) {
	a, _, _, _, _ := newApp(t)
	a.d.Rules.Set(models.PositionRule{Ticker: "AAPL", StopLossPct: 5, TakeProfitPct: 15})

	resp := a.HandleCommand(context.Background(), "/status")
	for _, want := range []string{"ENABLED", "No cycle has run yet", "Equity: $100000.00", "AAPL L 3 @ 180.00 (1.25%)", "SL 5.0% TP 15.0%"} {
		if !strings.Contains(resp, want) {
			t.Errorf("Expected %q in status:\n%s", want, resp)
		}
	}
}

func TestHandleCommand_CycleRunsAndSummarizes(t *testing.T) {
	a, cyc, _, notif, store := newApp(t)
	cyc.Result = &orchestrator.CycleResult{CycleID: "abcdef12-x", Started: now, Finished: now, Screened: 4, Validated: 3, Analyzed: 3, Decided: 1, Executed: 1}

	resp := a.HandleCommand(context.Background(), "/cycle")
	if cyc.Runs != 1 || !strings.Contains(resp, "Executed 1") {
		t.Errorf("Unexpected reply %q", resp)
	}
	if len(notif.Messages) != 1 {
		t.Errorf("Expected one trade summary notification, got %v", notif.Messages)
	}
	st, _ := store.Load(false)
	if st.LastCycle == nil || st.LastCycle.Screened != 4 {
		t.Errorf("Expected last cycle persisted, got %+v", st.LastCycle)
	}
}

func TestRunCycle_BlockedIsRecorded(t *testing.T) {
	a, cyc, _, notif, _ := newApp(t)
	cyc.Result = &orchestrator.CycleResult{}
	cyc.Err = orchestrator.ErrTradingDisabled

	a.RunCycle(context.Background())
	if len(notif.Messages) != 0 {
		t.Errorf("Disabled switch must not spam the operator")
	}
	if !strings.Contains(formatSummary(a.last, time.UTC), "trading disabled") {
		t.Errorf("Expected blocked reason in summary")
	}

	cyc.Err = errors.New("pattern day trade guard: 3 day trades")
	a.RunCycle(context.Background())
	if len(notif.Messages) != 1 || !strings.Contains(notif.Messages[0], "Cycle blocked") {
		t.Errorf("Expected blocked notification, got %v", notif.Messages)
	}
}

func TestRestore(t *testing.T) {
	a, cyc, _, _, _ := newApp(t)
	a.Restore(storage.State{
		TradingEnabled: false,
		PositionRules:  map[string]models.PositionRule{"MSFT": {StopLossPct: 4}},
		Cooldowns:      map[string]time.Time{"MSFT": now.Add(-5 * time.Minute)},
	})
	if cyc.enabled {
		t.Errorf("Expected switch restored off")
	}
	if r, ok := a.d.Rules.Get("MSFT"); !ok || r.Ticker != "MSFT" {
		t.Errorf("Expected rule restored, got %+v", r)
	}
	if ok, _ := a.d.Cooldown.Check("MSFT"); ok {
		t.Errorf("Expected cooldown restored")
	}
}

func TestHandleCommand_Monitor(t *testing.T) {
	a, _, tick, _, _ := newApp(t)
	tick.Result = monitor.TickResult{
		Checked: 2,
		Alerts:  []models.Alert{{Ticker: "TSLA", Trigger: monitor.StopLoss, Outcome: "closed"}},
	}
	resp := a.HandleCommand(context.Background(), "/monitor")
	if tick.Ticks != 1 || !strings.Contains(resp, "Checked 2") || !strings.Contains(resp, "stop_loss TSLA") {
		t.Errorf("Unexpected reply %q", resp)
	}
}

func TestHandleCommand_Unknown(t *testing.T) {
	a, _, _, _, _ := newApp(t)
	if resp := a.HandleCommand(context.Background(), "/buy AAPL"); !strings.HasPrefix(resp, "Unknown command") {
		t.Errorf("Unexpected reply %q", resp)
	}
	if resp := a.HandleCommand(context.Background(), "/help"); !strings.Contains(resp, "/cycle") {
		t.Errorf("Expected help to list /cycle")
	}
}
