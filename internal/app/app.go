// Package app ties the trading cycle, the position monitor, persisted state
// and the operator commands together.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"alpha_autotrader/internal/gates"
	"alpha_autotrader/internal/market"
	"alpha_autotrader/internal/monitor"
	"alpha_autotrader/internal/orchestrator"
	"alpha_autotrader/internal/positions"
	"alpha_autotrader/internal/storage"

	"go.uber.org/zap"
)

// Cycler runs trading cycles; *orchestrator.Orchestrator satisfies it.
type Cycler interface {
	Run(ctx context.Context) (*orchestrator.CycleResult, error)
	Enabled() bool
	SetEnabled(v bool)
}

// Ticker runs monitor ticks; *monitor.Monitor satisfies it.
type Ticker interface {
	Tick(ctx context.Context) monitor.TickResult
}

// Notifier receives operator messages.
type Notifier interface {
	Notify(text string)
}

// Deps are the collaborators. Cycler, Monitor, Store, Rules and Cooldown
// are required.
type Deps struct {
	Cycler   Cycler
	Monitor  Ticker
	Store    *storage.Store
	Rules    *positions.RuleStore
	Cooldown *gates.Cooldown
	Broker   market.Broker
	Notifier Notifier
	Logger   *zap.Logger
	Version  string
	Now      func() time.Time
}

type CommandDoc struct {
	Name        string
	Description string
}

// App is the running service.
type App struct {
	d         Deps
	logger    *zap.Logger
	startedAt time.Time
	commands  []CommandDoc

	mu   sync.Mutex
	last *storage.CycleSummary

	// tickMu keeps the scheduled tick and /monitor from closing twice.
	tickMu sync.Mutex
}

// New creates the service.
func New(d Deps) *App {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &App{
		d:         d,
		logger:    d.Logger,
		startedAt: d.Now(),
		commands: []CommandDoc{
			{"/ping", "Connectivity check"},
			{"/status", "Switch, last cycle, account and positions"},
			{"/cycle", "Run a trading cycle now"},
			{"/monitor", "Run a position check now"},
			{"/stop", "Killswitch. Disables all autonomous execution"},
			{"/start", "Enable autonomous execution"},
			{"/help", "This list"},
		},
	}
}

// Restore loads persisted rules, cooldowns, the switch and the last cycle.
func (a *App) Restore(st storage.State) {
	a.d.Rules.Restore(st.PositionRules)
	a.d.Cooldown.Restore(st.Cooldowns)
	a.d.Cycler.SetEnabled(st.TradingEnabled)
	a.mu.Lock()
	a.last = st.LastCycle
	a.mu.Unlock()
	a.logger.Info("state restored",
		zap.Bool("trading_enabled", st.TradingEnabled),
		zap.Int("rules", len(st.PositionRules)),
		zap.Int("cooldowns", len(st.Cooldowns)))
}

// Persist writes the current state.
func (a *App) Persist() error {
	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	return a.d.Store.Save(storage.State{
		TradingEnabled: a.d.Cycler.Enabled(),
		PositionRules:  a.d.Rules.Snapshot(),
		Cooldowns:      a.d.Cooldown.Snapshot(),
		LastCycle:      last,
	})
}

// RunCycle runs one cycle and persists the outcome. It is the cycle job.
func (a *App) RunCycle(ctx context.Context) {
	res, err := a.d.Cycler.Run(ctx)
	if errors.Is(err, orchestrator.ErrCycleRunning) {
		a.logger.Info("cycle skipped: previous cycle still running")
		return
	}

	summary := summarize(res)
	if err != nil {
		summary.Fatal = err.Error()
	}
	a.mu.Lock()
	a.last = summary
	a.mu.Unlock()

	if perr := a.Persist(); perr != nil {
		a.logger.Error("failed to save state", zap.Error(perr))
	}

	switch {
	case err == nil && res != nil && (res.Executed > 0 || len(res.Errors) > 0 || res.Rotation != ""):
		a.notify("📊 " + res.Summary())
	case err != nil && !errors.Is(err, orchestrator.ErrTradingDisabled) && !errors.Is(err, orchestrator.ErrMarketClosed):
		a.notify("⚠️ Cycle blocked: " + err.Error())
	}
}

// RunMonitor runs one monitor tick. It is the monitor job.
func (a *App) RunMonitor(ctx context.Context) {
	a.tick(ctx)
}

func (a *App) tick(ctx context.Context) monitor.TickResult {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()
	res := a.d.Monitor.Tick(ctx)
	if len(res.Alerts) > 0 {
		if err := a.Persist(); err != nil {
			a.logger.Error("failed to save state", zap.Error(err))
		}
	}
	return res
}

func (a *App) notify(text string) {
	if a.d.Notifier != nil {
		a.d.Notifier.Notify(text)
	}
}

func summarize(res *orchestrator.CycleResult) *storage.CycleSummary {
	if res == nil {
		return &storage.CycleSummary{}
	}
	return &storage.CycleSummary{
		CycleID:   res.CycleID,
		Started:   res.Started,
		Finished:  res.Finished,
		Screened:  res.Screened,
		Validated: res.Validated,
		Analyzed:  res.Analyzed,
		Decided:   res.Decided,
		Executed:  res.Executed,
		Skipped:   len(res.Skips),
		Errors:    len(res.Errors),
		Rotation:  res.Rotation,
	}
}

func formatSummary(s *storage.CycleSummary, loc *time.Location) string {
	if s == nil || s.Started.IsZero() {
		if s != nil && s.Fatal != "" {
			return "Last cycle blocked: " + s.Fatal
		}
		return "No cycle has run yet."
	}
	out := fmt.Sprintf("Last cycle %s\nScreened %d | Validated %d | Analyzed %d | Decided %d | Executed %d\nSkips %d | Errors %d",
		s.Started.In(loc).Format("2006-01-02 15:04 MST"),
		s.Screened, s.Validated, s.Analyzed, s.Decided, s.Executed, s.Skipped, s.Errors)
	if s.Rotation != "" {
		out += "\n" + s.Rotation
	}
	if s.Fatal != "" {
		out += "\nBlocked: " + s.Fatal
	}
	return out
}
