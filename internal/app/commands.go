package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"alpha_autotrader/internal/config"
	"alpha_autotrader/internal/market"
	"alpha_autotrader/internal/models"
	"alpha_autotrader/internal/monitor"

	"go.uber.org/zap"
)

// HandleCommand processes inbound Telegram commands safely.
func (a *App) HandleCommand(ctx context.Context, cmd string) string {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return ""
	}

	switch strings.ToLower(parts[0]) {
	case "/ping":
		return "Pong 🏓"
	case "/status":
		return a.getStatus(ctx)
	case "/stop":
		return a.handleStopCommand()
	case "/start":
		return a.handleStartCommand()
	case "/cycle":
		return a.handleCycleCommand(ctx)
	case "/monitor":
		return a.handleMonitorCommand(ctx)
	case "/help":
		return a.getHelp()
	default:
		return "Unknown command. Try /status, /cycle, /monitor, /stop or /start."
	}
}

func (a *App) handleStopCommand() string {
	a.d.Cycler.SetEnabled(false)
	if err := a.Persist(); err != nil {
		a.logger.Error("failed to save state", zap.Error(err))
	}
	return "🛑 TRADING DISABLED. No new orders will be placed. Exits stay active."
}

func (a *App) handleStartCommand() string {
	a.d.Cycler.SetEnabled(true)
	if err := a.Persist(); err != nil {
		a.logger.Error("failed to save state", zap.Error(err))
	}
	return "✅ TRADING ENABLED. Autonomous cycles active."
}

func (a *App) handleCycleCommand(ctx context.Context) string {
	a.RunCycle(ctx)
	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	return "🔁 " + formatSummary(last, config.CetLoc)
}

func (a *App) handleMonitorCommand(ctx context.Context) string {
	res := a.tick(ctx)
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Checked %d position(s): %d alert(s), %d skip(s), %d error(s)",
		res.Checked, len(res.Alerts), len(res.Skips), len(res.Errors))
	for _, al := range res.Alerts {
		sb.WriteString("\n\n" + monitor.FormatAlert(al))
	}
	for _, e := range res.Errors {
		sb.WriteString("\n⚠️ " + e.Error())
	}
	return sb.String()
}

func (a *App) getStatus(ctx context.Context) string {
	var sb strings.Builder

	state := "🟢 ENABLED"
	if !a.d.Cycler.Enabled() {
		state = "🔴 DISABLED"
	}
	fmt.Fprintf(&sb, "Alpha Autotrader %s\nTrading: %s\nUptime: %s\n\n",
		a.d.Version, state, a.d.Now().Sub(a.startedAt).Truncate(time.Second))

	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	sb.WriteString(formatSummary(last, config.CetLoc))

	if a.d.Broker == nil {
		return sb.String()
	}

	timeout := 10 * time.Second
	acct, err := market.Call(ctx, timeout, a.d.Broker.GetAccount)
	if err != nil {
		sb.WriteString("\n\n⚠️ Account unavailable: " + err.Error())
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n\nEquity: $%s\nBuying power: $%s\nDay trades: %d",
		acct.Equity.StringFixed(2), acct.BuyingPower.StringFixed(2), acct.DaytradeCount)

	held, err := market.Call(ctx, timeout, a.d.Broker.ListPositions)
	if err != nil {
		sb.WriteString("\n⚠️ Positions unavailable: " + err.Error())
		return sb.String()
	}
	if len(held) == 0 {
		sb.WriteString("\n\nNo open positions.")
		return sb.String()
	}
	sort.Slice(held, func(i, j int) bool { return held[i].Symbol < held[j].Symbol })
	sb.WriteString("\n\nPositions:")
	for _, p := range held {
		sb.WriteString("\n" + a.positionLine(p))
	}
	return sb.String()
}

func (a *App) positionLine(p models.BrokerPosition) string {
	side := "L"
	if p.IsShort() {
		side = "S"
	}
	line := fmt.Sprintf("• %s %s %s @ %s (%s%%)",
		p.Symbol, side, p.AbsQty().String(), p.AvgEntryPrice.StringFixed(2),
		p.UnrealizedPLPC.Shift(2).StringFixed(2))
	if r, ok := a.d.Rules.Get(p.Symbol); ok {
		line += fmt.Sprintf(" SL %.1f%% TP %.1f%%", r.StopLossPct, r.TakeProfitPct)
	}
	return line
}

func (a *App) getHelp() string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, c := range a.commands {
		fmt.Fprintf(&sb, "%s - %s\n", c.Name, c.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
