package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"alpha_autotrader/internal/ai"
	"alpha_autotrader/internal/analysis"
	"alpha_autotrader/internal/app"
	"alpha_autotrader/internal/config"
	"alpha_autotrader/internal/decision"
	"alpha_autotrader/internal/gates"
	"alpha_autotrader/internal/logger"
	"alpha_autotrader/internal/market"
	"alpha_autotrader/internal/market/alpaca"
	"alpha_autotrader/internal/monitor"
	"alpha_autotrader/internal/orchestrator"
	"alpha_autotrader/internal/positions"
	"alpha_autotrader/internal/ratelimit"
	"alpha_autotrader/internal/research"
	"alpha_autotrader/internal/risk"
	"alpha_autotrader/internal/scheduler"
	"alpha_autotrader/internal/screener"
	"alpha_autotrader/internal/storage"
	"alpha_autotrader/internal/storage/sqlite"
	"alpha_autotrader/internal/telegram"
	"alpha_autotrader/internal/validation"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const LogFile = "autotrader.log"
const VersionFile = "version.latest"

// main is the entry point of the application.
func main() {
	// 1. Initialization
	// Load configuration first to get logger settings
	cfg := config.Load()
	cfg.Version = readVersion()

	log := logger.Setup(LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Storage
	records, err := sqlite.Open(cfg.RecordDBPath)
	if err != nil {
		log.Fatal("failed to open record store", zap.Error(err))
	}
	defer records.Close()

	store := storage.NewStore(cfg.StateFile, log)
	state, err := store.Load(cfg.TradingEnabled)
	if err != nil {
		log.Fatal("failed to load state", zap.Error(err))
	}

	// 3. Collaborators
	provider := alpaca.NewProvider()
	notifier := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID, log)

	limiter := ratelimit.New(ratelimit.Options{
		MaxConcurrent:  cfg.LLMMaxConcurrent,
		CallsPerMinute: cfg.LLMCallsPerMin,
		MaxAttempts:    cfg.LLMMaxRetries,
		BackoffBase:    time.Duration(cfg.LLMBackoffBaseMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.LLMBackoffMaxSecs) * time.Second,
	}, nil, log)
	engine := decision.NewEngine(
		ai.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.CallTimeout(), log),
		limiter, cfg.DecisionBatchSize, cfg.ResearchMaxChars, log)

	validator := validation.New(
		research.NewClient(cfg.ResearchAPIURL, cfg.ResearchAPIKey, cfg.ResearchModel, cfg.CallTimeout(), log),
		validation.Policy{NeutralMinConfidence: cfg.ValidatorNeutralConf, BypassMinConfidence: cfg.ValidatorBypassConf},
		log)

	// Shared state: one cooldown tracker and one rule store for both drivers.
	cooldown := gates.NewCooldown(cfg.Cooldown(), nil)
	rules := positions.NewRuleStore()

	orch := orchestrator.New(orchestrator.Config{
		Universe:             cfg.Universe,
		MinSignalConfidence:  cfg.MinSignalConfidence,
		MaxCandidates:        cfg.MaxCandidates,
		AnalysisMode:         cfg.AnalysisMode,
		CallTimeout:          cfg.CallTimeout(),
		MarketHoursOnly:      cfg.MarketHoursOnly,
		Paper:                cfg.Paper,
		PaperRelaxation:      cfg.PaperRiskRelaxation,
		RotationEnabled:      cfg.RotationEnabled,
		DefaultStopLossPct:   cfg.DefaultStopLossPct,
		DefaultTakeProfitPct: cfg.DefaultTakeProfitPct,
		MaxHold:              cfg.MaxHold(),
	}, orchestrator.Deps{
		Broker:        provider,
		Data:          provider,
		Screener:      screener.New(provider, log).WithTimeout(cfg.CallTimeout()),
		Validator:     validator,
		Analyzer:      analysis.New(provider, log).WithTimeout(cfg.CallTimeout()),
		Decider:       engine,
		Records:       records,
		Notifier:      notifier,
		Cooldown:      cooldown,
		Concentration: gates.Concentration{MaxPct: cfg.MaxConcentrationPct},
		PDT: gates.PDTGuard{
			EquityThreshold: decimal.NewFromFloat(cfg.PDTEquityThreshold),
			MaxDayTrades:    cfg.PDTMaxDayTrades,
		},
		Rotation: gates.RotationScorer{MinBuyingPowerPct: cfg.RotationMinBuyingPowerPct},
		Budgets:  risk.PositionLimit{MaxPositionPct: cfg.MaxPositionPct},
		Rules:    rules,
		Logger:   log.Named("cycle"),
	}, state.TradingEnabled)

	live := market.NewLivePrices(2 * cfg.MonitorInterval())
	mon := monitor.New(monitor.Config{
		DefaultStopLossPct:   cfg.DefaultStopLossPct,
		DefaultTakeProfitPct: cfg.DefaultTakeProfitPct,
		CallTimeout:          cfg.CallTimeout(),
	}, monitor.Deps{
		Broker:   provider,
		Data:     provider,
		Live:     live,
		Rules:    rules,
		Records:  records,
		Notifier: notifier,
		Logger:   log.Named("monitor"),
	})

	service := app.New(app.Deps{
		Cycler:   orch,
		Monitor:  mon,
		Store:    store,
		Rules:    rules,
		Cooldown: cooldown,
		Broker:   provider,
		Notifier: notifier,
		Logger:   log,
		Version:  cfg.Version,
	})
	service.Restore(state)

	// 4. Live prices for the monitor: universe plus whatever is held.
	streamer := market.NewAlpacaStreamer(log.Named("stream"))
	if err := streamer.Subscribe(ctx, streamTickers(cfg.Universe, provider, log), live.Update); err != nil {
		log.Warn("live price stream unavailable, monitor falls back to polling", zap.Error(err))
	}
	defer streamer.Close()

	// 5. Operator commands (Background)
	go telegram.NewListener(notifier, service.HandleCommand).Run(ctx)

	// 6. Signal Handling (Graceful Shutdown)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Warn("⚠️ Autotrader shutting down: system signal received")
		cancel()
	}()

	// 7. Drivers
	runner := scheduler.New(log.Named("cron"), ctx)
	if _, err := runner.Every("cycle", cfg.CycleInterval(), service.RunCycle); err != nil {
		log.Fatal("failed to schedule cycle", zap.Error(err))
	}
	if _, err := runner.Every("monitor", cfg.MonitorInterval(), service.RunMonitor); err != nil {
		log.Fatal("failed to schedule monitor", zap.Error(err))
	}

	log.Info("Alpha Autotrader initialized",
		zap.String("version", cfg.Version),
		zap.Bool("paper", cfg.Paper),
		zap.Bool("trading_enabled", state.TradingEnabled),
		zap.Duration("cycle_interval", cfg.CycleInterval()),
		zap.Duration("monitor_interval", cfg.MonitorInterval()))
	notifier.Notify("🤖 Alpha Autotrader " + cfg.Version + " started")

	// Run once immediately on start
	service.RunMonitor(ctx)
	go service.RunCycle(ctx)
	runner.Start()

	<-ctx.Done()
	log.Info("🛑 Main loop stopping...")
	runner.Stop()
	if err := service.Persist(); err != nil {
		log.Error("failed to save state on shutdown", zap.Error(err))
	}
}

func streamTickers(universe []string, broker market.Broker, log *zap.Logger) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range universe {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	held, err := broker.ListPositions()
	if err != nil {
		log.Warn("could not list positions for stream", zap.Error(err))
		return out
	}
	for _, p := range held {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

func readVersion() string {
	// read version from VersionFile file
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
