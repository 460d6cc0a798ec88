// Package decision asks the inference provider for one action per ticker,
// repairs whatever comes back, and clamps it to the permitted caps.
package decision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"alpha_autotrader/internal/models"
	"alpha_autotrader/internal/risk"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Inferer turns a prompt into raw model text.
type Inferer interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Gate bounds inference calls; *ratelimit.Controller satisfies it.
type Gate interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// Input is everything the engine needs for one ticker.
type Input struct {
	Ticker       string
	Analysis     models.AnalysisResult
	Allowed      models.AllowedActionSet
	Holding      risk.Holding
	Price        decimal.Decimal
	Cash         decimal.Decimal
	Fractionable bool
	Research     string
}

// Engine is the portfolio decision engine.
type Engine struct {
	inferer          Inferer
	gate             Gate
	batchSize        int
	researchMaxChars int
	logger           *zap.Logger
}

// NewEngine creates an engine. batchSize caps tickers per inference call.
func NewEngine(inferer Inferer, gate Gate, batchSize, researchMaxChars int, logger *zap.Logger) *Engine {
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		inferer:          inferer,
		gate:             gate,
		batchSize:        batchSize,
		researchMaxChars: researchMaxChars,
		logger:           logger,
	}
}

// Decide returns exactly one decision per input ticker. Hold-only tickers
// are filled without inference; a failed batch holds only its own tickers.
func (e *Engine) Decide(ctx context.Context, inputs []Input) map[string]models.PortfolioDecision {
	out := make(map[string]models.PortfolioDecision, len(inputs))
	var pending []Input
	for _, in := range inputs {
		if !in.Allowed.Actionable() {
			reason := "no actionable capacity"
			if in.Allowed.BlockReason != "" {
				reason += ": " + in.Allowed.BlockReason
			}
			out[in.Ticker] = models.HoldDecision(reason)
			continue
		}
		out[in.Ticker] = models.HoldDecision("no decision returned")
		pending = append(pending, in)
	}
	if len(pending) == 0 {
		return out
	}

	var mu sync.Mutex
	var g errgroup.Group
	for start := 0; start < len(pending); start += e.batchSize {
		batch := pending[start:min(start+e.batchSize, len(pending))]
		g.Go(func() error {
			results := e.decideBatch(ctx, batch)
			mu.Lock()
			for t, d := range results {
				out[t] = d
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) decideBatch(ctx context.Context, batch []Input) map[string]models.PortfolioDecision {
	results := make(map[string]models.PortfolioDecision, len(batch))
	tickers := make([]string, 0, len(batch))
	for _, in := range batch {
		tickers = append(tickers, in.Ticker)
	}

	prompt := buildPrompt(batch, e.researchMaxChars)
	var raw string
	err := e.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = e.inferer.Generate(ctx, systemInstruction, prompt)
		return err
	})
	if err != nil {
		e.logger.Warn("decision inference failed, holding batch",
			zap.Strings("tickers", tickers), zap.Error(err))
		for _, t := range tickers {
			results[t] = models.HoldDecision("decision inference failed: " + err.Error())
		}
		return results
	}

	items, err := Decode(raw)
	if err != nil {
		e.logger.Warn("undecodable decision output, holding batch",
			zap.Strings("tickers", tickers), zap.Error(err))
		for _, t := range tickers {
			results[t] = models.HoldDecision("undecodable decision output: " + err.Error())
		}
		return results
	}

	for _, in := range batch {
		item, ok := items[normalizeTicker(in.Ticker)]
		if !ok {
			results[in.Ticker] = models.HoldDecision("no decision returned for " + in.Ticker)
			continue
		}
		if item.Outcome == Invalid {
			e.logger.Warn("invalid decision item", zap.String("ticker", in.Ticker), zap.Strings("problems", item.Problems))
			results[in.Ticker] = models.HoldDecision("invalid decision: " + strings.Join(item.Problems, "; "))
			continue
		}
		if item.Outcome == Repairable {
			e.logger.Info("repaired decision item", zap.String("ticker", in.Ticker), zap.Strings("problems", item.Problems))
		}
		results[in.Ticker] = Clamp(item.Decision, in.Allowed, in.Fractionable)
	}
	return results
}

// Clamp bounds a decision to its action cap. A non-hold action clamped to
// zero becomes a hold; confidence is bounded to [0, 100].
func Clamp(d models.PortfolioDecision, allowed models.AllowedActionSet, fractionable bool) models.PortfolioDecision {
	d.Confidence = max(0, min(100, d.Confidence))
	if d.Action == models.ActionHold {
		d.Quantity = decimal.Zero
		return d
	}

	qty := d.Quantity
	if !fractionable || d.Action == models.ActionShort || d.Action == models.ActionCancel {
		qty = qty.Floor()
	}
	capQty := allowed.Cap(d.Action)
	if qty.GreaterThan(capQty) {
		d.Reasoning = appendReason(d.Reasoning, fmt.Sprintf("quantity clamped from %s to %s", d.Quantity.String(), capQty.String()))
		qty = capQty
	}
	if !qty.IsPositive() {
		why := fmt.Sprintf("%s clamped to zero", d.Action)
		if allowed.BlockReason != "" {
			why += " (" + allowed.BlockReason + ")"
		}
		d.Action = models.ActionHold
		d.Reasoning = appendReason(d.Reasoning, why)
		qty = decimal.Zero
	}
	d.Quantity = qty
	return d
}

func appendReason(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "; " + extra
}
