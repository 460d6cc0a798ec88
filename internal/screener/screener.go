// Package screener runs fast technical strategies over daily bars to
// produce candidate signals for a cycle.
package screener

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"alpha_autotrader/internal/indicators"
	"alpha_autotrader/internal/market"
	"alpha_autotrader/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// lookback is the number of daily bars requested per ticker.
const lookback = 60

// BarSource is the subset of the data provider the screener needs.
type BarSource interface {
	GetBars(ticker string, limit int) ([]models.Bar, error)
	GetAsset(ticker string) (*models.Asset, error)
}

// Strategy inspects closing prices and optionally emits a signal.
type Strategy interface {
	Name() string
	Evaluate(closes []float64) (dir models.Direction, confidence float64, reasoning string, ok bool)
}

// Screener evaluates every strategy for a ticker.
type Screener struct {
	data       BarSource
	strategies []Strategy
	timeout    time.Duration
	logger     *zap.Logger
}

// New creates a screener; no strategies means DefaultStrategies.
func New(data BarSource, logger *zap.Logger, strategies ...Strategy) *Screener {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Screener{data: data, strategies: strategies, logger: logger}
}

// WithTimeout bounds each data call. Zero means unbounded.
func (s *Screener) WithTimeout(d time.Duration) *Screener {
	s.timeout = d
	return s
}

// DefaultStrategies are momentum, SMA trend and RSI mean reversion.
func DefaultStrategies() []Strategy {
	return []Strategy{Momentum{Period: 20, Threshold: 5}, SMATrend{Fast: 20, Slow: 50}, RSIReversion{Period: 14, Low: 30, High: 70}}
}

// Analyze returns all signals for one ticker.
func (s *Screener) Analyze(ctx context.Context, ticker string) ([]models.TradingSignal, error) {
	bars, err := market.Call(ctx, s.timeout, func() ([]models.Bar, error) {
		return s.data.GetBars(ticker, lookback)
	})
	if err != nil {
		return nil, fmt.Errorf("bars for %s: %w", ticker, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s", ticker)
	}
	closes := indicators.Closes(bars)

	fractionable := false
	asset, err := market.Call(ctx, s.timeout, func() (*models.Asset, error) {
		return s.data.GetAsset(ticker)
	})
	if err == nil && asset != nil {
		fractionable = asset.Fractionable
	} else if err != nil {
		s.logger.Debug("asset lookup failed, assuming whole shares", zap.String("ticker", ticker), zap.Error(err))
	}

	var out []models.TradingSignal
	for _, st := range s.strategies {
		dir, conf, why, ok := st.Evaluate(closes)
		if !ok {
			continue
		}
		out = append(out, models.TradingSignal{
			Ticker:               ticker,
			Direction:            dir,
			Confidence:           indicators.Clamp(conf, 0, 100),
			EntryPrice:           bars[len(bars)-1].Close,
			StrategyName:         st.Name(),
			Reasoning:            why,
			PositionSizeFraction: indicators.Clamp(conf/100, 0, 1) * 0.1,
			Fractionable:         fractionable,
		})
	}
	return out, nil
}

// ScreenResult is the outcome for a whole universe.
type ScreenResult struct {
	Signals []models.TradingSignal
	Errors  map[string]error
}

// Screen runs Analyze for every ticker concurrently and keeps the best
// signal per ticker at or above minConfidence, highest first, at most topN.
func (s *Screener) Screen(ctx context.Context, tickers []string, minConfidence float64, topN int) ScreenResult {
	var mu sync.Mutex
	best := make(map[string]models.TradingSignal)
	errs := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tickers {
		g.Go(func() error {
			sigs, err := s.Analyze(gctx, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[t] = err
				return nil
			}
			for _, sig := range sigs {
				if sig.Confidence < minConfidence {
					continue
				}
				if cur, ok := best[t]; !ok || sig.Confidence > cur.Confidence {
					best[t] = sig
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	signals := make([]models.TradingSignal, 0, len(best))
	for _, sig := range best {
		signals = append(signals, sig)
	}
	sort.Slice(signals, func(i, j int) bool {
		if signals[i].Confidence != signals[j].Confidence {
			return signals[i].Confidence > signals[j].Confidence
		}
		return signals[i].Ticker < signals[j].Ticker
	})
	if topN > 0 && len(signals) > topN {
		signals = signals[:topN]
	}
	return ScreenResult{Signals: signals, Errors: errs}
}

// Momentum signals when the Period rate of change exceeds Threshold percent.
type Momentum struct {
	Period    int
	Threshold float64
}

func (m Momentum) Name() string { return "momentum" }

func (m Momentum) Evaluate(closes []float64) (models.Direction, float64, string, bool) {
	if len(closes) < m.Period+1 {
		return "", 0, "", false
	}
	roc := indicators.ROC(closes, m.Period)
	conf := 50 + 2*(abs(roc)-m.Threshold) + 10
	switch {
	case roc >= m.Threshold:
		return models.Long, conf, fmt.Sprintf("%d-day return %+.1f%%", m.Period, roc), true
	case roc <= -m.Threshold:
		return models.Short, conf, fmt.Sprintf("%d-day return %+.1f%%", m.Period, roc), true
	}
	return "", 0, "", false
}

// SMATrend signals when price and the fast average are stacked on the same
// side of the slow average.
type SMATrend struct {
	Fast, Slow int
}

func (s SMATrend) Name() string { return "sma_trend" }

func (s SMATrend) Evaluate(closes []float64) (models.Direction, float64, string, bool) {
	if len(closes) < s.Slow {
		return "", 0, "", false
	}
	px := indicators.Last(closes)
	fast := indicators.SMA(closes, s.Fast)
	slow := indicators.SMA(closes, s.Slow)
	if slow == 0 {
		return "", 0, "", false
	}
	spread := (fast/slow - 1) * 100
	conf := 55 + abs(spread)*5
	why := fmt.Sprintf("price %.2f, SMA%d %.2f, SMA%d %.2f", px, s.Fast, fast, s.Slow, slow)
	switch {
	case px > fast && fast > slow:
		return models.Long, conf, why, true
	case px < fast && fast < slow:
		return models.Short, conf, why, true
	}
	return "", 0, "", false
}

// RSIReversion fades stretched moves.
type RSIReversion struct {
	Period    int
	Low, High float64
}

func (r RSIReversion) Name() string { return "rsi_reversion" }

func (r RSIReversion) Evaluate(closes []float64) (models.Direction, float64, string, bool) {
	if len(closes) < r.Period+1 {
		return "", 0, "", false
	}
	rsi := indicators.RSI(closes, r.Period)
	why := fmt.Sprintf("RSI%d %.1f", r.Period, rsi)
	switch {
	case rsi <= r.Low:
		return models.Long, 60 + (r.Low - rsi), why, true
	case rsi >= r.High:
		return models.Short, 60 + (rsi - r.High), why, true
	}
	return "", 0, "", false
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
