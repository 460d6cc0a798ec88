// Package analysis runs several independent analysts per ticker and
// reduces their opinions to one direction and confidence.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alpha_autotrader/internal/indicators"
	"alpha_autotrader/internal/market"
	"alpha_autotrader/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"

	// ModeFast runs only the trend analyst.
	ModeFast = "fast"

	lookback = 60
)

// BarSource supplies daily bars.
type BarSource interface {
	GetBars(ticker string, limit int) ([]models.Bar, error)
}

// Analyst produces one opinion from closing prices.
type Analyst interface {
	Name() string
	Analyze(closes []float64) models.SourceSignal
}

// Consensus is the analyst-consensus collaborator.
type Consensus struct {
	data     BarSource
	analysts []Analyst
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a consensus over the default analysts.
func New(data BarSource, logger *zap.Logger) *Consensus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consensus{
		data:     data,
		analysts: []Analyst{Trend{}, Momentum{}, VolAdjusted{}},
		logger:   logger,
	}
}

// WithTimeout bounds each bars request. Zero means unbounded.
func (c *Consensus) WithTimeout(d time.Duration) *Consensus {
	c.timeout = d
	return c
}

// Analyze produces one AnalysisResult per ticker that had data. Tickers
// that failed are returned in the error map.
func (c *Consensus) Analyze(ctx context.Context, tickers []string, mode string) ([]models.AnalysisResult, map[string]error) {
	analysts := c.analysts
	if mode == ModeFast {
		analysts = analysts[:1]
	}

	var mu sync.Mutex
	results := make(map[string]models.AnalysisResult, len(tickers))
	errs := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tickers {
		g.Go(func() error {
			res, err := c.analyzeOne(gctx, t, analysts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[t] = err
				return nil
			}
			results[t] = res
			return nil
		})
	}
	_ = g.Wait()

	// Keep input order.
	out := make([]models.AnalysisResult, 0, len(results))
	for _, t := range tickers {
		if r, ok := results[t]; ok {
			out = append(out, r)
		}
	}
	return out, errs
}

func (c *Consensus) analyzeOne(ctx context.Context, ticker string, analysts []Analyst) (models.AnalysisResult, error) {
	bars, err := market.Call(ctx, c.timeout, func() ([]models.Bar, error) {
		return c.data.GetBars(ticker, lookback)
	})
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("bars for %s: %w", ticker, err)
	}
	if len(bars) < 2 {
		return models.AnalysisResult{}, fmt.Errorf("not enough history for %s", ticker)
	}
	closes := indicators.Closes(bars)

	signals := make(map[string]models.SourceSignal, len(analysts))
	for _, a := range analysts {
		signals[a.Name()] = a.Analyze(closes)
	}
	dir, conf := Aggregate(signals)
	c.logger.Debug("consensus",
		zap.String("ticker", ticker), zap.String("direction", dir), zap.Float64("confidence", conf))
	return models.AnalysisResult{
		Ticker:              ticker,
		Signals:             signals,
		ConsensusDirection:  dir,
		ConsensusConfidence: conf,
	}, nil
}

// Aggregate is a simple majority vote: bullish count vs bearish count, ties
// are neutral, confidence is the mean over directional sources.
func Aggregate(signals map[string]models.SourceSignal) (string, float64) {
	bull, bear := 0, 0
	sum := 0.0
	for _, s := range signals {
		switch s.Direction {
		case Bullish:
			bull++
		case Bearish:
			bear++
		default:
			continue
		}
		sum += s.Confidence
	}
	directional := bull + bear
	if directional == 0 {
		return Neutral, 0
	}
	conf := sum / float64(directional)
	switch {
	case bull > bear:
		return Bullish, conf
	case bear > bull:
		return Bearish, conf
	default:
		return Neutral, conf
	}
}

// Trend compares SMA20 against SMA50.
type Trend struct{}

func (Trend) Name() string { return "trend" }

func (Trend) Analyze(closes []float64) models.SourceSignal {
	fast, slow := indicators.SMA(closes, 20), indicators.SMA(closes, 50)
	if fast == 0 || slow == 0 {
		return models.SourceSignal{Direction: Neutral, Rationale: "insufficient history"}
	}
	spread := (fast/slow - 1) * 100
	conf := indicators.Clamp(50+abs(spread)*8, 0, 100)
	why := fmt.Sprintf("SMA20 %.2f vs SMA50 %.2f (%+.2f%%)", fast, slow, spread)
	switch {
	case spread > 0.5:
		return models.SourceSignal{Direction: Bullish, Confidence: conf, Rationale: why}
	case spread < -0.5:
		return models.SourceSignal{Direction: Bearish, Confidence: conf, Rationale: why}
	}
	return models.SourceSignal{Direction: Neutral, Confidence: 50, Rationale: why}
}

// Momentum reads the 10-day rate of change.
type Momentum struct{}

func (Momentum) Name() string { return "momentum" }

func (Momentum) Analyze(closes []float64) models.SourceSignal {
	if len(closes) < 11 {
		return models.SourceSignal{Direction: Neutral, Rationale: "insufficient history"}
	}
	roc := indicators.ROC(closes, 10)
	conf := indicators.Clamp(50+abs(roc)*4, 0, 100)
	why := fmt.Sprintf("10-day ROC %+.2f%%", roc)
	switch {
	case roc > 2:
		return models.SourceSignal{Direction: Bullish, Confidence: conf, Rationale: why}
	case roc < -2:
		return models.SourceSignal{Direction: Bearish, Confidence: conf, Rationale: why}
	}
	return models.SourceSignal{Direction: Neutral, Confidence: 50, Rationale: why}
}

// VolAdjusted scales the 5-day move by ATR14.
type VolAdjusted struct{}

func (VolAdjusted) Name() string { return "vol_adjusted" }

func (VolAdjusted) Analyze(closes []float64) models.SourceSignal {
	atr := indicators.ATR(closes, 14)
	if atr == 0 || len(closes) < 6 {
		return models.SourceSignal{Direction: Neutral, Rationale: "no volatility estimate"}
	}
	move := indicators.Last(closes) - closes[len(closes)-6]
	z := move / atr
	conf := indicators.Clamp(50+abs(z)*10, 0, 100)
	why := fmt.Sprintf("5-day move %.2f = %.1f ATR", move, z)
	switch {
	case z > 1:
		return models.SourceSignal{Direction: Bullish, Confidence: conf, Rationale: why}
	case z < -1:
		return models.SourceSignal{Direction: Bearish, Confidence: conf, Rationale: why}
	}
	return models.SourceSignal{Direction: Neutral, Confidence: 50, Rationale: why}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
