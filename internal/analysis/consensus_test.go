package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"alpha_autotrader/internal/models"

	"github.com/shopspring/decimal"
)

type MockBars map[string][]float64

func (m MockBars) GetBars(ticker string, limit int) ([]models.Bar, error) {
	closes, ok := m[ticker]
	if !ok {
		return nil, errors.New("no data")
	}
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{Close: decimal.NewFromFloat(c)}
	}
	return bars, nil
}

func ramp(n int, start, step float64) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = start + float64(i)*step
	}
	return xs
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		signals  map[string]models.SourceSignal
		wantDir  string
		wantConf float64
	}{
		{
			name: "majority bullish",
			signals: map[string]models.SourceSignal{
				"a": {Direction: Bullish, Confidence: 80},
				"b": {Direction: Bullish, Confidence: 60},
				"c": {Direction: Bearish, Confidence: 70},
			},
			wantDir: Bullish, wantConf: 70,
		},
		{
			name: "tie is neutral",
			signals: map[string]models.SourceSignal{
				"a": {Direction: Bullish, Confidence: 90},
				"b": {Direction: Bearish, Confidence: 50},
				"c": {Direction: Neutral, Confidence: 50},
			},
			wantDir: Neutral, wantConf: 70,
		},
		{
			name:    "no directional sources",
			signals: map[string]models.SourceSignal{"a": {Direction: Neutral, Confidence: 50}},
			wantDir: Neutral, wantConf: 0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir, conf := Aggregate(tc.signals)
			if dir != tc.wantDir || conf != tc.wantConf {
				t.Errorf("got %s/%v, want %s/%v", dir, conf, tc.wantDir, tc.wantConf)
			}
		})
	}
}

func TestConsensus_Analyze(t *testing.T) {
	c := New(MockBars{"UP": ramp(60, 100, 1), "DOWN": ramp(60, 200, -1)}, nil)

	res, errs := c.Analyze(context.Background(), []string{"UP", "MISSING", "DOWN"}, "standard")
	if len(res) != 2 || res[0].Ticker != "UP" || res[1].Ticker != "DOWN" {
		t.Fatalf("Expected UP and DOWN in order, got %+v", res)
	}
	if res[0].ConsensusDirection != Bullish || res[1].ConsensusDirection != Bearish {
		t.Errorf("Unexpected directions %s/%s", res[0].ConsensusDirection, res[1].ConsensusDirection)
	}
	if len(res[0].Signals) != 3 {
		t.Errorf("Expected 3 analysts, got %d", len(res[0].Signals))
	}
	if _, ok := errs["MISSING"]; !ok {
		t.Errorf("Expected MISSING in error map")
	}

	fast, _ := c.Analyze(context.Background(), []string{"UP"}, ModeFast)
	if len(fast[0].Signals) != 1 {
		t.Errorf("Expected only the trend analyst in fast mode, got %d", len(fast[0].Signals))
	}
}

type HungBars struct {
	MockBars
	release chan struct{}
}

func (m HungBars) GetBars(ticker string, limit int) ([]models.Bar, error) {
	if ticker == "HANG" {
		<-m.release
	}
	return m.MockBars.GetBars(ticker, limit)
}

func TestConsensus_SlowBarsTimeOut(t *testing.T) {
	src := HungBars{MockBars: MockBars{"UP": ramp(60, 100, 1)}, release: make(chan struct{})}
	t.Cleanup(func() { close(src.release) })
	c := New(src, nil).WithTimeout(50 * time.Millisecond)

	start := time.Now()
	res, errs := c.Analyze(context.Background(), []string{"UP", "HANG"}, "standard")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Analyze waited %s on a hung data call", elapsed)
	}
	if len(res) != 1 || res[0].Ticker != "UP" {
		t.Errorf("Expected UP only, got %+v", res)
	}
	if err := errs["HANG"]; err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Expected timeout for HANG, got %v", err)
	}
}
