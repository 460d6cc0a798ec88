package indicators

import (
	"math"
	"testing"
)

func ramp(n int, start, step float64) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = start + float64(i)*step
	}
	return xs
}

func TestSMAAndROC(t *testing.T) {
	xs := ramp(30, 100, 1) // 100..129
	if got := SMA(xs, 10); got != 124.5 {
		t.Errorf("SMA10 = %v, want 124.5", got)
	}
	if got := SMA(xs, 31); got != 0 {
		t.Errorf("Expected 0 for short series, got %v", got)
	}
	// 129 vs 109
	if got := ROC(xs, 20); math.Abs(got-18.3486) > 0.001 {
		t.Errorf("ROC20 = %v", got)
	}
}

func TestRSIBounds(t *testing.T) {
	if got := RSI(ramp(20, 10, 1), 14); got != 100 {
		t.Errorf("Expected 100 on a pure uptrend, got %v", got)
	}
	if got := RSI(ramp(20, 50, -1), 14); got != 0 {
		t.Errorf("Expected 0 on a pure downtrend, got %v", got)
	}
	if got := RSI([]float64{1, 2}, 14); got != 50 {
		t.Errorf("Expected 50 when undefined, got %v", got)
	}
}

func TestATR(t *testing.T) {
	xs := []float64{10, 12, 11, 13}
	// |2| + |-1| + |2| over 3
	if got := ATR(xs, 3); math.Abs(got-5.0/3.0) > 1e-9 {
		t.Errorf("ATR = %v", got)
	}
}
