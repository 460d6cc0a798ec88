// Package indicators holds the few technical studies the screener and
// analysts share. Inputs are oldest-first closing prices.
package indicators

import (
	"math"

	"alpha_autotrader/internal/models"
)

// Closes extracts closing prices as float64.
func Closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

// Last returns the final element or 0.
func Last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

// SMA is the mean of the last n values, 0 when there are too few.
func SMA(xs []float64, n int) float64 {
	if n <= 0 || len(xs) < n {
		return 0
	}
	sum := 0.0
	for _, x := range xs[len(xs)-n:] {
		sum += x
	}
	return sum / float64(n)
}

// ROC is the n-period rate of change in percent.
func ROC(xs []float64, n int) float64 {
	if n <= 0 || len(xs) < n+1 {
		return 0
	}
	prev := xs[len(xs)-1-n]
	if prev == 0 {
		return 0
	}
	return (Last(xs)/prev - 1) * 100
}

// RSI over the last n changes; 50 when undefined.
func RSI(xs []float64, n int) float64 {
	if n <= 0 || len(xs) < n+1 {
		return 50
	}
	var gain, loss float64
	for i := len(xs) - n; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// ATR is the mean absolute close-to-close move over n periods.
func ATR(xs []float64, n int) float64 {
	if n <= 0 || len(xs) < n+1 {
		return 0
	}
	sum := 0.0
	for i := len(xs) - n; i < len(xs); i++ {
		sum += math.Abs(xs[i] - xs[i-1])
	}
	return sum / float64(n)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
