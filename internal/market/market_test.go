package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLivePrices_FreshAndStale(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	lp := NewLivePrices(30 * time.Second)
	lp.now = func() time.Time { return now }

	lp.Update("AAPL", 187.5)
	lp.Update("MSFT", 0)

	p, ok := lp.Latest("AAPL")
	if !ok || p.String() != "187.5" {
		t.Errorf("Expected fresh 187.5, got %s (ok=%v)", p, ok)
	}
	if _, ok := lp.Latest("MSFT"); ok {
		t.Errorf("Expected non-positive price to be ignored")
	}

	now = now.Add(31 * time.Second)
	if _, ok := lp.Latest("AAPL"); ok {
		t.Errorf("Expected stale price to be rejected")
	}
}

func TestLivePrices_NilSafe(t *testing.T) {
	var lp *LivePrices
	if _, ok := lp.Latest("AAPL"); ok {
		t.Errorf("Expected nil cache to report no price")
	}
}

func TestCall_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	_, err := Call(context.Background(), 10*time.Millisecond, func() (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}

	v, err := Call(context.Background(), time.Second, func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("Expected 7, got %d (%v)", v, err)
	}
}
