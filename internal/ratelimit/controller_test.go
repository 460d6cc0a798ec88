package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return ctx.Err()
}

func (f *fakeClock) total() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum time.Duration
	for _, d := range f.sleeps {
		sum += d
	}
	return sum
}

func noJitter(c *Controller) { c.backoff.jitter = nil }

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second)
	b.jitter = nil

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("step %d: expected %v, got %v", i+1, w, got)
		}
	}
	if b.Failures() != 5 {
		t.Errorf("Expected 5 failures, got %d", b.Failures())
	}

	b.Reset()
	if b.Failures() != 0 {
		t.Errorf("Expected reset counter, got %d", b.Failures())
	}
	if got := b.Next(); got != time.Second {
		t.Errorf("Expected base delay after reset, got %v", got)
	}
}

func TestBackoff_JitterBounded(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute)
	for i := 0; i < 50; i++ {
		b.Reset()
		d := b.Next()
		if d < time.Second || d >= 1500*time.Millisecond {
			t.Fatalf("Expected delay in [1s, 1.5s), got %v", d)
		}
	}
}

func TestController_RetriesThrottleThenSucceeds(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{MaxConcurrent: 1, MaxAttempts: 4, BackoffBase: time.Second, BackoffMax: time.Minute}, clock, nil)
	noJitter(c)

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("gemini: %w", ErrThrottled)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if clock.total() != 3*time.Second {
		t.Errorf("Expected 1s+2s of backoff, got %v", clock.total())
	}
	if c.Backoff().Failures() != 0 {
		t.Errorf("Expected failures reset on success, got %d", c.Backoff().Failures())
	}
}

func TestController_Exhausted(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{MaxConcurrent: 1, MaxAttempts: 3, BackoffBase: time.Second, BackoffMax: time.Minute}, clock, nil)
	noJitter(c)

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return ErrThrottled
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	// No sleep after the final attempt.
	if len(clock.sleeps) != 2 {
		t.Errorf("Expected 2 backoff sleeps, got %v", clock.sleeps)
	}
}

func TestController_NonThrottleErrorNotRetried(t *testing.T) {
	c := New(Options{MaxConcurrent: 1, MaxAttempts: 5}, newFakeClock(), nil)

	boom := errors.New("bad request")
	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single call, got %d", calls)
	}
}

func TestController_TokenBucketPaces(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{MaxConcurrent: 1, CallsPerMinute: 60, MaxAttempts: 1}, clock, nil)

	for i := 0; i < 3; i++ {
		if err := c.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// Burst of one, then one token per second.
	total := clock.total()
	if total < 1900*time.Millisecond || total > 2100*time.Millisecond {
		t.Errorf("Expected ~2s of pacing, got %v", total)
	}
}

func TestController_BoundsConcurrency(t *testing.T) {
	c := New(Options{MaxConcurrent: 2, MaxAttempts: 1}, nil, nil)

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Do(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("Expected at most 2 in flight, saw %d", peak)
	}
}
