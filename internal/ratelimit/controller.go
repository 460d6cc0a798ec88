// Package ratelimit bounds calls to the decision-inference provider: a
// token bucket for calls per minute, a semaphore for calls in flight and an
// exponential backoff on throttling.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrThrottled marks a provider throttling signal (HTTP 429, quota, overload).
	ErrThrottled = errors.New("provider throttled")
	// ErrExhausted is returned once MaxAttempts throttled attempts have failed.
	ErrExhausted = errors.New("rate limit retries exhausted")
)

// Clock abstracts time so pacing and backoff are testable without real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures a Controller. CallsPerMinute <= 0 disables pacing.
type Options struct {
	MaxConcurrent  int
	CallsPerMinute int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Controller guards every decision-inference call.
type Controller struct {
	limiter     *rate.Limiter
	sem         *semaphore.Weighted
	backoff     *Backoff
	clock       Clock
	maxAttempts int
	logger      *zap.Logger
}

// New builds a controller. A nil clock means the system clock.
func New(opts Options, clock Clock, logger *zap.Logger) *Controller {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if opts.CallsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.CallsPerMinute))
	}

	return &Controller{
		limiter:     rate.NewLimiter(limit, opts.MaxConcurrent),
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		backoff:     NewBackoff(opts.BackoffBase, opts.BackoffMax),
		clock:       clock,
		maxAttempts: opts.MaxAttempts,
		logger:      logger,
	}
}

// Backoff exposes the failure state machine.
func (c *Controller) Backoff() *Backoff { return c.backoff }

// Do runs fn under the concurrency gate and token bucket. Throttled
// attempts are retried with backoff; other errors return immediately.
func (c *Controller) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.attempt(ctx, fn)
		if err == nil {
			c.backoff.Reset()
			return nil
		}
		if !errors.Is(err, ErrThrottled) {
			return err
		}
		lastErr = err

		wait := c.backoff.Next()
		if attempt == c.maxAttempts {
			break
		}
		c.logger.Warn("inference throttled, backing off",
			zap.Int("attempt", attempt),
			zap.Int("failures", c.backoff.Failures()),
			zap.Duration("wait", wait))
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, c.maxAttempts, lastErr)
}

func (c *Controller) attempt(ctx context.Context, fn func(context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	now := c.clock.Now()
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot grant a token")
	}
	if delay := r.DelayFrom(now); delay > 0 {
		if err := c.clock.Sleep(ctx, delay); err != nil {
			r.CancelAt(c.clock.Now())
			return err
		}
	}
	return fn(ctx)
}
