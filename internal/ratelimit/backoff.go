package ratelimit

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff tracks consecutive throttling failures and yields the next wait.
// delay(n) = min(max, base*2^(n-1)) plus jitter in [0, delay/2).
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	failures int
	jitter   func(time.Duration) time.Duration
}

// NewBackoff creates a backoff with random jitter.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, jitter: halfJitter}
}

func halfJitter(d time.Duration) time.Duration {
	if d < 2 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d / 2)))
}

// Next records a failure and returns how long to wait before retrying.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	d := b.base
	for i := 1; i < b.failures && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	if b.jitter != nil {
		d += b.jitter(d)
	}
	return d
}

// Reset clears the failure counter after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Failures returns the current consecutive failure count.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
