package gates

import (
	"fmt"
	"sync"
	"time"
)

// Cooldown enforces a minimum gap between opening trades on one ticker.
// All access goes through its own locks; inject one instance into every
// component that opens positions.
type Cooldown struct {
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	last  map[string]time.Time
	locks map[string]*sync.Mutex
}

// NewCooldown creates a tracker. A nil now uses time.Now.
func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{
		window: window,
		now:    now,
		last:   make(map[string]time.Time),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Window returns the configured minimum gap.
func (c *Cooldown) Window() time.Duration { return c.window }

// Check reports whether an opening trade is allowed now, with the reason
// when it is not.
func (c *Cooldown) Check(ticker string) (bool, string) {
	c.mu.Lock()
	last, ok := c.last[ticker]
	c.mu.Unlock()
	if !ok || c.window <= 0 {
		return true, ""
	}

	elapsed := c.now().Sub(last)
	if elapsed >= c.window {
		return true, ""
	}
	remaining := c.window - elapsed
	return false, fmt.Sprintf("cooldown active: traded %dm ago, %dm remaining",
		int(elapsed/time.Minute), int((remaining+time.Minute-1)/time.Minute))
}

// Record stamps a trade on ticker at the current time.
func (c *Cooldown) Record(ticker string) {
	c.mu.Lock()
	c.last[ticker] = c.now()
	c.mu.Unlock()
}

// Guard runs fn only when the cooldown allows it and records the trade
// after fn succeeds. The per-ticker lock is held across check, fn and
// record, so two callers cannot both pass the check for the same ticker.
func (c *Cooldown) Guard(ticker string, fn func() error) error {
	l := c.tickerLock(ticker)
	l.Lock()
	defer l.Unlock()

	if ok, reason := c.Check(ticker); !ok {
		return &VetoError{Gate: "cooldown", Reason: reason}
	}
	if err := fn(); err != nil {
		return err
	}
	c.Record(ticker)
	return nil
}

func (c *Cooldown) tickerLock(ticker string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[ticker]
	if !ok {
		l = &sync.Mutex{}
		c.locks[ticker] = l
	}
	return l
}

// Snapshot returns the unexpired timestamps for persistence.
func (c *Cooldown) Snapshot() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make(map[string]time.Time, len(c.last))
	for t, at := range c.last {
		if now.Sub(at) < c.window {
			out[t] = at
		}
	}
	return out
}

// Restore loads persisted timestamps, keeping the newer one per ticker.
func (c *Cooldown) Restore(m map[string]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, at := range m {
		if cur, ok := c.last[t]; !ok || at.After(cur) {
			c.last[t] = at
		}
	}
}
