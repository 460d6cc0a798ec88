package market

import (
	"context"
	"fmt"
	"time"
)

// Call runs fn on its own goroutine and waits at most timeout for it. The
// SDK calls take no context, so a timed-out call keeps running in the
// background and its result is discarded.
func Call[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	if timeout <= 0 {
		return fn()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("call timed out after %s: %w", timeout, ctx.Err())
	}
}
