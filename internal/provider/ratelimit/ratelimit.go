package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fxstream/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between calls.
// Concurrent calls will wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) Fetch(ctx context.Context, base string, symbols []string) (provider.Snapshot, error) {
	if m.Interval > 0 {
		// simple gate: ensure at least Interval since last
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		m.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return provider.Snapshot{}, gateError(m.P.Name(), ctx.Err())
			case <-t.C:
			}
		}
	}
	snap, err := m.P.Fetch(ctx, base, symbols)
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
	return snap, err
}

// gateError reports a limiter wait that ended before the call was made.
func gateError(name string, err error) error {
	return &provider.UpstreamError{Provider: name, Err: fmt.Errorf("rate limit wait: %w", err)}
}
