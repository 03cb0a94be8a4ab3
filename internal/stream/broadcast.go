package stream

import (
	"context"
	"sync"
	"time"

	"fxstream/internal/metrics"
)

// group is one request shape and the key it maps to.
type group struct {
	base    string
	symbols []string
}

// StartBroadcast starts the periodic broadcast. It does nothing if the
// broadcast is already running.
func (h *Hub) StartBroadcast() {
	h.bcMu.Lock()
	defer h.bcMu.Unlock()
	if h.bcCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.bcCancel = cancel
	h.bcDone = done
	go h.runBroadcast(ctx, done)
}

// StopBroadcast stops the timer, cancels an in-flight tick and waits for it.
// Safe to call when the broadcast is not running.
func (h *Hub) StopBroadcast() {
	h.bcMu.Lock()
	cancel, done := h.bcCancel, h.bcDone
	h.bcCancel, h.bcDone = nil, nil
	h.bcMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	h.ticks.Wait()
}

func (h *Hub) runBroadcast(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(h.opts.BroadcastEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !h.inFlight.CompareAndSwap(false, true) {
				metrics.BroadcastTicks.WithLabelValues("skipped").Inc()
				continue
			}
			h.ticks.Add(1)
			go func() {
				defer h.ticks.Done()
				defer h.inFlight.Store(false)
				h.BroadcastTick(ctx)
			}()
		}
	}
}

// BroadcastTick pushes fresh rates to every live key group. Keys are
// processed concurrently and independently; the call returns once all are done.
// Only ready subscribers take part.
func (h *Hub) BroadcastTick(ctx context.Context) {
	groups := h.groups()
	if len(groups) == 0 {
		return
	}
	metrics.BroadcastTicks.WithLabelValues("run").Inc()

	var wg sync.WaitGroup
	for key, g := range groups {
		wg.Add(1)
		go func(key string, g group) {
			defer wg.Done()
			h.broadcastKey(ctx, key, g)
		}(key, g)
	}
	wg.Wait()
}

// groups returns one representative request shape per key with a ready subscriber.
func (h *Hub) groups() map[string]group {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	out := make(map[string]group)
	for s := range h.subs {
		if !s.ready.Load() {
			continue
		}
		if _, ok := out[s.Key]; !ok {
			out[s.Key] = group{base: s.Base, symbols: s.Symbols}
		}
	}
	return out
}

func (h *Hub) subscribersOf(key string) []*Subscriber {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	var out []*Subscriber
	for s := range h.subs {
		if s.Key == key && s.ready.Load() {
			out = append(out, s)
		}
	}
	return out
}

func (h *Hub) broadcastKey(ctx context.Context, key string, g group) {
	defer h.recoverTimer("broadcast", key)

	res, err := h.rates.Get(ctx, g.base, g.symbols)
	if err != nil {
		if ctx.Err() != nil {
			// broadcast stopped mid-tick
			return
		}
		h.log.Warn("broadcast_error", "key", key, "message", err.Error())
		for _, s := range h.subscribersOf(key) {
			h.SendError(s, err)
		}
		return
	}

	ts := res.Snapshot.TS
	ev := RatesEvent{Snapshot: res.Snapshot, Stale: res.Stale, Key: key}
	for _, s := range h.subscribersOf(key) {
		// unchanged snapshots are not resent
		if s.sentTS.Swap(ts) == ts {
			continue
		}
		h.send(s, EventRates, ev)
	}
}
