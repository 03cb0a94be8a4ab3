// Package stream fans cached rate snapshots out to long-lived subscribers.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fxstream/internal/metrics"
	"fxstream/internal/provider"
	"fxstream/internal/provider/cache"
)

const (
	DefaultMaxGlobal      = 50
	DefaultMaxPerIP       = 3
	DefaultHeartbeat      = 15 * time.Second
	DefaultBroadcastEvery = 2 * time.Second
)

// Admission scopes.
const (
	ScopeGlobal = "global"
	ScopeIP     = "ip"
)

// RateSource is the part of the rate cache the hub reads from.
type RateSource interface {
	Get(ctx context.Context, base string, symbols []string) (cache.Result, error)
	LastFetchedAt(key string) int64
	Interval() time.Duration
}

// AdmissionError rejects a new subscriber because a connection ceiling is reached.
type AdmissionError struct {
	Scope string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("Too many SSE connections (%s)", e.Scope)
}

// Options configures a Hub. Zero values fall back to the defaults.
type Options struct {
	MaxGlobal      int
	MaxPerIP       int
	Heartbeat      time.Duration
	BroadcastEvery time.Duration
	Log            *slog.Logger
	Now            func() time.Time
}

// Conn describes a connection asking to subscribe.
type Conn struct {
	IP      string
	Base    string
	Symbols []string
	Sink    Sink
}

// Subscriber is one registered streaming connection.
type Subscriber struct {
	IP      string
	Base    string
	Symbols []string
	Key     string

	sink    Sink
	mu      sync.Mutex // serializes writes to sink
	removed atomic.Bool
	done    chan struct{}

	// ready is set once the initial events are out; heartbeats and
	// broadcasts skip the subscriber until then.
	ready  atomic.Bool
	sentTS atomic.Int64 // ts of the last rates event written
}

// Done is closed once the subscriber has been removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Hub keeps the set of live subscribers and pushes rate updates to them.
type Hub struct {
	rates RateSource
	opts  Options
	log   *slog.Logger

	subsMu sync.Mutex
	subs   map[*Subscriber]struct{}

	ipMu sync.Mutex
	byIP map[string]int

	bcMu     sync.Mutex
	bcCancel context.CancelFunc
	bcDone   chan struct{}
	inFlight atomic.Bool
	ticks    sync.WaitGroup
}

func NewHub(rates RateSource, opts Options) *Hub {
	if opts.MaxGlobal <= 0 {
		opts.MaxGlobal = DefaultMaxGlobal
	}
	if opts.MaxPerIP <= 0 {
		opts.MaxPerIP = DefaultMaxPerIP
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.BroadcastEvery <= 0 {
		opts.BroadcastEvery = DefaultBroadcastEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rates:  rates,
		opts:   opts,
		log:    log,
		subs:   make(map[*Subscriber]struct{}),
		byIP:   make(map[string]int),
	}
}

// CanAccept reports whether a new connection from ip fits under both ceilings.
// It allocates nothing.
func (h *Hub) CanAccept(ip string) error {
	h.subsMu.Lock()
	err := h.admissible(ip)
	h.subsMu.Unlock()
	if err != nil {
		metrics.StreamRejections.WithLabelValues(err.(*AdmissionError).Scope).Inc()
		return err
	}
	return nil
}

// admissible must be called with subsMu held.
func (h *Hub) admissible(ip string) error {
	if len(h.subs) >= h.opts.MaxGlobal {
		return &AdmissionError{Scope: ScopeGlobal}
	}
	h.ipMu.Lock()
	n := h.byIP[ip]
	h.ipMu.Unlock()
	if n >= h.opts.MaxPerIP {
		return &AdmissionError{Scope: ScopeIP}
	}
	return nil
}

// Admit checks both ceilings and registers the connection in one step.
func (h *Hub) Admit(c Conn) (*Subscriber, error) {
	h.subsMu.Lock()
	if err := h.admissible(c.IP); err != nil {
		h.subsMu.Unlock()
		metrics.StreamRejections.WithLabelValues(err.(*AdmissionError).Scope).Inc()
		return nil, err
	}
	sub, n := h.register(c)
	h.subsMu.Unlock()

	h.started(sub, n)
	return sub, nil
}

// AddClient registers the connection without checking the ceilings;
// callers check CanAccept first.
func (h *Hub) AddClient(c Conn) *Subscriber {
	h.subsMu.Lock()
	sub, n := h.register(c)
	h.subsMu.Unlock()

	h.started(sub, n)
	return sub
}

// register must be called with subsMu held.
func (h *Hub) register(c Conn) (*Subscriber, int) {
	base := provider.NormalizeBase(c.Base)
	sub := &Subscriber{
		IP:      c.IP,
		Base:    base,
		Symbols: c.Symbols,
		Key:     provider.KeyOf(base, c.Symbols),
		sink:    c.Sink,
		done:    make(chan struct{}),
	}
	h.subs[sub] = struct{}{}

	h.ipMu.Lock()
	h.byIP[c.IP]++
	h.ipMu.Unlock()
	return sub, len(h.subs)
}

func (h *Hub) started(sub *Subscriber, clients int) {
	metrics.StreamConnections.Inc()
	h.log.Info("sse_connect",
		"ip", sub.IP,
		"base", sub.Base,
		"symbols", strings.Join(sub.Symbols, ","),
		"key", sub.Key,
		"clients", clients,
	)
	go h.heartbeat(sub)
}

// RemoveClient unregisters sub. Calling it more than once is a no-op.
// Once it returns, nothing more is written to the subscriber's sink.
func (h *Hub) RemoveClient(sub *Subscriber) {
	if !sub.removed.CompareAndSwap(false, true) {
		return
	}
	close(sub.done)
	// wait out a write that started before the flag flipped
	sub.mu.Lock()
	sub.mu.Unlock()

	h.subsMu.Lock()
	delete(h.subs, sub)
	clients := len(h.subs)
	h.subsMu.Unlock()

	h.ipMu.Lock()
	ipActive := h.byIP[sub.IP] - 1
	if ipActive <= 0 {
		ipActive = 0
		delete(h.byIP, sub.IP)
	} else {
		h.byIP[sub.IP] = ipActive
	}
	h.ipMu.Unlock()

	metrics.StreamConnections.Dec()
	h.log.Info("sse_close",
		"ip", sub.IP,
		"key", sub.Key,
		"clients", clients,
		"ipActive", ipActive,
	)
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	return len(h.subs)
}

// ActiveByIP returns the number of live subscribers from ip.
func (h *Hub) ActiveByIP(ip string) int {
	h.ipMu.Lock()
	defer h.ipMu.Unlock()
	return h.byIP[ip]
}

// SendInitial performs one cache lookup and pushes a connected status
// followed by the rates, then marks sub ready. The error is the lookup error;
// the caller reports it with SendError, which marks sub ready instead, and
// keeps the connection open.
func (h *Hub) SendInitial(ctx context.Context, sub *Subscriber) error {
	res, err := h.rates.Get(ctx, sub.Base, sub.Symbols)
	if err != nil {
		return err
	}
	stale := res.Stale
	h.send(sub, EventStatus, StatusEvent{
		Stage:                StageConnected,
		Stale:                &stale,
		Key:                  sub.Key,
		ProviderFetchEveryMs: h.rates.Interval().Milliseconds(),
		ProviderLastFetchAt:  h.rates.LastFetchedAt(sub.Key),
	})
	sub.sentTS.Store(res.Snapshot.TS)
	h.send(sub, EventRates, RatesEvent{Snapshot: res.Snapshot, Stale: res.Stale, Key: sub.Key})
	sub.ready.Store(true)
	return nil
}

// SendError pushes an error status carrying err's message and marks sub ready.
func (h *Hub) SendError(sub *Subscriber, err error) {
	h.send(sub, EventStatus, StatusEvent{Stage: StageError, Message: err.Error(), Key: sub.Key})
	sub.ready.Store(true)
}

// Shutdown stops broadcasting and removes every live subscriber.
func (h *Hub) Shutdown() {
	h.StopBroadcast()

	h.subsMu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subsMu.Unlock()

	for _, s := range subs {
		h.RemoveClient(s)
	}
}

func (h *Hub) heartbeat(sub *Subscriber) {
	t := time.NewTicker(h.opts.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-sub.done:
			return
		case <-t.C:
			h.beat(sub)
		}
	}
}

func (h *Hub) beat(sub *Subscriber) {
	defer h.recoverTimer("heartbeat", sub.Key)
	if !sub.ready.Load() {
		return
	}
	h.send(sub, EventStatus, StatusEvent{
		Stage:               StageAlive,
		TS:                  h.opts.Now().UnixMilli(),
		Key:                 sub.Key,
		ProviderLastFetchAt: h.rates.LastFetchedAt(sub.Key),
	})
}

// send writes one event to sub. Writes to a removed subscriber are dropped;
// a failed write removes the subscriber.
func (h *Hub) send(sub *Subscriber, event string, v any) {
	payload, err := encode(v)
	if err != nil {
		h.log.Error("encode event failed", "event", event, "key", sub.Key, "error", err)
		return
	}

	sub.mu.Lock()
	if sub.removed.Load() {
		sub.mu.Unlock()
		return
	}
	err = sub.sink.WriteEvent(event, payload)
	sub.mu.Unlock()

	stage := ""
	if s, ok := v.(StatusEvent); ok {
		stage = s.Stage
	}
	if err != nil {
		metrics.StreamEvents.WithLabelValues(event, "failed").Inc()
		h.log.Debug("stream write failed", "ip", sub.IP, "key", sub.Key, "error", err)
		h.RemoveClient(sub)
		return
	}
	metrics.StreamEvents.WithLabelValues(event, stage).Inc()
}

func (h *Hub) recoverTimer(what, key string) {
	if r := recover(); r != nil {
		h.log.Error("timer panic", "timer", what, "key", key, "panic", fmt.Sprint(r))
	}
}
