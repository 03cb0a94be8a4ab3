package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fxstream/internal/metrics"
	"fxstream/internal/provider"
)

const (
	DefaultFetchEvery   = 60 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// Store persists the latest snapshot per key outside the process so that a
// cold entry can skip the upstream call. Implementations must be safe for
// concurrent use.
type Store interface {
	Load(ctx context.Context, key string) (snap provider.Snapshot, fetchedAt time.Time, found bool, err error)
	Save(ctx context.Context, key string, snap provider.Snapshot, fetchedAt time.Time) error
}

// Result is one answer of the cache.
type Result struct {
	Snapshot provider.Snapshot
	Stale    bool
	Key      string
}

// entry stores the last snapshot of one key. snap and fetchedAt are only
// written together under mu.
type entry struct {
	mu        sync.RWMutex
	snap      *provider.Snapshot
	fetchedAt time.Time
}

// Rates caches provider snapshots per (base, symbol set) key.
// A stale entry is served immediately while one background refresh runs;
// an empty entry makes callers wait for the single in-flight fetch.
// Upstream calls are coalesced per key, so at most one is outstanding per key.
type Rates struct {
	P            provider.Provider
	FetchEvery   time.Duration
	FetchTimeout time.Duration
	Store        Store // optional
	Log          *slog.Logger
	Now          func() time.Time

	mu      sync.Mutex
	entries map[string]*entry // key: provider.KeyOf

	// in-flight fetches, one per key
	sf singleflight.Group
}

func (c *Rates) Name() string { return c.P.Name() }

// Get returns the snapshot for base and symbols. symbols must be non-empty and
// already capped by the caller.
func (c *Rates) Get(ctx context.Context, base string, symbols []string) (Result, error) {
	base = provider.NormalizeBase(base)
	// one key always sends the same upstream query
	symbols = provider.SymbolSet(symbols)
	key := provider.KeyOf(base, symbols)
	e := c.entry(key)

	e.mu.RLock()
	snap, fetchedAt := e.snap, e.fetchedAt
	e.mu.RUnlock()

	if snap != nil && c.now().Sub(fetchedAt) <= c.fetchEvery() {
		metrics.CacheLookups.WithLabelValues("fresh").Inc()
		return Result{Snapshot: *snap, Key: key}, nil
	}

	// Register or join the in-flight fetch. DoChan registers synchronously,
	// so concurrent callers for the same key attach to one call.
	ch := c.sf.DoChan(key, func() (any, error) {
		return c.refresh(key, e, base, symbols)
	})

	if snap != nil {
		metrics.CacheLookups.WithLabelValues("stale").Inc()
		return Result{Snapshot: *snap, Stale: true, Key: key}, nil
	}

	metrics.CacheLookups.WithLabelValues("miss").Inc()
	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{Key: key}, res.Err
		}
		return Result{Snapshot: res.Val.(provider.Snapshot), Key: key}, nil
	case <-ctx.Done():
		return Result{Key: key}, ctx.Err()
	}
}

// LastFetchedAt returns the unix ms time of the last successful fetch for key,
// or 0 if the key is unknown or was never fetched.
func (c *Rates) LastFetchedAt(key string) int64 {
	c.mu.Lock()
	e := c.entries[key]
	c.mu.Unlock()
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap == nil {
		return 0
	}
	return e.fetchedAt.UnixMilli()
}

// Interval is the freshness window actually in effect.
func (c *Rates) Interval() time.Duration { return c.fetchEvery() }

func (c *Rates) entry(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]*entry)
	}
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// refresh runs inside the singleflight call for key. It is detached from any
// caller's context because stale callers return before it completes.
func (c *Rates) refresh(key string, e *entry, base string, symbols []string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &provider.UpstreamError{Provider: c.P.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	// A caller that saw a stale entry may only register after the previous
	// call finished; don't refetch what was just refreshed.
	e.mu.RLock()
	if e.snap != nil && c.now().Sub(e.fetchedAt) <= c.fetchEvery() {
		snap := *e.snap
		e.mu.RUnlock()
		return snap, nil
	}
	cold := e.snap == nil
	e.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout())
	defer cancel()

	if cold && c.Store != nil {
		snap, at, found, err := c.Store.Load(ctx, key)
		if err != nil {
			c.log().Warn("snapshot_store_error", "op", "load", "key", key, "message", err.Error())
		} else if found && c.now().Sub(at) <= c.fetchEvery() {
			c.set(e, snap, at)
			c.log().Info("snapshot_store_hit", "key", key, "fetched_at", at.UnixMilli())
			return snap, nil
		}
	}

	name := c.P.Name()
	start := time.Now()
	snap, err := c.P.Fetch(ctx, base, symbols)
	metrics.UpstreamFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamFetches.WithLabelValues(name, "error").Inc()
		c.log().Warn("upstream_fetch_error",
			"provider", name,
			"base", base,
			"symbols", strings.Join(symbols, ","),
			"message", err.Error(),
		)
		return nil, err
	}
	metrics.UpstreamFetches.WithLabelValues(name, "success").Inc()

	fetchedAt := c.now()
	c.set(e, snap, fetchedAt)
	c.log().Info("upstream_fetch_success",
		"provider", name,
		"base", base,
		"symbols", strings.Join(symbols, ","),
		"date", snap.Date,
	)

	if c.Store != nil {
		if err := c.Store.Save(ctx, key, snap, fetchedAt); err != nil {
			c.log().Warn("snapshot_store_error", "op", "save", "key", key, "message", err.Error())
		}
	}
	return snap, nil
}

func (c *Rates) set(e *entry, snap provider.Snapshot, fetchedAt time.Time) {
	e.mu.Lock()
	e.snap = &snap
	e.fetchedAt = fetchedAt
	e.mu.Unlock()
}

func (c *Rates) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Rates) fetchEvery() time.Duration {
	if c.FetchEvery > 0 {
		return c.FetchEvery
	}
	return DefaultFetchEvery
}

func (c *Rates) fetchTimeout() time.Duration {
	if c.FetchTimeout > 0 {
		return c.FetchTimeout
	}
	return DefaultFetchTimeout
}

func (c *Rates) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}
