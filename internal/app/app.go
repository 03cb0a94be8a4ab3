// Package app wires the configuration into the running service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apihttp "fxstream/internal/api/http"
	"fxstream/internal/api/http/controllers/rates"
	"fxstream/internal/api/http/controllers/system"
	"fxstream/internal/api/http/controllers/widget"
	"fxstream/internal/config"
	"fxstream/internal/httpx"
	"fxstream/internal/infrastructure/redis"
	"fxstream/internal/provider"
	"fxstream/internal/provider/cache"
	"fxstream/internal/provider/frankfurter"
	"fxstream/internal/provider/ratelimit"
	"fxstream/internal/security"
	"fxstream/internal/stream"
)

type App struct {
	cfg config.Config
	log *slog.Logger
}

func New(cfg config.Config, log *slog.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// NewProvider builds the Frankfurter provider behind the configured rate limiter.
func NewProvider(cfg config.Config) provider.Provider {
	timeout := time.Duration(cfg.Frankfurter.TimeoutMs) * time.Millisecond
	hc := httpx.New(timeout)
	client := frankfurter.NewClient(
		frankfurter.WithBaseURL(cfg.Frankfurter.URL),
		frankfurter.WithHTTPClient(hc),
		frankfurter.WithHeader(http.Header{"Accept": []string{"application/json"}}),
	)
	return ratelimit.Wrap(
		frankfurter.NewProvider(client),
		cfg.Frankfurter.MaxRequestsPerMinute,
		cfg.Frankfurter.Burst,
		time.Duration(cfg.Frankfurter.MinRequestIntervalMs)*time.Millisecond,
	)
}

// NewRates builds the rate cache. store may be nil.
func NewRates(cfg config.Config, p provider.Provider, store cache.Store, log *slog.Logger) *cache.Rates {
	return &cache.Rates{
		P:            p,
		FetchEvery:   time.Duration(cfg.Stream.FetchEveryMs) * time.Millisecond,
		FetchTimeout: time.Duration(cfg.Frankfurter.TimeoutMs) * time.Millisecond,
		Store:        store,
		Log:          log,
	}
}

// Run serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	var store cache.Store
	if a.cfg.Redis.Enabled {
		rdb, err := redis.New(ctx, redis.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		store = redis.NewSnapshotStore(rdb, time.Duration(a.cfg.Redis.TTLSec)*time.Second, a.log)
	}

	rc := NewRates(a.cfg, NewProvider(a.cfg), store, a.log)

	hub := stream.NewHub(rc, stream.Options{
		MaxGlobal:      a.cfg.Stream.MaxGlobal,
		MaxPerIP:       a.cfg.Stream.MaxPerIP,
		Heartbeat:      time.Duration(a.cfg.Stream.HeartbeatMs) * time.Millisecond,
		BroadcastEvery: time.Duration(a.cfg.Stream.BroadcastEveryMs) * time.Millisecond,
		Log:            a.log,
	})
	hub.StartBroadcast()
	defer hub.Shutdown()

	guard := security.NewGuard(a.cfg.Server.EmbedOrigins, a.cfg.Server.Origin)

	srv := apihttp.NewServer(apihttp.ServerConfig{
		Addr:           a.cfg.Addr(),
		TrustedProxies: a.cfg.TrustedProxies,
	}, a.log)
	srv.AddController(
		system.New(hub),
		rates.New(hub, guard, rates.Defaults{
			Base:       a.cfg.Stream.DefaultBase,
			Symbols:    a.cfg.Stream.DefaultSymbols,
			MaxSymbols: a.cfg.Stream.MaxSymbols,
		}, a.log),
		widget.New(a.cfg.Server.PublicDir, guard, a.log),
	)
	srv.OnShutdown(hub.Shutdown)

	a.log.Info("application started",
		"addr", a.cfg.Addr(),
		"env", a.cfg.Server.Env,
		"serverOrigin", a.cfg.Server.Origin,
		"embedOrigins", a.cfg.Server.EmbedOrigins,
		"strictHttps", a.cfg.StrictHTTPS,
		"trustedProxies", a.cfg.TrustedProxies,
		"fetchEveryMs", a.cfg.Stream.FetchEveryMs,
		"broadcastEveryMs", a.cfg.Stream.BroadcastEveryMs,
		"redis", a.cfg.Redis.Enabled,
	)
	return srv.Start(ctx)
}
