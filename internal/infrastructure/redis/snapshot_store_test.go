package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"fxstream/internal/provider"
)

func setupStore(t *testing.T, ttl time.Duration) (*SnapshotStore, *Client) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cli, err := New(ctx, Config{Addr: host + ":" + port.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSnapshotStore(cli, ttl, log), cli
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store, _ := setupStore(t, time.Minute)
	ctx := context.Background()

	snap := provider.Snapshot{Base: "PLN", Rates: map[string]float64{"EUR": 0.23}, Date: "2026-02-23", TS: 1000, Source: "frankfurter"}
	at := time.UnixMilli(1_771_840_000_000)
	require.NoError(t, store.Save(ctx, "PLN__EUR", snap, at))

	got, gotAt, found, err := store.Load(ctx, "PLN__EUR")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, snap, got)
	require.Equal(t, at.UnixMilli(), gotAt.UnixMilli())
}

func TestSnapshotStore_LoadMissing(t *testing.T) {
	store, _ := setupStore(t, time.Minute)

	_, _, found, err := store.Load(context.Background(), "USD__CHF")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSnapshotStore_SetsTTL(t *testing.T) {
	store, cli := setupStore(t, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "PLN__USD", provider.Snapshot{Base: "PLN"}, time.Now()))
	ttl, err := cli.TTL(ctx, KeyPrefix+"PLN__USD").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, 30*time.Second)
}

func TestSnapshotStore_CorruptValue(t *testing.T) {
	store, cli := setupStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cli.Set(ctx, KeyPrefix+"PLN__GBP", "not json", time.Minute).Err())
	_, _, found, err := store.Load(ctx, "PLN__GBP")
	require.Error(t, err)
	require.False(t, found)
}
