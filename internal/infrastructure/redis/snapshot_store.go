package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"fxstream/internal/provider"
	"fxstream/internal/provider/cache"
)

var _ cache.Store = (*SnapshotStore)(nil)

const (
	KeyPrefix  = "fxstream:snapshot:"
	DefaultTTL = 15 * time.Minute
)

type storedSnapshot struct {
	Snapshot  provider.Snapshot `json:"snapshot"`
	FetchedAt int64             `json:"fetched_at"` // unix ms
}

// SnapshotStore keeps the latest snapshot per cache key as a JSON value with a TTL.
type SnapshotStore struct {
	cli *Client
	ttl time.Duration
	log *slog.Logger
}

// NewSnapshotStore returns a store backed by cli. ttl <= 0 means DefaultTTL.
func NewSnapshotStore(cli *Client, ttl time.Duration, log *slog.Logger) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotStore{cli: cli, ttl: ttl, log: log}
}

func (s *SnapshotStore) Load(ctx context.Context, key string) (provider.Snapshot, time.Time, bool, error) {
	raw, err := s.cli.Get(ctx, KeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return provider.Snapshot{}, time.Time{}, false, nil
		}
		s.log.Debug("snapshot load failed", "key", key, "error", err)
		return provider.Snapshot{}, time.Time{}, false, err
	}
	var v storedSnapshot
	if err := json.Unmarshal(raw, &v); err != nil {
		return provider.Snapshot{}, time.Time{}, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return v.Snapshot, time.UnixMilli(v.FetchedAt), true, nil
}

func (s *SnapshotStore) Save(ctx context.Context, key string, snap provider.Snapshot, fetchedAt time.Time) error {
	raw, err := json.Marshal(storedSnapshot{Snapshot: snap, FetchedAt: fetchedAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	if err := s.cli.Set(ctx, KeyPrefix+key, raw, s.ttl).Err(); err != nil {
		s.log.Debug("snapshot save failed", "key", key, "error", err)
		return err
	}
	return nil
}
