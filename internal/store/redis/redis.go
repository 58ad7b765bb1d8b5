// Package redis persists sent markers and the schedule snapshot in
// Redis so multiple replicas share one marker space and one cache.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/helvetiche/remindd/internal/cache"
	"github.com/helvetiche/remindd/internal/domain"
	"github.com/helvetiche/remindd/internal/idempotency"
)

const (
	markerKeyPrefix = "remindd:marker:"
	snapshotKey     = "remindd:snapshot"
)

// MarkerStore implements idempotency.MarkerStore on Redis. PutIfAbsent
// maps to SET NX, the primitive that keeps claims atomic across
// replicas.
type MarkerStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewMarkerStore creates a MarkerStore. A ttl > 0 also expires markers
// server-side, a safety net behind the explicit cleanup pass.
func NewMarkerStore(client *goredis.Client, ttl time.Duration) *MarkerStore {
	return &MarkerStore{client: client, ttl: ttl}
}

func (s *MarkerStore) Get(ctx context.Context, key string) (domain.SentMarker, bool, error) {
	raw, err := s.client.Get(ctx, markerKeyPrefix+key).Bytes()
	if err == goredis.Nil {
		return domain.SentMarker{}, false, nil
	}
	if err != nil {
		return domain.SentMarker{}, false, fmt.Errorf("redis get: %w", err)
	}
	var marker domain.SentMarker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return domain.SentMarker{}, false, fmt.Errorf("decode marker: %w", err)
	}
	return marker, true, nil
}

func (s *MarkerStore) Put(ctx context.Context, key string, marker domain.SentMarker) error {
	raw, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	if err := s.client.Set(ctx, markerKeyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *MarkerStore) PutIfAbsent(ctx context.Context, key string, marker domain.SentMarker) error {
	raw, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	ok, err := s.client.SetNX(ctx, markerKeyPrefix+key, raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return idempotency.ErrMarkerExists
	}
	return nil
}

func (s *MarkerStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, markerKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteOlderThan sweeps the marker keyspace and deletes markers whose
// SentAt precedes cutoff, up to limit deletions. Age lives in the
// marker body, not the key, so candidates are read back in pipelined
// batches before deciding.
func (s *MarkerStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, markerKeyPrefix+"*", int64(limit)).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*goredis.StringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.Get(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
				return deleted, fmt.Errorf("redis pipeline: %w", err)
			}

			stale := make([]string, 0, len(keys))
			for i, cmd := range cmds {
				raw, err := cmd.Bytes()
				if err == goredis.Nil {
					continue
				}
				if err != nil {
					return deleted, fmt.Errorf("redis get: %w", err)
				}
				var marker domain.SentMarker
				if err := json.Unmarshal(raw, &marker); err != nil {
					// Undecodable markers count as stale.
					stale = append(stale, keys[i])
				} else if marker.SentAt.Before(cutoff) {
					stale = append(stale, keys[i])
				}
				if deleted+len(stale) >= limit {
					break
				}
			}

			if len(stale) > 0 {
				n, err := s.client.Del(ctx, stale...).Result()
				if err != nil {
					return deleted, fmt.Errorf("redis del: %w", err)
				}
				deleted += int(n)
			}
		}

		if deleted >= limit {
			return deleted, nil
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// SnapshotStore implements cache.SnapshotStore as a single JSON blob,
// read and overwritten wholesale.
type SnapshotStore struct {
	client *goredis.Client
}

func NewSnapshotStore(client *goredis.Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

func (s *SnapshotStore) Load(ctx context.Context) (domain.CachedSnapshot, bool, error) {
	raw, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err == goredis.Nil {
		return domain.CachedSnapshot{}, false, nil
	}
	if err != nil {
		return domain.CachedSnapshot{}, false, fmt.Errorf("redis get: %w", err)
	}
	var snap domain.CachedSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.CachedSnapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snap domain.CachedSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Compile-time interface assertions
var (
	_ idempotency.MarkerStore = (*MarkerStore)(nil)
	_ cache.SnapshotStore     = (*SnapshotStore)(nil)
)
