// Package cache maintains a materialized snapshot of active schedule
// definitions so the per-minute dispatch pass never scans the source of
// truth. The snapshot is rebuilt wholesale by Sync; there is no partial
// update path and no invalidation mechanism, callers re-sync after any
// schedule edit.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helvetiche/remindd/internal/domain"
	"github.com/helvetiche/remindd/internal/metrics"
)

// SourceStore lists the authoritative active schedule definitions.
type SourceStore interface {
	ListActive(ctx context.Context) ([]domain.ScheduleDefinition, error)
}

// SnapshotStore persists the snapshot as one blob. Load reports ok=false
// when no sync has ever run.
type SnapshotStore interface {
	Load(ctx context.Context) (domain.CachedSnapshot, bool, error)
	Save(ctx context.Context, snapshot domain.CachedSnapshot) error
}

// Status describes the snapshot for diagnostics.
type Status struct {
	Exists       bool      `json:"exists"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
	Count        int       `json:"count"`
}

// Cache is the read path between the snapshot store and the
// orchestrator.
type Cache struct {
	source  SourceStore
	store   SnapshotStore
	clock   func() time.Time
	metrics metrics.Sink
	logger  zerolog.Logger
}

func New(source SourceStore, store SnapshotStore, sink metrics.Sink, logger zerolog.Logger) *Cache {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Cache{
		source:  source,
		store:   store,
		clock:   time.Now,
		metrics: sink,
		logger:  logger,
	}
}

// Sync reads all active definitions from the source of truth and
// overwrites the snapshot wholesale, stamping a fresh sync time. It
// returns the number of entries written.
func (c *Cache) Sync(ctx context.Context) (int, error) {
	defs, err := c.source.ListActive(ctx)
	if err != nil {
		c.metrics.CacheSyncCompleted(0, err)
		return 0, fmt.Errorf("list active schedules: %w", err)
	}

	entries := make([]domain.CachedSchedule, 0, len(defs))
	for _, def := range defs {
		entries = append(entries, domain.Project(def))
	}

	snapshot := domain.CachedSnapshot{
		Entries:      entries,
		LastSyncedAt: c.clock().UTC(),
		Count:        len(entries),
	}
	if err := c.store.Save(ctx, snapshot); err != nil {
		c.metrics.CacheSyncCompleted(0, err)
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	c.metrics.CacheSyncCompleted(snapshot.Count, nil)
	c.logger.Info().Int("count", snapshot.Count).Msg("schedule snapshot synced")
	return snapshot.Count, nil
}

// Read returns the snapshot entries. An empty result means either that
// no sync has ever run or that the store is unavailable; the caller
// treats both as "needs sync" rather than "zero schedules". A snapshot
// written with zero active schedules is indistinguishable from an
// absent one.
func (c *Cache) Read(ctx context.Context) []domain.CachedSchedule {
	snapshot, ok, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("snapshot load failed, degrading to needs-sync")
		return nil
	}
	if !ok {
		return nil
	}
	return snapshot.Entries
}

// ReadStatus reports whether a snapshot exists and how stale it is.
// Diagnostic only; store errors surface to the caller.
func (c *Cache) ReadStatus(ctx context.Context) (Status, error) {
	snapshot, ok, err := c.store.Load(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return Status{}, nil
	}
	return Status{Exists: true, LastSyncedAt: snapshot.LastSyncedAt, Count: snapshot.Count}, nil
}
