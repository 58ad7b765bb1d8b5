// Package memory provides process-local marker and snapshot stores for
// single-node deployments and tests. Dedup only holds within one
// process; multi-replica setups need the redis stores.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/helvetiche/remindd/internal/cache"
	"github.com/helvetiche/remindd/internal/domain"
	"github.com/helvetiche/remindd/internal/idempotency"
)

// MarkerStore implements idempotency.MarkerStore with a mutex-guarded
// map. The mutex makes PutIfAbsent atomic within the process.
type MarkerStore struct {
	mu      sync.Mutex
	markers map[string]domain.SentMarker
}

func NewMarkerStore() *MarkerStore {
	return &MarkerStore{markers: make(map[string]domain.SentMarker)}
}

func (s *MarkerStore) Get(ctx context.Context, key string) (domain.SentMarker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marker, ok := s.markers[key]
	return marker, ok, nil
}

func (s *MarkerStore) Put(ctx context.Context, key string, marker domain.SentMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[key] = marker
	return nil
}

func (s *MarkerStore) PutIfAbsent(ctx context.Context, key string, marker domain.SentMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[key]; ok {
		return idempotency.ErrMarkerExists
	}
	s.markers[key] = marker
	return nil
}

func (s *MarkerStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, key)
	return nil
}

func (s *MarkerStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, marker := range s.markers {
		if deleted >= limit {
			break
		}
		if marker.SentAt.Before(cutoff) {
			delete(s.markers, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored markers.
func (s *MarkerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

// SnapshotStore implements cache.SnapshotStore in process memory.
type SnapshotStore struct {
	mu       sync.Mutex
	snapshot domain.CachedSnapshot
	exists   bool
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

func (s *SnapshotStore) Load(ctx context.Context) (domain.CachedSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return domain.CachedSnapshot{}, false, nil
	}
	out := s.snapshot
	out.Entries = make([]domain.CachedSchedule, len(s.snapshot.Entries))
	copy(out.Entries, s.snapshot.Entries)
	return out, true, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snapshot domain.CachedSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Detach the caller's slice.
	entries := make([]domain.CachedSchedule, len(snapshot.Entries))
	copy(entries, snapshot.Entries)
	snapshot.Entries = entries
	s.snapshot = snapshot
	s.exists = true
	return nil
}

// Compile-time interface assertions
var (
	_ idempotency.MarkerStore = (*MarkerStore)(nil)
	_ cache.SnapshotStore     = (*SnapshotStore)(nil)
)
