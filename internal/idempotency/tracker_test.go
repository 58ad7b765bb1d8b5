package idempotency

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/helvetiche/remindd/internal/domain"
	"github.com/helvetiche/remindd/internal/testutil"
)

// mockMarkerStore is a map-backed MarkerStore with the same claim
// semantics as the real ones.
type mockMarkerStore struct {
	mu      sync.Mutex
	markers map[string]domain.SentMarker

	deleteBatches []int
}

func newMockMarkerStore() *mockMarkerStore {
	return &mockMarkerStore{markers: make(map[string]domain.SentMarker)}
}

func (s *mockMarkerStore) Get(ctx context.Context, key string) (domain.SentMarker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[key]
	return m, ok, nil
}

func (s *mockMarkerStore) Put(ctx context.Context, key string, marker domain.SentMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[key] = marker
	return nil
}

func (s *mockMarkerStore) PutIfAbsent(ctx context.Context, key string, marker domain.SentMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.markers[key]; exists {
		return ErrMarkerExists
	}
	s.markers[key] = marker
	return nil
}

func (s *mockMarkerStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, key)
	return nil
}

func (s *mockMarkerStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, m := range s.markers {
		if n >= limit {
			break
		}
		if m.SentAt.Before(cutoff) {
			delete(s.markers, key)
			n++
		}
	}
	s.deleteBatches = append(s.deleteBatches, n)
	return n, nil
}

func (s *mockMarkerStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

func TestTracker_KeyFormats(t *testing.T) {
	tracker := New(Config{}, newMockMarkerStore(), testutil.LocalOffset)
	id := testutil.MustParseUUID("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	// 01:30 UTC is 09:30 in the configured offset.
	at := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC)

	tests := []struct {
		granularity domain.Granularity
		want        string
	}{
		{domain.GranularityDay, id.String() + "_2026-03-02"},
		{domain.GranularityHour, id.String() + "_2026-03-02_09"},
		{domain.GranularityMinute, id.String() + "_2026-03-02_09:30"},
	}

	for _, tt := range tests {
		if got := tracker.Key(id, at, tt.granularity); got != tt.want {
			t.Errorf("Key(%s) = %s, want %s", tt.granularity, got, tt.want)
		}
	}

	// Late UTC evening already belongs to the next local day.
	evening := time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC)
	if got := tracker.Key(id, evening, domain.GranularityDay); !strings.HasSuffix(got, "_2026-03-02") {
		t.Errorf("Key crossed midnight wrong: %s", got)
	}
}

// TestTracker_MarkThenHasFired verifies the idempotency round-trip: a
// marked bucket reads as fired, a different bucket does not.
func TestTracker_MarkThenHasFired(t *testing.T) {
	store := newMockMarkerStore()
	tracker := New(Config{}, store, testutil.LocalOffset)
	ctx := testutil.TestContext(t)

	id := uuid.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, testutil.LocalOffset)
	key := tracker.Key(id, now, domain.GranularityDay)

	fired, err := tracker.HasFired(ctx, key)
	if err != nil || fired {
		t.Fatalf("HasFired before mark = %v, %v; want false, nil", fired, err)
	}

	marker := domain.SentMarker{ScheduleID: id, Recipient: "ops@example.com", SentAt: now}
	if err := tracker.MarkFired(ctx, key, marker); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}

	fired, err = tracker.HasFired(ctx, key)
	if err != nil || !fired {
		t.Fatalf("HasFired after mark = %v, %v; want true, nil", fired, err)
	}

	nextDay := tracker.Key(id, now.AddDate(0, 0, 1), domain.GranularityDay)
	fired, err = tracker.HasFired(ctx, nextDay)
	if err != nil || fired {
		t.Fatalf("HasFired for fresh bucket = %v, %v; want false, nil", fired, err)
	}
}

// TestTracker_Claim verifies that only one of two competing claims on
// the same bucket wins, and that a released bucket can be claimed again.
func TestTracker_Claim(t *testing.T) {
	store := newMockMarkerStore()
	tracker := New(Config{}, store, testutil.LocalOffset)
	ctx := testutil.TestContext(t)

	id := uuid.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, testutil.LocalOffset)
	key := tracker.Key(id, now, domain.GranularityDay)
	marker := domain.SentMarker{ScheduleID: id, SentAt: now}

	claimed, err := tracker.Claim(ctx, key, marker)
	if err != nil || !claimed {
		t.Fatalf("first Claim = %v, %v; want true, nil", claimed, err)
	}

	claimed, err = tracker.Claim(ctx, key, marker)
	if err != nil || claimed {
		t.Fatalf("second Claim = %v, %v; want false, nil", claimed, err)
	}

	if err := tracker.Release(ctx, key); err != nil {
		t.Fatalf("Release: %v", err)
	}

	claimed, err = tracker.Claim(ctx, key, marker)
	if err != nil || !claimed {
		t.Fatalf("Claim after release = %v, %v; want true, nil", claimed, err)
	}
}

// TestTracker_Cleanup_PurgesWithinDay exercises the retained short
// cleanup horizon: a day-granularity marker survives only one hour, so
// 90 minutes later the same calendar day reads as not fired again.
func TestTracker_Cleanup_PurgesWithinDay(t *testing.T) {
	store := newMockMarkerStore()
	tracker := New(Config{}, store, testutil.LocalOffset)
	ctx := testutil.TestContext(t)

	sentAt := time.Date(2026, 3, 2, 9, 0, 0, 0, testutil.LocalOffset)
	clock := testutil.NewFakeClock(sentAt)
	tracker.clock = clock.Now

	id := uuid.New()
	key := tracker.Key(id, sentAt, domain.GranularityDay)
	if err := tracker.MarkFired(ctx, key, domain.SentMarker{ScheduleID: id, SentAt: sentAt}); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}

	clock.Advance(90 * time.Minute)

	removed, err := tracker.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Cleanup removed %d markers, want 1", removed)
	}

	fired, err := tracker.HasFired(ctx, key)
	if err != nil {
		t.Fatalf("HasFired: %v", err)
	}
	if fired {
		t.Fatal("marker still present after cleanup; purge within the same day is the expected behavior")
	}
}

// TestTracker_Cleanup_Batches verifies cleanup keeps scanning until a
// batch comes back short.
func TestTracker_Cleanup_Batches(t *testing.T) {
	store := newMockMarkerStore()
	tracker := New(Config{CleanupBatchSize: 2}, store, testutil.LocalOffset)
	ctx := testutil.TestContext(t)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, testutil.LocalOffset)
	clock := testutil.NewFakeClock(now)
	tracker.clock = clock.Now

	old := now.Add(-2 * time.Hour)
	for i := 0; i < 5; i++ {
		id := uuid.New()
		key := tracker.Key(id, old.Add(time.Duration(i)*time.Minute), domain.GranularityMinute)
		if err := tracker.MarkFired(ctx, key, domain.SentMarker{ScheduleID: id, SentAt: old}); err != nil {
			t.Fatalf("MarkFired: %v", err)
		}
	}
	fresh := uuid.New()
	freshKey := tracker.Key(fresh, now, domain.GranularityDay)
	if err := tracker.MarkFired(ctx, freshKey, domain.SentMarker{ScheduleID: fresh, SentAt: now}); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}

	removed, err := tracker.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 5 {
		t.Fatalf("Cleanup removed %d markers, want 5", removed)
	}
	if len(store.deleteBatches) < 3 {
		t.Fatalf("expected at least 3 bounded batches, got %v", store.deleteBatches)
	}
	if store.count() != 1 {
		t.Fatalf("store holds %d markers, want only the fresh one", store.count())
	}

	fired, err := tracker.HasFired(ctx, freshKey)
	if err != nil || !fired {
		t.Fatalf("fresh marker lost by cleanup: %v, %v", fired, err)
	}
}

// TestTracker_ClearForSchedule verifies only the current day bucket is
// cleared, leaving other schedules and finer buckets untouched.
func TestTracker_ClearForSchedule(t *testing.T) {
	store := newMockMarkerStore()
	tracker := New(Config{}, store, testutil.LocalOffset)
	ctx := testutil.TestContext(t)

	id := uuid.New()
	other := uuid.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, testutil.LocalOffset)

	dayKey := tracker.Key(id, now, domain.GranularityDay)
	hourKey := tracker.Key(id, now, domain.GranularityHour)
	otherKey := tracker.Key(other, now, domain.GranularityDay)
	for _, key := range []string{dayKey, hourKey, otherKey} {
		if err := tracker.MarkFired(ctx, key, domain.SentMarker{SentAt: now}); err != nil {
			t.Fatalf("MarkFired: %v", err)
		}
	}

	if err := tracker.ClearForSchedule(ctx, id, now); err != nil {
		t.Fatalf("ClearForSchedule: %v", err)
	}

	if fired, _ := tracker.HasFired(ctx, dayKey); fired {
		t.Error("day bucket should be cleared")
	}
	if fired, _ := tracker.HasFired(ctx, hourKey); !fired {
		t.Error("hour bucket should survive a clear")
	}
	if fired, _ := tracker.HasFired(ctx, otherKey); !fired {
		t.Error("other schedule's bucket should survive a clear")
	}
}
