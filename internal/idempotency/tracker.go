// Package idempotency guards against duplicate reminder sends. Every
// dispatch is bucketed by schedule and time at a granularity chosen by
// the recurrence type; a marker in the bucket means the bucket's
// reminder already went out.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helvetiche/remindd/internal/domain"
)

// ErrMarkerExists is returned by MarkerStore.PutIfAbsent when the bucket
// is already claimed.
var ErrMarkerExists = errors.New("marker already exists")

// MarkerStore persists sent markers. PutIfAbsent must be atomic so that
// overlapping ticks cannot both claim the same bucket.
type MarkerStore interface {
	Get(ctx context.Context, key string) (domain.SentMarker, bool, error)
	Put(ctx context.Context, key string, marker domain.SentMarker) error
	PutIfAbsent(ctx context.Context, key string, marker domain.SentMarker) error
	Delete(ctx context.Context, key string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

const (
	layoutDay    = "2006-01-02"
	layoutHour   = "2006-01-02_15"
	layoutMinute = "2006-01-02_15:04"
)

// DefaultCleanupBatchSize bounds one marker store scan during cleanup.
const DefaultCleanupBatchSize = 200

type Config struct {
	CleanupBatchSize int
}

// Tracker implements the at-most-once send guarantee over a MarkerStore.
type Tracker struct {
	config Config
	store  MarkerStore
	loc    *time.Location
	clock  func() time.Time
}

func New(config Config, store MarkerStore, loc *time.Location) *Tracker {
	if config.CleanupBatchSize <= 0 {
		config.CleanupBatchSize = DefaultCleanupBatchSize
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		config: config,
		store:  store,
		loc:    loc,
		clock:  time.Now,
	}
}

// Key builds the deterministic bucket key for a schedule at an instant.
// The time component is rendered in the configured local offset.
func (t *Tracker) Key(scheduleID uuid.UUID, at time.Time, granularity domain.Granularity) string {
	local := at.In(t.loc)
	var bucket string
	switch granularity {
	case domain.GranularityHour:
		bucket = local.Format(layoutHour)
	case domain.GranularityMinute:
		bucket = local.Format(layoutMinute)
	default:
		bucket = local.Format(layoutDay)
	}
	return fmt.Sprintf("%s_%s", scheduleID, bucket)
}

// HasFired reports whether the bucket's reminder already went out.
func (t *Tracker) HasFired(ctx context.Context, key string) (bool, error) {
	_, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get marker %s: %w", key, err)
	}
	return ok, nil
}

// Claim atomically takes ownership of a bucket before dispatch. It
// returns false when another invocation already holds it.
func (t *Tracker) Claim(ctx context.Context, key string, marker domain.SentMarker) (bool, error) {
	err := t.store.PutIfAbsent(ctx, key, marker)
	if errors.Is(err, ErrMarkerExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim marker %s: %w", key, err)
	}
	return true, nil
}

// MarkFired upserts the bucket's marker with final send metadata.
// Calling it twice is safe and simply overwrites.
func (t *Tracker) MarkFired(ctx context.Context, key string, marker domain.SentMarker) error {
	if err := t.store.Put(ctx, key, marker); err != nil {
		return fmt.Errorf("put marker %s: %w", key, err)
	}
	return nil
}

// Release drops a claim whose send failed so the next eligible tick can
// retry the bucket.
func (t *Tracker) Release(ctx context.Context, key string) error {
	if err := t.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("release marker %s: %w", key, err)
	}
	return nil
}

// Cleanup deletes markers older than maxAge in bounded batches and
// returns the total removed. Note the horizon is shorter than a day
// bucket's natural lifetime, so a purged day marker re-opens its
// duplicate-send window before the calendar day ends.
func (t *Tracker) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := t.clock().Add(-maxAge)
	total := 0
	for {
		n, err := t.store.DeleteOlderThan(ctx, cutoff, t.config.CleanupBatchSize)
		total += n
		if err != nil {
			return total, fmt.Errorf("delete markers older than %s: %w", cutoff.Format(time.RFC3339), err)
		}
		if n < t.config.CleanupBatchSize {
			return total, nil
		}
	}
}

// ClearForSchedule deletes the schedule's current day bucket so an
// edited schedule may remind again today. Hour and minute buckets are
// left alone; they expire through Cleanup.
func (t *Tracker) ClearForSchedule(ctx context.Context, scheduleID uuid.UUID, now time.Time) error {
	key := t.Key(scheduleID, now, domain.GranularityDay)
	if err := t.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear marker %s: %w", key, err)
	}
	return nil
}
