// Package orchestrator runs the per-tick dispatch pass: read the
// snapshot, find schedules whose reminder instant is due right now,
// deliver their notifications exactly once, and report a summary. It
// keeps no state between ticks beyond the external stores.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helvetiche/remindd/internal/domain"
	"github.com/helvetiche/remindd/internal/metrics"
	"github.com/helvetiche/remindd/internal/notify"
	"github.com/helvetiche/remindd/internal/recurrence"
)

// SnapshotReader returns the cached schedule entries. An empty result
// means the snapshot needs a sync, not that zero schedules exist.
type SnapshotReader interface {
	Read(ctx context.Context) []domain.CachedSchedule
}

// Tracker is the idempotency surface one pass needs.
type Tracker interface {
	Key(scheduleID uuid.UUID, at time.Time, granularity domain.Granularity) string
	HasFired(ctx context.Context, key string) (bool, error)
	Claim(ctx context.Context, key string, marker domain.SentMarker) (bool, error)
	MarkFired(ctx context.Context, key string, marker domain.SentMarker) error
	Release(ctx context.Context, key string) error
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// AuditLog records one entry per tick. Appends are best effort; an
// unavailable audit store never fails the pass.
type AuditLog interface {
	LastTickAt(ctx context.Context) (time.Time, bool, error)
	Append(ctx context.Context, entry domain.TickAudit) error
}

type Config struct {
	// PrefilterWindow is the coarse half-width used to pick candidates
	// before the precise window check.
	// Default: 3 minutes.
	PrefilterWindow time.Duration

	// DispatchTimeout bounds one notifier send so a slow delivery
	// cannot stall the pass.
	// Default: 10 seconds.
	DispatchTimeout time.Duration

	// Workers is the number of concurrent dispatchers.
	// Default: 1.
	Workers int

	// MarkerMaxAge is the cleanup horizon for sent markers.
	// Default: 1 hour.
	MarkerMaxAge time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		PrefilterWindow: 3 * time.Minute,
		DispatchTimeout: 10 * time.Second,
		Workers:         1,
		MarkerMaxAge:    time.Hour,
	}
}

// Orchestrator composes the calculator, cache, tracker and notifier
// into one pass per external trigger.
type Orchestrator struct {
	config   Config
	calc     recurrence.Calculator
	snapshot SnapshotReader
	tracker  Tracker
	notifier notify.Notifier
	audit    AuditLog
	metrics  metrics.Sink
	clock    func() time.Time
	logger   zerolog.Logger
}

// New creates an Orchestrator. audit may be nil; sink may be nil.
func New(config Config, calc recurrence.Calculator, snapshot SnapshotReader, tracker Tracker, notifier notify.Notifier, audit AuditLog, sink metrics.Sink, logger zerolog.Logger) *Orchestrator {
	def := DefaultConfig()
	if config.PrefilterWindow <= 0 {
		config.PrefilterWindow = def.PrefilterWindow
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = def.DispatchTimeout
	}
	if config.Workers < 1 {
		config.Workers = def.Workers
	}
	if config.MarkerMaxAge <= 0 {
		config.MarkerMaxAge = def.MarkerMaxAge
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Orchestrator{
		config:   config,
		calc:     calc,
		snapshot: snapshot,
		tracker:  tracker,
		notifier: notifier,
		audit:    audit,
		metrics:  sink,
		clock:    time.Now,
		logger:   logger,
	}
}

// RunTick executes one dispatch pass. Every failure mode resolves into
// the summary; RunTick itself never fails.
func (o *Orchestrator) RunTick(ctx context.Context) domain.TickSummary {
	start := o.clock()
	o.metrics.TickStarted()

	summary := domain.TickSummary{Details: make([]domain.TickDetail, 0)}

	entries := o.snapshot.Read(ctx)
	if len(entries) == 0 {
		o.metrics.CacheRead(false)
		summary.CleanedUp = o.runCleanup(ctx)
		o.finish(ctx, start, &summary)
		o.logger.Info().Int("cleaned_up", summary.CleanedUp).Msg("tick found no snapshot, sync needed")
		return summary
	}
	o.metrics.CacheRead(true)
	summary.CacheHit = true

	// The cache drops creation instants, so interval rules anchor to the
	// shared default and their phase is approximate.
	anchor := domain.DefaultCreationAnchor(o.calc.Location())

	candidates, failures := o.prefilter(entries, anchor)
	details := o.dispatch(ctx, candidates, anchor)
	details = append(details, failures...)

	summary.Checked = len(candidates)
	for _, d := range details {
		switch d.Status {
		case domain.TickStatusSent:
			summary.Sent++
		case domain.TickStatusSkipped:
			summary.Skipped++
		case domain.TickStatusError:
			summary.Errors++
		}
		o.metrics.ScheduleOutcome(string(d.Status))
	}
	summary.Details = details

	// Cleanup is skipped on empty or failing ticks; persistent errors
	// therefore stall it until they clear.
	if summary.Errors == 0 && summary.Checked > 0 {
		summary.CleanedUp = o.runCleanup(ctx)
	}

	o.finish(ctx, start, &summary)
	o.logger.Info().
		Int("checked", summary.Checked).
		Int("sent", summary.Sent).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Int("cleaned_up", summary.CleanedUp).
		Int64("duration_ms", summary.DurationMs).
		Msg("tick completed")
	return summary
}

// prefilter computes a coarse reminder instant for every entry and
// keeps those within PrefilterWindow of now. Computation failures come
// back as error details; one bad rule never aborts the pass.
func (o *Orchestrator) prefilter(entries []domain.CachedSchedule, anchor time.Time) ([]domain.CachedSchedule, []domain.TickDetail) {
	now := o.clock()
	var candidates []domain.CachedSchedule
	var failures []domain.TickDetail

	for _, entry := range entries {
		reminderAt, err := o.reminderInstant(entry, now, anchor)
		if err != nil {
			o.logger.Warn().Err(err).Str("schedule_id", entry.ID.String()).Msg("schedule computation failed")
			failures = append(failures, domain.TickDetail{
				ScheduleID: entry.ID.String(),
				Title:      entry.Title,
				Status:     domain.TickStatusError,
				Reason:     err.Error(),
			})
			continue
		}
		diff := reminderAt.Sub(now)
		if diff < 0 {
			diff = -diff
		}
		if diff <= o.config.PrefilterWindow {
			candidates = append(candidates, entry)
		}
	}
	return candidates, failures
}

// dispatch processes candidates on a bounded worker pool. Results land
// in candidate order; indexed writes keep the slice race free.
func (o *Orchestrator) dispatch(ctx context.Context, candidates []domain.CachedSchedule, anchor time.Time) []domain.TickDetail {
	if len(candidates) == 0 {
		return nil
	}

	workers := o.config.Workers
	if workers > len(candidates) {
		workers = len(candidates)
	}

	details := make([]domain.TickDetail, len(candidates))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				details[i] = o.processOne(ctx, candidates[i], anchor)
			}
		}()
	}
	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return details
}

func (o *Orchestrator) processOne(ctx context.Context, entry domain.CachedSchedule, anchor time.Time) domain.TickDetail {
	detail := domain.TickDetail{ScheduleID: entry.ID.String(), Title: entry.Title}
	now := o.clock()

	deadline, err := o.calc.NextDeadline(entry.Recurrence, now, anchor)
	if err != nil {
		detail.Status = domain.TickStatusError
		detail.Reason = err.Error()
		return detail
	}
	reminderAt, err := o.calc.ReminderAt(entry.Reminder, deadline)
	if err != nil {
		detail.Status = domain.TickStatusError
		detail.Reason = err.Error()
		return detail
	}

	if !recurrence.InWindow(reminderAt, now) {
		detail.Status = domain.TickStatusSkipped
		detail.Reason = "not in dispatch window"
		return detail
	}

	key := o.tracker.Key(entry.ID, now, entry.Recurrence.Granularity())

	fired, err := o.tracker.HasFired(ctx, key)
	if err != nil {
		// Marker store down: treat as not fired, preferring a possible
		// duplicate over a missed reminder.
		o.logger.Warn().Err(err).Str("key", key).Msg("marker read failed, assuming not fired")
	}
	if fired {
		detail.Status = domain.TickStatusSkipped
		detail.Reason = "already sent"
		return detail
	}

	marker := domain.SentMarker{
		ScheduleID: entry.ID,
		Title:      entry.Title,
		Recipient:  entry.AssigneeAddress,
		SentAt:     now,
	}

	holdingClaim := false
	claimed, err := o.tracker.Claim(ctx, key, marker)
	switch {
	case err != nil:
		o.logger.Warn().Err(err).Str("key", key).Msg("marker claim failed, sending without dedup guard")
	case !claimed:
		detail.Status = domain.TickStatusSkipped
		detail.Reason = "already sent"
		return detail
	default:
		holdingClaim = true
	}

	sendStart := o.clock()
	sendCtx, cancel := context.WithTimeout(ctx, o.config.DispatchTimeout)
	receipt, sendErr := o.notifier.Send(sendCtx, o.buildMessage(entry, deadline))
	cancel()
	o.metrics.SendCompleted(o.clock().Sub(sendStart), sendErr)

	if sendErr != nil {
		if holdingClaim {
			if rerr := o.tracker.Release(ctx, key); rerr != nil {
				o.logger.Warn().Err(rerr).Str("key", key).Msg("could not release claim after failed send")
			}
		}
		o.logger.Warn().Err(sendErr).Str("schedule_id", entry.ID.String()).Msg("reminder send failed")
		detail.Status = domain.TickStatusError
		detail.Reason = fmt.Sprintf("send: %v", sendErr)
		return detail
	}

	marker.MessageID = receipt.MessageID
	marker.SentAt = o.clock()
	if err := o.tracker.MarkFired(ctx, key, marker); err != nil {
		// The claim already guards the bucket; losing the metadata
		// update is not worth failing the send for.
		o.logger.Warn().Err(err).Str("key", key).Msg("could not record send metadata")
	}

	o.logger.Info().
		Str("schedule_id", entry.ID.String()).
		Str("recipient", entry.AssigneeAddress).
		Str("message_id", receipt.MessageID).
		Msg("reminder sent")
	detail.Status = domain.TickStatusSent
	return detail
}

func (o *Orchestrator) reminderInstant(entry domain.CachedSchedule, now, anchor time.Time) (time.Time, error) {
	deadline, err := o.calc.NextDeadline(entry.Recurrence, now, anchor)
	if err != nil {
		return time.Time{}, err
	}
	return o.calc.ReminderAt(entry.Reminder, deadline)
}

func (o *Orchestrator) buildMessage(entry domain.CachedSchedule, deadline time.Time) notify.Message {
	due := deadline.In(o.calc.Location()).Format("2006-01-02 15:04")

	var b strings.Builder
	if entry.AssigneeName != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", entry.AssigneeName)
	}
	fmt.Fprintf(&b, "%s is due at %s.", entry.Title, due)
	if entry.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(entry.Description)
	}

	return notify.Message{
		Recipient: entry.AssigneeAddress,
		Subject:   "Reminder: " + entry.Title,
		Body:      b.String(),
	}
}

func (o *Orchestrator) runCleanup(ctx context.Context) int {
	cleaned, err := o.tracker.Cleanup(ctx, o.config.MarkerMaxAge)
	if err != nil {
		o.logger.Warn().Err(err).Msg("marker cleanup failed")
	}
	if cleaned > 0 {
		o.metrics.MarkersCleaned(cleaned)
	}
	return cleaned
}

// finish stamps the duration, records tick metrics and appends the
// audit record.
func (o *Orchestrator) finish(ctx context.Context, start time.Time, summary *domain.TickSummary) {
	duration := o.clock().Sub(start)
	summary.DurationMs = duration.Milliseconds()
	o.metrics.TickCompleted(duration, summary.Sent, summary.Errors)

	if o.audit == nil {
		return
	}
	var since time.Duration
	last, ok, err := o.audit.LastTickAt(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("could not read previous tick time")
	} else if ok {
		since = start.Sub(last)
	}
	entry := domain.TickAudit{
		ID:        uuid.New(),
		At:        start,
		SincePrev: since,
		Checked:   summary.Checked,
		Sent:      summary.Sent,
		Skipped:   summary.Skipped,
		Errors:    summary.Errors,
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		o.logger.Warn().Err(err).Msg("audit append failed")
	}
}
