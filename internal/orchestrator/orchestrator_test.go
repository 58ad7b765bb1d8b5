package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helvetiche/remindd/internal/domain"
	"github.com/helvetiche/remindd/internal/notify"
	"github.com/helvetiche/remindd/internal/recurrence"
	"github.com/helvetiche/remindd/internal/testutil"
)

type mockSnapshot struct {
	mu      sync.Mutex
	entries []domain.CachedSchedule
}

func (m *mockSnapshot) Read(ctx context.Context) []domain.CachedSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CachedSchedule, len(m.entries))
	copy(out, m.entries)
	return out
}

type mockTracker struct {
	mu            sync.Mutex
	markers       map[string]domain.SentMarker
	readErr       error
	claimErr      error
	cleanupResult int
	cleanupCalls  int
	released      []string
}

func newMockTracker() *mockTracker {
	return &mockTracker{markers: make(map[string]domain.SentMarker)}
}

func (m *mockTracker) Key(id uuid.UUID, at time.Time, g domain.Granularity) string {
	local := at.In(testutil.LocalOffset)
	switch g {
	case domain.GranularityMinute:
		return id.String() + "_" + local.Format("2006-01-02_15:04")
	case domain.GranularityHour:
		return id.String() + "_" + local.Format("2006-01-02_15")
	default:
		return id.String() + "_" + local.Format("2006-01-02")
	}
}

func (m *mockTracker) HasFired(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return false, m.readErr
	}
	_, ok := m.markers[key]
	return ok, nil
}

func (m *mockTracker) Claim(ctx context.Context, key string, marker domain.SentMarker) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	if _, ok := m.markers[key]; ok {
		return false, nil
	}
	m.markers[key] = marker
	return true, nil
}

func (m *mockTracker) MarkFired(ctx context.Context, key string, marker domain.SentMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[key] = marker
	return nil
}

func (m *mockTracker) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, key)
	m.released = append(m.released, key)
	return nil
}

func (m *mockTracker) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalls++
	return m.cleanupResult, nil
}

func (m *mockTracker) markerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markers)
}

func (m *mockTracker) marker(key string) (domain.SentMarker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marker, ok := m.markers[key]
	return marker, ok
}

type mockNotifier struct {
	mu    sync.Mutex
	err   error
	sends []notify.Message
}

func (m *mockNotifier) Send(ctx context.Context, msg notify.Message) (notify.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return notify.Receipt{}, m.err
	}
	m.sends = append(m.sends, msg)
	return notify.Receipt{MessageID: fmt.Sprintf("msg-%d", len(m.sends))}, nil
}

func (m *mockNotifier) sent() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Message, len(m.sends))
	copy(out, m.sends)
	return out
}

func (m *mockNotifier) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type mockAudit struct {
	mu      sync.Mutex
	last    time.Time
	hasLast bool
	lastErr error
	entries []domain.TickAudit
}

func (m *mockAudit) LastTickAt(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr != nil {
		return time.Time{}, false, m.lastErr
	}
	return m.last, m.hasLast, nil
}

func (m *mockAudit) Append(ctx context.Context, entry domain.TickAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	m.last = entry.At
	m.hasLast = true
	return nil
}

func (m *mockAudit) appended() []domain.TickAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TickAudit, len(m.entries))
	copy(out, m.entries)
	return out
}

type fixture struct {
	orch     *Orchestrator
	clock    *testutil.FakeClock
	snapshot *mockSnapshot
	tracker  *mockTracker
	notifier *mockNotifier
	audit    *mockAudit
}

func newFixture(t *testing.T, now time.Time, entries ...domain.CachedSchedule) *fixture {
	t.Helper()
	f := &fixture{
		clock:    testutil.NewFakeClock(now),
		snapshot: &mockSnapshot{entries: entries},
		tracker:  newMockTracker(),
		notifier: &mockNotifier{},
		audit:    &mockAudit{},
	}
	f.orch = New(Config{}, recurrence.New(testutil.LocalOffset), f.snapshot, f.tracker, f.notifier, f.audit, nil, zerolog.Nop())
	f.orch.clock = f.clock.Now
	return f
}

// dailyAt builds an active daily schedule whose reminder fires the same
// day at reminderClock.
func dailyAt(title, reminderClock string) domain.CachedSchedule {
	return domain.CachedSchedule{
		ID:              uuid.New(),
		Title:           title,
		Description:     "monthly office rent",
		Recurrence:      domain.RecurrenceRule{Type: domain.RecurrenceDaily, At: "17:00"},
		Reminder:        domain.ReminderRule{Kind: domain.ReminderRelative, At: reminderClock},
		AssigneeName:    "Joyce",
		AssigneeAddress: "joyce@example.com",
	}
}

func localTime(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, testutil.LocalOffset)
}

// TestRunTick_SendsDueReminder covers the straight-line path: a daily
// schedule whose reminder instant equals the tick instant is delivered
// and its marker recorded.
func TestRunTick_SendsDueReminder(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	entry := dailyAt("Pay rent", "10:00")
	f := newFixture(t, now, entry)

	summary := f.orch.RunTick(testutil.TestContext(t))

	if !summary.CacheHit {
		t.Fatal("expected cache hit")
	}
	if summary.Checked != 1 || summary.Sent != 1 || summary.Errors != 0 {
		t.Fatalf("unexpected counters: %+v", summary)
	}
	sends := f.notifier.sent()
	if len(sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sends))
	}
	if sends[0].Recipient != "joyce@example.com" {
		t.Errorf("recipient = %q", sends[0].Recipient)
	}
	if sends[0].Subject != "Reminder: Pay rent" {
		t.Errorf("subject = %q", sends[0].Subject)
	}
	if !strings.Contains(sends[0].Body, "2026-03-02 17:00") {
		t.Errorf("body missing due time: %q", sends[0].Body)
	}
	if !strings.Contains(sends[0].Body, "Hi Joyce") {
		t.Errorf("body missing greeting: %q", sends[0].Body)
	}

	key := f.tracker.Key(entry.ID, now, domain.GranularityDay)
	fired, err := f.tracker.HasFired(context.Background(), key)
	if err != nil || !fired {
		t.Fatalf("marker not recorded: fired=%v err=%v", fired, err)
	}
	marker, ok := f.tracker.marker(key)
	if !ok || marker.MessageID == "" {
		t.Error("marker missing message id after successful send")
	}

	if len(summary.Details) != 1 || summary.Details[0].Status != domain.TickStatusSent {
		t.Fatalf("unexpected details: %+v", summary.Details)
	}
}

// TestRunTick_SkipsAlreadySent verifies a recorded marker suppresses the
// second delivery within the same granularity bucket.
func TestRunTick_SkipsAlreadySent(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	entry := dailyAt("Pay rent", "10:00")
	f := newFixture(t, now, entry)

	first := f.orch.RunTick(testutil.TestContext(t))
	if first.Sent != 1 {
		t.Fatalf("first tick sent = %d", first.Sent)
	}

	f.clock.Advance(time.Minute)
	second := f.orch.RunTick(testutil.TestContext(t))

	if second.Sent != 0 || second.Skipped != 1 {
		t.Fatalf("unexpected counters on second tick: %+v", second)
	}
	if len(f.notifier.sent()) != 1 {
		t.Fatalf("notifier called again: %d sends", len(f.notifier.sent()))
	}
	if second.Details[0].Reason != "already sent" {
		t.Errorf("reason = %q", second.Details[0].Reason)
	}
}

// TestRunTick_OutsideWindowSkips uses a reminder 2m30s ahead: close
// enough for the coarse pre-filter, outside the precise window.
func TestRunTick_OutsideWindowSkips(t *testing.T) {
	now := time.Date(2026, time.March, 2, 9, 59, 30, 0, testutil.LocalOffset)
	entry := dailyAt("Pay rent", "10:02")
	f := newFixture(t, now, entry)

	summary := f.orch.RunTick(testutil.TestContext(t))

	if summary.Checked != 1 || summary.Skipped != 1 || summary.Sent != 0 {
		t.Fatalf("unexpected counters: %+v", summary)
	}
	if summary.Details[0].Reason != "not in dispatch window" {
		t.Errorf("reason = %q", summary.Details[0].Reason)
	}
	if len(f.notifier.sent()) != 0 {
		t.Error("notifier should not have been called")
	}
}

// TestRunTick_FarSchedulesNotChecked verifies schedules hours away never
// reach the dispatch stage.
func TestRunTick_FarSchedulesNotChecked(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	f := newFixture(t, now, dailyAt("Pay rent", "15:00"))

	summary := f.orch.RunTick(testutil.TestContext(t))

	if summary.Checked != 0 {
		t.Fatalf("checked = %d, want 0", summary.Checked)
	}
	if len(summary.Details) != 0 {
		t.Fatalf("unexpected details: %+v", summary.Details)
	}
}

// TestRunTick_FailedSendReleasesClaim verifies a failed delivery leaves
// no marker behind, so the next tick inside the window retries.
func TestRunTick_FailedSendReleasesClaim(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	entry := dailyAt("Pay rent", "10:00")
	f := newFixture(t, now, entry)
	f.notifier.setErr(errors.New("gateway unreachable"))

	first := f.orch.RunTick(testutil.TestContext(t))

	if first.Errors != 1 || first.Sent != 0 {
		t.Fatalf("unexpected counters: %+v", first)
	}
	if !strings.Contains(first.Details[0].Reason, "send:") {
		t.Errorf("reason = %q", first.Details[0].Reason)
	}
	if f.tracker.markerCount() != 0 {
		t.Fatal("claim not released after failed send")
	}
	if len(f.tracker.released) != 1 {
		t.Fatalf("release calls = %d", len(f.tracker.released))
	}
	if first.CleanedUp != 0 || f.tracker.cleanupCalls != 0 {
		t.Error("cleanup must not run on a tick with errors")
	}

	f.notifier.setErr(nil)
	f.clock.Advance(time.Minute)
	second := f.orch.RunTick(testutil.TestContext(t))

	if second.Sent != 1 {
		t.Fatalf("retry did not send: %+v", second)
	}
}

// TestRunTick_NeedsSyncStillCleans covers the empty-snapshot path: no
// dispatching, cacheHit false, but marker cleanup still runs.
func TestRunTick_NeedsSyncStillCleans(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	f := newFixture(t, now)
	f.tracker.cleanupResult = 3

	summary := f.orch.RunTick(testutil.TestContext(t))

	if summary.CacheHit {
		t.Error("expected cacheHit false for empty snapshot")
	}
	if summary.Checked != 0 || summary.Sent != 0 {
		t.Fatalf("unexpected counters: %+v", summary)
	}
	if summary.CleanedUp != 3 {
		t.Errorf("cleanedUp = %d, want 3", summary.CleanedUp)
	}
	if f.tracker.cleanupCalls != 1 {
		t.Errorf("cleanup calls = %d, want 1", f.tracker.cleanupCalls)
	}
}

// TestRunTick_ComputeErrorIsolated verifies one broken rule yields an
// error detail while the rest of the pass proceeds, and that cleanup is
// withheld for the whole tick.
func TestRunTick_ComputeErrorIsolated(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	good := dailyAt("Pay rent", "10:00")
	broken := domain.CachedSchedule{
		ID:              uuid.New(),
		Title:           "Mystery",
		Recurrence:      domain.RecurrenceRule{Type: "fortnightly"},
		AssigneeAddress: "ops@example.com",
	}
	f := newFixture(t, now, broken, good)

	summary := f.orch.RunTick(testutil.TestContext(t))

	if summary.Sent != 1 || summary.Errors != 1 {
		t.Fatalf("unexpected counters: %+v", summary)
	}
	if summary.Checked != 1 {
		t.Errorf("checked = %d, want 1 (broken rule never became a candidate)", summary.Checked)
	}
	if f.tracker.cleanupCalls != 0 {
		t.Error("cleanup must not run when the tick had errors")
	}

	var sawError bool
	for _, d := range summary.Details {
		if d.Title == "Mystery" && d.Status == domain.TickStatusError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("missing error detail: %+v", summary.Details)
	}
}

// TestRunTick_MarkerReadFailureStillSends verifies the availability
// bias: when the marker store cannot be read the reminder goes out
// anyway.
func TestRunTick_MarkerReadFailureStillSends(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	f := newFixture(t, now, dailyAt("Pay rent", "10:00"))
	f.tracker.readErr = errors.New("connection refused")
	f.tracker.claimErr = errors.New("connection refused")

	summary := f.orch.RunTick(testutil.TestContext(t))

	if summary.Sent != 1 {
		t.Fatalf("expected send despite marker store failure: %+v", summary)
	}
	if len(f.notifier.sent()) != 1 {
		t.Fatalf("sends = %d", len(f.notifier.sent()))
	}
}

// TestRunTick_CleanupAfterCleanPass verifies cleanup runs only after a
// pass that checked at least one schedule and recorded no errors.
func TestRunTick_CleanupAfterCleanPass(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	f := newFixture(t, now, dailyAt("Pay rent", "10:00"))
	f.tracker.cleanupResult = 2

	summary := f.orch.RunTick(testutil.TestContext(t))

	if summary.Errors != 0 || summary.Checked != 1 {
		t.Fatalf("unexpected counters: %+v", summary)
	}
	if summary.CleanedUp != 2 {
		t.Errorf("cleanedUp = %d, want 2", summary.CleanedUp)
	}
	if f.tracker.cleanupCalls != 1 {
		t.Errorf("cleanup calls = %d, want 1", f.tracker.cleanupCalls)
	}
}

// TestRunTick_ConcurrentDispatch runs several due schedules through a
// multi-worker pool and checks details keep candidate order.
func TestRunTick_ConcurrentDispatch(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	entries := make([]domain.CachedSchedule, 6)
	for i := range entries {
		entries[i] = dailyAt(fmt.Sprintf("Task %d", i), "10:00")
	}
	f := newFixture(t, now, entries...)
	f.orch.config.Workers = 4

	summary := f.orch.RunTick(testutil.TestContext(t))

	if summary.Sent != 6 || summary.Errors != 0 {
		t.Fatalf("unexpected counters: %+v", summary)
	}
	if len(summary.Details) != 6 {
		t.Fatalf("details = %d", len(summary.Details))
	}
	for i, d := range summary.Details {
		if d.Title != fmt.Sprintf("Task %d", i) {
			t.Fatalf("details out of order at %d: %q", i, d.Title)
		}
	}
}

// TestRunTick_AuditRecordsInterval verifies the audit entry carries the
// gap since the previous invocation and the pass counters.
func TestRunTick_AuditRecordsInterval(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	f := newFixture(t, now, dailyAt("Pay rent", "10:00"))
	f.audit.last = now.Add(-time.Minute)
	f.audit.hasLast = true

	summary := f.orch.RunTick(testutil.TestContext(t))

	entries := f.audit.appended()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d", len(entries))
	}
	got := entries[0]
	if got.SincePrev != time.Minute {
		t.Errorf("sincePrev = %v, want 1m", got.SincePrev)
	}
	if got.Checked != summary.Checked || got.Sent != summary.Sent || got.Errors != summary.Errors {
		t.Errorf("audit counters do not match summary: %+v vs %+v", got, summary)
	}
	if !got.At.Equal(now) {
		t.Errorf("audit at = %v, want %v", got.At, now)
	}
}

// TestRunTick_SummaryJSONShape pins the wire field names the trigger
// endpoint returns.
func TestRunTick_SummaryJSONShape(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	f := newFixture(t, now, dailyAt("Pay rent", "10:00"))

	summary := f.orch.RunTick(testutil.TestContext(t))

	raw, err := json.Marshal(summary)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"checked", "sent", "skipped", "errors", "cleanedUp", "cacheHit", "durationMs", "details"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("summary JSON missing %q: %s", field, raw)
		}
	}
	details, ok := decoded["details"].([]any)
	if !ok || len(details) != 1 {
		t.Fatalf("details shape: %s", raw)
	}
	first := details[0].(map[string]any)
	for _, field := range []string{"scheduleId", "title", "status"} {
		if _, ok := first[field]; !ok {
			t.Errorf("detail JSON missing %q: %s", field, raw)
		}
	}
}

func hourlyAt(title, reminderClock string) domain.CachedSchedule {
	return domain.CachedSchedule{
		ID:              uuid.New(),
		Title:           title,
		Recurrence:      domain.RecurrenceRule{Type: domain.RecurrenceHourly, EveryHours: 1},
		Reminder:        domain.ReminderRule{Kind: domain.ReminderRelative, At: reminderClock},
		AssigneeAddress: "ops@example.com",
	}
}

// TestRunTick_HourlyUsesHourBucket verifies hourly schedules dedupe on
// the hour bucket: a second tick in the same hour is suppressed.
func TestRunTick_HourlyUsesHourBucket(t *testing.T) {
	now := localTime(2026, time.March, 2, 10, 0)
	f := newFixture(t, now, hourlyAt("Rotate logs", "10:00"))

	first := f.orch.RunTick(testutil.TestContext(t))
	if first.Sent != 1 {
		t.Fatalf("first tick: %+v", first)
	}

	f.clock.Advance(time.Minute)
	second := f.orch.RunTick(testutil.TestContext(t))
	if second.Skipped != 1 || second.Sent != 0 {
		t.Fatalf("same hour should dedupe: %+v", second)
	}
}

// TestRunTick_HourBucketFollowsTickHour pins the marker keys to the
// tick instant: a dispatch window straddling an hour boundary lands in
// two buckets and delivers twice.
func TestRunTick_HourBucketFollowsTickHour(t *testing.T) {
	now := localTime(2026, time.March, 2, 9, 59)
	f := newFixture(t, now, hourlyAt("Rotate logs", "10:00"))

	first := f.orch.RunTick(testutil.TestContext(t))
	if first.Sent != 1 {
		t.Fatalf("tick at 09:59: %+v", first)
	}

	f.clock.Set(localTime(2026, time.March, 2, 10, 0))
	second := f.orch.RunTick(testutil.TestContext(t))
	if second.Sent != 1 {
		t.Fatalf("tick at 10:00: %+v", second)
	}
	if f.tracker.markerCount() != 2 {
		t.Errorf("marker count = %d, want one per hour bucket", f.tracker.markerCount())
	}
}
