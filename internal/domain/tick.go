package domain

import (
	"time"

	"github.com/google/uuid"
)

type TickStatus string

const (
	TickStatusSent    TickStatus = "sent"
	TickStatusSkipped TickStatus = "skipped"
	TickStatusError   TickStatus = "error"
)

// TickDetail is the per-schedule outcome of one orchestrator pass.
type TickDetail struct {
	ScheduleID string     `json:"scheduleId"`
	Title      string     `json:"title"`
	Status     TickStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
}

// TickSummary is the structured result of one orchestrator pass. A pass
// with CacheHit false dispatched nothing and signals that the snapshot
// cache needs a sync.
type TickSummary struct {
	Checked    int          `json:"checked"`
	Sent       int          `json:"sent"`
	Skipped    int          `json:"skipped"`
	Errors     int          `json:"errors"`
	CleanedUp  int          `json:"cleanedUp"`
	CacheHit   bool         `json:"cacheHit"`
	DurationMs int64        `json:"durationMs"`
	Details    []TickDetail `json:"details"`
}

// TickAudit is one append-only audit record of an orchestrator
// invocation. SincePrev is the wall-clock gap to the previous
// invocation, zero for the first.
type TickAudit struct {
	ID        uuid.UUID
	At        time.Time
	SincePrev time.Duration

	Checked int
	Sent    int
	Skipped int
	Errors  int
}
