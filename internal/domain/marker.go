package domain

import (
	"time"

	"github.com/google/uuid"
)

// Granularity is the time resolution of a sent-marker bucket. Coarser
// rules share one marker per day; hourly and per-minute rules need one
// per occurrence.
type Granularity string

const (
	GranularityDay    Granularity = "day"
	GranularityHour   Granularity = "hour"
	GranularityMinute Granularity = "minute"
)

// SentMarker records that a reminder for a schedule was dispatched within
// a specific bucket. A marker with an empty MessageID is a claim taken
// before the send completed.
type SentMarker struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Title      string    `json:"title"`
	Recipient  string    `json:"recipient"`
	MessageID  string    `json:"message_id,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}
