package domain

import (
	"time"

	"github.com/google/uuid"
)

type ScheduleStatus string

const (
	ScheduleStatusActive   ScheduleStatus = "active"
	ScheduleStatusInactive ScheduleStatus = "inactive"
)

// ScheduleDefinition is the authoritative record of a recurring duty as
// stored in the source of truth.
type ScheduleDefinition struct {
	ID uuid.UUID

	Title       string
	Description string

	Recurrence RecurrenceRule
	Reminder   ReminderRule

	AssigneeName    string
	AssigneeAddress string

	Status    ScheduleStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultCreationAnchor is the anchor substitute used when a schedule's
// true creation instant is not available, e.g. for entries read from the
// snapshot cache. Interval arithmetic stays stable across runs as long as
// every caller anchors to the same instant.
func DefaultCreationAnchor(loc *time.Location) time.Time {
	return time.Date(2024, time.January, 1, 0, 0, 0, 0, loc)
}
