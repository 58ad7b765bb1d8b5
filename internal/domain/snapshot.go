package domain

import (
	"time"

	"github.com/google/uuid"
)

// CachedSchedule is the projection of a ScheduleDefinition kept in the
// snapshot cache. The creation instant is deliberately not retained;
// readers substitute DefaultCreationAnchor.
type CachedSchedule struct {
	ID uuid.UUID `json:"id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Recurrence RecurrenceRule `json:"recurrence"`
	Reminder   ReminderRule   `json:"reminder"`

	AssigneeName    string `json:"assignee_name,omitempty"`
	AssigneeAddress string `json:"assignee_address"`
}

// CachedSnapshot is the materialized view of all active schedules,
// written and read wholesale.
type CachedSnapshot struct {
	Entries      []CachedSchedule `json:"entries"`
	LastSyncedAt time.Time        `json:"last_synced_at"`
	Count        int              `json:"count"`
}

// Project maps a source definition onto its cached form.
func Project(def ScheduleDefinition) CachedSchedule {
	return CachedSchedule{
		ID:              def.ID,
		Title:           def.Title,
		Description:     def.Description,
		Recurrence:      def.Recurrence,
		Reminder:        def.Reminder,
		AssigneeName:    def.AssigneeName,
		AssigneeAddress: def.AssigneeAddress,
	}
}
