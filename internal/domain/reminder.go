package domain

import (
	"fmt"
	"time"
)

type ReminderKind string

const (
	ReminderRelative ReminderKind = "relative"
	ReminderAbsolute ReminderKind = "absolute"
)

// DefaultReminderClock is the time of day a relative reminder fires at
// when the rule does not name one.
const DefaultReminderClock = "09:00"

// ReminderRule describes when to notify ahead of a deadline. A zero rule
// behaves like relative{days_before: 0}.
type ReminderRule struct {
	Kind ReminderKind `json:"kind,omitempty"`

	DaysBefore int    `json:"days_before,omitempty"`
	At         string `json:"at,omitempty"` // "HH:mm", empty means DefaultReminderClock

	Instant time.Time `json:"instant,omitempty"` // absolute only
}

func (r ReminderRule) Validate() error {
	switch r.Kind {
	case ReminderRelative, "":
		if r.DaysBefore < 0 {
			return fmt.Errorf("days before %d must be >= 0", r.DaysBefore)
		}
		if r.At != "" {
			if _, _, err := ParseClock(r.At); err != nil {
				return fmt.Errorf("reminder at: %w", err)
			}
		}
	case ReminderAbsolute:
		if r.Instant.IsZero() {
			return fmt.Errorf("absolute reminder requires an instant")
		}
	default:
		return fmt.Errorf("unknown reminder kind %q", r.Kind)
	}
	return nil
}
