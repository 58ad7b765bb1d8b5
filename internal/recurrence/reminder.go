package recurrence

import (
	"fmt"
	"time"

	"github.com/helvetiche/remindd/internal/domain"
)

// ReminderAt returns the instant a reminder for the given deadline should
// fire. Relative rules step back whole local calendar days and overwrite
// the time of day; whether that instant actually precedes the deadline is
// the rule author's responsibility. Absolute rules return their stored
// instant verbatim.
func (c Calculator) ReminderAt(rule domain.ReminderRule, deadline time.Time) (time.Time, error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}
	switch rule.Kind {
	case domain.ReminderRelative, "":
		at := rule.At
		if at == "" {
			at = domain.DefaultReminderClock
		}
		hour, minute, err := domain.ParseClock(at)
		if err != nil {
			return time.Time{}, err
		}
		local := deadline.In(c.loc).AddDate(0, 0, -rule.DaysBefore)
		return c.at(local, hour, minute), nil
	case domain.ReminderAbsolute:
		return rule.Instant, nil
	default:
		return time.Time{}, fmt.Errorf("unknown reminder kind %q", rule.Kind)
	}
}
