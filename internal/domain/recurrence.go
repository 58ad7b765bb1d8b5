package domain

import (
	"errors"
	"fmt"
)

type RecurrenceType string

const (
	RecurrenceDaily        RecurrenceType = "daily"
	RecurrenceWeekly       RecurrenceType = "weekly"
	RecurrenceMonthlyByDay RecurrenceType = "monthly_by_day"
	RecurrenceMonthlyDate  RecurrenceType = "monthly_date"
	RecurrenceInterval     RecurrenceType = "interval"
	RecurrenceHourly       RecurrenceType = "hourly"
	RecurrencePerMinute    RecurrenceType = "per_minute"
	RecurrenceCustom       RecurrenceType = "custom"
)

// DefaultRecurrenceClock is the time of day a deadline lands on when the
// rule does not name one.
const DefaultRecurrenceClock = "23:59"

var ErrUnknownRecurrence = errors.New("unknown recurrence type")

// RecurrenceRule describes when a schedule's deadline recurs. Exactly the
// fields relevant to Type are set; the rest stay zero.
type RecurrenceRule struct {
	Type RecurrenceType `json:"type"`

	// At is a wall-clock "HH:mm" in the configured local offset. Empty
	// means DefaultRecurrenceClock.
	At string `json:"at,omitempty"`

	Weekday  int `json:"weekday,omitempty"`   // 0 = Sunday .. 6 = Saturday
	MonthDay int `json:"month_day,omitempty"` // 1..31, clamped to month length
	Month    int `json:"month,omitempty"`     // 1..12, monthly_date only

	EveryDays    int `json:"every_days,omitempty"`
	EveryHours   int `json:"every_hours,omitempty"`
	EveryMinutes int `json:"every_minutes,omitempty"`

	// Expression is carried verbatim for custom rules and never evaluated.
	Expression string `json:"expression,omitempty"`
}

func (r RecurrenceRule) Validate() error {
	if r.At != "" {
		if _, _, err := ParseClock(r.At); err != nil {
			return fmt.Errorf("recurrence at: %w", err)
		}
	}
	switch r.Type {
	case RecurrenceDaily, RecurrenceCustom:
		return nil
	case RecurrenceWeekly:
		if r.Weekday < 0 || r.Weekday > 6 {
			return fmt.Errorf("weekday %d out of range 0..6", r.Weekday)
		}
	case RecurrenceMonthlyByDay:
		if r.MonthDay < 1 || r.MonthDay > 31 {
			return fmt.Errorf("month day %d out of range 1..31", r.MonthDay)
		}
	case RecurrenceMonthlyDate:
		if r.Month < 1 || r.Month > 12 {
			return fmt.Errorf("month %d out of range 1..12", r.Month)
		}
		if r.MonthDay < 1 || r.MonthDay > 31 {
			return fmt.Errorf("month day %d out of range 1..31", r.MonthDay)
		}
	case RecurrenceInterval:
		if r.EveryDays < 1 {
			return fmt.Errorf("interval days %d must be >= 1", r.EveryDays)
		}
	case RecurrenceHourly:
		// Zero means every hour.
		if r.EveryHours < 0 {
			return fmt.Errorf("interval hours %d must be >= 0", r.EveryHours)
		}
	case RecurrencePerMinute:
		// Zero means every minute.
		if r.EveryMinutes < 0 {
			return fmt.Errorf("interval minutes %d must be >= 0", r.EveryMinutes)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRecurrence, r.Type)
	}
	return nil
}

// Granularity reports how finely sent markers must distinguish occurrences
// of this rule.
func (r RecurrenceRule) Granularity() Granularity {
	switch r.Type {
	case RecurrenceHourly:
		return GranularityHour
	case RecurrencePerMinute:
		return GranularityMinute
	default:
		return GranularityDay
	}
}
