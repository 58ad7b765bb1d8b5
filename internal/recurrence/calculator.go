// Package recurrence computes deadline and reminder instants for
// recurring schedules. All wall-clock arithmetic happens in a fixed
// local offset supplied at construction, never the host timezone.
package recurrence

import (
	"fmt"
	"time"

	"github.com/helvetiche/remindd/internal/domain"
)

const day = 24 * time.Hour

// Calculator derives the next deadline instant for a recurrence rule.
// It is pure and safe for concurrent use.
type Calculator struct {
	loc *time.Location
}

// New creates a Calculator operating in the given fixed offset. A nil
// location falls back to UTC.
func New(loc *time.Location) Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return Calculator{loc: loc}
}

// Location returns the offset the calculator computes in.
func (c Calculator) Location() *time.Location {
	return c.loc
}

// NextDeadline returns the first deadline strictly after reference.
// creation anchors interval rules; when zero, reference substitutes.
// If the naive candidate has already passed, the result rolls forward
// exactly one period. Malformed rules fail validation before any
// arithmetic.
func (c Calculator) NextDeadline(rule domain.RecurrenceRule, reference, creation time.Time) (time.Time, error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}
	ref := reference.In(c.loc)

	switch rule.Type {
	case domain.RecurrenceDaily:
		return c.nextDaily(rule, ref)
	case domain.RecurrenceWeekly:
		return c.nextWeekly(rule, ref)
	case domain.RecurrenceMonthlyByDay:
		return c.nextMonthlyByDay(rule, ref)
	case domain.RecurrenceMonthlyDate:
		return c.nextMonthlyDate(rule, ref)
	case domain.RecurrenceInterval:
		return c.nextInterval(rule, ref, creation)
	case domain.RecurrenceHourly:
		return c.nextHourly(rule, ref)
	case domain.RecurrencePerMinute:
		return c.nextPerMinute(rule, ref)
	case domain.RecurrenceCustom:
		// Custom expressions are carried but not evaluated. The far-future
		// sentinel keeps them out of every dispatch window.
		return ref.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrUnknownRecurrence, rule.Type)
	}
}

func (c Calculator) nextDaily(rule domain.RecurrenceRule, ref time.Time) (time.Time, error) {
	hour, minute, err := deadlineClock(rule)
	if err != nil {
		return time.Time{}, err
	}
	candidate := c.at(ref, hour, minute)
	if !candidate.After(ref) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}

func (c Calculator) nextWeekly(rule domain.RecurrenceRule, ref time.Time) (time.Time, error) {
	hour, minute, err := deadlineClock(rule)
	if err != nil {
		return time.Time{}, err
	}
	delta := (rule.Weekday - int(ref.Weekday()) + 7) % 7
	candidate := c.at(ref.AddDate(0, 0, delta), hour, minute)
	if !candidate.After(ref) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate, nil
}

func (c Calculator) nextMonthlyByDay(rule domain.RecurrenceRule, ref time.Time) (time.Time, error) {
	hour, minute, err := deadlineClock(rule)
	if err != nil {
		return time.Time{}, err
	}
	candidate := c.monthDay(ref.Year(), ref.Month(), rule.MonthDay, hour, minute)
	if !candidate.After(ref) {
		candidate = c.monthDay(ref.Year(), ref.Month()+1, rule.MonthDay, hour, minute)
	}
	return candidate, nil
}

func (c Calculator) nextMonthlyDate(rule domain.RecurrenceRule, ref time.Time) (time.Time, error) {
	hour, minute, err := deadlineClock(rule)
	if err != nil {
		return time.Time{}, err
	}
	candidate := c.monthDay(ref.Year(), time.Month(rule.Month), rule.MonthDay, hour, minute)
	if !candidate.After(ref) {
		candidate = c.monthDay(ref.Year()+1, time.Month(rule.Month), rule.MonthDay, hour, minute)
	}
	return candidate, nil
}

// nextInterval buckets elapsed whole local days since the anchor into
// periods of rule.EveryDays, so repeated invocations land on the same
// cycle instead of drifting one interval past "now" each time.
func (c Calculator) nextInterval(rule domain.RecurrenceRule, ref time.Time, creation time.Time) (time.Time, error) {
	hour, minute, err := deadlineClock(rule)
	if err != nil {
		return time.Time{}, err
	}
	anchor := creation
	if anchor.IsZero() {
		anchor = ref
	}
	elapsed := int(c.midnight(ref).Sub(c.midnight(anchor.In(c.loc))) / day)
	if elapsed < 0 {
		elapsed = 0
	}
	periods := elapsed / rule.EveryDays
	candidate := c.at(c.midnight(anchor.In(c.loc)).AddDate(0, 0, periods*rule.EveryDays), hour, minute)
	if !candidate.After(ref) {
		candidate = candidate.AddDate(0, 0, rule.EveryDays)
	}
	return candidate, nil
}

func (c Calculator) nextHourly(rule domain.RecurrenceRule, ref time.Time) (time.Time, error) {
	step := time.Duration(max(rule.EveryHours, 1)) * time.Hour
	dayStart := c.midnight(ref)
	periods := ref.Sub(dayStart) / step
	candidate := dayStart.Add(periods * step)
	if !candidate.After(ref) {
		candidate = candidate.Add(step)
	}
	return candidate, nil
}

func (c Calculator) nextPerMinute(rule domain.RecurrenceRule, ref time.Time) (time.Time, error) {
	step := time.Duration(max(rule.EveryMinutes, 1)) * time.Minute
	hourStart := time.Date(ref.Year(), ref.Month(), ref.Day(), ref.Hour(), 0, 0, 0, c.loc)
	periods := ref.Sub(hourStart) / step
	candidate := hourStart.Add(periods * step)
	if !candidate.After(ref) {
		candidate = candidate.Add(step)
	}
	return candidate, nil
}

// at places hour:minute on t's local date.
func (c Calculator) at(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, c.loc)
}

func (c Calculator) midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// monthDay builds an instant on the given month, clamping the day to the
// month's length, e.g. day 31 in February resolves to the 28th or 29th.
func (c Calculator) monthDay(year int, month time.Month, dayOfMonth, hour, minute int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, c.loc).Day()
	if dayOfMonth > last {
		dayOfMonth = last
	}
	return time.Date(year, month, dayOfMonth, hour, minute, 0, 0, c.loc)
}

func deadlineClock(rule domain.RecurrenceRule) (int, int, error) {
	at := rule.At
	if at == "" {
		at = domain.DefaultRecurrenceClock
	}
	return domain.ParseClock(at)
}
