package recurrence

import "time"

// Dispatch window bounds around a reminder instant. The asymmetry
// tolerates a trigger cadence of roughly one invocation per minute
// without missing an instant that fell just before or after a tick.
const (
	WindowBefore = 2 * time.Minute
	WindowAfter  = 3 * time.Minute
)

// InWindow reports whether now falls inside the inclusive dispatch
// window [reminderAt-WindowBefore, reminderAt+WindowAfter].
func InWindow(reminderAt, now time.Time) bool {
	return !now.Before(reminderAt.Add(-WindowBefore)) && !now.After(reminderAt.Add(WindowAfter))
}
