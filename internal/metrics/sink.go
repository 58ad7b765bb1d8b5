package metrics

import (
	"context"
	"errors"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Orchestrator metrics
	TickStarted()
	TickCompleted(duration time.Duration, sent, errors int)
	CacheRead(hit bool)
	ScheduleOutcome(outcome string)
	MarkersCleaned(count int)

	// Dispatch metrics
	SendCompleted(duration time.Duration, err error)

	// Cache metrics
	CacheSyncCompleted(count int, err error)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
}

// Outcome constants for ScheduleOutcome metric.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Result constants for SendCompleted metric.
const (
	SendResultOK      = "ok"
	SendResultTimeout = "timeout"
	SendResultError   = "error"
)

// ClassifySend maps a send error to a result label.
func ClassifySend(err error) string {
	switch {
	case err == nil:
		return SendResultOK
	case errors.Is(err, context.DeadlineExceeded):
		return SendResultTimeout
	default:
		return SendResultError
	}
}
