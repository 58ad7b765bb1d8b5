package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                           {}
func (n *NoopSink) TickCompleted(duration time.Duration, sent, errors int) {}
func (n *NoopSink) CacheRead(hit bool)                                     {}
func (n *NoopSink) ScheduleOutcome(outcome string)                         {}
func (n *NoopSink) MarkersCleaned(count int)                               {}
func (n *NoopSink) SendCompleted(duration time.Duration, err error)        {}
func (n *NoopSink) CacheSyncCompleted(count int, err error)                {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                      {}

var _ Sink = (*NoopSink)(nil)
