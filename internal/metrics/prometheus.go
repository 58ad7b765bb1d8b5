package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Orchestrator metrics
	ticksTotal      prometheus.Counter
	ticksInFlight   prometheus.Gauge
	tickDuration    prometheus.Histogram
	remindersSent   prometheus.Counter
	tickErrorsTotal prometheus.Counter
	cacheReadsTotal *prometheus.CounterVec
	outcomesTotal   *prometheus.CounterVec
	markersCleaned  prometheus.Counter

	// Dispatch metrics
	sendsTotal   *prometheus.CounterVec
	sendDuration prometheus.Histogram

	// Cache metrics
	syncsTotal    *prometheus.CounterVec
	cachedEntries prometheus.Gauge

	// Leader election metrics
	leaderStatus prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initOrchestratorMetrics(reg)
	s.initDispatchMetrics(reg)
	s.initCacheMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initOrchestratorMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remindd_ticks_total",
		Help: "Total number of orchestrator ticks processed.",
	})
	s.ticksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remindd_ticks_in_flight",
		Help: "Number of orchestrator ticks currently running.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "remindd_tick_duration_seconds",
		Help:    "Duration of each orchestrator tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.remindersSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remindd_reminders_sent_total",
		Help: "Total number of reminders dispatched successfully.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remindd_tick_errors_total",
		Help: "Total number of per-schedule errors across all ticks.",
	})
	s.cacheReadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remindd_cache_reads_total",
		Help: "Snapshot reads by the orchestrator, labelled hit or miss.",
	}, []string{"result"})
	s.outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remindd_schedule_outcomes_total",
		Help: "Per-schedule tick outcomes.",
	}, []string{"outcome"})
	s.markersCleaned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remindd_markers_cleaned_total",
		Help: "Total number of sent markers removed by cleanup.",
	})

	s.register(reg, s.ticksTotal, "remindd_ticks_total")
	s.register(reg, s.ticksInFlight, "remindd_ticks_in_flight")
	s.register(reg, s.tickDuration, "remindd_tick_duration_seconds")
	s.register(reg, s.remindersSent, "remindd_reminders_sent_total")
	s.register(reg, s.tickErrorsTotal, "remindd_tick_errors_total")
	s.register(reg, s.cacheReadsTotal, "remindd_cache_reads_total")
	s.register(reg, s.outcomesTotal, "remindd_schedule_outcomes_total")
	s.register(reg, s.markersCleaned, "remindd_markers_cleaned_total")
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.sendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remindd_sends_total",
		Help: "Total number of notifier sends by result.",
	}, []string{"result"})
	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "remindd_send_duration_seconds",
		Help:    "Notifier send latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.sendsTotal, "remindd_sends_total")
	s.register(reg, s.sendDuration, "remindd_send_duration_seconds")
}

func (s *PrometheusSink) initCacheMetrics(reg prometheus.Registerer) {
	s.syncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remindd_cache_syncs_total",
		Help: "Total number of snapshot syncs by result.",
	}, []string{"result"})
	s.cachedEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remindd_cache_entries",
		Help: "Number of schedules in the last synced snapshot.",
	})

	s.register(reg, s.syncsTotal, "remindd_cache_syncs_total")
	s.register(reg, s.cachedEntries, "remindd_cache_entries")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remindd_leader_status",
		Help: "1 when this instance holds the periodic duty lock, else 0.",
	})

	s.register(reg, s.leaderStatus, "remindd_leader_status")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("metrics registration failed")
	}
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
	s.ticksInFlight.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, sent, errors int) {
	s.ticksInFlight.Dec()
	s.tickDuration.Observe(duration.Seconds())
	s.remindersSent.Add(float64(sent))
	s.tickErrorsTotal.Add(float64(errors))
}

func (s *PrometheusSink) CacheRead(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	s.cacheReadsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) ScheduleOutcome(outcome string) {
	s.outcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) MarkersCleaned(count int) {
	s.markersCleaned.Add(float64(count))
}

func (s *PrometheusSink) SendCompleted(duration time.Duration, err error) {
	s.sendDuration.Observe(duration.Seconds())
	s.sendsTotal.WithLabelValues(ClassifySend(err)).Inc()
}

func (s *PrometheusSink) CacheSyncCompleted(count int, err error) {
	if err != nil {
		s.syncsTotal.WithLabelValues("error").Inc()
		return
	}
	s.syncsTotal.WithLabelValues("ok").Inc()
	s.cachedEntries.Set(float64(count))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

var _ Sink = (*PrometheusSink)(nil)
