package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Syncer rebuilds the snapshot, returning the entry count.
type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

// RefreshConfig holds refresher configuration.
type RefreshConfig struct {
	// Interval is how often the snapshot is rebuilt.
	// Default: 5 minutes.
	Interval time.Duration
}

// DefaultRefreshConfig returns the default refresher configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{Interval: 5 * time.Minute}
}

// Refresher periodically rebuilds the snapshot so edits made directly in
// the source of truth eventually reach the dispatch pass even when no
// explicit sync request arrives. A failed cycle is logged and retried on
// the next interval.
type Refresher struct {
	config RefreshConfig
	syncer Syncer
	logger zerolog.Logger
}

// NewRefresher creates a new Refresher.
func NewRefresher(config RefreshConfig, syncer Syncer, logger zerolog.Logger) *Refresher {
	if config.Interval <= 0 {
		config.Interval = DefaultRefreshConfig().Interval
	}
	return &Refresher{
		config: config,
		syncer: syncer,
		logger: logger,
	}
}

// Run starts the refresh loop. It blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.config.Interval).Msg("snapshot refresher started")

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("snapshot refresher stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Refresher) runCycle(ctx context.Context) {
	count, err := r.syncer.Sync(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("snapshot refresh failed, will retry next interval")
		return
	}
	r.logger.Debug().Int("count", count).Msg("snapshot refreshed")
}
