// Package trigger runs the periodic tick loop on a cron schedule.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/helvetiche/remindd/internal/domain"
)

// TickRunner executes one dispatch pass.
type TickRunner interface {
	RunTick(ctx context.Context) domain.TickSummary
}

// Loop fires ticks at the instants a cron expression names. If a tick is
// still in flight when the next instant arrives, the new one is dropped
// rather than queued.
type Loop struct {
	engine *cron.Cron
	runner TickRunner
	spec   string
	logger zerolog.Logger

	mu sync.Mutex
}

// NewLoop compiles spec against loc and registers the tick job. The loop
// does not fire until Start is called.
func NewLoop(spec string, loc *time.Location, runner TickRunner, logger zerolog.Logger) (*Loop, error) {
	l := &Loop{
		engine: cron.New(cron.WithLocation(loc)),
		runner: runner,
		spec:   spec,
		logger: logger,
	}
	if _, err := l.engine.AddFunc(spec, l.fire); err != nil {
		return nil, fmt.Errorf("add tick job: %w", err)
	}
	return l, nil
}

// Start begins firing ticks in the background.
func (l *Loop) Start() {
	l.engine.Start()
	l.logger.Info().Str("cron", l.spec).Msg("tick loop started")
}

// Stop halts the schedule and waits for a running tick to finish.
func (l *Loop) Stop() {
	ctx := l.engine.Stop()
	<-ctx.Done()
	l.logger.Info().Msg("tick loop stopped")
}

func (l *Loop) fire() {
	if !l.mu.TryLock() {
		l.logger.Warn().Msg("previous tick still running, skipping this instant")
		return
	}
	defer l.mu.Unlock()

	l.runner.RunTick(context.Background())
}
