// Package leaderelection gates tick duties behind a Postgres advisory lock.
//
// A single session-scoped advisory lock determines which instance runs the
// tick loop and cache refresher. The lock is held for the lifetime of a
// dedicated database connection; there is no renewal or TTL. If the
// connection dies, Postgres releases the lock server-side (timing depends
// on TCP keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so a
// demoted instance stops its duties promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// All instances sharing a database contend on this fixed key.
const advisoryLockKey int64 = 724803

// MetricsSink records leadership transitions. Implementations must not block.
type MetricsSink interface {
	LeaderStatusChanged(leading bool)
}

// Elector manages leader election using a Postgres advisory lock.
type Elector struct {
	db                *sql.DB
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to ping the dedicated connection
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink
	logger            zerolog.Logger
}

// New creates an Elector.
//
// onElected is called in a new goroutine when this instance acquires the
// lock; the context it receives is cancelled when leadership is lost. It
// should start leader duties and return quickly.
//
// onDemoted is called synchronously when leadership ends. It should stop
// leader duties, block until they are fully stopped, and be idempotent.
func New(
	db *sql.DB,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
	logger zerolog.Logger,
) *Elector {
	return &Elector{
		db:                db,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
		logger:            logger,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info().
		Int64("lock_key", advisoryLockKey).
		Dur("retry", e.retryInterval).
		Dur("heartbeat", e.heartbeatInterval).
		Msg("election loop started")

	for {
		if ctx.Err() != nil {
			e.logger.Info().Msg("election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			e.logger.Info().Msg("election loop stopped")
			return
		}

		if reason != "" {
			e.logger.Warn().Str("reason", reason).Dur("retry_in", e.retryInterval).Msg("leadership lost")
		}

		select {
		case <-ctx.Done():
			e.logger.Info().Msg("election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it. Returns the
// reason leadership ended ("" if the lock was never acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	// Advisory locks are session-scoped: must use a dedicated connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("could not open dedicated connection")
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&acquired)
	if err != nil {
		e.logger.Error().Err(err).Msg("advisory lock query failed")
		return ""
	}
	if !acquired {
		e.logger.Debug().Msg("lock held by another instance")
		return ""
	}

	e.logger.Info().Msg("acquired leadership")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
	}

	e.logger.Info().Msg("released leadership")
	return reason
}

// holdLock blocks while pinging the dedicated connection. Returns the
// reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				e.logger.Error().Err(err).Msg("dedicated connection ping failed")
				return "conn_lost"
			}
		}
	}
}
