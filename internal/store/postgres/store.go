// Package postgres backs the schedule source of truth and the
// append-only tick audit log.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helvetiche/remindd/internal/cache"
	"github.com/helvetiche/remindd/internal/domain"
	"github.com/helvetiche/remindd/internal/orchestrator"
)

// Store implements cache.SourceStore and orchestrator.AuditLog using
// PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
// opTimeout bounds each single query; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// ListActive returns every active schedule definition. The recurrence
// and reminder columns hold the rule JSON verbatim; rule validation is
// the caller's concern.
func (s *Store) ListActive(ctx context.Context) ([]domain.ScheduleDefinition, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListActiveSchedules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ScheduleDefinition
	for rows.Next() {
		var def domain.ScheduleDefinition
		var status string
		var recurrenceRaw, reminderRaw []byte

		err := rows.Scan(
			&def.ID,
			&def.Title,
			&def.Description,
			&recurrenceRaw,
			&reminderRaw,
			&def.AssigneeName,
			&def.AssigneeAddress,
			&status,
			&def.CreatedAt,
			&def.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(recurrenceRaw, &def.Recurrence); err != nil {
			return nil, fmt.Errorf("schedule %s: decode recurrence: %w", def.ID, err)
		}
		// A NULL reminder column means the default relative rule.
		if len(reminderRaw) > 0 {
			if err := json.Unmarshal(reminderRaw, &def.Reminder); err != nil {
				return nil, fmt.Errorf("schedule %s: decode reminder: %w", def.ID, err)
			}
		}
		def.Status = domain.ScheduleStatus(status)
		result = append(result, def)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Append inserts one tick audit record.
func (s *Store) Append(ctx context.Context, entry domain.TickAudit) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertTickAudit,
		entry.ID,
		entry.At,
		entry.SincePrev.Milliseconds(),
		entry.Checked,
		entry.Sent,
		entry.Skipped,
		entry.Errors,
	)
	return err
}

// LastTickAt returns the timestamp of the most recent audit record,
// with false when the log is empty.
func (s *Store) LastTickAt(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var at time.Time
	err := s.db.QueryRowContext(ctx, queryLastTickAt).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// RecentTicks returns the newest audit records, newest first.
func (s *Store) RecentTicks(ctx context.Context, limit int) ([]domain.TickAudit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryRecentTicks, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TickAudit
	for rows.Next() {
		var entry domain.TickAudit
		var sincePrevMs int64

		err := rows.Scan(
			&entry.ID,
			&entry.At,
			&sincePrevMs,
			&entry.Checked,
			&entry.Sent,
			&entry.Skipped,
			&entry.Errors,
		)
		if err != nil {
			return nil, err
		}
		entry.SincePrev = time.Duration(sincePrevMs) * time.Millisecond
		result = append(result, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Compile-time interface assertions
var (
	_ cache.SourceStore     = (*Store)(nil)
	_ orchestrator.AuditLog = (*Store)(nil)
)
