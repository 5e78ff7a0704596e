package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// CreateBatchRun inserts a new run row in PENDING state.
func (s *Store) CreateBatchRun(ctx context.Context, run *domain.BatchRun) error {
	return s.withRetry(ctx, "create_batch_run", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO batch_executions (batch_id, correlation_id, status, started_at, processed, errors)
			VALUES ($1, $2, $3, $4, 0, 0)
		`, run.BatchID, run.CorrelationID, run.Status, run.StartedAt)
		return err
	})
}

// UpdateBatchRun persists status, counters, timings and the error
// summary for a run.
func (s *Store) UpdateBatchRun(ctx context.Context, run *domain.BatchRun) error {
	phaseTimes, err := json.Marshal(run.PhaseTimes)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(run.ErrorSummary)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "update_batch_run", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE batch_executions
			SET status = $2, ended_at = $3, processed = $4, errors = $5,
			    phase_times = $6, error_summary = $7
			WHERE batch_id = $1
		`, run.BatchID, run.Status, run.EndedAt, run.Processed, run.Errors,
			phaseTimes, summary)
		return err
	})
}

// GetBatchRun loads one run by id.
func (s *Store) GetBatchRun(ctx context.Context, batchID string) (*domain.BatchRun, error) {
	run := &domain.BatchRun{}
	err := s.withRetry(ctx, "get_batch_run", func() error {
		var endedAt sql.NullTime
		var phaseTimes, summary []byte
		err := s.db.QueryRowContext(ctx, `
			SELECT batch_id, correlation_id, status, started_at, ended_at,
			       processed, errors,
			       COALESCE(phase_times, '{}'), COALESCE(error_summary, '{}')
			FROM batch_executions
			WHERE batch_id = $1
		`, batchID).Scan(
			&run.BatchID, &run.CorrelationID, &run.Status, &run.StartedAt, &endedAt,
			&run.Processed, &run.Errors, &phaseTimes, &summary,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if endedAt.Valid {
			t := endedAt.Time
			run.EndedAt = &t
		}
		json.Unmarshal(phaseTimes, &run.PhaseTimes)
		json.Unmarshal(summary, &run.ErrorSummary)
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	return run, err
}

// ListBatchRuns returns recent runs, optionally filtered by status.
func (s *Store) ListBatchRuns(ctx context.Context, status domain.BatchStatus, limit int) ([]domain.BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []domain.BatchRun
	err := s.withRetry(ctx, "list_batch_runs", func() error {
		query := `
			SELECT batch_id, correlation_id, status, started_at, ended_at, processed, errors
			FROM batch_executions`
		args := []interface{}{}
		if status != "" {
			query += ` WHERE status = $1`
			args = append(args, status)
		}
		query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, limit)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		runs = runs[:0]
		for rows.Next() {
			var run domain.BatchRun
			var endedAt sql.NullTime
			if err := rows.Scan(
				&run.BatchID, &run.CorrelationID, &run.Status,
				&run.StartedAt, &endedAt, &run.Processed, &run.Errors,
			); err != nil {
				return err
			}
			if endedAt.Valid {
				t := endedAt.Time
				run.EndedAt = &t
			}
			runs = append(runs, run)
		}
		return rows.Err()
	})
	return runs, err
}

// MarkBatchCancelled flips a non-terminal run to CANCELLED.
func (s *Store) MarkBatchCancelled(ctx context.Context, batchID string) (bool, error) {
	var updated bool
	err := s.withRetry(ctx, "mark_batch_cancelled", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE batch_executions
			SET status = $2, ended_at = NOW()
			WHERE batch_id = $1 AND status IN ($3, $4)
		`, batchID, domain.BatchCancelled, domain.BatchPending, domain.BatchRunning)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		updated = n > 0
		return nil
	})
	return updated, err
}

// WriteAlert persists one outbound alert record.
func (s *Store) WriteAlert(ctx context.Context, a domain.Alert) error {
	return s.withRetry(ctx, "write_alert", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO alerts (batch_id, severity, message, created_at)
			VALUES ($1, $2, $3, $4)
		`, a.BatchID, a.Severity, a.Message, a.Timestamp)
		return err
	})
}

// PruneJobHistory deletes run history older than the retention window.
// Called by the CLEANUP phase; errors there are logged, never fatal.
func (s *Store) PruneJobHistory(ctx context.Context, retentionDays int) (int64, error) {
	var pruned int64
	err := s.withRetry(ctx, "prune_job_history", func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM batch_executions
			WHERE started_at < $1 AND status IN ($2, $3, $4)
		`, time.Now().AddDate(0, 0, -retentionDays),
			domain.BatchCompleted, domain.BatchFailed, domain.BatchCancelled)
		if err != nil {
			return err
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	return pruned, err
}
