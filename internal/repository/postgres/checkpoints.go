package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// WriteCheckpoint upserts the restart frontier for (batch_id, phase).
// Writes are monotonic: the caller only advances the frontier, so a
// plain upsert preserves ordering.
func (s *Store) WriteCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	return s.withRetry(ctx, "write_checkpoint", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO checkpoints (batch_id, phase, at, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (batch_id, phase) DO UPDATE SET
				at = EXCLUDED.at,
				payload = EXCLUDED.payload
		`, cp.BatchID, cp.Phase, cp.At, cp.Payload)
		return err
	})
}

// ReadCheckpoint returns the latest checkpoint for (batch_id, phase),
// or domain.ErrNotFound when the phase has never checkpointed.
func (s *Store) ReadCheckpoint(ctx context.Context, batchID string, phase domain.Phase) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.withRetry(ctx, "read_checkpoint", func() error {
		err := s.db.QueryRowContext(ctx, `
			SELECT batch_id, phase, at, payload
			FROM checkpoints
			WHERE batch_id = $1 AND phase = $2
		`, batchID, phase).Scan(&cp.BatchID, &cp.Phase, &cp.At, &cp.Payload)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return cp, domain.ErrNotFound
	}
	return cp, err
}

// DeleteCheckpoints clears the checkpoints of a finished run.
func (s *Store) DeleteCheckpoints(ctx context.Context, batchID string) error {
	return s.withRetry(ctx, "delete_checkpoints", func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM checkpoints WHERE batch_id = $1
		`, batchID)
		return err
	})
}
