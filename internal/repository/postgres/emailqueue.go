package postgres

import (
	"context"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// WriteEmailQueue upserts queued email records keyed (batch_id, user_id),
// which makes the EMAIL_QUEUE phase idempotent: a retried phase rewrites
// the same rows instead of queueing a user twice.
func (s *Store) WriteEmailQueue(ctx context.Context, records []domain.EmailRecord) (int, error) {
	written := 0
	err := s.chunk(len(records), func(lo, hi int) error {
		batch := records[lo:hi]
		return s.withRetry(ctx, "write_email_queue", func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()

			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO email_queue (
					batch_id, user_id, email, subject,
					body_text, body_html, scheduled_for,
					status, correlation_id, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
				ON CONFLICT (batch_id, user_id) DO UPDATE SET
					email = EXCLUDED.email,
					subject = EXCLUDED.subject,
					body_text = EXCLUDED.body_text,
					body_html = EXCLUDED.body_html,
					scheduled_for = EXCLUDED.scheduled_for,
					status = EXCLUDED.status,
					correlation_id = EXCLUDED.correlation_id
			`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, r := range batch {
				if _, err := stmt.ExecContext(ctx,
					r.BatchID, r.UserID, r.Email, r.Subject,
					r.BodyText, r.BodyHTML, r.ScheduledFor,
					r.Status, r.CorrelationID,
				); err != nil {
					return err
				}
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			written += len(batch)
			return nil
		})
	})
	return written, err
}
