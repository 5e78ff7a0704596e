package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// WriteScoresBulk upserts match scores keyed (batch_id, user_id, job_id).
// Re-running a user after checkpoint recovery therefore never duplicates
// rows. Each chunk is one transaction using COPY into a staging table,
// then a single upsert, which is the cheapest path at ~40 rows x 10k
// users per run.
func (s *Store) WriteScoresBulk(ctx context.Context, batchID string, scores []domain.MatchScore) (int, error) {
	written := 0
	err := s.chunk(len(scores), func(lo, hi int) error {
		batch := scores[lo:hi]
		return s.withRetry(ctx, "write_scores_bulk", func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()

			if _, err := tx.ExecContext(ctx, `
				CREATE TEMP TABLE IF NOT EXISTS _match_scores_stage (
					LIKE match_scores INCLUDING DEFAULTS
				) ON COMMIT DELETE ROWS
			`); err != nil {
				return err
			}

			stmt, err := tx.PrepareContext(ctx, pq.CopyIn("_match_scores_stage",
				"batch_id", "user_id", "job_id",
				"base_score", "seo_score", "personal_score", "composite",
			))
			if err != nil {
				return err
			}
			for _, sc := range batch {
				if _, err := stmt.ExecContext(ctx,
					batchID, sc.UserID, sc.JobID,
					sc.Base, sc.SEO, sc.Personal, sc.Composite,
				); err != nil {
					stmt.Close()
					return err
				}
			}
			if _, err := stmt.ExecContext(ctx); err != nil { // flush
				stmt.Close()
				return err
			}
			if err := stmt.Close(); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO match_scores (batch_id, user_id, job_id, base_score, seo_score, personal_score, composite)
				SELECT batch_id, user_id, job_id, base_score, seo_score, personal_score, composite
				FROM _match_scores_stage
				ON CONFLICT (batch_id, user_id, job_id) DO UPDATE SET
					base_score = EXCLUDED.base_score,
					seo_score = EXCLUDED.seo_score,
					personal_score = EXCLUDED.personal_score,
					composite = EXCLUDED.composite
			`); err != nil {
				return err
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

// CountScores returns the number of persisted score rows for one run,
// used by recovery verification and tests.
func (s *Store) CountScores(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "count_scores", func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM match_scores WHERE batch_id = $1
		`, batchID).Scan(&n)
	})
	return n, err
}
