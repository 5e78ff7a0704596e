package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

const jobColumns = `
	job_id, COALESCE(external_id, ''), company_code, title,
	COALESCE(required_skills, '{}'), COALESCE(preferred_skills, '{}'),
	COALESCE(category_code, 0), COALESCE(prefecture_code, ''),
	COALESCE(city_code, ''), COALESCE(station_name, ''), COALESCE(address, ''),
	COALESCE(salary_type, 'hourly'), COALESCE(min_salary, 0), COALESCE(max_salary, 0),
	COALESCE(fee, 0), COALESCE(features, 0), COALESCE(employment_type, ''),
	posted_at, created_at`

func scanJob(rows *sql.Rows) (domain.Job, error) {
	var j domain.Job
	var required, preferred pq.StringArray
	err := rows.Scan(
		&j.JobID, &j.ExternalID, &j.CompanyCode, &j.Title,
		&required, &preferred,
		&j.CategoryCode, &j.PrefectureCode,
		&j.CityCode, &j.StationName, &j.Address,
		&j.SalaryType, &j.MinSalary, &j.MaxSalary,
		&j.Fee, &j.Features, &j.Employment,
		&j.PostedAt, &j.CreatedAt,
	)
	j.RequiredSkills = []string(required)
	j.PreferredSkills = []string(preferred)
	return j, err
}

// LoadJobsSince loads every job posted at or after t, ordered by job_id.
// This is the candidate universe for one run (~100k rows), bulk-loaded
// once and scored in memory.
func (s *Store) LoadJobsSince(ctx context.Context, t time.Time) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.withRetry(ctx, "load_jobs_since", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE posted_at >= $1
			ORDER BY job_id
		`, t)
		if err != nil {
			return err
		}
		defer rows.Close()

		jobs = jobs[:0]
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	return jobs, err
}

// LoadJobsBulk loads specific jobs by id.
func (s *Store) LoadJobsBulk(ctx context.Context, ids []int64) (map[int64]domain.Job, error) {
	out := make(map[int64]domain.Job, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := s.withRetry(ctx, "load_jobs_bulk", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE job_id = ANY($1)
		`, pq.Array(ids))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out[j.JobID] = j
		}
		return rows.Err()
	})
	return out, err
}

// UpsertJobs writes imported job rows, keyed by external_id. Each chunk
// is one transaction; the IMPORT phase calls this with already-deduped
// rows (last occurrence wins upstream).
func (s *Store) UpsertJobs(ctx context.Context, jobs []domain.Job) (int, error) {
	written := 0
	err := s.chunk(len(jobs), func(lo, hi int) error {
		batch := jobs[lo:hi]
		return s.withRetry(ctx, "upsert_jobs", func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()

			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO jobs (
					external_id, company_code, title,
					required_skills, preferred_skills,
					category_code, prefecture_code, city_code,
					station_name, address, salary_type,
					min_salary, max_salary, fee, features,
					employment_type, posted_at, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW())
				ON CONFLICT (external_id) DO UPDATE SET
					company_code = EXCLUDED.company_code,
					title = EXCLUDED.title,
					required_skills = EXCLUDED.required_skills,
					preferred_skills = EXCLUDED.preferred_skills,
					category_code = EXCLUDED.category_code,
					prefecture_code = EXCLUDED.prefecture_code,
					city_code = EXCLUDED.city_code,
					station_name = EXCLUDED.station_name,
					address = EXCLUDED.address,
					salary_type = EXCLUDED.salary_type,
					min_salary = EXCLUDED.min_salary,
					max_salary = EXCLUDED.max_salary,
					fee = EXCLUDED.fee,
					features = EXCLUDED.features,
					employment_type = EXCLUDED.employment_type,
					posted_at = EXCLUDED.posted_at
			`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, j := range batch {
				if _, err := stmt.ExecContext(ctx,
					j.ExternalID, j.CompanyCode, j.Title,
					pq.Array(j.RequiredSkills), pq.Array(j.PreferredSkills),
					j.CategoryCode, j.PrefectureCode, j.CityCode,
					j.StationName, j.Address, j.SalaryType,
					j.MinSalary, j.MaxSalary, j.Fee, j.Features,
					j.Employment, j.PostedAt,
				); err != nil {
					return fmt.Errorf("upsert job %s: %w", j.ExternalID, err)
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
