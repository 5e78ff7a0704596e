package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// LoadActiveUsers streams active, email-enabled users ordered by user_id,
// starting strictly after afterID. Batches are stable: the same query
// with the same frontier returns the same rows, which is what checkpoint
// resume depends on.
func (s *Store) LoadActiveUsers(ctx context.Context, afterID int64, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	var users []domain.User
	err := s.withRetry(ctx, "load_active_users", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_id, email,
			       COALESCE(prefecture_code, ''), COALESCE(city_code, ''),
			       COALESCE(age_group, ''), COALESCE(gender, ''),
			       COALESCE(preferred_categories, '{}'),
			       COALESCE(preferred_salary_min, 0),
			       COALESCE(preferred_work_styles, '{}'),
			       COALESCE(experience_level, 0)
			FROM users
			WHERE is_active = true AND email_enabled = true AND user_id > $1
			ORDER BY user_id
			LIMIT $2
		`, afterID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		users = users[:0]
		for rows.Next() {
			u := domain.User{EmailEnabled: true, IsActive: true}
			var cats pq.Int64Array
			var styles pq.StringArray
			if err := rows.Scan(
				&u.UserID, &u.Email,
				&u.PrefectureCode, &u.CityCode,
				&u.AgeGroup, &u.Gender,
				&cats, &u.PreferredSalaryMin, &styles,
				&u.ExperienceLevel,
			); err != nil {
				return err
			}
			u.PreferredCategories = make([]int, len(cats))
			for i, c := range cats {
				u.PreferredCategories[i] = int(c)
			}
			u.PreferredWorkStyles = []string(styles)
			users = append(users, u)
		}
		return rows.Err()
	})
	return users, err
}

// CountActiveUsers returns the total number of users the matching phase
// will visit, for failure-rate accounting.
func (s *Store) CountActiveUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "count_active_users", func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM users WHERE is_active = true AND email_enabled = true
		`).Scan(&n)
	})
	return n, err
}

// LoadUserProfiles bulk-loads derived profiles for the given users.
// Missing profiles are simply absent from the map; scoring treats that
// as "no hint".
func (s *Store) LoadUserProfiles(ctx context.Context, userIDs []int64) (map[int64]*domain.UserProfile, error) {
	out := make(map[int64]*domain.UserProfile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	err := s.withRetry(ctx, "load_user_profiles", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_id, applications, clicks, views,
			       COALESCE(avg_salary, 0), last_active,
			       COALESCE(latent_factors, '{}'),
			       COALESCE(preference_scores, '{}'),
			       COALESCE(category_interest, '{}'), updated_at
			FROM user_profiles
			WHERE user_id = ANY($1)
		`, pq.Array(userIDs))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			p := &domain.UserProfile{}
			var latent pq.Float64Array
			var lastActive sql.NullTime
			var prefs, interest []byte
			if err := rows.Scan(
				&p.UserID, &p.Applications, &p.Clicks, &p.Views,
				&p.AvgSalary, &lastActive, &latent,
				&prefs, &interest, &p.UpdatedAt,
			); err != nil {
				return err
			}
			if lastActive.Valid {
				t := lastActive.Time
				p.LastActive = &t
			}
			p.LatentFactors = []float64(latent)
			if err := json.Unmarshal(prefs, &p.PreferenceScores); err != nil {
				return fmt.Errorf("user %d preference_scores: %w", p.UserID, err)
			}
			if err := json.Unmarshal(interest, &p.CategoryInterest); err != nil {
				return fmt.Errorf("user %d category_interest: %w", p.UserID, err)
			}
			out[p.UserID] = p
		}
		return rows.Err()
	})
	return out, err
}

// LoadUserHistory bulk-loads the 90-day application history for a set of
// users in one query. Rows with NULL applied_at are skipped (counted by
// the caller as validation warnings).
func (s *Store) LoadUserHistory(ctx context.Context, userIDs []int64) (map[int64][]domain.Application, error) {
	out := make(map[int64][]domain.Application, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	since := time.Now().AddDate(0, 0, -90)
	err := s.withRetry(ctx, "load_user_history", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_id, company_code,
			       COALESCE(category_code, 0), COALESCE(prefecture_code, ''),
			       COALESCE(salary, 0), applied_at
			FROM applications
			WHERE user_id = ANY($1) AND applied_at >= $2
			ORDER BY user_id, applied_at DESC
		`, pq.Array(userIDs), since)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var a domain.Application
			var appliedAt sql.NullTime
			if err := rows.Scan(
				&a.UserID, &a.CompanyCode,
				&a.CategoryCode, &a.PrefectureCode,
				&a.Salary, &appliedAt,
			); err != nil {
				return err
			}
			if !appliedAt.Valid {
				continue
			}
			a.AppliedAt = appliedAt.Time
			out[a.UserID] = append(out[a.UserID], a)
		}
		return rows.Err()
	})
	return out, err
}

// LoadClickEvents bulk-loads the last 30 days of click events for a set
// of users, feeding the click-pattern score component.
func (s *Store) LoadClickEvents(ctx context.Context, userIDs []int64) (map[int64][]domain.ClickEvent, error) {
	out := make(map[int64][]domain.ClickEvent, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	since := time.Now().AddDate(0, 0, -30)
	err := s.withRetry(ctx, "load_click_events", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_id, COALESCE(category_code, 0), COALESCE(features, 0), clicked_at
			FROM click_events
			WHERE user_id = ANY($1) AND clicked_at >= $2
		`, pq.Array(userIDs), since)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var e domain.ClickEvent
			if err := rows.Scan(&e.UserID, &e.CategoryCode, &e.Features, &e.ClickedAt); err != nil {
				return err
			}
			out[e.UserID] = append(out[e.UserID], e)
		}
		return rows.Err()
	})
	return out, err
}

// LoadCompanyPopularity bulk-loads hourly popularity rollups for a set
// of company codes.
func (s *Store) LoadCompanyPopularity(ctx context.Context, codes []string) (map[string]domain.CompanyPopularity, error) {
	out := make(map[string]domain.CompanyPopularity, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	err := s.withRetry(ctx, "load_company_popularity", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT company_code, application_rate, applications_7d, popularity_score
			FROM company_popularity
			WHERE company_code = ANY($1)
		`, pq.Array(codes))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p domain.CompanyPopularity
			if err := rows.Scan(&p.CompanyCode, &p.ApplicationRate, &p.Applications7d, &p.PopularityScore); err != nil {
				return err
			}
			out[p.CompanyCode] = p
		}
		return rows.Err()
	})
	return out, err
}

// LoadPrefectureAdjacency preloads the full adjacency table for the
// static cache. One query at startup.
func (s *Store) LoadPrefectureAdjacency(ctx context.Context) (map[string][]string, error) {
	out := make(map[string][]string)
	err := s.withRetry(ctx, "load_prefecture_adjacency", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT pref_code, adjacent_prefectures FROM prefecture_adjacency
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var code string
			var adjacent pq.StringArray
			if err := rows.Scan(&code, &adjacent); err != nil {
				return err
			}
			out[code] = []string(adjacent)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("prefecture_adjacency is empty")
	}
	return out, nil
}

// LoadOccupationHierarchy preloads category -> major category for the
// static cache.
func (s *Store) LoadOccupationHierarchy(ctx context.Context) (map[int]int, error) {
	out := make(map[int]int)
	err := s.withRetry(ctx, "load_occupation_hierarchy", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT code, major_category_code FROM occupation_master
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var code, major int
			if err := rows.Scan(&code, &major); err != nil {
				return err
			}
			out[code] = major
		}
		return rows.Err()
	})
	return out, err
}
