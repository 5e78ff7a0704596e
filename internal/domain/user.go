package domain

import (
	"time"
)

// AgeGroup buckets a user's age for scoring and template copy.
type AgeGroup string

const (
	Age10s      AgeGroup = "10s"
	Age20sEarly AgeGroup = "20s-early"
	Age20sLate  AgeGroup = "20s-late"
	Age30s      AgeGroup = "30s"
	Age40s      AgeGroup = "40s"
	Age50sPlus  AgeGroup = "50s+"
)

// IsStudentBand reports whether the age group is one we treat as a
// student demographic for the student-friendly bonus.
func (a AgeGroup) IsStudentBand() bool {
	return a == Age10s || a == Age20sEarly
}

// User is one active recipient of the nightly digest.
type User struct {
	UserID              int64    `json:"user_id" db:"user_id"`
	Email               string   `json:"email" db:"email"`
	PrefectureCode      string   `json:"prefecture_code" db:"prefecture_code"`
	CityCode            string   `json:"city_code" db:"city_code"`
	AgeGroup            AgeGroup `json:"age_group" db:"age_group"`
	Gender              string   `json:"gender" db:"gender"`
	PreferredCategories []int    `json:"preferred_categories" db:"preferred_categories"`
	PreferredSalaryMin  int      `json:"preferred_salary_min" db:"preferred_salary_min"`
	PreferredWorkStyles []string `json:"preferred_work_styles" db:"preferred_work_styles"`
	ExperienceLevel     int      `json:"experience_level" db:"experience_level"`
	EmailEnabled        bool     `json:"email_enabled" db:"email_enabled"`
	IsActive            bool     `json:"is_active" db:"is_active"`
}

// PrefersCategory reports whether code is in the user's preferred set.
func (u *User) PrefersCategory(code int) bool {
	for _, c := range u.PreferredCategories {
		if c == code {
			return true
		}
	}
	return false
}

// UserProfile is the derived behavioral profile. It is a hint: absence
// must never fail scoring.
type UserProfile struct {
	UserID           int64              `json:"user_id" db:"user_id"`
	Applications     int                `json:"applications" db:"applications"`
	Clicks           int                `json:"clicks" db:"clicks"`
	Views            int                `json:"views" db:"views"`
	AvgSalary        int                `json:"avg_salary" db:"avg_salary"`
	LastActive       *time.Time         `json:"last_active" db:"last_active"`
	PreferenceScores map[string]float64 `json:"preference_scores" db:"preference_scores"`
	CategoryInterest map[int]float64    `json:"category_interest" db:"category_interest"`
	LatentFactors    []float64          `json:"latent_factors" db:"latent_factors"`
	UpdatedAt        time.Time          `json:"updated_at" db:"updated_at"`
}

// PreferenceScore returns the named preference score, or 0 when the
// profile has no entry for it.
func (p *UserProfile) PreferenceScore(name string) float64 {
	if p == nil || p.PreferenceScores == nil {
		return 0
	}
	return p.PreferenceScores[name]
}

// Application is one historical application row, used by the
// deduplicator and the personal-score component.
type Application struct {
	UserID         int64     `json:"user_id" db:"user_id"`
	CompanyCode    string    `json:"company_code" db:"company_code"`
	CategoryCode   int       `json:"category_code" db:"category_code"`
	PrefectureCode string    `json:"prefecture_code" db:"prefecture_code"`
	Salary         int       `json:"salary" db:"salary"`
	AppliedAt      time.Time `json:"applied_at" db:"applied_at"`
}

// ClickEvent is one click row from the last 30 days, feeding the
// click-pattern component of the personal score.
type ClickEvent struct {
	UserID       int64     `json:"user_id" db:"user_id"`
	CategoryCode int       `json:"category_code" db:"category_code"`
	Features     uint16    `json:"features" db:"features"`
	ClickedAt    time.Time `json:"clicked_at" db:"clicked_at"`
}
