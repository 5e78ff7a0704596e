package domain

import (
	"time"
)

// SalaryType enumerates how a job's pay is quoted.
type SalaryType string

const (
	SalaryHourly  SalaryType = "hourly"
	SalaryDaily   SalaryType = "daily"
	SalaryMonthly SalaryType = "monthly"
)

// Feature bits for job attributes. Packed into a single uint16 so the
// scoring inner loop can test them without map lookups.
const (
	FeatureDailyPayment uint16 = 1 << iota
	FeatureNoExperience
	FeatureStudentWelcome
	FeatureTransportation
	FeatureRemoteWork
	FeatureWeekendOK
	FeatureShortTime
)

// Job is one posted job. Immutable after import; CompanyCode is the
// deduplication identity.
type Job struct {
	JobID           int64      `json:"job_id" db:"job_id"`
	ExternalID      string     `json:"external_id" db:"external_id"`
	CompanyCode     string     `json:"company_code" db:"company_code"`
	Title           string     `json:"title" db:"title"`
	RequiredSkills  []string   `json:"required_skills" db:"required_skills"`
	PreferredSkills []string   `json:"preferred_skills" db:"preferred_skills"`
	CategoryCode    int        `json:"category_code" db:"category_code"`
	PrefectureCode  string     `json:"prefecture_code" db:"prefecture_code"`
	CityCode        string     `json:"city_code" db:"city_code"`
	StationName     string     `json:"station_name" db:"station_name"`
	Address         string     `json:"address" db:"address"`
	SalaryType      SalaryType `json:"salary_type" db:"salary_type"`
	MinSalary       int        `json:"min_salary" db:"min_salary"`
	MaxSalary       int        `json:"max_salary" db:"max_salary"`
	Fee             int        `json:"fee" db:"fee"`
	Features        uint16     `json:"features" db:"features"`
	Employment      string     `json:"employment_type" db:"employment_type"`
	PostedAt        time.Time  `json:"posted_at" db:"posted_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// HasFeature reports whether the job carries the given feature bit.
func (j *Job) HasFeature(bit uint16) bool { return j.Features&bit != 0 }

// HourlyEquivalent normalizes the job's minimum salary to an hourly rate.
// Daily pay is divided by 8, monthly by 160. Zero when no salary is set.
func (j *Job) HourlyEquivalent() float64 {
	s := j.MinSalary
	if s <= 0 {
		s = j.MaxSalary
	}
	if s <= 0 {
		return 0
	}
	switch j.SalaryType {
	case SalaryDaily:
		return float64(s) / 8
	case SalaryMonthly:
		return float64(s) / 160
	default:
		return float64(s)
	}
}

// CompanyPopularity is the hourly rollup of application activity for a
// company, served from the session cache during scoring.
type CompanyPopularity struct {
	CompanyCode     string  `json:"company_code" db:"company_code"`
	ApplicationRate float64 `json:"application_rate" db:"application_rate"`
	Applications7d  int     `json:"applications_7d" db:"applications_7d"`
	PopularityScore float64 `json:"popularity_score" db:"popularity_score"`
}
