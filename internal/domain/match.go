package domain

import (
	"time"
)

// SectionKind identifies one of the six editorial sections of a slate.
type SectionKind string

const (
	SectionEditorialPicks     SectionKind = "EDITORIAL_PICKS"
	SectionHighSalary         SectionKind = "HIGH_SALARY"
	SectionExperienceMatch    SectionKind = "EXPERIENCE_MATCH"
	SectionLocationConvenient SectionKind = "LOCATION_CONVENIENT"
	SectionWeekendShort       SectionKind = "WEEKEND_SHORT"
	SectionOther              SectionKind = "OTHER"
)

// SectionOrder lists the sections in priority order (1..6).
var SectionOrder = []SectionKind{
	SectionEditorialPicks,
	SectionHighSalary,
	SectionExperienceMatch,
	SectionLocationConvenient,
	SectionWeekendShort,
	SectionOther,
}

// MatchScore is the authoritative composite score for one (user, job)
// pair. All component values are clamped to [0,100].
type MatchScore struct {
	UserID     int64              `json:"user_id" db:"user_id"`
	JobID      int64              `json:"job_id" db:"job_id"`
	Base       float64            `json:"base" db:"base_score"`
	SEO        float64            `json:"seo" db:"seo_score"`
	Personal   float64            `json:"personal" db:"personal_score"`
	Composite  float64            `json:"composite" db:"composite"`
	Components map[string]float64 `json:"components,omitempty" db:"-"`
	Bonuses    map[string]float64 `json:"bonuses,omitempty" db:"-"`
	Penalties  map[string]float64 `json:"penalties,omitempty" db:"-"`
}

// ScoredJob pairs a job with its score inside a slate section.
type ScoredJob struct {
	Job         *Job    `json:"job"`
	Score       float64 `json:"score"`
	LocationSub float64 `json:"location_subscore"`
	IsFallback  bool    `json:"is_fallback"`
	Category    string  `json:"category"`
}

// SectionSlate is the six-section, up-to-40-item shortlist for one user.
type SectionSlate struct {
	UserID      int64                       `json:"user_id"`
	Sections    map[SectionKind][]ScoredJob `json:"sections"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// Size returns the total item count across all sections.
func (s *SectionSlate) Size() int {
	n := 0
	for _, items := range s.Sections {
		n += len(items)
	}
	return n
}

// FallbackCount returns how many items are supplementer fallbacks.
func (s *SectionSlate) FallbackCount() int {
	n := 0
	for _, items := range s.Sections {
		for _, it := range items {
			if it.IsFallback {
				n++
			}
		}
	}
	return n
}

// JobIDs returns every job id in the slate in section priority order.
func (s *SectionSlate) JobIDs() []int64 {
	ids := make([]int64, 0, s.Size())
	for _, kind := range SectionOrder {
		for _, it := range s.Sections[kind] {
			ids = append(ids, it.Job.JobID)
		}
	}
	return ids
}
