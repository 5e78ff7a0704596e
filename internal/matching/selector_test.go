package matching

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

// poolJob builds a job whose packed attributes admit it everywhere:
// fresh, well paid, near the user, weekend friendly.
func poolJob(id int64, company string, category int) domain.Job {
	return domain.Job{
		JobID:          id,
		CompanyCode:    company,
		Title:          fmt.Sprintf("Job %d", id),
		CategoryCode:   category,
		PrefectureCode: "13",
		SalaryType:     domain.SalaryHourly,
		MinSalary:      2000,
		Features:       domain.FeatureWeekendOK,
		PostedAt:       dedupNow.Add(-time.Hour),
	}
}

func candidatesFrom(p *scoring.PackedJobs, score func(i int) float64, loc float64) []Candidate {
	out := make([]Candidate, p.Len())
	for i := 0; i < p.Len(); i++ {
		out[i] = Candidate{
			Idx:      i,
			Row:      i,
			JobID:    p.JobID[i],
			Cat:      p.Category[i],
			Score:    score(i),
			Location: loc,
		}
	}
	return out
}

func selectorUser(cats ...int) *scoring.UserContext {
	u := &domain.User{
		UserID:              7,
		Email:               "u7@example.com",
		PrefectureCode:      "13",
		PreferredCategories: cats,
		PreferredSalaryMin:  1100,
		EmailEnabled:        true,
		IsActive:            true,
	}
	return scoring.NewUserContext(u, nil, nil, nil, recentApplicationWindow, dedupNow)
}

func TestSelectFillsSectionsInPriorityOrder(t *testing.T) {
	jobs := make([]domain.Job, 50)
	for i := range jobs {
		// Four preferred categories keep every category under the cap.
		jobs[i] = poolJob(int64(i+1), fmt.Sprintf("C%02d", i), 101+i%4)
	}
	p := packFor(t, jobs)
	uc := selectorUser(101, 102, 103, 104)

	pool := candidatesFrom(p, func(i int) float64 { return 95 - float64(i)*0.1 }, 100)
	sel := NewSelector(config.Default().Sections)

	slate, err := sel.Select(uc, p, pool, 1000, dedupNow)
	require.NoError(t, err)

	assert.Equal(t, 40, slate.Size())
	for kind, want := range sectionTargets {
		assert.Len(t, slate.Sections[kind], want, "section %s", kind)
	}

	// The highest scores land in the highest-priority section.
	for _, it := range slate.Sections[domain.SectionEditorialPicks] {
		assert.GreaterOrEqual(t, it.Score, 94.2)
	}
	assert.Zero(t, firstDuplicate(slate))
}

func TestSelectRespectsMinScoreFloors(t *testing.T) {
	jobs := []domain.Job{poolJob(1, "A", 101), poolJob(2, "B", 101)}
	p := packFor(t, jobs)
	uc := selectorUser(101)
	sel := NewSelector(config.Default().Sections)

	// 49 is below every floor including OTHER's.
	pool := candidatesFrom(p, func(i int) float64 { return 49 }, 100)
	slate, err := sel.Select(uc, p, pool, 1000, dedupNow)
	require.NoError(t, err)
	assert.Equal(t, 0, slate.Size())
}

func TestRebalancePullsFromLargestSection(t *testing.T) {
	// Two weekend-only candidates plus ten that only OTHER admits. Every
	// section below the minimum of three borrows from OTHER in priority
	// order: an empty section is just the extreme case of "below the
	// minimum", so EDITORIAL_PICKS pulls first and drains the donor down
	// to the minimum before anyone else gets a turn.
	jobs := make([]domain.Job, 12)
	for i := range jobs {
		jobs[i] = domain.Job{
			JobID:          int64(i + 1),
			CompanyCode:    fmt.Sprintf("C%02d", i),
			CategoryCode:   999,
			PrefectureCode: "47",
			SalaryType:     domain.SalaryHourly,
			MinSalary:      900,
			PostedAt:       dedupNow.Add(-100 * time.Hour),
		}
	}
	jobs[0].Features = domain.FeatureWeekendOK
	jobs[1].Features = domain.FeatureShortTime
	p := packFor(t, jobs)
	uc := selectorUser(101)
	sel := NewSelector(config.Default().Sections)

	pool := candidatesFrom(p, func(i int) float64 {
		if i < 2 {
			return 56
		}
		return 52
	}, 0)

	slate, err := sel.Select(uc, p, pool, 1000, dedupNow)
	require.NoError(t, err)
	assert.Len(t, slate.Sections[domain.SectionEditorialPicks], 3)
	assert.Len(t, slate.Sections[domain.SectionWeekendShort], 2, "no donor above the minimum remains")
	assert.Len(t, slate.Sections[domain.SectionOther], 3)
	assert.Zero(t, firstDuplicate(slate))
}

func TestCompanyCeilingDropsExcess(t *testing.T) {
	jobs := make([]domain.Job, 20)
	for i := range jobs {
		jobs[i] = poolJob(int64(i+1), "MEGA", 101+i%2)
	}
	p := packFor(t, jobs)
	uc := selectorUser(101, 102)
	sel := NewSelector(config.Default().Sections)

	pool := candidatesFrom(p, func(i int) float64 { return 90 - float64(i)*0.1 }, 100)
	slate, err := sel.Select(uc, p, pool, 1000, dedupNow)
	require.NoError(t, err)

	company := 0
	for _, kind := range domain.SectionOrder {
		for _, it := range slate.Sections[kind] {
			if it.Job.CompanyCode == "MEGA" {
				company++
			}
		}
	}
	assert.Equal(t, 15, company, "per-company ceiling")
	assert.Equal(t, 15, slate.Size())
}

func TestSupplementSynthesizesWhenPoolRunsDry(t *testing.T) {
	jobs := make([]domain.Job, 12)
	for i := range jobs {
		jobs[i] = poolJob(int64(i+1), fmt.Sprintf("C%02d", i), 101)
	}
	p := packFor(t, jobs)
	uc := selectorUser(101)
	sel := NewSelector(config.Default().Sections)

	pool := candidatesFrom(p, func(i int) float64 { return 90 - float64(i) }, 100)
	slate, err := sel.Select(uc, p, pool, 1000, dedupNow)
	require.NoError(t, err)
	require.Equal(t, 12, slate.Size())

	supp := NewSupplementer(config.Default().Sections.Total)
	added := supp.Fill(uc, p, slate, nil, dedupNow)

	assert.Equal(t, 28, added)
	assert.Equal(t, 40, slate.Size())
	synthetic := 0
	for _, it := range slate.Sections[domain.SectionOther] {
		if it.Job.JobID < 0 {
			synthetic++
			assert.True(t, it.IsFallback)
			assert.Equal(t, uc.User.PreferredSalaryMin, it.Job.MinSalary)
		}
	}
	assert.Equal(t, 28, synthetic)
	assert.Zero(t, firstDuplicate(slate))
}

func TestSupplementWidensBeforeSynthesizing(t *testing.T) {
	jobs := []domain.Job{
		poolJob(1, "A", 101),
		poolJob(2, "B", 101), // preferred category, picked by pass 1
		poolJob(3, "C", 999), // off-category, picked by pass 2
		poolJob(4, "D", 999),
	}
	p := packFor(t, jobs)
	uc := selectorUser(101)

	slate := &domain.SectionSlate{
		UserID:      uc.User.UserID,
		Sections:    map[domain.SectionKind][]domain.ScoredJob{},
		GeneratedAt: dedupNow,
	}
	slate.Sections[domain.SectionEditorialPicks] = []domain.ScoredJob{{
		Job: &p.Jobs[0], Score: 85, Category: "101",
	}}

	rest := []Candidate{
		{Idx: 2, JobID: p.JobID[2], Cat: p.Category[2], Score: 70},
		{Idx: 3, JobID: p.JobID[3], Cat: p.Category[3], Score: 68},
		{Idx: 1, JobID: p.JobID[1], Cat: p.Category[1], Score: 60},
	}

	supp := NewSupplementer(3)
	added := supp.Fill(uc, p, slate, rest, dedupNow)

	require.Equal(t, 2, added)
	other := slate.Sections[domain.SectionOther]
	require.Len(t, other, 2)
	// The preferred-category candidate wins the first slot even though
	// the off-category ones score higher.
	assert.Equal(t, int64(2), other[0].Job.JobID)
	assert.Equal(t, int64(3), other[1].Job.JobID)
	for _, it := range other {
		assert.True(t, it.IsFallback)
	}
}
