package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmatch-batch/internal/cache"
	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

var testNow = time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)

func testCaches(t *testing.T) *cache.Caches {
	t.Helper()
	caches, err := cache.NewCaches()
	require.NoError(t, err)
	caches.Static.Warm(
		map[string][]string{
			"13": {"11", "12", "14"},
			"27": {"26", "28", "29"},
		},
		map[int]int{101: 1, 102: 1, 201: 2},
	)
	return caches
}

func testEngine(t *testing.T) (*Engine, *cache.Caches) {
	t.Helper()
	caches := testCaches(t)
	return NewEngine(config.Default().Scoring, caches), caches
}

func testJob(id int64, mutate func(*domain.Job)) domain.Job {
	j := domain.Job{
		JobID:          id,
		ExternalID:     "ext-1",
		CompanyCode:    "C1",
		Title:          "Warehouse staff",
		CategoryCode:   101,
		PrefectureCode: "13",
		CityCode:       "13101",
		StationName:    "Shinjuku",
		Address:        "1-2-3",
		SalaryType:     domain.SalaryHourly,
		MinSalary:      1100,
		Fee:            2500,
		PostedAt:       testNow.Add(-48 * time.Hour),
	}
	if mutate != nil {
		mutate(&j)
	}
	return j
}

func testUser(mutate func(*domain.User)) *domain.User {
	u := &domain.User{
		UserID:              42,
		Email:               "u42@example.com",
		PrefectureCode:      "13",
		AgeGroup:            domain.Age20sLate,
		PreferredCategories: []int{101},
		PreferredSalaryMin:  1000,
		EmailEnabled:        true,
		IsActive:            true,
	}
	if mutate != nil {
		mutate(u)
	}
	return u
}

func contextFor(user *domain.User, history []domain.Application, clicks []domain.ClickEvent) *UserContext {
	return NewUserContext(user, nil, history, clicks, 14*24*time.Hour, testNow)
}

func TestBaseScoreFeeMonotonic(t *testing.T) {
	e, caches := testEngine(t)

	jobs := []domain.Job{
		testJob(1, func(j *domain.Job) { j.Fee = 1000 }),
		testJob(2, func(j *domain.Job) { j.Fee = 4000 }),
	}
	p := Pack(jobs, caches.Static, testNow)
	uc := contextFor(testUser(nil), nil, nil)

	low := e.Explain(uc, p, 0)
	high := e.Explain(uc, p, 1)
	assert.GreaterOrEqual(t, high.Base, low.Base, "higher fee must not score lower")

	// The ordering survives small weight perturbations.
	for _, delta := range []float64{-0.01, 0.01} {
		cfg := config.Default().Scoring
		cfg.Weights.Base += delta
		cfg.Weights.SEO -= delta
		perturbed := NewEngine(cfg, caches)
		l := perturbed.Explain(uc, p, 0)
		h := perturbed.Explain(uc, p, 1)
		assert.GreaterOrEqual(t, h.Composite, l.Composite)
	}
}

func TestSalaryStepTable(t *testing.T) {
	tests := []struct {
		hourly float64
		want   float64
	}{
		{1600, 30},
		{1500, 30},
		{1499, 20},
		{1200, 20},
		{1199, 10},
		{1000, 10},
		{999, 5},
		{0, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, salaryStep(tt.hourly), "hourly=%v", tt.hourly)
	}
}

func TestHourlyEquivalentNormalization(t *testing.T) {
	daily := testJob(1, func(j *domain.Job) {
		j.SalaryType = domain.SalaryDaily
		j.MinSalary = 12000
	})
	monthly := testJob(2, func(j *domain.Job) {
		j.SalaryType = domain.SalaryMonthly
		j.MinSalary = 240000
	})
	assert.Equal(t, 1500.0, daily.HourlyEquivalent())
	assert.Equal(t, 1500.0, monthly.HourlyEquivalent())
}

func TestScoresStayInRange(t *testing.T) {
	e, caches := testEngine(t)

	jobs := []domain.Job{
		testJob(1, func(j *domain.Job) { j.Fee = 0; j.MinSalary = 0; j.StationName = ""; j.Address = "" }),
		testJob(2, func(j *domain.Job) { j.Fee = 100000; j.MinSalary = 5000 }),
		testJob(3, func(j *domain.Job) { j.PrefectureCode = "47"; j.CategoryCode = 999 }),
		testJob(4, func(j *domain.Job) { j.Features = domain.FeatureDailyPayment | domain.FeatureStudentWelcome }),
	}
	p := Pack(jobs, caches.Static, testNow)
	uc := contextFor(testUser(nil), nil, nil)

	for i := 0; i < p.Len(); i++ {
		ms := e.Explain(uc, p, i)
		assert.GreaterOrEqual(t, ms.Composite, 0.0)
		assert.LessOrEqual(t, ms.Composite, 100.0)
		for name, c := range ms.Components {
			assert.GreaterOrEqual(t, c, 0.0, "component %s", name)
			assert.LessOrEqual(t, c, 100.0, "component %s", name)
		}
	}
}

func TestScoringDeterminism(t *testing.T) {
	e, caches := testEngine(t)
	jobs := []domain.Job{testJob(1, nil), testJob(2, func(j *domain.Job) { j.CategoryCode = 201 })}
	p := Pack(jobs, caches.Static, testNow)
	uc := contextFor(testUser(nil),
		[]domain.Application{{CompanyCode: "C9", CategoryCode: 101, Salary: 1200, AppliedAt: testNow.Add(-30 * 24 * time.Hour)}},
		[]domain.ClickEvent{{CategoryCode: 101}})

	first := e.ScoreUser(uc, p, nil)
	second := e.ScoreUser(uc, p, nil)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i], "pair %d must be byte-identical on rescore", i)
	}
}

func TestRecentApplicationPenalty(t *testing.T) {
	e, caches := testEngine(t)
	jobs := []domain.Job{testJob(1, nil)}
	p := Pack(jobs, caches.Static, testNow)

	clean := contextFor(testUser(nil), nil, nil)
	applied := contextFor(testUser(nil), []domain.Application{{
		CompanyCode: "C1",
		AppliedAt:   testNow.Add(-3 * 24 * time.Hour),
	}}, nil)

	without := e.Explain(clean, p, 0)
	with := e.Explain(applied, p, 0)
	assert.Contains(t, with.Penalties, "recent_application")
	assert.Less(t, with.Composite, without.Composite)
}

func TestDistantPrefecturePenalty(t *testing.T) {
	e, caches := testEngine(t)
	jobs := []domain.Job{
		testJob(1, nil),                                              // same prefecture
		testJob(2, func(j *domain.Job) { j.PrefectureCode = "11" }),  // adjacent
		testJob(3, func(j *domain.Job) { j.PrefectureCode = "40" }),  // distant
	}
	p := Pack(jobs, caches.Static, testNow)
	uc := contextFor(testUser(nil), nil, nil)

	assert.NotContains(t, e.Explain(uc, p, 0).Penalties, "distant_prefecture")
	assert.NotContains(t, e.Explain(uc, p, 1).Penalties, "distant_prefecture")
	assert.Contains(t, e.Explain(uc, p, 2).Penalties, "distant_prefecture")
}

func TestPerfectCategoryBonus(t *testing.T) {
	e, caches := testEngine(t)
	jobs := []domain.Job{
		testJob(1, nil), // category 101, preferred, hierarchy known
		testJob(2, func(j *domain.Job) { j.CategoryCode = 201 }),
	}
	p := Pack(jobs, caches.Static, testNow)
	uc := contextFor(testUser(nil), nil, nil)

	assert.Contains(t, e.Explain(uc, p, 0).Bonuses, "perfect_category_match")
	assert.NotContains(t, e.Explain(uc, p, 1).Bonuses, "perfect_category_match")
}

func TestPopularCompanyBonus(t *testing.T) {
	e, caches := testEngine(t)
	jobs := []domain.Job{
		testJob(1, func(j *domain.Job) { j.CompanyCode = "HOT" }),
		testJob(2, func(j *domain.Job) { j.CompanyCode = "COLD" }),
		testJob(3, func(j *domain.Job) { j.CompanyCode = "NEVER_SEEN" }),
	}
	p := Pack(jobs, caches.Static, testNow)
	uc := contextFor(testUser(nil), nil, nil)

	caches.Session.PutPopularity(domain.CompanyPopularity{CompanyCode: "HOT", PopularityScore: 0.9})
	caches.Session.PutPopularity(domain.CompanyPopularity{CompanyCode: "COLD", PopularityScore: 0.3})

	assert.Contains(t, e.Explain(uc, p, 0).Bonuses, "popular_company")
	assert.NotContains(t, e.Explain(uc, p, 1).Bonuses, "popular_company")
	assert.NotContains(t, e.Explain(uc, p, 2).Bonuses, "popular_company", "cache miss scores no bonus")
}

func TestScoreIndexesMatchesFullScan(t *testing.T) {
	e, caches := testEngine(t)
	jobs := []domain.Job{
		testJob(1, nil),
		testJob(2, func(j *domain.Job) { j.Fee = 4000 }),
		testJob(3, func(j *domain.Job) { j.CategoryCode = 201 }),
	}
	p := Pack(jobs, caches.Static, testNow)
	uc := contextFor(testUser(nil), nil, nil)

	all := e.ScoreUser(uc, p, nil)
	subset := e.ScoreIndexes(uc, p, []int{0, 2}, nil)
	require.Len(t, subset, 2)
	assert.Equal(t, all[0], subset[0])
	assert.Equal(t, all[2], subset[1])
}

func TestMissingProfileDoesNotFailScoring(t *testing.T) {
	e, caches := testEngine(t)
	p := Pack([]domain.Job{testJob(1, nil)}, caches.Static, testNow)
	uc := NewUserContext(testUser(nil), nil, nil, nil, 14*24*time.Hour, testNow)

	out := e.ScoreUser(uc, p, nil)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Penalties)
	assert.Greater(t, out[0].Composite, 0.0)
}

func TestMedianHourly(t *testing.T) {
	_, caches := testEngine(t)
	jobs := []domain.Job{
		testJob(1, func(j *domain.Job) { j.MinSalary = 1000 }),
		testJob(2, func(j *domain.Job) { j.MinSalary = 1200 }),
		testJob(3, func(j *domain.Job) { j.MinSalary = 1800 }),
	}
	p := Pack(jobs, caches.Static, testNow)
	assert.Equal(t, 1200.0, p.MedianHourly())

	even := Pack(jobs[:2], caches.Static, testNow)
	assert.Equal(t, 1100.0, even.MedianHourly())

	empty := Pack(nil, caches.Static, testNow)
	assert.Equal(t, 0.0, empty.MedianHourly())
}

func TestCollabFallbackWithoutLatentFactors(t *testing.T) {
	e, caches := testEngine(t)
	p := Pack([]domain.Job{testJob(1, nil)}, caches.Static, testNow)
	uc := contextFor(testUser(nil), nil, nil)
	assert.Equal(t, 45.0, e.collabSubscore(uc, p, 0))
}
