package scoring

import (
	"github.com/ignite/jobmatch-batch/internal/domain"
)

// Local aliases keep the hot path free of package-qualified loads.
const (
	featDailyPayment   = domain.FeatureDailyPayment
	featNoExperience   = domain.FeatureNoExperience
	featStudentWelcome = domain.FeatureStudentWelcome
)

// popularCompanyFloor is the popularity_score (0..1 rollup) at or above
// which the popular_company bonus fires.
const popularCompanyFloor = 0.7

// Rule is one bonus or penalty: a named predicate and its delta.
// Rules are evaluated in registration order, after the weighted sum.
// A data-driven table here beats a type hierarchy: adding a rule is one
// literal, and tests can assert against names.
type Rule struct {
	Name    string
	Delta   float64
	Applies func(uc *UserContext, p *PackedJobs, i int) bool
}

// defaultRules builds the standard bonus/penalty table. highIncome is
// the configured hourly threshold.
func defaultRules(e *Engine, highIncome float64) []Rule {
	return []Rule{
		{
			Name:  "perfect_category_match",
			Delta: 15,
			Applies: func(uc *UserContext, p *PackedJobs, i int) bool {
				// Exact category preferred and the hierarchy confirms
				// the major family: both levels agree.
				return uc.PrefersCategory(p.Category[i]) && p.Major[i] >= 0
			},
		},
		{
			Name:  "high_income",
			Delta: 10,
			Applies: func(uc *UserContext, p *PackedJobs, i int) bool {
				return p.HourlyEq[i] >= highIncome
			},
		},
		{
			Name:  "daily_payment_preference",
			Delta: 8,
			Applies: func(uc *UserContext, p *PackedJobs, i int) bool {
				return p.Features[i]&featDailyPayment != 0 &&
					uc.Profile.PreferenceScore("daily_payment") >= 0.7
			},
		},
		{
			Name:  "student_friendly",
			Delta: 5,
			Applies: func(uc *UserContext, p *PackedJobs, i int) bool {
				return p.Features[i]&featStudentWelcome != 0 &&
					uc.User.AgeGroup.IsStudentBand()
			},
		},
		{
			Name:  "popular_company",
			Delta: 5,
			Applies: func(uc *UserContext, p *PackedJobs, i int) bool {
				return e.companyPopularity(p.Jobs[i].CompanyCode) >= popularCompanyFloor
			},
		},
		{
			Name:  "recent_application",
			Delta: -20,
			Applies: func(uc *UserContext, p *PackedJobs, i int) bool {
				return uc.RecentlyApplied(p.Jobs[i].CompanyCode)
			},
		},
		{
			Name:  "distant_prefecture",
			Delta: -15,
			Applies: func(uc *UserContext, p *PackedJobs, i int) bool {
				u := uc.User
				if u.PrefectureCode == "" || p.Remote[i] {
					return false
				}
				return p.Prefecture[i] != u.PrefectureCode &&
					!e.static.Adjacent(u.PrefectureCode, p.Prefecture[i])
			},
		},
	}
}

// applyRules sums the deltas of every rule that fires for pair (uc, i).
func (e *Engine) applyRules(uc *UserContext, p *PackedJobs, i int) float64 {
	var delta float64
	for r := range e.rules {
		if e.rules[r].Applies(uc, p, i) {
			delta += e.rules[r].Delta
		}
	}
	return delta
}
