package scoring

import (
	"time"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// workStyleFeature maps declared work-style preferences onto job
// feature bits for the condition sub-score.
var workStyleFeature = map[string]uint16{
	"daily_payment":  domain.FeatureDailyPayment,
	"no_experience":  domain.FeatureNoExperience,
	"student":        domain.FeatureStudentWelcome,
	"transportation": domain.FeatureTransportation,
	"remote":         domain.FeatureRemoteWork,
	"weekend":        domain.FeatureWeekendOK,
	"short_time":     domain.FeatureShortTime,
}

// UserContext is everything the engine needs about one user, built once
// before the inner loop so scoring a pair allocates nothing.
type UserContext struct {
	User    *domain.User
	Profile *domain.UserProfile

	preferredCats   map[int32]struct{}
	recentCompanies map[string]struct{} // applied within the penalty window
	histCats        map[int32]struct{}
	histPrefs       map[string]struct{}
	histSalaries    []float64 // hourly-normalized applied salaries
	clickCatWeight  map[int32]float64
	clickTotal      float64
	clickFeatWeight map[uint16]float64
	workStyleBits   uint16
	hasConditions   bool
	latent          []float64
}

// NewUserContext precomputes per-user lookup structures. now anchors the
// recent-application window.
func NewUserContext(user *domain.User, profile *domain.UserProfile,
	history []domain.Application, clicks []domain.ClickEvent,
	recentWindow time.Duration, now time.Time) *UserContext {

	uc := &UserContext{
		User:            user,
		Profile:         profile,
		preferredCats:   make(map[int32]struct{}, len(user.PreferredCategories)),
		recentCompanies: make(map[string]struct{}),
		histCats:        make(map[int32]struct{}),
		histPrefs:       make(map[string]struct{}),
		clickCatWeight:  make(map[int32]float64),
		clickFeatWeight: make(map[uint16]float64),
	}
	for _, c := range user.PreferredCategories {
		uc.preferredCats[int32(c)] = struct{}{}
	}
	for _, ws := range user.PreferredWorkStyles {
		if bit, ok := workStyleFeature[ws]; ok {
			uc.workStyleBits |= bit
		}
	}
	uc.hasConditions = user.PreferredSalaryMin > 0 ||
		uc.workStyleBits != 0 || len(user.PreferredCategories) > 0

	cutoff := now.Add(-recentWindow)
	for _, a := range history {
		uc.histCats[int32(a.CategoryCode)] = struct{}{}
		if a.PrefectureCode != "" {
			uc.histPrefs[a.PrefectureCode] = struct{}{}
		}
		if a.Salary > 0 {
			uc.histSalaries = append(uc.histSalaries, float64(a.Salary))
		}
		if !a.AppliedAt.Before(cutoff) {
			uc.recentCompanies[a.CompanyCode] = struct{}{}
		}
	}

	for _, c := range clicks {
		uc.clickCatWeight[int32(c.CategoryCode)]++
		uc.clickTotal++
		for _, bit := range []uint16{
			domain.FeatureDailyPayment,
			domain.FeatureNoExperience,
			domain.FeatureStudentWelcome,
		} {
			if c.Features&bit != 0 {
				uc.clickFeatWeight[bit]++
			}
		}
	}

	if profile != nil && len(profile.LatentFactors) > 0 {
		uc.latent = profile.LatentFactors
	}
	return uc
}

// HasHistory reports whether the user applied to anything in the window.
func (uc *UserContext) HasHistory() bool { return len(uc.histCats) > 0 || len(uc.histSalaries) > 0 }

// RecentlyApplied reports whether the user applied to a company within
// the penalty window.
func (uc *UserContext) RecentlyApplied(companyCode string) bool {
	_, ok := uc.recentCompanies[companyCode]
	return ok
}

// PrefersCategory reports whether the packed category is preferred.
func (uc *UserContext) PrefersCategory(cat int32) bool {
	_, ok := uc.preferredCats[cat]
	return ok
}

// clickCategoryShare returns the fraction of clicks on this category.
func (uc *UserContext) clickCategoryShare(cat int32) float64 {
	if uc.clickTotal == 0 {
		return 0
	}
	return uc.clickCatWeight[cat] / uc.clickTotal
}

// clickFeatureShare returns the fraction of clicks carrying a feature bit.
func (uc *UserContext) clickFeatureShare(bit uint16) float64 {
	if uc.clickTotal == 0 {
		return 0
	}
	return uc.clickFeatWeight[bit] / uc.clickTotal
}
