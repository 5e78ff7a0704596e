package scoring

import (
	"math"
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// BASE SCORE (fee + salary + access + recency)
// =============================================================================

// baseScore computes the base component for job index i. Everything but
// the fee curve was precomputed at pack time.
func (e *Engine) baseScore(p *PackedJobs, i int) float64 {
	feeScore := clamp(p.Fee[i]/5000*50, 0, 50)
	return clamp(feeScore+p.SalaryStep[i]+p.AccessPts[i]+p.AgeBonus[i], 0, 100)
}

// =============================================================================
// SEO SCORE (location + category + condition, averaged)
// =============================================================================

func (e *Engine) locationSubscore(uc *UserContext, p *PackedJobs, i int) float64 {
	u := uc.User
	if u.PrefectureCode != "" && p.Prefecture[i] == u.PrefectureCode {
		return 100
	}
	if p.Remote[i] {
		return 80
	}
	if u.PrefectureCode != "" && e.static.Adjacent(u.PrefectureCode, p.Prefecture[i]) {
		return 60
	}
	return 20
}

func (e *Engine) categorySubscore(uc *UserContext, p *PackedJobs, i int) float64 {
	if len(uc.preferredCats) == 0 {
		return 50
	}
	if uc.PrefersCategory(p.Category[i]) {
		return 100
	}
	if p.Major[i] >= 0 {
		for cat := range uc.preferredCats {
			if major, ok := e.static.MajorCategory(int(cat)); ok && int32(major) == p.Major[i] {
				return 60
			}
		}
	}
	return 20
}

func (e *Engine) conditionSubscore(uc *UserContext, p *PackedJobs, i int) float64 {
	if !uc.hasConditions {
		return 50
	}
	satisfied, total := 0, 0
	if uc.User.PreferredSalaryMin > 0 {
		total++
		if p.HourlyEq[i] >= float64(uc.User.PreferredSalaryMin) {
			satisfied++
		}
	}
	if uc.workStyleBits != 0 {
		total++
		if p.Features[i]&uc.workStyleBits != 0 {
			satisfied++
		}
	}
	if len(uc.preferredCats) > 0 {
		total++
		if uc.PrefersCategory(p.Category[i]) {
			satisfied++
		}
	}
	if total == 0 {
		return 50
	}
	return float64(satisfied) / float64(total) * 100
}

func (e *Engine) seoScore(uc *UserContext, p *PackedJobs, i int) (score, location float64) {
	location = e.locationSubscore(uc, p, i)
	category := e.categorySubscore(uc, p, i)
	condition := e.conditionSubscore(uc, p, i)
	return clamp((location+category+condition)/3, 0, 100), location
}

// =============================================================================
// PERSONAL SCORE (history + clicks + collaborative)
// =============================================================================

func (e *Engine) historySubscore(uc *UserContext, p *PackedJobs, i int) float64 {
	score := 25.0
	if _, ok := uc.histCats[p.Category[i]]; ok {
		score += 30
	}
	h := p.HourlyEq[i]
	for _, s := range uc.histSalaries {
		if s > 0 && h >= s*0.8 && h <= s*1.2 {
			score += 25
			break
		}
	}
	if _, ok := uc.histPrefs[p.Prefecture[i]]; ok {
		score += 20
	}
	return clamp(score, 0, 100)
}

func (e *Engine) clickSubscore(uc *UserContext, p *PackedJobs, i int) float64 {
	score := 40.0
	score += 20 * uc.clickCategoryShare(p.Category[i])
	feats := p.Features[i]
	if feats&featDailyPayment != 0 {
		score += 15 * uc.clickFeatureShare(featDailyPayment)
	}
	if feats&featNoExperience != 0 {
		score += 10 * uc.clickFeatureShare(featNoExperience)
	}
	if feats&featStudentWelcome != 0 {
		score += 10 * uc.clickFeatureShare(featStudentWelcome)
	}
	return clamp(score, 0, 100)
}

// collabSubscore is the cosine similarity between the user's latent
// vector and a job feature vector assembled on the fly. The job vector
// is deterministic in the packed fields: dim0 = category/100, dim1 =
// log1p(hourly), dims 2..8 = feature bits, zero-padded beyond that.
// [-1,1] maps to [0,100]; missing latent factors fall back to 45.
func (e *Engine) collabSubscore(uc *UserContext, p *PackedJobs, i int) float64 {
	if len(uc.latent) == 0 {
		return 45
	}
	var dot, normU, normJ float64
	for k, u := range uc.latent {
		var j float64
		switch {
		case k == 0:
			j = float64(p.Category[i]) / 100
		case k == 1:
			j = p.LogSalary[i]
		case k >= 2 && k < 9:
			if p.Features[i]&(1<<uint(k-2)) != 0 {
				j = 1
			}
		}
		dot += u * j
		normU += u * u
		normJ += j * j
	}
	if normU == 0 || normJ == 0 {
		return 45
	}
	cos := dot / (math.Sqrt(normU) * math.Sqrt(normJ))
	return clamp((cos+1)/2*100, 0, 100)
}

func (e *Engine) personalScore(uc *UserContext, p *PackedJobs, i int) float64 {
	h := e.historySubscore(uc, p, i)
	c := e.clickSubscore(uc, p, i)
	v := e.collabSubscore(uc, p, i)
	return clamp(0.4*h+0.3*c+0.3*v, 0, 100)
}
