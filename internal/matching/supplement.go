package matching

import (
	"strconv"
	"time"

	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

// fallbackComposite is the fixed score assigned to synthesized items.
const fallbackComposite = 25

// Supplementer tops a short slate up to the configured total. It first
// widens the candidate pool (location filter dropped, then the category
// filter too), then synthesizes generic items when the pool is truly
// exhausted. Everything it adds lands in OTHER flagged is_fallback.
type Supplementer struct {
	total int
}

// NewSupplementer creates a supplementer targeting the configured
// slate size.
func NewSupplementer(total int) *Supplementer {
	return &Supplementer{total: total}
}

// Fill appends fallback items to the slate's OTHER section until it
// reaches the target or both widening passes and synthesis run dry.
// rest is every scored candidate not already in the slate, descending
// by score, dedup already applied. Returns the number of fallbacks
// added.
func (s *Supplementer) Fill(uc *scoring.UserContext, p *scoring.PackedJobs,
	slate *domain.SectionSlate, rest []Candidate, now time.Time) int {

	short := s.total - slate.Size()
	if short <= 0 {
		return 0
	}
	used := make(map[int64]struct{}, slate.Size())
	for _, id := range slate.JobIDs() {
		used[id] = struct{}{}
	}

	added := 0
	// Pass 1: keep the category preference, ignore location.
	// Pass 2: ignore both.
	for pass := 0; pass < 2 && added < short; pass++ {
		for _, c := range rest {
			if added >= short {
				break
			}
			if _, ok := used[c.JobID]; ok {
				continue
			}
			if pass == 0 && len(uc.User.PreferredCategories) > 0 && !uc.PrefersCategory(c.Cat) {
				continue
			}
			used[c.JobID] = struct{}{}
			slate.Sections[domain.SectionOther] = append(slate.Sections[domain.SectionOther], domain.ScoredJob{
				Job:         &p.Jobs[c.Idx],
				Score:       c.Score,
				LocationSub: c.Location,
				IsFallback:  true,
				Category:    strconv.Itoa(p.Jobs[c.Idx].CategoryCode),
			})
			added++
		}
	}

	// Pass 3: synthesize generic items. Negative ids keep them out of
	// the real job id space and preserve slate uniqueness.
	for k := 0; added < short; k++ {
		slate.Sections[domain.SectionOther] = append(slate.Sections[domain.SectionOther], domain.ScoredJob{
			Job:        s.syntheticJob(uc, int64(k+1), now),
			Score:      fallbackComposite,
			IsFallback: true,
			Category:   "General",
		})
		added++
	}
	return added
}

// syntheticJob builds a placeholder row carrying the user's salary
// preference so the email template has something sensible to render.
func (s *Supplementer) syntheticJob(uc *scoring.UserContext, seq int64, now time.Time) *domain.Job {
	return &domain.Job{
		JobID:      -seq,
		Title:      "More opportunities for you",
		SalaryType: domain.SalaryHourly,
		MinSalary:  uc.User.PreferredSalaryMin,
		PostedAt:   now,
	}
}
