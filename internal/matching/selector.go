package matching

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

// Candidate is one entry of the per-user top-N pool handed to the
// selector: a packed-job index plus the scores the admission predicates
// need.
type Candidate struct {
	Idx      int // packed-job index
	Row      int // index into the per-user score buffer
	JobID    int64
	Cat      int32
	Score    float64
	Location float64
}

// sectionTargets are the per-section take counts, priority order.
// 8+7+7+6+6+6 = 40.
var sectionTargets = map[domain.SectionKind]int{
	domain.SectionEditorialPicks:     8,
	domain.SectionHighSalary:         7,
	domain.SectionExperienceMatch:    7,
	domain.SectionLocationConvenient: 6,
	domain.SectionWeekendShort:       6,
	domain.SectionOther:              6,
}

// sectionMinScore is the per-section composite floor.
var sectionMinScore = map[domain.SectionKind]float64{
	domain.SectionEditorialPicks:     80,
	domain.SectionHighSalary:         70,
	domain.SectionExperienceMatch:    60,
	domain.SectionLocationConvenient: 60,
	domain.SectionWeekendShort:       55,
	domain.SectionOther:              50,
}

// Selector distributes a user's top candidates into the six slate
// sections under the priority, minimum-fill and diversity rules.
type Selector struct {
	cfg config.SectionConfig
}

// NewSelector creates a selector with the configured slate shape.
func NewSelector(cfg config.SectionConfig) *Selector {
	return &Selector{cfg: cfg}
}

// sectionItem tracks a chosen candidate inside a section during
// selection, before the slate is materialized.
type sectionItem struct {
	cand Candidate
}

// Select builds the slate for one user from the descending-score
// candidate pool. medianHourly is the pool-wide median hourly
// equivalent used by the HIGH_SALARY predicate. The returned slate may
// be short of the configured total; the supplementer tops it up.
func (s *Selector) Select(uc *scoring.UserContext, p *scoring.PackedJobs,
	pool []Candidate, medianHourly float64, now time.Time) (*domain.SectionSlate, error) {

	taken := make([]bool, len(pool))
	sections := make(map[domain.SectionKind][]sectionItem, len(domain.SectionOrder))

	// Pass 1: fill sections in priority order. The pool arrives sorted
	// by descending score, and EXPERIENCE_MATCH's rank key (score
	// doubled) preserves that order, so a single ordered scan per
	// section suffices.
	for _, kind := range domain.SectionOrder {
		target := sectionTargets[kind]
		for i := range pool {
			if taken[i] || len(sections[kind]) >= target {
				continue
			}
			if !s.admits(kind, uc, p, pool[i], medianHourly) {
				continue
			}
			taken[i] = true
			sections[kind] = append(sections[kind], sectionItem{cand: pool[i]})
		}
	}

	s.rebalance(sections)
	s.trim(sections)
	s.enforceCategoryCap(sections)
	dropped := s.enforceCompanyCap(sections, p)

	slate := &domain.SectionSlate{
		UserID:      uc.User.UserID,
		Sections:    make(map[domain.SectionKind][]domain.ScoredJob, len(domain.SectionOrder)),
		GeneratedAt: now,
	}
	for kind, items := range sections {
		out := make([]domain.ScoredJob, 0, len(items))
		for _, it := range items {
			idx := it.cand.Idx
			out = append(out, domain.ScoredJob{
				Job:         &p.Jobs[idx],
				Score:       it.cand.Score,
				LocationSub: it.cand.Location,
				Category:    strconv.Itoa(p.Jobs[idx].CategoryCode),
			})
		}
		slate.Sections[kind] = out
	}

	if dup := firstDuplicate(slate); dup != 0 {
		return nil, &domain.SectionError{
			UserID: uc.User.UserID,
			Detail: fmt.Sprintf("job %d placed in more than one section", dup),
		}
	}
	if dropped > 0 {
		log.Printf("[SectionSelector] user=%d: dropped %d items over the company ceiling", uc.User.UserID, dropped)
	}
	return slate, nil
}

// admits evaluates the admission predicate for one section.
func (s *Selector) admits(kind domain.SectionKind, uc *scoring.UserContext,
	p *scoring.PackedJobs, c Candidate, medianHourly float64) bool {

	if c.Score < sectionMinScore[kind] {
		return false
	}
	i := c.Idx
	switch kind {
	case domain.SectionEditorialPicks:
		return p.AgeHours[i] <= 24
	case domain.SectionHighSalary:
		return p.HourlyEq[i] > medianHourly
	case domain.SectionExperienceMatch:
		return uc.PrefersCategory(p.Category[i])
	case domain.SectionLocationConvenient:
		return c.Location >= 80
	case domain.SectionWeekendShort:
		return p.Features[i]&(domain.FeatureWeekendOK|domain.FeatureShortTime) != 0
	case domain.SectionOther:
		return true
	}
	return false
}

// rebalance pulls items into sections below the minimum from the
// largest sections that can spare them, keeping score order in the
// receiving section.
func (s *Selector) rebalance(sections map[domain.SectionKind][]sectionItem) {
	min := s.cfg.MinPerSection
	for _, kind := range domain.SectionOrder {
		for len(sections[kind]) < min {
			donor := s.largestDonor(sections, min)
			if donor == "" {
				break
			}
			items := sections[donor]
			moved := items[len(items)-1]
			sections[donor] = items[:len(items)-1]
			sections[kind] = insertByScore(sections[kind], moved)
		}
	}
}

// largestDonor returns the section with the most items above the
// minimum, or "" when none can spare any.
func (s *Selector) largestDonor(sections map[domain.SectionKind][]sectionItem, min int) domain.SectionKind {
	var best domain.SectionKind
	bestN := min
	for _, kind := range domain.SectionOrder {
		if n := len(sections[kind]); n > bestN {
			best, bestN = kind, n
		}
	}
	return best
}

// trim drops the lowest-ranked items from the lowest-priority sections
// until the grand total fits, keeping each section at or above the
// minimum where possible.
func (s *Selector) trim(sections map[domain.SectionKind][]sectionItem) {
	total := 0
	for _, items := range sections {
		total += len(items)
	}
	for total > s.cfg.Total {
		victim := domain.SectionKind("")
		// Lowest priority first, sections above the minimum preferred.
		for i := len(domain.SectionOrder) - 1; i >= 0; i-- {
			kind := domain.SectionOrder[i]
			if len(sections[kind]) > s.cfg.MinPerSection {
				victim = kind
				break
			}
		}
		if victim == "" {
			for i := len(domain.SectionOrder) - 1; i >= 0; i-- {
				kind := domain.SectionOrder[i]
				if len(sections[kind]) > 0 {
					victim = kind
					break
				}
			}
		}
		if victim == "" {
			return
		}
		items := sections[victim]
		sections[victim] = items[:len(items)-1]
		total--
	}
}

// enforceCategoryCap demotes excess items of an over-represented
// category into OTHER, or drops them when OTHER is at capacity.
func (s *Selector) enforceCategoryCap(sections map[domain.SectionKind][]sectionItem) {
	limit := s.cfg.MaxJobsPerCategory
	counts := make(map[int32]int)
	for _, kind := range domain.SectionOrder {
		for _, it := range sections[kind] {
			counts[it.cand.Cat]++
		}
	}
	for _, kind := range domain.SectionOrder {
		if kind == domain.SectionOther {
			continue
		}
		kept := sections[kind][:0]
		for _, it := range sections[kind] {
			cat := it.cand.Cat
			if counts[cat] <= limit {
				kept = append(kept, it)
				continue
			}
			counts[cat]--
			if len(sections[domain.SectionOther]) < s.cfg.MaxPerSection {
				sections[domain.SectionOther] = insertByScore(sections[domain.SectionOther], it)
				counts[cat]++
			}
		}
		sections[kind] = kept
	}
}

// enforceCompanyCap drops the lowest-ranked excess items of any company
// that exceeds the per-company ceiling. Returns how many were dropped.
func (s *Selector) enforceCompanyCap(sections map[domain.SectionKind][]sectionItem, p *scoring.PackedJobs) int {
	limit := s.cfg.MaxJobsPerCategory
	counts := make(map[string]int)
	dropped := 0
	// Priority order so the highest-priority placements win.
	for _, kind := range domain.SectionOrder {
		kept := sections[kind][:0]
		for _, it := range sections[kind] {
			company := p.Jobs[it.cand.Idx].CompanyCode
			if counts[company] >= limit {
				dropped++
				continue
			}
			counts[company]++
			kept = append(kept, it)
		}
		sections[kind] = kept
	}
	return dropped
}

// insertByScore inserts it into items keeping descending score order.
func insertByScore(items []sectionItem, it sectionItem) []sectionItem {
	pos := sort.Search(len(items), func(k int) bool {
		return items[k].cand.Score < it.cand.Score
	})
	items = append(items, sectionItem{})
	copy(items[pos+1:], items[pos:])
	items[pos] = it
	return items
}

// firstDuplicate returns the first job id present in two sections, or
// zero when the slate is clean.
func firstDuplicate(s *domain.SectionSlate) int64 {
	seen := make(map[int64]struct{}, s.Size())
	for _, kind := range domain.SectionOrder {
		for _, it := range s.Sections[kind] {
			if _, ok := seen[it.Job.JobID]; ok {
				return it.Job.JobID
			}
			seen[it.Job.JobID] = struct{}{}
		}
	}
	return 0
}
