// Package scoring computes the composite match score for (user, job)
// pairs. The composite is the weighted sum of three component scores
// (base, SEO, personal), each clamped to [0,100], plus bonus/penalty
// rule deltas, clamped again. One engine instance serves the whole run;
// it is read-only after construction and safe for parallel workers.
package scoring

import (
	"fmt"
	"log"

	"github.com/ignite/jobmatch-batch/internal/cache"
	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

// Engine scores users against the packed candidate universe.
type Engine struct {
	weights config.WeightConfig
	static  *cache.StaticCache
	session *cache.SessionCache
	rules   []Rule
}

// NewEngine builds the engine with the configured weights and the
// default bonus/penalty table.
func NewEngine(cfg config.ScoringConfig, caches *cache.Caches) *Engine {
	e := &Engine{
		weights: cfg.Weights,
		static:  caches.Static,
		session: caches.Session,
	}
	e.rules = defaultRules(e, cfg.HighIncome)
	return e
}

// Rules exposes the active rule table (read-only) for introspection.
func (e *Engine) Rules() []Rule { return e.rules }

// companyPopularity reads a company's hourly popularity rollup from the
// session cache. The pipeline warms the cache for the packed universe at
// import; a miss (cold cache, evicted entry, expired bucket) scores zero
// rather than triggering I/O from the hot loop.
func (e *Engine) companyPopularity(code string) float64 {
	if e.session == nil || code == "" {
		return 0
	}
	p, ok := e.session.GetPopularity(code)
	if !ok {
		return 0
	}
	return p.PopularityScore
}

// ScoreUser scores one user against every packed job. out must have
// capacity for p.Len() entries; it is truncated and refilled so callers
// can reuse one buffer per worker. The inner loop allocates nothing:
// component maps on MatchScore stay nil in bulk mode (Explain rebuilds
// them for a single pair when needed).
//
// A pair whose computation panics is zero-scored with an error penalty
// marker and logged; the run never aborts on a single pair.
func (e *Engine) ScoreUser(uc *UserContext, p *PackedJobs, out []domain.MatchScore) []domain.MatchScore {
	out = out[:0]
	userID := uc.User.UserID
	for i := 0; i < p.Len(); i++ {
		ms, err := e.scorePair(uc, p, i)
		if err != nil {
			log.Printf("[ScoringEngine] pair user=%d job=%d failed: %v", userID, p.JobID[i], err)
			ms = domain.MatchScore{
				UserID:    userID,
				JobID:     p.JobID[i],
				Composite: 0,
				Penalties: map[string]float64{"error": -100},
			}
		}
		out = append(out, ms)
	}
	return out
}

// scorePair computes one pair, converting panics into ScoringErrors.
func (e *Engine) scorePair(uc *UserContext, p *PackedJobs, i int) (ms domain.MatchScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.ScoringError{
				UserID: uc.User.UserID,
				JobID:  p.JobID[i],
				Err:    fmt.Errorf("panic: %v", r),
			}
		}
	}()

	base := e.baseScore(p, i)
	seo, _ := e.seoScore(uc, p, i)
	personal := e.personalScore(uc, p, i)

	composite := e.weights.Base*base + e.weights.SEO*seo + e.weights.Personal*personal
	composite += e.applyRules(uc, p, i)

	return domain.MatchScore{
		UserID:    uc.User.UserID,
		JobID:     p.JobID[i],
		Base:      base,
		SEO:       seo,
		Personal:  personal,
		Composite: clamp(composite, 0, 100),
	}, nil
}

// ScoreIndexes scores one user against the packed jobs named by idx,
// in idx order. Same buffer-reuse and panic-isolation contract as
// ScoreUser; the deduplicated per-user candidate set goes through here.
func (e *Engine) ScoreIndexes(uc *UserContext, p *PackedJobs, idx []int, out []domain.MatchScore) []domain.MatchScore {
	out = out[:0]
	userID := uc.User.UserID
	for _, i := range idx {
		ms, err := e.scorePair(uc, p, i)
		if err != nil {
			log.Printf("[ScoringEngine] pair user=%d job=%d failed: %v", userID, p.JobID[i], err)
			ms = domain.MatchScore{
				UserID:    userID,
				JobID:     p.JobID[i],
				Composite: 0,
				Penalties: map[string]float64{"error": -100},
			}
		}
		out = append(out, ms)
	}
	return out
}

// LocationSubscores computes the location subscore for every packed job
// for one user. The selector needs it for the LOCATION_CONVENIENT
// admission predicate; recomputing a single cheap subscore beats
// widening the hot MatchScore struct.
func (e *Engine) LocationSubscores(uc *UserContext, p *PackedJobs, out []float64) []float64 {
	out = out[:0]
	for i := 0; i < p.Len(); i++ {
		out = append(out, e.locationSubscore(uc, p, i))
	}
	return out
}

// Explain recomputes one pair with full component, bonus and penalty
// maps populated. Debug/test path; not used in the bulk loop.
func (e *Engine) Explain(uc *UserContext, p *PackedJobs, i int) domain.MatchScore {
	base := e.baseScore(p, i)
	seo, location := e.seoScore(uc, p, i)
	personal := e.personalScore(uc, p, i)

	ms := domain.MatchScore{
		UserID:   uc.User.UserID,
		JobID:    p.JobID[i],
		Base:     base,
		SEO:      seo,
		Personal: personal,
		Components: map[string]float64{
			"base":      base,
			"seo":       seo,
			"personal":  personal,
			"location":  location,
			"history":   e.historySubscore(uc, p, i),
			"click":     e.clickSubscore(uc, p, i),
			"collab":    e.collabSubscore(uc, p, i),
		},
		Bonuses:   map[string]float64{},
		Penalties: map[string]float64{},
	}

	composite := e.weights.Base*base + e.weights.SEO*seo + e.weights.Personal*personal
	for _, r := range e.rules {
		if !r.Applies(uc, p, i) {
			continue
		}
		composite += r.Delta
		if r.Delta >= 0 {
			ms.Bonuses[r.Name] = r.Delta
		} else {
			ms.Penalties[r.Name] = r.Delta
		}
	}
	ms.Composite = clamp(composite, 0, 100)
	return ms
}
