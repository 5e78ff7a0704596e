package matching

import (
	"sort"
	"time"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/metrics"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

// recentApplicationWindow bounds the recent_application penalty inside
// the scoring engine. Kept separate from the dedup window, which the
// config owns.
const recentApplicationWindow = 14 * 24 * time.Hour

// UserBundle carries one user's inputs through the per-user pipeline.
// The phase loads bundles in user_id order so the checkpoint frontier
// stays contiguous.
type UserBundle struct {
	User    *domain.User
	Profile *domain.UserProfile
	History []domain.Application
	Clicks  []domain.ClickEvent
}

// Result is the outcome for one user: the slate and the score rows to
// persist, or the error that failed the user. Failures never abort the
// run; the phase counts them against the failure-rate threshold.
type Result struct {
	UserID    int64
	Slate     *domain.SectionSlate
	Scores    []domain.MatchScore
	Fallbacks int
	Err       error
}

// Orchestrator runs dedup, scoring, section selection and
// supplementation for single users. It is stateless across users and
// safe for concurrent workers; per-worker buffers live in scratch.
type Orchestrator struct {
	cfg      config.MatchingConfig
	sections config.SectionConfig
	engine   *scoring.Engine
	dedup    *Deduplicator
	selector *Selector
	supp     *Supplementer
	metrics  *metrics.Collector
}

// NewOrchestrator wires the per-user pipeline from its parts.
func NewOrchestrator(cfg config.MatchingConfig, sections config.SectionConfig,
	dedupWindowDays int, engine *scoring.Engine, mc *metrics.Collector) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		sections: sections,
		engine:   engine,
		dedup:    NewDeduplicator(dedupWindowDays),
		selector: NewSelector(sections),
		supp:     NewSupplementer(sections.Total),
		metrics:  mc,
	}
}

// scratch holds per-worker reusable buffers so the per-user loop keeps
// allocation flat regardless of pool size.
type scratch struct {
	idx    []int
	scores []domain.MatchScore
	locs   []float64
	cands  []Candidate
}

func newScratch(capacity int) *scratch {
	return &scratch{
		idx:    make([]int, 0, capacity),
		scores: make([]domain.MatchScore, 0, capacity),
		locs:   make([]float64, 0, capacity),
		cands:  make([]Candidate, 0, capacity),
	}
}

// MatchUser runs the whole per-user pipeline. The HIGH_SALARY reference
// point is the median hourly rate of this user's own candidate pool, so
// jobs the dedup window suppressed for the user never skew it.
func (o *Orchestrator) MatchUser(b UserBundle, p *scoring.PackedJobs,
	now time.Time, sc *scratch) Result {

	userID := b.User.UserID
	uc := scoring.NewUserContext(b.User, b.Profile, b.History, b.Clicks, recentApplicationWindow, now)

	suppressed := o.dedup.SuppressedCompanies(userID, b.History, now)
	sc.idx = o.dedup.FilterIndexes(p, suppressed, sc.idx)

	sc.scores = o.engine.ScoreIndexes(uc, p, sc.idx, sc.scores)
	sc.locs = o.engine.LocationSubscores(uc, p, sc.locs)
	if o.metrics != nil {
		o.metrics.AddPairsScored(int64(len(sc.idx)))
	}

	sc.cands = sc.cands[:0]
	for k, i := range sc.idx {
		sc.cands = append(sc.cands, Candidate{
			Idx:      i,
			Row:      k,
			JobID:    p.JobID[i],
			Cat:      p.Category[i],
			Score:    sc.scores[k].Composite,
			Location: sc.locs[i],
		})
	}
	// Descending score; job id breaks ties so reruns are byte-stable.
	sort.SliceStable(sc.cands, func(a, b int) bool {
		if sc.cands[a].Score != sc.cands[b].Score {
			return sc.cands[a].Score > sc.cands[b].Score
		}
		return sc.cands[a].JobID < sc.cands[b].JobID
	})

	pool := sc.cands
	if len(pool) > o.cfg.CandidatePoolSize {
		pool = pool[:o.cfg.CandidatePoolSize]
	}

	slate, err := o.selector.Select(uc, p, pool, poolMedianHourly(p, pool), now)
	if err != nil {
		return Result{UserID: userID, Err: err}
	}

	fallbacks := 0
	if slate.Size() < o.sections.Total {
		rest := remaining(sc.cands, slate)
		fallbacks = o.supp.Fill(uc, p, slate, rest, now)
		if o.metrics != nil && fallbacks > 0 {
			o.metrics.AddFallbacks(int64(fallbacks))
		}
	}

	// Persist only the pool rows; the long tail below the cutoff never
	// reaches the store.
	out := make([]domain.MatchScore, len(pool))
	for k, c := range pool {
		out[k] = sc.scores[c.Row]
	}

	return Result{UserID: userID, Slate: slate, Scores: out, Fallbacks: fallbacks}
}

// poolMedianHourly is the median hourly equivalent across the candidate
// pool handed to the selector.
func poolMedianHourly(p *scoring.PackedJobs, pool []Candidate) float64 {
	if len(pool) == 0 {
		return 0
	}
	vals := make([]float64, len(pool))
	for k, c := range pool {
		vals[k] = p.HourlyEq[c.Idx]
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// remaining returns every candidate not already placed in the slate,
// preserving the descending score order of cands.
func remaining(cands []Candidate, slate *domain.SectionSlate) []Candidate {
	used := make(map[int64]struct{}, slate.Size())
	for _, id := range slate.JobIDs() {
		used[id] = struct{}{}
	}
	rest := make([]Candidate, 0, len(cands)-slate.Size())
	for _, c := range cands {
		if _, ok := used[c.JobID]; !ok {
			rest = append(rest, c)
		}
	}
	return rest
}
