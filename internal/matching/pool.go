package matching

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

// adaptive thresholds: below either, the fan-out overhead beats the
// parallel win and the pool degrades to a plain loop.
const (
	adaptiveMinPairs = 10000
	adaptiveMinUsers = 5
)

// Pool fans MatchUser out over a bounded set of workers, one scratch
// buffer per worker. Results come back positionally so callers see the
// same order they submitted, whatever the completion order was.
type Pool struct {
	cfg  config.MatchingConfig
	orch *Orchestrator
}

// NewPool creates a worker pool around the orchestrator.
func NewPool(cfg config.MatchingConfig, orch *Orchestrator) *Pool {
	return &Pool{cfg: cfg, orch: orch}
}

// parallel decides per chunk whether to fan out.
func (wp *Pool) parallel(users, jobs int) bool {
	switch wp.cfg.Strategy {
	case config.StrategySequential:
		return false
	case config.StrategyParallel:
		return true
	default:
		return users > adaptiveMinUsers && users*jobs > adaptiveMinPairs
	}
}

// RunChunk matches one chunk of users and returns a result per bundle,
// in input order. A cancelled context stops admission of further users;
// results for users never started carry ctx.Err().
func (wp *Pool) RunChunk(ctx context.Context, bundles []UserBundle,
	p *scoring.PackedJobs, now time.Time) []Result {

	results := make([]Result, len(bundles))
	if len(bundles) == 0 {
		return results
	}

	if !wp.parallel(len(bundles), p.Len()) {
		sc := newScratch(p.Len())
		for i, b := range bundles {
			if err := ctx.Err(); err != nil {
				results[i] = Result{UserID: b.User.UserID, Err: err}
				continue
			}
			results[i] = wp.orch.MatchUser(b, p, now, sc)
		}
		return results
	}

	workers := wp.cfg.MaxParallelWorkers
	if workers > len(bundles) {
		workers = len(bundles)
	}
	feed := make(chan int, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			sc := newScratch(p.Len())
			for i := range feed {
				results[i] = wp.orch.MatchUser(bundles[i], p, now, sc)
			}
		}()
	}

	log.Printf("[MatchingPool] chunk of %d users across %d workers", len(bundles), workers)
feedLoop:
	for i := range bundles {
		select {
		case feed <- i:
		case <-ctx.Done():
			// Nothing at or past i was fed; fail those positionally.
			for j := i; j < len(bundles); j++ {
				results[j] = Result{UserID: bundles[j].User.UserID, Err: ctx.Err()}
			}
			break feedLoop
		}
	}
	close(feed)
	wg.Wait()
	return results
}
