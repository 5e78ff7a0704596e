// Package pipeline drives one nightly batch through its fixed phases:
// INIT, IMPORT, MATCHING, EMAIL_QUEUE, CLEANUP. Each phase runs under
// its own retry policy, records timing and counters, and checkpoints
// often enough that a killed process resumes without rescoring users.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/jobmatch-batch/internal/cache"
	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/emailqueue"
	"github.com/ignite/jobmatch-batch/internal/matching"
	"github.com/ignite/jobmatch-batch/internal/metrics"
	"github.com/ignite/jobmatch-batch/internal/repository/postgres"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

// PhaseResult carries the counters one phase hands back to the runner.
type PhaseResult struct {
	Processed    int64
	Succeeded    int64
	Failed       int64
	ErrorSummary map[string]int
}

func (r *PhaseResult) record(err error) {
	if r.ErrorSummary == nil {
		r.ErrorSummary = make(map[string]int)
	}
	r.ErrorSummary[string(domain.KindOf(err))]++
}

// JobSource is the external CSV importer contract: it yields validated,
// normalized job rows. Validation failures are the importer's problem;
// the pipeline only dedups and upserts what it receives.
type JobSource interface {
	Rows(ctx context.Context) ([]domain.Job, error)
}

// Runner owns phase execution for batch runs.
type Runner struct {
	cfg     *config.Config
	store   *postgres.Store
	caches  *cache.Caches
	metrics *metrics.Collector
	source  JobSource
	builder *emailqueue.Builder
	pool    *matching.Pool

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// run is the mutable state shared by the phases of one execution.
type run struct {
	batch         *domain.BatchRun
	correlationID string
	now           time.Time
	resume        bool

	packed *scoring.PackedJobs
	slates map[int64]*domain.SectionSlate
	users  map[int64]*domain.User
}

// retryPolicy says how many in-run retries a phase gets and whether a
// final failure fails the whole run.
type retryPolicy struct {
	retries int
	fatal   bool
}

var phasePolicies = map[domain.Phase]retryPolicy{
	domain.PhaseInit:       {retries: 0, fatal: true},
	domain.PhaseImport:     {retries: 1, fatal: true},
	domain.PhaseMatching:   {retries: 1, fatal: true},
	domain.PhaseEmailQueue: {retries: 1, fatal: true},
	domain.PhaseCleanup:    {retries: 0, fatal: false},
}

// NewRunner wires the phase runner.
func NewRunner(cfg *config.Config, store *postgres.Store, caches *cache.Caches,
	mc *metrics.Collector, source JobSource, builder *emailqueue.Builder,
	pool *matching.Pool) *Runner {
	return &Runner{
		cfg:     cfg,
		store:   store,
		caches:  caches,
		metrics: mc,
		source:  source,
		builder: builder,
		pool:    pool,
		active:  make(map[string]context.CancelFunc),
	}
}

// Cancel stops the named batch if this process is running it. The run
// winds down at its next context check and settles as cancelled.
func (r *Runner) Cancel(batchID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[batchID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ResumeTarget returns the most recent batch left in RUNNING state by a
// dead process, or "" when there is nothing to resume.
func (r *Runner) ResumeTarget(ctx context.Context) (string, error) {
	runs, err := r.store.ListBatchRuns(ctx, domain.BatchRunning, 1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", nil
	}
	return runs[0].BatchID, nil
}

// Execute runs one batch end to end. When resume is true and the batch
// has checkpoints, IMPORT is skipped if complete and MATCHING restarts
// from the persisted frontier.
func (r *Runner) Execute(ctx context.Context, batchID string, resume bool) (*domain.BatchRun, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.active[batchID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, batchID)
		r.mu.Unlock()
	}()

	now := time.Now()
	st := &run{
		batch: &domain.BatchRun{
			BatchID:       batchID,
			CorrelationID: metrics.NewCorrelationID(),
			Status:        domain.BatchRunning,
			StartedAt:     now,
			PhaseTimes:    make(map[domain.Phase]domain.PhaseTiming),
			ErrorSummary:  make(map[string]int),
		},
		now:    now,
		resume: resume,
		slates: make(map[int64]*domain.SectionSlate),
		users:  make(map[int64]*domain.User),
	}
	st.correlationID = st.batch.CorrelationID

	r.metrics.StartRun(batchID)
	if err := r.createOrResumeRun(ctx, st); err != nil {
		return st.batch, err
	}
	log.Printf("[PhaseRunner] batch=%s correlation=%s starting (resume=%v)", batchID, st.correlationID, resume)

	phases := map[domain.Phase]func(context.Context, *run) (PhaseResult, error){
		domain.PhaseInit:       r.runInit,
		domain.PhaseImport:     r.runImport,
		domain.PhaseMatching:   r.runMatching,
		domain.PhaseEmailQueue: r.runEmailQueue,
		domain.PhaseCleanup:    r.runCleanup,
	}

	var runErr error
	for _, phase := range domain.PhaseOrder {
		if runErr != nil && phase != domain.PhaseCleanup {
			continue // cleanup still runs after a failed phase
		}
		res, err := r.runPhase(ctx, st, phase, phases[phase])
		st.batch.Processed += res.Processed
		st.batch.Errors += res.Failed
		for k, v := range res.ErrorSummary {
			st.batch.ErrorSummary[k] += v
		}
		if err != nil {
			if phasePolicies[phase].fatal {
				runErr = fmt.Errorf("phase %s: %w", phase, err)
			} else {
				log.Printf("[PhaseRunner] batch=%s phase=%s failed non-fatally: %v", batchID, phase, err)
			}
		}
	}

	r.finish(ctx, st, runErr)
	return st.batch, runErr
}

// runPhase wraps one phase with timing, checkpointing at the boundary,
// and the per-phase retry policy.
func (r *Runner) runPhase(ctx context.Context, st *run, phase domain.Phase,
	fn func(context.Context, *run) (PhaseResult, error)) (PhaseResult, error) {

	policy := phasePolicies[phase]
	var res PhaseResult
	var err error
	for attempt := 0; attempt <= policy.retries; attempt++ {
		if attempt > 0 {
			log.Printf("[PhaseRunner] batch=%s phase=%s retrying from last checkpoint (attempt %d)",
				st.batch.BatchID, phase, attempt+1)
			st.resume = true
		}
		start := time.Now()
		res, err = fn(ctx, st)
		d := time.Since(start)

		st.batch.PhaseTimes[phase] = domain.PhaseTiming{Start: start, End: start.Add(d), Duration: d}
		r.metrics.RecordPhaseDuration(phase, d)
		r.metrics.IncProcessed(phase, res.Processed)
		r.metrics.IncSucceeded(phase, res.Succeeded)
		r.metrics.IncFailed(phase, res.Failed)

		if err == nil {
			log.Printf("[PhaseRunner] batch=%s phase=%s done in %s (processed=%d failed=%d)",
				st.batch.BatchID, phase, d.Round(time.Millisecond), res.Processed, res.Failed)
			r.checkpointBoundary(ctx, st, phase)
			return res, nil
		}
		res.record(err)
		r.metrics.RecordError(err)
		if ctx.Err() != nil {
			break // cancelled; retrying is pointless
		}
	}
	return res, err
}

// checkpointBoundary persists the end-of-phase marker.
func (r *Runner) checkpointBoundary(ctx context.Context, st *run, phase domain.Phase) {
	cp := domain.Checkpoint{
		BatchID: st.batch.BatchID,
		Phase:   phase,
		At:      time.Now(),
		Payload: []byte(`{"done":true}`),
	}
	if err := r.store.WriteCheckpoint(ctx, cp); err != nil {
		log.Printf("[PhaseRunner] batch=%s phase=%s boundary checkpoint failed: %v", st.batch.BatchID, phase, err)
	}
}

func (r *Runner) createOrResumeRun(ctx context.Context, st *run) error {
	if st.resume {
		existing, err := r.store.GetBatchRun(ctx, st.batch.BatchID)
		if err == nil {
			st.batch.StartedAt = existing.StartedAt
			return r.store.UpdateBatchRun(ctx, st.batch)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		st.resume = false
	}
	return r.store.CreateBatchRun(ctx, st.batch)
}

// finish settles the terminal status, writes the summary row and raises
// SLO alerts.
func (r *Runner) finish(ctx context.Context, st *run, runErr error) {
	end := time.Now()
	st.batch.EndedAt = &end
	switch {
	case runErr == nil:
		st.batch.Status = domain.BatchCompleted
	case errors.Is(runErr, context.Canceled):
		st.batch.Status = domain.BatchCancelled
	default:
		st.batch.Status = domain.BatchFailed
	}

	total := end.Sub(st.batch.StartedAt)
	if target := r.cfg.Performance.TotalRuntime(); target > 0 && total > target {
		a := r.metrics.RaiseAlert(domain.AlertHigh,
			fmt.Sprintf("batch %s ran %s, over the %s target", st.batch.BatchID, total.Round(time.Second), target))
		if err := r.store.WriteAlert(ctx, a); err != nil {
			log.Printf("[PhaseRunner] alert write failed: %v", err)
		}
	}

	if err := r.store.UpdateBatchRun(ctx, st.batch); err != nil {
		log.Printf("[PhaseRunner] batch=%s final status write failed: %v", st.batch.BatchID, err)
	}
	log.Printf("[PhaseRunner] batch=%s finished status=%s processed=%d errors=%d rate=%.3f",
		st.batch.BatchID, st.batch.Status, st.batch.Processed, st.batch.Errors, st.batch.SuccessRate())
}
