package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/metrics"
)

// tickInterval is the dispatch resolution. Triggers are minute-grained
// so one second of slack is invisible.
const tickInterval = time.Second

// Scheduler owns the registered jobs and the dispatch loop.
type Scheduler struct {
	cfg     config.SchedulerConfig
	metrics *metrics.Collector

	mu   sync.RWMutex
	jobs map[string]*jobStatus

	runningTotal int
	stopping     bool

	baseCtx context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler; Register jobs before Start.
func New(cfg config.SchedulerConfig, mc *metrics.Collector) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		metrics: mc,
		jobs:    make(map[string]*jobStatus),
		stopped: make(chan struct{}),
	}
}

// Register adds a job. Dependencies must name already-registered jobs
// so cycles cannot form.
func (s *Scheduler) Register(spec *JobSpec) error {
	if spec.ID == "" || spec.Trigger == nil || spec.Run == nil {
		return fmt.Errorf("job spec needs id, trigger and run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[spec.ID]; dup {
		return fmt.Errorf("job %q already registered", spec.ID)
	}
	for _, dep := range spec.Dependencies {
		if _, ok := s.jobs[dep]; !ok {
			return fmt.Errorf("job %q depends on unregistered %q", spec.ID, dep)
		}
	}
	if spec.MaxInstances <= 0 {
		spec.MaxInstances = s.cfg.MaxInstances
	}
	s.jobs[spec.ID] = &jobStatus{
		spec:     spec,
		state:    StatePending,
		nextFire: spec.Trigger.Next(time.Now()),
	}
	log.Printf("[Scheduler] registered %s (%s) priority=%d next=%s",
		spec.ID, spec.Trigger, spec.Priority, s.jobs[spec.ID].nextFire.Format(time.RFC3339))
	return nil
}

// Start runs the dispatch loop until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	go s.loop(ctx)
	log.Printf("[Scheduler] started, %d jobs, max_concurrent=%d", len(s.jobs), s.cfg.MaxConcurrentJobs)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.dispatch(ctx, now)
		}
	}
}

// dispatch computes the ready set and admits what the concurrency
// ceiling allows, priority first.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}

	var ready []*jobStatus
	for _, js := range s.jobs {
		if !js.spec.Enabled || js.paused || js.nextFire.IsZero() || js.nextFire.After(now) {
			continue
		}
		if js.running >= js.spec.MaxInstances {
			// The trigger fired while the previous instance still runs.
			js.state = StateMisfired
			if s.cfg.Coalesce {
				js.nextFire = js.spec.Trigger.Next(now)
			}
			continue
		}
		if late := now.Sub(js.nextFire); late > s.cfg.MisfireGrace() && s.cfg.Coalesce {
			// Missed fires (process was down) collapse to one run now.
			log.Printf("[Scheduler] %s missed fire by %s, coalescing", js.spec.ID, late.Round(time.Second))
		}
		if dep, ok := s.unmetDependency(js); ok {
			js.lastErr = &domain.DependencyError{JobID: js.spec.ID, DependsOn: dep}
			continue
		}
		ready = append(ready, js)
	}

	sort.Slice(ready, func(a, b int) bool {
		if ready[a].spec.Priority != ready[b].spec.Priority {
			return ready[a].spec.Priority > ready[b].spec.Priority
		}
		return ready[a].nextFire.Before(ready[b].nextFire)
	})

	for _, js := range ready {
		if s.runningTotal >= s.cfg.MaxConcurrentJobs {
			break
		}
		fireTime := js.nextFire
		js.state = StateRunning
		js.running++
		js.lastFire = now
		js.lastErr = nil
		// Retries keep their already-computed nextFire until resolution;
		// normal fires advance to the next trigger time.
		if js.attempt == 0 {
			js.nextFire = js.spec.Trigger.Next(fireTime)
		} else {
			js.nextFire = time.Time{}
		}
		s.runningTotal++
		s.wg.Add(1)
		go s.execute(ctx, js, fireTime)
	}
	s.mu.Unlock()
}

// unmetDependency returns the first dependency that has not completed.
func (s *Scheduler) unmetDependency(js *jobStatus) (string, bool) {
	for _, dep := range js.spec.Dependencies {
		upstream, ok := s.jobs[dep]
		if !ok || upstream.state != StateCompleted {
			return dep, true
		}
	}
	return "", false
}

// execute runs one instance with timeout and resource enforcement,
// then settles the job's next state under the lock.
func (s *Scheduler) execute(ctx context.Context, js *jobStatus, fireTime time.Time) {
	defer s.wg.Done()
	spec := js.spec

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Limits.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Limits.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var guard *resourceGuard
	if s.cfg.ResourceMonitoring && (spec.Limits.MemoryMB > 0 || spec.Limits.CPUPercent > 0) {
		guard = newResourceGuard(spec.ID, spec.Limits, cancel)
		guard.start()
	}

	log.Printf("[Scheduler] %s firing (scheduled %s)", spec.ID, fireTime.Format(time.RFC3339))
	err := spec.Run(runCtx)
	if guard != nil {
		guard.stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	js.running--
	s.runningTotal--
	js.lastEnd = time.Now()

	switch {
	case err == nil:
		js.state = StateCompleted
		js.completedAt = js.lastEnd
		js.attempt = 0
		log.Printf("[Scheduler] %s completed in %s", spec.ID, js.lastEnd.Sub(js.lastFire).Round(time.Millisecond))

	case guard != nil && guard.tripped():
		js.lastErr = guard.cause()
		s.fail(js, StateCancelled)

	case runCtx.Err() == context.DeadlineExceeded:
		js.lastErr = &domain.TimeoutError{What: spec.ID, Limit: spec.Limits.Timeout.String()}
		s.fail(js, StateTimeout)

	case ctx.Err() != nil:
		js.state = StateCancelled
		js.lastErr = ctx.Err()

	default:
		js.lastErr = err
		s.fail(js, StateFailed)
	}
}

// fail settles a failed instance: schedule a retry while attempts
// remain, otherwise finalize and alert.
func (s *Scheduler) fail(js *jobStatus, terminal JobState) {
	spec := js.spec
	if s.cfg.RetryEnabled && js.attempt < spec.Retry.MaxAttempts {
		js.attempt++
		delay := spec.Retry.Delay(js.attempt)
		js.state = StateRetryScheduled
		js.nextFire = time.Now().Add(delay)
		log.Printf("[Scheduler] %s failed (%v), retry %d/%d in %s",
			spec.ID, js.lastErr, js.attempt, spec.Retry.MaxAttempts, delay.Round(time.Second))
		return
	}
	js.state = terminal
	js.attempt = 0
	js.nextFire = spec.Trigger.Next(time.Now())
	log.Printf("[Scheduler] %s %s: %v", spec.ID, terminal, js.lastErr)
	if s.cfg.NotificationEnabled && s.metrics != nil {
		s.metrics.RaiseAlert(domain.AlertHigh, fmt.Sprintf("scheduled job %s %s: %v", spec.ID, terminal, js.lastErr))
	}
}

// RunNow fires a job immediately, outside its trigger, if it is not
// already at max instances. The caller's context gates admission only;
// the instance itself runs on the scheduler's lifecycle context, so an
// HTTP request that triggered it can return without killing the run.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("unknown job %q", id)
	}
	if s.stopping {
		return fmt.Errorf("scheduler is stopping")
	}
	if js.running >= js.spec.MaxInstances {
		return fmt.Errorf("job %q already at max instances", id)
	}
	if dep, unmet := s.unmetDependency(js); unmet {
		return &domain.DependencyError{JobID: id, DependsOn: dep}
	}
	now := time.Now()
	js.state = StateRunning
	js.running++
	js.lastFire = now
	s.runningTotal++
	s.wg.Add(1)
	runCtx := s.baseCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	go s.execute(runCtx, js, now)
	return nil
}

// Pause inhibits scheduling of one job without touching a running
// instance.
func (s *Scheduler) Pause(id string) error { return s.setPaused(id, true) }

// Resume reverses Pause and recomputes the next fire.
func (s *Scheduler) Resume(id string) error { return s.setPaused(id, false) }

func (s *Scheduler) setPaused(id string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("unknown job %q", id)
	}
	js.paused = paused
	if !paused {
		js.nextFire = js.spec.Trigger.Next(time.Now())
	}
	return nil
}

// Status snapshots every registered job for the admin surface.
func (s *Scheduler) Status() []JobView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	views := make([]JobView, 0, len(s.jobs))
	for _, js := range s.jobs {
		v := JobView{
			ID:       js.spec.ID,
			Name:     js.spec.Name,
			Trigger:  js.spec.Trigger.String(),
			State:    js.state,
			Paused:   js.paused,
			Priority: js.spec.Priority,
			NextFire: js.nextFire,
			LastFire: js.lastFire,
			Running:  js.running,
			Attempt:  js.attempt,
		}
		if js.lastErr != nil {
			v.LastErr = js.lastErr.Error()
		}
		views = append(views, v)
	}
	sort.Slice(views, func(a, b int) bool { return views[a].ID < views[b].ID })
	return views
}

// Stop admits nothing new, waits up to the shutdown grace for running
// jobs, then cancels with prejudice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	log.Printf("[Scheduler] stopping, waiting up to %s for running jobs", s.cfg.ShutdownGrace())

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[Scheduler] all jobs drained")
	case <-time.After(s.cfg.ShutdownGrace()):
		log.Printf("[Scheduler] shutdown grace expired, cancelling running jobs")
	}

	if s.cancel != nil {
		s.cancel()
	}
	<-s.stopped
	s.wg.Wait()
	log.Printf("[Scheduler] stopped")
}
