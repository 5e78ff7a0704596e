package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Timezone:             "Asia/Tokyo",
		MaxConcurrentJobs:    10,
		Coalesce:             true,
		MaxInstances:         1,
		MisfireGraceSeconds:  300,
		RetryEnabled:         false,
		MaxRetries:           3,
		RetryBackoffFactor:   2,
		RetryMaxDelaySeconds: 3600,
		ShutdownGraceSeconds: 2,
	}
}

func farTrigger(t *testing.T) Trigger {
	t.Helper()
	trig, err := NewIntervalTrigger(time.Hour)
	require.NoError(t, err)
	return trig
}

func specFor(t *testing.T, id string, run JobFunc) *JobSpec {
	t.Helper()
	return &JobSpec{
		ID:      id,
		Name:    id,
		Trigger: farTrigger(t),
		Run:     run,
		Enabled: true,
	}
}

// waitForState polls Status until the job reaches want or the deadline
// passes.
func waitForState(t *testing.T, s *Scheduler, id string, want JobState) JobView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, v := range s.Status() {
			if v.ID == id && v.State == want {
				return v
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s: %+v", id, want, s.Status())
	return JobView{}
}

func TestRegisterValidation(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	noop := func(ctx context.Context) error { return nil }

	assert.Error(t, s.Register(&JobSpec{Name: "no id", Trigger: farTrigger(t), Run: noop}))
	assert.Error(t, s.Register(&JobSpec{ID: "x", Run: noop}))
	assert.Error(t, s.Register(&JobSpec{ID: "x", Trigger: farTrigger(t)}))

	require.NoError(t, s.Register(specFor(t, "a", noop)))
	assert.Error(t, s.Register(specFor(t, "a", noop)), "duplicate id")

	dep := specFor(t, "b", noop)
	dep.Dependencies = []string{"missing"}
	assert.Error(t, s.Register(dep), "dependency must already be registered")

	ok := specFor(t, "c", noop)
	ok.Dependencies = []string{"a"}
	assert.NoError(t, s.Register(ok))
}

func TestRegisterDefaultsMaxInstances(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	spec := specFor(t, "a", func(ctx context.Context) error { return nil })
	require.NoError(t, s.Register(spec))
	assert.Equal(t, 1, spec.MaxInstances)
}

func TestRunNowCompletes(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	var calls atomic.Int32
	require.NoError(t, s.Register(specFor(t, "a", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})))

	require.NoError(t, s.RunNow(context.Background(), "a"))
	waitForState(t, s, "a", StateCompleted)
	assert.Equal(t, int32(1), calls.Load())

	assert.Error(t, s.RunNow(context.Background(), "nope"))
}

func TestRunNowSurvivesCallerCancel(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	s.Start(context.Background())
	defer s.Stop()

	release := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, s.Register(specFor(t, "a", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return ctx.Err()
		case <-release:
			return nil
		}
	})))

	// An admin request hands its own context to RunNow and then returns,
	// which cancels it. The run must keep going.
	reqCtx, cancelReq := context.WithCancel(context.Background())
	require.NoError(t, s.RunNow(reqCtx, "a"))
	cancelReq()

	waitForState(t, s, "a", StateRunning)
	close(release)
	v := waitForState(t, s, "a", StateCompleted)
	assert.False(t, cancelled.Load(), "caller cancellation must not reach the job")
	assert.Empty(t, v.LastErr)

	// A context already dead at call time still refuses admission.
	assert.Error(t, s.RunNow(reqCtx, "a"))
}

func TestRunNowFailureWithoutRetry(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	boom := errors.New("boom")
	require.NoError(t, s.Register(specFor(t, "a", func(ctx context.Context) error { return boom })))

	require.NoError(t, s.RunNow(context.Background(), "a"))
	v := waitForState(t, s, "a", StateFailed)
	assert.Contains(t, v.LastErr, "boom")
}

func TestRunNowFailureSchedulesRetry(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.RetryEnabled = true
	s := New(cfg, nil)
	require.NoError(t, s.Register(&JobSpec{
		ID:      "a",
		Trigger: farTrigger(t),
		Enabled: true,
		Run:     func(ctx context.Context) error { return errors.New("boom") },
		Retry: RetryPolicy{
			MaxAttempts: 2,
			Factor:      2,
			BaseDelay:   time.Minute,
			MaxDelay:    time.Hour,
		},
	}))

	require.NoError(t, s.RunNow(context.Background(), "a"))
	v := waitForState(t, s, "a", StateRetryScheduled)
	assert.Equal(t, 1, v.Attempt)
	assert.True(t, v.NextFire.After(time.Now().Add(time.Minute)), "backoff applied")
}

func TestRunNowTimeout(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	spec := specFor(t, "a", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	spec.Limits.Timeout = 30 * time.Millisecond
	require.NoError(t, s.Register(spec))

	require.NoError(t, s.RunNow(context.Background(), "a"))
	v := waitForState(t, s, "a", StateTimeout)
	assert.Contains(t, v.LastErr, "timeout")
}

func TestRunNowRejectsSecondInstance(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	release := make(chan struct{})
	require.NoError(t, s.Register(specFor(t, "a", func(ctx context.Context) error {
		<-release
		return nil
	})))

	require.NoError(t, s.RunNow(context.Background(), "a"))
	waitForState(t, s, "a", StateRunning)
	assert.Error(t, s.RunNow(context.Background(), "a"), "MaxInstances is one")
	close(release)
	waitForState(t, s, "a", StateCompleted)
}

func TestRunNowBlockedByDependency(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, s.Register(specFor(t, "upstream", noop)))
	spec := specFor(t, "down", noop)
	spec.Dependencies = []string{"upstream"}
	require.NoError(t, s.Register(spec))

	err := s.RunNow(context.Background(), "down")
	var de *domain.DependencyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "upstream", de.DependsOn)

	// Once the upstream completes, the downstream may fire.
	require.NoError(t, s.RunNow(context.Background(), "upstream"))
	waitForState(t, s, "upstream", StateCompleted)
	assert.NoError(t, s.RunNow(context.Background(), "down"))
	waitForState(t, s, "down", StateCompleted)
}

func TestDispatchPriorityUnderCeiling(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.MaxConcurrentJobs = 1
	s := New(cfg, nil)

	release := make(chan struct{})
	started := make(chan string, 2)
	for _, id := range []string{"low", "high"} {
		id := id
		spec := specFor(t, id, func(ctx context.Context) error {
			started <- id
			<-release
			return nil
		})
		if id == "high" {
			spec.Priority = PriorityCritical
		} else {
			spec.Priority = PriorityLow
		}
		require.NoError(t, s.Register(spec))
	}

	now := time.Now()
	s.mu.Lock()
	for _, js := range s.jobs {
		js.nextFire = now.Add(-time.Second)
	}
	s.mu.Unlock()

	s.dispatch(context.Background(), now)

	select {
	case id := <-started:
		assert.Equal(t, "high", id, "priority decides under the ceiling")
	case <-time.After(2 * time.Second):
		t.Fatal("nothing dispatched")
	}
	waitForState(t, s, "low", StatePending)
	close(release)
	waitForState(t, s, "high", StateCompleted)
}

func TestDispatchMisfireCoalesces(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	release := make(chan struct{})
	require.NoError(t, s.Register(specFor(t, "a", func(ctx context.Context) error {
		<-release
		return nil
	})))

	now := time.Now()
	s.mu.Lock()
	s.jobs["a"].nextFire = now.Add(-time.Second)
	s.mu.Unlock()
	s.dispatch(context.Background(), now)
	waitForState(t, s, "a", StateRunning)

	// The trigger fires again while the instance still runs.
	s.mu.Lock()
	s.jobs["a"].nextFire = now.Add(-time.Second)
	s.mu.Unlock()
	s.dispatch(context.Background(), now)

	s.mu.Lock()
	assert.Equal(t, StateMisfired, s.jobs["a"].state)
	assert.True(t, s.jobs["a"].nextFire.After(now), "coalesce advances the fire time")
	s.mu.Unlock()

	close(release)
	waitForState(t, s, "a", StateCompleted)
}

func TestPauseInhibitsDispatch(t *testing.T) {
	s := New(testSchedulerConfig(), nil)
	var calls atomic.Int32
	require.NoError(t, s.Register(specFor(t, "a", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})))
	require.NoError(t, s.Pause("a"))

	now := time.Now()
	s.mu.Lock()
	s.jobs["a"].nextFire = now.Add(-time.Second)
	s.mu.Unlock()
	s.dispatch(context.Background(), now)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, s.Resume("a"))
	s.mu.Lock()
	assert.True(t, s.jobs["a"].nextFire.After(now), "resume recomputes the next fire")
	s.mu.Unlock()

	assert.Error(t, s.Pause("nope"))
}
