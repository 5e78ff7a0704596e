package scheduler

import (
	"context"
	"time"
)

// Priority orders the ready set at dispatch; higher wins.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 15
)

// JobState is the lifecycle state of one scheduled job.
type JobState string

const (
	StatePending        JobState = "PENDING"
	StateRunning        JobState = "RUNNING"
	StateCompleted      JobState = "COMPLETED"
	StateFailed         JobState = "FAILED"
	StateTimeout        JobState = "TIMEOUT"
	StateCancelled      JobState = "CANCELLED"
	StateRetryScheduled JobState = "RETRY_SCHEDULED"
	StateMisfired       JobState = "MISFIRED"
)

// RetryPolicy controls redelivery after failures. Delay after attempt
// k is min(MaxDelay, BaseDelay * Factor^k).
type RetryPolicy struct {
	MaxAttempts int
	Factor      float64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay computes the backoff before retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ResourceLimits bounds one execution. Zero means unlimited.
type ResourceLimits struct {
	MemoryMB   int
	CPUPercent int
	Timeout    time.Duration
}

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// JobSpec describes one recurring job.
type JobSpec struct {
	ID           string
	Name         string
	Trigger      Trigger
	Run          JobFunc
	Enabled      bool
	Priority     Priority
	MaxInstances int
	Dependencies []string
	Retry        RetryPolicy
	Limits       ResourceLimits
}

// jobStatus is the scheduler's mutable view of one registered job,
// guarded by the scheduler mutex.
type jobStatus struct {
	spec     *JobSpec
	state    JobState
	paused   bool
	nextFire time.Time
	lastFire time.Time
	lastEnd  time.Time
	lastErr  error
	attempt  int
	running  int // live instances
	// completedAt tracks the last COMPLETED end for dependency gating.
	completedAt time.Time
}

// JobView is the read-only snapshot served by Status and the admin API.
type JobView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Trigger  string    `json:"trigger"`
	State    JobState  `json:"state"`
	Paused   bool      `json:"paused"`
	Priority Priority  `json:"priority"`
	NextFire time.Time `json:"next_fire"`
	LastFire time.Time `json:"last_fire"`
	Running  int       `json:"running"`
	Attempt  int       `json:"attempt"`
	LastErr  string    `json:"last_error,omitempty"`
}
