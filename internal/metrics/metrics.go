// Package metrics is the in-process observability core: correlation IDs,
// per-phase counters, a pull-readable snapshot, and typed alert records
// raised through registered hooks.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/jobmatch-batch/internal/cache"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

// NewCorrelationID returns a fresh correlation id for one unit of work.
func NewCorrelationID() string { return uuid.NewString() }

// PhaseCounters tracks processed/succeeded/failed for one phase.
type PhaseCounters struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Snapshot is the pull-readable metrics surface exposed over the admin
// API. All values are point-in-time copies.
type Snapshot struct {
	BatchID         string                         `json:"batch_id,omitempty"`
	Phases          map[domain.Phase]PhaseCounters `json:"phases"`
	PhaseDurations  map[domain.Phase]time.Duration `json:"phase_durations"`
	PairsPerSecond  float64                        `json:"pairs_per_second"`
	PairsScored     int64                          `json:"pairs_scored"`
	FallbacksAdded  int64                          `json:"fallbacks_added"`
	EmailsQueued    int64                          `json:"emails_queued"`
	QueueDepth      int64                          `json:"queue_depth"`
	CacheHitRate    float64                        `json:"cache_hit_rate"`
	CacheStats      map[string]cache.Stats         `json:"cache_stats,omitempty"`
	ErrorHistogram  map[string]int64               `json:"error_histogram"`
	CollectedAt     time.Time                      `json:"collected_at"`
}

// AlertHook receives typed alert records; delivery is external.
type AlertHook func(domain.Alert)

// Collector accumulates counters for the current run. Safe for
// concurrent use: counters are atomics, maps serialize through a mutex.
type Collector struct {
	mu             sync.RWMutex
	batchID        string
	phases         map[domain.Phase]*PhaseCounters
	phaseDurations map[domain.Phase]time.Duration
	errorHistogram map[string]int64
	hooks          []AlertHook

	pairsScored    int64
	scoringStarted atomic.Int64 // unix nano of first scored pair
	scoringEnded   atomic.Int64
	fallbacksAdded int64
	emailsQueued   int64
	queueDepth     int64

	caches *cache.Caches
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		phases:         make(map[domain.Phase]*PhaseCounters),
		phaseDurations: make(map[domain.Phase]time.Duration),
		errorHistogram: make(map[string]int64),
	}
}

// AttachCaches wires the cache bundle so snapshots include hit rates.
func (c *Collector) AttachCaches(caches *cache.Caches) {
	c.mu.Lock()
	c.caches = caches
	c.mu.Unlock()
}

// StartRun resets per-run counters and records the active batch.
func (c *Collector) StartRun(batchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchID = batchID
	c.phases = make(map[domain.Phase]*PhaseCounters)
	c.phaseDurations = make(map[domain.Phase]time.Duration)
	c.errorHistogram = make(map[string]int64)
	atomic.StoreInt64(&c.pairsScored, 0)
	atomic.StoreInt64(&c.fallbacksAdded, 0)
	atomic.StoreInt64(&c.emailsQueued, 0)
	c.scoringStarted.Store(0)
	c.scoringEnded.Store(0)
}

func (c *Collector) counters(phase domain.Phase) *PhaseCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.phases[phase]
	if !ok {
		pc = &PhaseCounters{}
		c.phases[phase] = pc
	}
	return pc
}

// IncProcessed bumps the processed counter for a phase.
func (c *Collector) IncProcessed(phase domain.Phase, n int64) {
	atomic.AddInt64(&c.counters(phase).Processed, n)
}

// IncSucceeded bumps the succeeded counter for a phase.
func (c *Collector) IncSucceeded(phase domain.Phase, n int64) {
	atomic.AddInt64(&c.counters(phase).Succeeded, n)
}

// IncFailed bumps the failed counter for a phase.
func (c *Collector) IncFailed(phase domain.Phase, n int64) {
	atomic.AddInt64(&c.counters(phase).Failed, n)
}

// RecordPhaseDuration records the wall-clock duration of a phase.
func (c *Collector) RecordPhaseDuration(phase domain.Phase, d time.Duration) {
	c.mu.Lock()
	c.phaseDurations[phase] = d
	c.mu.Unlock()
}

// RecordError counts an error under its taxonomy kind.
func (c *Collector) RecordError(err error) {
	kind := string(domain.KindOf(err))
	c.mu.Lock()
	c.errorHistogram[kind]++
	c.mu.Unlock()
}

// AddPairsScored accumulates scored pairs and tracks the scoring window
// so throughput can be derived.
func (c *Collector) AddPairsScored(n int64) {
	now := time.Now().UnixNano()
	c.scoringStarted.CompareAndSwap(0, now)
	c.scoringEnded.Store(now)
	atomic.AddInt64(&c.pairsScored, n)
}

// AddFallbacks accumulates supplementer fallback items.
func (c *Collector) AddFallbacks(n int64) { atomic.AddInt64(&c.fallbacksAdded, n) }

// AddEmailsQueued accumulates queued email records.
func (c *Collector) AddEmailsQueued(n int64) { atomic.AddInt64(&c.emailsQueued, n) }

// SetQueueDepth publishes the current matching work-queue depth.
func (c *Collector) SetQueueDepth(n int64) { atomic.StoreInt64(&c.queueDepth, n) }

// RegisterAlertHook adds a consumer for raised alerts.
func (c *Collector) RegisterAlertHook(h AlertHook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, h)
	c.mu.Unlock()
}

// RaiseAlert fans a typed alert record out to every registered hook.
func (c *Collector) RaiseAlert(severity domain.AlertSeverity, message string) domain.Alert {
	c.mu.RLock()
	batchID := c.batchID
	hooks := make([]AlertHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.RUnlock()

	alert := domain.Alert{
		BatchID:   batchID,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	for _, h := range hooks {
		h(alert)
	}
	return alert
}

// PairsPerSecond derives scoring throughput from the observed window.
func (c *Collector) PairsPerSecond() float64 {
	pairs := atomic.LoadInt64(&c.pairsScored)
	start, end := c.scoringStarted.Load(), c.scoringEnded.Load()
	if pairs == 0 || end <= start {
		return 0
	}
	secs := float64(end-start) / float64(time.Second)
	if secs <= 0 {
		return 0
	}
	return float64(pairs) / secs
}

// Snapshot returns a point-in-time copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		BatchID:        c.batchID,
		Phases:         make(map[domain.Phase]PhaseCounters, len(c.phases)),
		PhaseDurations: make(map[domain.Phase]time.Duration, len(c.phaseDurations)),
		ErrorHistogram: make(map[string]int64, len(c.errorHistogram)),
		PairsScored:    atomic.LoadInt64(&c.pairsScored),
		PairsPerSecond: c.PairsPerSecond(),
		FallbacksAdded: atomic.LoadInt64(&c.fallbacksAdded),
		EmailsQueued:   atomic.LoadInt64(&c.emailsQueued),
		QueueDepth:     atomic.LoadInt64(&c.queueDepth),
		CollectedAt:    time.Now().UTC(),
	}
	for phase, pc := range c.phases {
		snap.Phases[phase] = PhaseCounters{
			Processed: atomic.LoadInt64(&pc.Processed),
			Succeeded: atomic.LoadInt64(&pc.Succeeded),
			Failed:    atomic.LoadInt64(&pc.Failed),
		}
	}
	for phase, d := range c.phaseDurations {
		snap.PhaseDurations[phase] = d
	}
	for kind, n := range c.errorHistogram {
		snap.ErrorHistogram[kind] = n
	}
	if c.caches != nil {
		snap.CacheHitRate = c.caches.CombinedHitRate()
		snap.CacheStats = map[string]cache.Stats{
			"static":  c.caches.Static.Stats(),
			"session": c.caches.Session.Stats(),
			"run":     c.caches.Run.Stats(),
		}
	}
	return snap
}

// ErrorSummary returns the error histogram as a plain map for the
// BatchRun summary report.
func (c *Collector) ErrorSummary() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.errorHistogram))
	for k, v := range c.errorHistogram {
		out[k] = int(v)
	}
	return out
}
