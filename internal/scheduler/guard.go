package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"
)

// guardPollInterval is how often the guard samples usage. A breach must
// hold for two consecutive samples before the job is cancelled, so
// transient allocation spikes do not kill a run.
const guardPollInterval = 5 * time.Second

// memoryMB reports current heap usage in MiB. Swappable in tests.
var memoryMB = func() int {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int(ms.HeapAlloc / (1 << 20))
}

// resourceGuard watches one execution and cancels it when a limit is
// exceeded past the grace window. CPU enforcement needs an external
// probe; without one only the memory ceiling is live.
type resourceGuard struct {
	jobID  string
	limits ResourceLimits
	cancel context.CancelFunc

	mu      sync.Mutex
	breach  error
	strikes int
	done    chan struct{}
	wg      sync.WaitGroup
}

func newResourceGuard(jobID string, limits ResourceLimits, cancel context.CancelFunc) *resourceGuard {
	return &resourceGuard{
		jobID:  jobID,
		limits: limits,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (g *resourceGuard) start() {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(guardPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
				g.sample()
			}
		}
	}()
}

func (g *resourceGuard) sample() {
	if g.limits.MemoryMB <= 0 {
		return
	}
	used := memoryMB()
	g.mu.Lock()
	defer g.mu.Unlock()
	if used <= g.limits.MemoryMB {
		g.strikes = 0
		return
	}
	g.strikes++
	log.Printf("[ResourceGuard] %s memory %dMB over %dMB limit (strike %d)",
		g.jobID, used, g.limits.MemoryMB, g.strikes)
	if g.strikes >= 2 && g.breach == nil {
		g.breach = fmt.Errorf("job %s exceeded memory limit: %dMB > %dMB", g.jobID, used, g.limits.MemoryMB)
		g.cancel()
	}
}

func (g *resourceGuard) stop() {
	close(g.done)
	g.wg.Wait()
}

// tripped reports whether the guard cancelled the job.
func (g *resourceGuard) tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breach != nil
}

// cause returns the limit violation, nil if none.
func (g *resourceGuard) cause() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breach
}
