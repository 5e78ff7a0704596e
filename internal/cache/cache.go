// Package cache holds the three in-process caches the scoring pipeline
// reads during a run. They have different lifetimes and are modeled as
// separate structures:
//
//   - StaticCache: run-lifetime reference data (prefecture adjacency,
//     occupation hierarchy). Warmed once, immutable afterwards, so
//     parallel readers need no lock.
//   - SessionCache: company popularity rollups, bucketed by hour with an
//     LRU cap and a 1h TTL.
//   - RunCache: per-user application history for the current run only.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// Stats is a point-in-time hit/miss snapshot across one cache.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

func rate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// =============================================================================
// STATIC CACHE (run-lifetime, immutable after warmup)
// =============================================================================

// StaticCache holds reference data preloaded at startup. Warm must
// complete before any reader starts; after that all access is lock-free.
type StaticCache struct {
	adjacency map[string][]string // pref code -> adjacent pref codes
	hierarchy map[int]int         // category code -> major category code

	hits   int64
	misses int64
	warmed bool
}

// NewStaticCache returns an empty, unwarmed static cache.
func NewStaticCache() *StaticCache {
	return &StaticCache{
		adjacency: make(map[string][]string),
		hierarchy: make(map[int]int),
	}
}

// Warm installs the reference data. Call exactly once, before readers.
func (c *StaticCache) Warm(adjacency map[string][]string, hierarchy map[int]int) {
	c.adjacency = adjacency
	c.hierarchy = hierarchy
	c.warmed = true
}

// Warmed reports whether reference data has been installed.
func (c *StaticCache) Warmed() bool { return c.warmed }

// Adjacent reports whether two prefecture codes are adjacent.
func (c *StaticCache) Adjacent(a, b string) bool {
	neighbors, ok := c.adjacency[a]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return false
	}
	atomic.AddInt64(&c.hits, 1)
	for _, n := range neighbors {
		if n == b {
			return true
		}
	}
	return false
}

// MajorCategory returns the major category for a category code, and
// whether the hierarchy knows the code.
func (c *StaticCache) MajorCategory(code int) (int, bool) {
	major, ok := c.hierarchy[code]
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return major, ok
}

// SameMajorCategory reports whether two category codes share a major
// category per the occupation hierarchy.
func (c *StaticCache) SameMajorCategory(a, b int) bool {
	ma, ok := c.MajorCategory(a)
	if !ok {
		return false
	}
	mb, ok := c.MajorCategory(b)
	return ok && ma == mb
}

// Stats returns hit/miss counters for this cache.
func (c *StaticCache) Stats() Stats {
	h, m := atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
	return Stats{Hits: h, Misses: m, Entries: len(c.adjacency) + len(c.hierarchy), HitRate: rate(h, m)}
}

// =============================================================================
// SESSION CACHE (TTL 1h, LRU capped)
// =============================================================================

// DefaultSessionCap is the LRU entry cap for the session cache.
const DefaultSessionCap = 50000

// SessionCache caches company popularity keyed by (code, hour bucket).
// Entries written in a previous hour bucket are treated as expired, which
// gives the 1h TTL without a sweeper goroutine.
type SessionCache struct {
	lru    *lru.Cache
	hits   int64
	misses int64
	now    func() time.Time // injectable for tests
}

type sessionKey struct {
	code   string
	bucket int64 // unix hour
}

// NewSessionCache creates a session cache with the given LRU cap.
// cap <= 0 uses DefaultSessionCap.
func NewSessionCache(capacity int) (*SessionCache, error) {
	if capacity <= 0 {
		capacity = DefaultSessionCap
	}
	l, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &SessionCache{lru: l, now: time.Now}, nil
}

func (c *SessionCache) bucket() int64 {
	return c.now().Unix() / 3600
}

// GetPopularity returns the cached popularity rollup for a company code
// within the current hour bucket.
func (c *SessionCache) GetPopularity(code string) (domain.CompanyPopularity, bool) {
	v, ok := c.lru.Get(sessionKey{code: code, bucket: c.bucket()})
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return domain.CompanyPopularity{}, false
	}
	atomic.AddInt64(&c.hits, 1)
	return v.(domain.CompanyPopularity), true
}

// PutPopularity stores a popularity rollup under the current hour bucket.
func (c *SessionCache) PutPopularity(p domain.CompanyPopularity) {
	c.lru.Add(sessionKey{code: p.CompanyCode, bucket: c.bucket()}, p)
}

// Stats returns hit/miss counters for this cache.
func (c *SessionCache) Stats() Stats {
	h, m := atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
	return Stats{Hits: h, Misses: m, Entries: c.lru.Len(), HitRate: rate(h, m)}
}

// =============================================================================
// RUN CACHE (transient, cleared at end of run)
// =============================================================================

// RunCache holds per-user application history for the current run.
// Writes serialize through a short-held mutex; the matching workers are
// read-mostly.
type RunCache struct {
	mu      sync.RWMutex
	history map[int64][]domain.Application
	hits    int64
	misses  int64
}

// NewRunCache returns an empty run cache.
func NewRunCache() *RunCache {
	return &RunCache{history: make(map[int64][]domain.Application)}
}

// PutHistory stores one user's bulk-loaded application history.
func (c *RunCache) PutHistory(userID int64, apps []domain.Application) {
	c.mu.Lock()
	c.history[userID] = apps
	c.mu.Unlock()
}

// History returns the stored application history for a user.
func (c *RunCache) History(userID int64) ([]domain.Application, bool) {
	c.mu.RLock()
	apps, ok := c.history[userID]
	c.mu.RUnlock()
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return apps, ok
}

// Reset clears the cache at the end of a run.
func (c *RunCache) Reset() {
	c.mu.Lock()
	c.history = make(map[int64][]domain.Application)
	c.mu.Unlock()
}

// Stats returns hit/miss counters for this cache.
func (c *RunCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.history)
	c.mu.RUnlock()
	h, m := atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
	return Stats{Hits: h, Misses: m, Entries: n, HitRate: rate(h, m)}
}

// =============================================================================
// COMBINED VIEW
// =============================================================================

// Caches bundles the three cache classes for wiring through the pipeline.
type Caches struct {
	Static  *StaticCache
	Session *SessionCache
	Run     *RunCache
}

// NewCaches builds the standard bundle with default sizing.
func NewCaches() (*Caches, error) {
	session, err := NewSessionCache(DefaultSessionCap)
	if err != nil {
		return nil, err
	}
	return &Caches{
		Static:  NewStaticCache(),
		Session: session,
		Run:     NewRunCache(),
	}, nil
}

// CombinedHitRate reports the steady-state hit rate across all three
// caches; the design target is ≥0.90.
func (c *Caches) CombinedHitRate() float64 {
	s1, s2, s3 := c.Static.Stats(), c.Session.Stats(), c.Run.Stats()
	return rate(s1.Hits+s2.Hits+s3.Hits, s1.Misses+s2.Misses+s3.Misses)
}
