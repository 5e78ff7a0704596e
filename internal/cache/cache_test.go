package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

func TestStaticCacheAdjacency(t *testing.T) {
	c := NewStaticCache()
	assert.False(t, c.Warmed())

	c.Warm(map[string][]string{"13": {"11", "12", "14"}}, map[int]int{101: 1, 102: 1, 201: 2})
	assert.True(t, c.Warmed())

	assert.True(t, c.Adjacent("13", "11"))
	assert.False(t, c.Adjacent("13", "27"))
	assert.False(t, c.Adjacent("99", "13"), "unknown prefecture")
}

func TestStaticCacheHierarchy(t *testing.T) {
	c := NewStaticCache()
	c.Warm(nil, map[int]int{101: 1, 102: 1, 201: 2})

	major, ok := c.MajorCategory(101)
	require.True(t, ok)
	assert.Equal(t, 1, major)
	_, ok = c.MajorCategory(999)
	assert.False(t, ok)

	assert.True(t, c.SameMajorCategory(101, 102))
	assert.False(t, c.SameMajorCategory(101, 201))
	assert.False(t, c.SameMajorCategory(101, 999))
	assert.False(t, c.SameMajorCategory(999, 101))
}

func TestSessionCacheHourBucketTTL(t *testing.T) {
	c, err := NewSessionCache(16)
	require.NoError(t, err)

	at := time.Date(2026, 8, 24, 3, 10, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	c.PutPopularity(domain.CompanyPopularity{CompanyCode: "C1", PopularityScore: 72})
	got, ok := c.GetPopularity("C1")
	require.True(t, ok)
	assert.Equal(t, 72.0, got.PopularityScore)

	// Same hour, later minute: still fresh.
	at = at.Add(40 * time.Minute)
	_, ok = c.GetPopularity("C1")
	assert.True(t, ok)

	// Next hour bucket: expired.
	at = at.Add(30 * time.Minute)
	_, ok = c.GetPopularity("C1")
	assert.False(t, ok)
}

func TestSessionCacheLRUEviction(t *testing.T) {
	c, err := NewSessionCache(2)
	require.NoError(t, err)

	c.PutPopularity(domain.CompanyPopularity{CompanyCode: "A"})
	c.PutPopularity(domain.CompanyPopularity{CompanyCode: "B"})
	c.PutPopularity(domain.CompanyPopularity{CompanyCode: "C"})

	_, ok := c.GetPopularity("A")
	assert.False(t, ok, "oldest entry evicted at capacity two")
	_, ok = c.GetPopularity("C")
	assert.True(t, ok)
}

func TestRunCacheResetBetweenRuns(t *testing.T) {
	c := NewRunCache()
	apps := []domain.Application{{UserID: 1, CompanyCode: "C1"}}
	c.PutHistory(1, apps)

	got, ok := c.History(1)
	require.True(t, ok)
	assert.Equal(t, apps, got)

	c.Reset()
	_, ok = c.History(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestStatsAndCombinedHitRate(t *testing.T) {
	caches, err := NewCaches()
	require.NoError(t, err)
	caches.Static.Warm(map[string][]string{"13": {"11"}}, nil)

	caches.Static.Adjacent("13", "11") // hit
	caches.Static.Adjacent("99", "11") // miss
	caches.Run.PutHistory(1, nil)
	caches.Run.History(1) // hit
	caches.Run.History(2) // miss

	assert.Equal(t, 0.5, caches.CombinedHitRate())

	s := caches.Static.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 0.5, s.HitRate)
}
