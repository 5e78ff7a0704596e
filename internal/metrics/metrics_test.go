package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmatch-batch/internal/cache"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

func TestPhaseCounters(t *testing.T) {
	c := NewCollector()
	c.StartRun("batch_20260824_030000")

	c.IncProcessed(domain.PhaseMatching, 100)
	c.IncSucceeded(domain.PhaseMatching, 95)
	c.IncFailed(domain.PhaseMatching, 5)
	c.IncProcessed(domain.PhaseImport, 1)

	snap := c.Snapshot()
	assert.Equal(t, "batch_20260824_030000", snap.BatchID)
	assert.Equal(t, PhaseCounters{Processed: 100, Succeeded: 95, Failed: 5}, snap.Phases[domain.PhaseMatching])
	assert.Equal(t, int64(1), snap.Phases[domain.PhaseImport].Processed)
}

func TestStartRunResetsCounters(t *testing.T) {
	c := NewCollector()
	c.StartRun("a")
	c.IncProcessed(domain.PhaseMatching, 10)
	c.AddPairsScored(500)
	c.AddEmailsQueued(3)
	c.RecordError(&domain.ValidationError{Row: "1"})

	c.StartRun("b")
	snap := c.Snapshot()
	assert.Equal(t, "b", snap.BatchID)
	assert.Empty(t, snap.Phases)
	assert.Zero(t, snap.PairsScored)
	assert.Zero(t, snap.EmailsQueued)
	assert.Empty(t, snap.ErrorHistogram)
}

func TestErrorHistogramByKind(t *testing.T) {
	c := NewCollector()
	c.RecordError(&domain.ValidationError{Row: "1"})
	c.RecordError(&domain.ValidationError{Row: "2"})
	c.RecordError(&domain.SectionError{UserID: 7})
	c.RecordError(errors.New("mystery"))

	summary := c.ErrorSummary()
	assert.Equal(t, 2, summary["validation"])
	assert.Equal(t, 1, summary["section"])
	assert.Equal(t, 1, summary["other"])
}

func TestPairsPerSecond(t *testing.T) {
	c := NewCollector()
	assert.Zero(t, c.PairsPerSecond(), "no pairs yet")

	c.AddPairsScored(1000)
	// A single instant gives no window; throughput stays at zero rather
	// than spiking to infinity.
	assert.Zero(t, c.PairsPerSecond())
}

func TestAlertHooks(t *testing.T) {
	c := NewCollector()
	c.StartRun("batch_x")

	var got []domain.Alert
	c.RegisterAlertHook(func(a domain.Alert) { got = append(got, a) })

	alert := c.RaiseAlert(domain.AlertHigh, "matching overran its budget")
	require.Len(t, got, 1)
	assert.Equal(t, alert, got[0])
	assert.Equal(t, "batch_x", got[0].BatchID)
	assert.Equal(t, domain.AlertHigh, got[0].Severity)
}

func TestSnapshotIncludesCacheStats(t *testing.T) {
	c := NewCollector()
	caches, err := cache.NewCaches()
	require.NoError(t, err)
	caches.Static.Warm(map[string][]string{"13": {"11"}}, nil)
	caches.Static.Adjacent("13", "11")
	c.AttachCaches(caches)

	snap := c.Snapshot()
	require.Contains(t, snap.CacheStats, "static")
	assert.Equal(t, int64(1), snap.CacheStats["static"].Hits)
	assert.Equal(t, 1.0, snap.CacheHitRate)
}
