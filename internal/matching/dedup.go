// Package matching runs the per-user pipeline: dedup → score → section
// selection → supplementation, fanned out over a bounded worker pool.
package matching

import (
	"log"
	"time"

	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

// Deduplicator filters out jobs from companies the user applied to
// within the rolling window. One hash set per user, O(|jobs|) scan.
type Deduplicator struct {
	window time.Duration
}

// NewDeduplicator creates a deduplicator with the given window in days.
// The config layer clamps the value to [1,90] before it gets here.
func NewDeduplicator(windowDays int) *Deduplicator {
	return &Deduplicator{window: time.Duration(windowDays) * 24 * time.Hour}
}

// Window returns the active suppression window.
func (d *Deduplicator) Window() time.Duration { return d.window }

// SuppressedCompanies builds the per-user suppression set. Applications
// with a zero applied_at are malformed upstream rows; they are logged
// and ignored, never fatal.
func (d *Deduplicator) SuppressedCompanies(userID int64, apps []domain.Application, now time.Time) map[string]struct{} {
	cutoff := now.Add(-d.window)
	set := make(map[string]struct{})
	for _, a := range apps {
		if a.AppliedAt.IsZero() {
			log.Printf("[Deduplicator] user=%d company=%s: missing applied_at, row ignored", userID, a.CompanyCode)
			continue
		}
		if !a.AppliedAt.Before(cutoff) {
			set[a.CompanyCode] = struct{}{}
		}
	}
	return set
}

// FilterIndexes returns the packed-job indexes that survive dedup,
// appended to out (reused across users by the worker).
func (d *Deduplicator) FilterIndexes(p *scoring.PackedJobs, suppressed map[string]struct{}, out []int) []int {
	out = out[:0]
	if len(suppressed) == 0 {
		for i := 0; i < p.Len(); i++ {
			out = append(out, i)
		}
		return out
	}
	for i := 0; i < p.Len(); i++ {
		if _, hit := suppressed[p.Jobs[i].CompanyCode]; !hit {
			out = append(out, i)
		}
	}
	return out
}
