package scoring

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ignite/jobmatch-batch/internal/cache"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

// PackedJobs is the candidate universe in struct-of-arrays layout.
// Every derived field the inner loop needs (hourly equivalent, salary
// step, posting age, feature bits, major category) is computed exactly
// once here so scoring a pair touches only primitive slices.
type PackedJobs struct {
	Jobs []domain.Job // original rows, same order

	JobID      []int64
	Category   []int32
	Major      []int32 // major category; -1 when the hierarchy misses
	Prefecture []string
	City       []string
	Fee        []float64
	HourlyEq   []float64
	SalaryStep []float64 // precomputed stepwise salary attractiveness
	AccessPts  []float64 // precomputed station/address access points
	AgeBonus   []float64 // precomputed recency bonus
	AgeHours   []float64
	Features   []uint16
	Remote     []bool // employment text mentions remote or remote bit set
	LogSalary  []float64
}

// Pack builds the SoA representation for one run. now fixes the posting
// age so repeated scoring within a run is deterministic.
func Pack(jobs []domain.Job, static *cache.StaticCache, now time.Time) *PackedJobs {
	n := len(jobs)
	p := &PackedJobs{
		Jobs:       jobs,
		JobID:      make([]int64, n),
		Category:   make([]int32, n),
		Major:      make([]int32, n),
		Prefecture: make([]string, n),
		City:       make([]string, n),
		Fee:        make([]float64, n),
		HourlyEq:   make([]float64, n),
		SalaryStep: make([]float64, n),
		AccessPts:  make([]float64, n),
		AgeBonus:   make([]float64, n),
		AgeHours:   make([]float64, n),
		Features:   make([]uint16, n),
		Remote:     make([]bool, n),
		LogSalary:  make([]float64, n),
	}
	for i := range jobs {
		j := &jobs[i]
		p.JobID[i] = j.JobID
		p.Category[i] = int32(j.CategoryCode)
		if major, ok := static.MajorCategory(j.CategoryCode); ok {
			p.Major[i] = int32(major)
		} else {
			p.Major[i] = -1
		}
		p.Prefecture[i] = j.PrefectureCode
		p.City[i] = j.CityCode
		p.Fee[i] = float64(j.Fee)
		h := j.HourlyEquivalent()
		p.HourlyEq[i] = h
		p.SalaryStep[i] = salaryStep(h)
		p.AccessPts[i] = accessPoints(j)
		age := now.Sub(j.PostedAt)
		p.AgeHours[i] = age.Hours()
		p.AgeBonus[i] = recencyBonus(age)
		p.Features[i] = j.Features
		p.Remote[i] = j.HasFeature(domain.FeatureRemoteWork) || mentionsRemote(j.Employment)
		p.LogSalary[i] = math.Log1p(h)
	}
	return p
}

// Len returns the number of packed jobs.
func (p *PackedJobs) Len() int { return len(p.JobID) }

// Median returns the pool-wide median hourly equivalent, used by the
// HIGH_SALARY admission predicate.
func (p *PackedJobs) MedianHourly() float64 {
	if p.Len() == 0 {
		return 0
	}
	sorted := make([]float64, p.Len())
	copy(sorted, p.HourlyEq)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func salaryStep(hourly float64) float64 {
	switch {
	case hourly >= 1500:
		return 30
	case hourly >= 1200:
		return 20
	case hourly >= 1000:
		return 10
	default:
		return 5
	}
}

func accessPoints(j *domain.Job) float64 {
	pts := 5.0
	if j.StationName != "" {
		pts += 15
	}
	if j.Address != "" {
		pts += 5
	}
	if pts > 20 {
		pts = 20
	}
	return pts
}

func recencyBonus(age time.Duration) float64 {
	switch {
	case age <= 3*24*time.Hour:
		return 5
	case age <= 7*24*time.Hour:
		return 3
	case age <= 14*24*time.Hour:
		return 1
	default:
		return 0
	}
}

// mentionsRemote runs once per job at pack time, never in the inner loop.
func mentionsRemote(employment string) bool {
	return strings.Contains(strings.ToLower(employment), "remote")
}
