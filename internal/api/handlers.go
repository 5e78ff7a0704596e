package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/metrics"
	"github.com/ignite/jobmatch-batch/internal/pkg/httputil"
	"github.com/ignite/jobmatch-batch/internal/repository/postgres"
	"github.com/ignite/jobmatch-batch/internal/scheduler"
)

// NightlyJobID is the scheduler id of the nightly batch job; RunBatch
// fires it manually.
const NightlyJobID = "nightly-batch"

// RunCanceller stops an in-process batch run. The pipeline runner
// implements it.
type RunCanceller interface {
	Cancel(batchID string) bool
}

// Handlers carries the dependencies of the admin endpoints.
type Handlers struct {
	store   *postgres.Store
	metrics *metrics.Collector
	sched   *scheduler.Scheduler
	runs    RunCanceller
	version string
}

// NewHandlers builds the handler set.
func NewHandlers(store *postgres.Store, mc *metrics.Collector, sched *scheduler.Scheduler, runs RunCanceller, version string) *Handlers {
	return &Handlers{store: store, metrics: mc, sched: sched, runs: runs, version: version}
}

// Health reports process liveness and the scheduler's job states.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"jobs":    h.sched.Status(),
	})
}

// ListBatches returns recent runs, optionally filtered by ?status=.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	status := domain.BatchStatus(r.URL.Query().Get("status"))
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			httputil.BadRequest(w, "limit must be 1..500")
			return
		}
		limit = n
	}
	runs, err := h.store.ListBatchRuns(r.Context(), status, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"batches": runs, "count": len(runs)})
}

// GetBatch returns one run with its phase timings and error summary.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	run, err := h.store.GetBatchRun(r.Context(), batchID)
	if errors.Is(err, domain.ErrNotFound) {
		httputil.NotFound(w, "unknown batch "+batchID)
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, run)
}

// RunBatch fires the nightly job immediately.
func (h *Handlers) RunBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.RunNow(r.Context(), NightlyJobID); err != nil {
		httputil.Error(w, http.StatusConflict, err.Error())
		return
	}
	httputil.Accepted(w, map[string]string{"status": "started"})
}

// CancelBatch requests cancellation of a running batch: the DB row is
// flipped first, then the in-process run (if this host owns it) is
// cancelled so it actually stops.
func (h *Handlers) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	ok, err := h.store.MarkBatchCancelled(r.Context(), batchID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !ok {
		httputil.Error(w, http.StatusConflict, "batch is not running")
		return
	}
	stopped := false
	if h.runs != nil {
		stopped = h.runs.Cancel(batchID)
	}
	httputil.OK(w, map[string]interface{}{"status": "cancelling", "stopping_run": stopped})
}

// Metrics serves the pull-readable snapshot.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.metrics.Snapshot())
}

// SchedulerJobs lists every registered job and its state.
func (h *Handlers) SchedulerJobs(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.sched.Status())
}
