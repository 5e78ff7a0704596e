package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/metrics"
	"github.com/ignite/jobmatch-batch/internal/repository/postgres"
	"github.com/ignite/jobmatch-batch/internal/scheduler"
)

// cancelRecorder stands in for the pipeline runner behind RunCanceller.
type cancelRecorder struct {
	calls  []string
	result bool
}

func (c *cancelRecorder) Cancel(batchID string) bool {
	c.calls = append(c.calls, batchID)
	return c.result
}

func testHandlers(t *testing.T, runs RunCanceller) (*chi.Mux, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	store := postgres.NewStore(db, 100)
	mc := metrics.NewCollector()
	sched := scheduler.New(config.Default().Scheduler, mc)
	h := NewHandlers(store, mc, sched, runs, "test")
	return SetupRoutes(h), mock
}

// Cancelling a RUNNING batch must flip the DB row and stop the
// in-process run on the host that owns it.
func TestCancelBatchStopsOwnedRun(t *testing.T) {
	runs := &cancelRecorder{result: true}
	router, mock := testHandlers(t, runs)

	mock.ExpectExec("UPDATE batch_executions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches/batch_x/cancel", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cancelling", body["status"])
	assert.Equal(t, true, body["stopping_run"])
	assert.Equal(t, []string{"batch_x"}, runs.calls, "the in-process run is cancelled")
}

// A batch another host owns still gets its row flipped; the response
// says no local run was stopped.
func TestCancelBatchNotOwnedHere(t *testing.T) {
	runs := &cancelRecorder{result: false}
	router, mock := testHandlers(t, runs)

	mock.ExpectExec("UPDATE batch_executions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches/batch_y/cancel", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["stopping_run"])
	assert.Equal(t, []string{"batch_y"}, runs.calls)
}

// A batch already in a terminal state is a conflict and the run
// registry is never consulted.
func TestCancelBatchNotRunning(t *testing.T) {
	runs := &cancelRecorder{result: true}
	router, mock := testHandlers(t, runs)

	mock.ExpectExec("UPDATE batch_executions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches/batch_z/cancel", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, runs.calls)
}
