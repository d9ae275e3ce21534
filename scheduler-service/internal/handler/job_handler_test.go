package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskloop/scheduler-service/internal/jobstore"
)

type memJobStore struct {
	jobs map[string]jobstore.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]jobstore.Job)}
}

func (m *memJobStore) Upsert(ctx context.Context, job jobstore.Job, fireAt time.Time) error {
	m.jobs[job.Name] = job
	return nil
}

func (m *memJobStore) Delete(ctx context.Context, name string) (bool, error) {
	_, ok := m.jobs[name]
	delete(m.jobs, name)
	return ok, nil
}

func (m *memJobStore) Get(ctx context.Context, name string) (*jobstore.Job, error) {
	job, ok := m.jobs[name]
	if !ok {
		return nil, jobstore.ErrJobNotFound
	}
	return &job, nil
}

func newJobRouter(store JobStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewJobHandler(store, zap.NewNop())
	r := gin.New()
	r.PUT("/internal/jobs/:name", h.UpsertJob)
	r.GET("/internal/jobs/:name", h.GetJob)
	r.DELETE("/internal/jobs/:name", h.DeleteJob)
	return r
}

func TestUpsertJobStoresOneShot(t *testing.T) {
	store := newMemJobStore()
	r := newJobRouter(store)

	body := `{"schedule": "2026-03-10T08:45:00Z", "callback_url": "http://task-service:8081/internal/reminders/trigger", "data": {"reminder_id": 42}}`
	req := httptest.NewRequest(http.MethodPut, "/internal/jobs/reminder-42", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"job_id":"reminder-42"`)
	job, ok := store.jobs["reminder-42"]
	require.True(t, ok)
	assert.Equal(t, "2026-03-10T08:45:00Z", job.Schedule)
}

func TestUpsertJobRejectsInvalidSchedule(t *testing.T) {
	store := newMemJobStore()
	r := newJobRouter(store)

	body := `{"schedule": "tomorrow", "callback_url": "http://task-service:8081/x"}`
	req := httptest.NewRequest(http.MethodPut, "/internal/jobs/reminder-42", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.jobs)
}

func TestDeleteAbsentJobIsSuccess(t *testing.T) {
	r := newJobRouter(newMemJobStore())

	// Cancels are best-effort and may race the dispatcher's cleanup of a
	// fired one-shot, so deleting a job that is already gone is a success.
	req := httptest.NewRequest(http.MethodDelete, "/internal/jobs/reminder-404", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteExistingJobRemovesIt(t *testing.T) {
	store := newMemJobStore()
	store.jobs["reminder-42"] = jobstore.Job{Name: "reminder-42"}
	r := newJobRouter(store)

	req := httptest.NewRequest(http.MethodDelete, "/internal/jobs/reminder-42", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.jobs)
}
