package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleJob(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody JobRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	fireAt := time.Date(2026, time.February, 10, 13, 45, 0, 0, time.UTC)

	id, err := client.ScheduleJob(context.Background(), "reminder-17", JobRequest{
		Schedule:    fireAt.Format(time.RFC3339),
		CallbackURL: "http://task-service:8081/internal/reminders/trigger",
		Data:        json.RawMessage(`{"task_id":5,"user_id":2}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "reminder-17", id)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/internal/jobs/reminder-17", gotPath)
	assert.Equal(t, "2026-02-10T13:45:00Z", gotBody.Schedule)
}

func TestScheduleJobServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.ScheduleJob(context.Background(), "reminder-17", JobRequest{Schedule: "@every 1m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler 5xx")
}

func TestDeleteJobMissingIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	assert.NoError(t, client.DeleteJob(context.Background(), "reminder-17"))
}

func TestDeleteJobServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	assert.Error(t, client.DeleteJob(context.Background(), "reminder-17"))
}
