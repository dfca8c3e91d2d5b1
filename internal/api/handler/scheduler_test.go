package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/megaartsstore/renderpipe/internal/api/handler"
	"github.com/megaartsstore/renderpipe/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, string) error { return nil }

func TestSchedulerEndpoints(t *testing.T) {
	s := scheduler.New(noopRunner{}, 3, zaptest.NewLogger(t))
	task, err := s.Submit("job-1")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/api/v1/scheduler/stats", handler.NewSchedulerStatsHandler(s))
	r.Get("/api/v1/scheduler/tasks/{taskID}", handler.NewSchedulerTaskHandler(s))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scheduler/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeData(t, rec)
	assert.EqualValues(t, 1, stats["queue_size"])
	assert.EqualValues(t, 1, stats["pending"])
	assert.EqualValues(t, 3, stats["worker_count"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scheduler/tasks/"+task.TaskID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeData(t, rec)
	assert.Equal(t, task.TaskID, info["task_id"])
	assert.Equal(t, "job-1", info["job_id"])
	assert.Equal(t, "pending", info["status"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scheduler/tasks/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TASK_NOT_FOUND", errorCode(t, rec))
}
