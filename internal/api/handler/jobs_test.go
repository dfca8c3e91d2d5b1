package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/megaartsstore/renderpipe/internal/scheduler"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJob_Queued(t *testing.T) {
	a := newTestAPI(t)
	pm := a.seedModel(t, "prod-1")

	rec := a.do(t, http.MethodPost, "/api/v1/jobs", map[string]string{"product_id": "prod-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decodeData(t, rec)
	jobID := data["job_id"].(string)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "Queued", data["status_display"])
	assert.Equal(t, "full_render", data["job_type"])
	assert.Equal(t, pm.OriginalURL, data["input_file"])
	assert.Equal(t, "task-"+jobID, data["task_id"])
	assert.Equal(t, []string{jobID}, a.sched.submitted)
}

func TestCreateJob_Validation(t *testing.T) {
	a := newTestAPI(t)
	a.seedModel(t, "prod-1")

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing product", map[string]string{}, "INVALID_REQUEST"},
		{"blank product", map[string]string{"product_id": "  "}, "INVALID_REQUEST"},
		{"bad job type", map[string]string{"product_id": "prod-1", "job_type": "sculpt"}, "INVALID_REQUEST"},
		{"no model", map[string]string{"product_id": "prod-2"}, "MODEL_NOT_UPLOADED"},
		{"not json", "{", "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
	assert.Empty(t, a.sched.submitted)
}

func TestCreateJob_SchedulerClosed(t *testing.T) {
	a := newTestAPI(t)
	a.seedModel(t, "prod-1")
	a.sched.err = fmt.Errorf("submit job x: %w", scheduler.ErrSchedulerClosed)

	rec := a.do(t, http.MethodPost, "/api/v1/jobs", map[string]string{"product_id": "prod-1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SCHEDULER_UNAVAILABLE", errorCode(t, rec))

	jobs, err := a.store.ListJobsByProduct(context.Background(), "prod-1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
	require.NotNil(t, jobs[0].Error)
	assert.Equal(t, "scheduler unavailable", *jobs[0].Error)
}

func TestGetJob(t *testing.T) {
	a := newTestAPI(t)
	a.seedModel(t, "prod-1")
	job, err := a.store.CreateJob(context.Background(), "prod-1", "in.obj", models.JobTypeOptimize)
	require.NoError(t, err)

	rec := a.do(t, http.MethodGet, "/api/v1/jobs/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, job.JobID, data["job_id"])
	assert.Equal(t, "optimize", data["job_type"])
	assert.EqualValues(t, 0, data["progress"])
	assert.NotContains(t, data, "task_id")

	rec = a.do(t, http.MethodGet, "/api/v1/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", errorCode(t, rec))
}

func TestGetJobResult_NotReady(t *testing.T) {
	a := newTestAPI(t)
	job, err := a.store.CreateJob(context.Background(), "prod-1", "in.obj", models.JobTypeFullRender)
	require.NoError(t, err)

	rec := a.do(t, http.MethodGet, "/api/v1/jobs/"+job.JobID+"/result", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "RESULT_NOT_READY", errorCode(t, rec))
}

func TestGetJobResult_AppliesARConfigToProduct(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	a.seedModel(t, "prod-1")
	job, err := a.store.CreateJob(ctx, "prod-1", "in.obj", models.JobTypeFullRender)
	require.NoError(t, err)
	a.completeJob(t, job.JobID, &models.ARConfig{Scale: 1.0924, WristDiameter: 6.5, BangleThickness: 1.2})

	rec := a.do(t, http.MethodGet, "/api/v1/jobs/"+job.JobID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "completed", data["status"])
	assert.EqualValues(t, 100, data["progress"])

	pm, err := a.store.GetProductModel(ctx, "prod-1")
	require.NoError(t, err)
	require.NotNil(t, pm.ARConfig)
	assert.Equal(t, 1.0924, pm.ARConfig.Scale)
	assert.Equal(t, "http://files.test/jobs/"+job.JobID+"/optimized.glb", pm.ModelURL)
}

func TestGetJobResult_ProductGone(t *testing.T) {
	a := newTestAPI(t)
	job, err := a.store.CreateJob(context.Background(), "orphan", "in.obj", models.JobTypeFullRender)
	require.NoError(t, err)
	a.completeJob(t, job.JobID, &models.ARConfig{Scale: 1})

	rec := a.do(t, http.MethodGet, "/api/v1/jobs/"+job.JobID+"/result", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListProductJobs(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := a.store.CreateJob(ctx, "prod-1", "in.obj", models.JobTypeFullRender)
		require.NoError(t, err)
	}
	_, err := a.store.CreateJob(ctx, "prod-2", "in.obj", models.JobTypeFullRender)
	require.NoError(t, err)

	rec := a.do(t, http.MethodGet, "/api/v1/jobs/by-product/prod-1?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Limit int `json:"limit"`
			Total int `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, jsonDecode(rec, &env))
	assert.Len(t, env.Data, 2)
	assert.Equal(t, 2, env.Meta.Limit)
	assert.Equal(t, 2, env.Meta.Total)
	for _, j := range env.Data {
		assert.Equal(t, "prod-1", j["product_id"])
	}

	rec = a.do(t, http.MethodGet, "/api/v1/jobs/by-product/unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, jsonDecode(rec, &env))
	assert.Empty(t, env.Data)

	for _, bad := range []string{"0", "101", "ten"} {
		rec = a.do(t, http.MethodGet, "/api/v1/jobs/by-product/prod-1?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}
}
