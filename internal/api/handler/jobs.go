package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/megaartsstore/renderpipe/internal/api/response"
	"github.com/megaartsstore/renderpipe/internal/scheduler"
	"github.com/megaartsstore/renderpipe/internal/store"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"go.uber.org/zap"
)

// JobSubmitter queues a created job for background execution.
type JobSubmitter interface {
	Submit(jobID string) (scheduler.TaskInfo, error)
}

// JobResponse is a job as returned by the API.
type JobResponse struct {
	*models.Job
	StatusDisplay string `json:"status_display"`
	TaskID        string `json:"task_id,omitempty"`
}

func newJobResponse(job *models.Job) JobResponse {
	return JobResponse{Job: job, StatusDisplay: job.StatusDisplay()}
}

var validJobTypes = map[models.JobType]bool{
	models.JobTypeFullRender: true,
	models.JobTypeOptimize:   true,
	models.JobTypeThumbnail:  true,
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(st store.Store, sched JobSubmitter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductID string         `json:"product_id"`
			JobType   models.JobType `json:"job_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.ProductID = strings.TrimSpace(req.ProductID)
		if req.ProductID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "product_id is required", nil)
			return
		}
		if req.JobType == "" {
			req.JobType = models.JobTypeFullRender
		}
		if !validJobTypes[req.JobType] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"job_type must be one of full_render, optimize, thumbnail", nil)
			return
		}

		pm, err := st.GetProductModel(r.Context(), req.ProductID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && pm.OriginalURL == "") {
			response.Error(w, http.StatusBadRequest, "MODEL_NOT_UPLOADED",
				"Product has no 3D model uploaded. Upload a model first.", nil)
			return
		}
		if err != nil {
			internalError(w, logger, "load product model", err)
			return
		}

		job, err := st.CreateJob(r.Context(), req.ProductID, pm.OriginalURL, req.JobType)
		if err != nil {
			internalError(w, logger, "create job", err)
			return
		}

		task, err := sched.Submit(job.JobID)
		if err != nil {
			if errors.Is(err, scheduler.ErrSchedulerClosed) {
				// The job would never run; close it out so it does not sit in pending.
				if _, ferr := st.UpdateJobStatus(r.Context(), job.JobID, models.JobStatusFailed,
					store.WithError("scheduler unavailable"), store.WithLogLine("Error: scheduler unavailable")); ferr != nil {
					logger.Error("failed to close unscheduled job", zap.String("job_id", job.JobID), zap.Error(ferr))
				}
				response.Error(w, http.StatusServiceUnavailable, "SCHEDULER_UNAVAILABLE",
					"The job scheduler is shutting down", nil)
				return
			}
			internalError(w, logger, "submit job", err)
			return
		}

		logger.Info("job created", zap.String("job_id", job.JobID),
			zap.String("product_id", job.ProductID), zap.String("task_id", task.TaskID))

		resp := newJobResponse(job)
		resp.TaskID = task.TaskID
		response.Created(w, resp)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadJob(w, r, st, logger)
		if !ok {
			return
		}
		response.JSON(w, newJobResponse(job))
	}
}

// NewGetJobResultHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/result.
// A completed job's AR config is applied to its product again on every call.
func NewGetJobResultHandler(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadJob(w, r, st, logger)
		if !ok {
			return
		}

		if job.Status != models.JobStatusCompleted {
			response.Error(w, http.StatusConflict, "RESULT_NOT_READY",
				"Job is not completed. Current status: "+string(job.Status),
				map[string]any{"status": job.Status, "progress": job.Progress})
			return
		}

		if job.ARConfig != nil {
			glb, _ := job.OutputURL(models.OutputGLB)
			err := st.ApplyProductAR(r.Context(), job.ProductID, glb, job.ARConfig)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				logger.Warn("failed to apply AR config to product",
					zap.String("job_id", job.JobID), zap.String("product_id", job.ProductID), zap.Error(err))
			}
		}

		response.JSON(w, newJobResponse(job))
	}
}

// NewListProductJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs/by-product/{productID}.
func NewListProductJobsHandler(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "productID")

		limit := store.DefaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > store.DefaultListLimit {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be between 1 and "+strconv.Itoa(store.DefaultListLimit), nil)
				return
			}
			limit = n
		}

		jobs, err := st.ListJobsByProduct(r.Context(), productID, limit)
		if err != nil {
			internalError(w, logger, "list jobs", err)
			return
		}

		out := make([]JobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, newJobResponse(j))
		}
		response.Collection(w, out, response.ListMeta{Limit: limit, Total: len(out)})
	}
}

func loadJob(w http.ResponseWriter, r *http.Request, st store.Store, logger *zap.Logger) (*models.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, err := st.GetJob(r.Context(), jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return nil, false
	case err != nil:
		internalError(w, logger, "get job", err)
		return nil, false
	}
	return job, true
}

func internalError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	logger.Error(op+" failed", zap.Error(err))
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
