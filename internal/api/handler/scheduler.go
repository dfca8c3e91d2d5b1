package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/megaartsstore/renderpipe/internal/api/response"
	"github.com/megaartsstore/renderpipe/internal/scheduler"
)

// SchedulerInspector exposes scheduling state for operators.
type SchedulerInspector interface {
	Stats() scheduler.Stats
	Task(taskID string) (scheduler.TaskInfo, error)
}

// NewSchedulerStatsHandler returns an http.HandlerFunc for GET /api/v1/scheduler/stats.
func NewSchedulerStatsHandler(s SchedulerInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, s.Stats())
	}
}

// NewSchedulerTaskHandler returns an http.HandlerFunc for GET /api/v1/scheduler/tasks/{taskID}.
func NewSchedulerTaskHandler(s SchedulerInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := s.Task(chi.URLParam(r, "taskID"))
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			response.Error(w, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.JSON(w, task)
	}
}
