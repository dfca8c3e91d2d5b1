package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsTotal,
		jobsInProgress,
		stageDuration,
	)
}

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderpipe_jobs_total",
			Help: "Render jobs that reached a terminal status, by status and backend.",
		},
		[]string{"status", "backend"},
	)

	jobsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderpipe_jobs_in_progress",
			Help: "Render jobs currently executing the pipeline.",
		},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "renderpipe_stage_duration_seconds",
			Help:    "Pipeline stage duration by stage, backend and success.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "backend", "success"},
	)
)

func JobStarted() { jobsInProgress.Inc() }

// JobFinished records the terminal status of one run.
func JobFinished(status, backend string) {
	jobsInProgress.Dec()
	jobsTotal.WithLabelValues(norm(status), norm(backend)).Inc()
}

func ObserveStage(stage, backend string, d time.Duration, success bool) {
	stageDuration.WithLabelValues(norm(stage), norm(backend), strconv.FormatBool(success)).Observe(d.Seconds())
}
