package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		schedulerQueueDepth,
		schedulerRunning,
		schedulerTasksTotal,
	)
}

var (
	schedulerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderpipe_scheduler_queue_depth",
			Help: "Tasks waiting for a worker.",
		},
	)

	schedulerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderpipe_scheduler_running",
			Help: "Tasks currently held by a worker.",
		},
	)

	schedulerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderpipe_scheduler_tasks_total",
			Help: "Scheduler tasks that finished, by scheduling status (completed/failed).",
		},
		[]string{"status"},
	)
)

func SetSchedulerQueueDepth(n int) { schedulerQueueDepth.Set(float64(n)) }

func SetSchedulerRunning(n int) { schedulerRunning.Set(float64(n)) }

func IncSchedulerTask(status string) {
	schedulerTasksTotal.WithLabelValues(norm(status)).Inc()
}
