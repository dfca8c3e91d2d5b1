// Package scheduler runs pipeline jobs in the background on a fixed pool of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/megaartsstore/renderpipe/internal/metrics"
	"go.uber.org/zap"
)

// ErrSchedulerClosed is returned by Submit after Shutdown has been called.
var ErrSchedulerClosed = errors.New("scheduler is shut down")

var ErrTaskNotFound = errors.New("task not found")

// DefaultWorkers is used when New is given a non-positive worker count.
const DefaultWorkers = 5

// maxFinishedTasks bounds how many completed or failed tasks stay inspectable.
const maxFinishedTasks = 10000

// Runner executes one job to a terminal state. An error means the job could not
// be driven, not that the job itself failed.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskInfo is the scheduling lifecycle of one submitted job. It is independent of
// the job's pipeline status.
type TaskInfo struct {
	TaskID      string     `json:"task_id"`
	JobID       string     `json:"job_id"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type Stats struct {
	QueueSize   int `json:"queue_size"`
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	WorkerCount int `json:"worker_count"`
}

// Scheduler is an unbounded FIFO queue drained by a fixed number of workers.
type Scheduler struct {
	runner  Runner
	workers int
	logger  *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*TaskInfo
	tasks    map[string]*TaskInfo
	finished []string
	// keep is how many finished tasks stay in tasks.
	keep    int
	running int
	closed  bool
	started bool

	// lifetime counts, unaffected by retirement
	submitted int
	completed int
	failed    int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(runner Runner, workers int, logger *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	s := &Scheduler{
		runner:  runner,
		workers: workers,
		logger:  logger.Named("scheduler"),
		tasks:   make(map[string]*TaskInfo),
		keep:    maxFinishedTasks,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the workers. Tasks submitted before Start wait in the queue.
// Cancelling ctx aborts in-flight runs; use Shutdown to drain.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("scheduler started", zap.Int("workers", s.workers))
}

// Submit queues jobID and returns immediately.
func (s *Scheduler) Submit(jobID string) (TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return TaskInfo{}, fmt.Errorf("submit job %s: %w", jobID, ErrSchedulerClosed)
	}

	task := &TaskInfo{
		TaskID:    uuid.NewString(),
		JobID:     jobID,
		Status:    TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	s.tasks[task.TaskID] = task
	s.queue = append(s.queue, task)
	s.submitted++
	metrics.SetSchedulerQueueDepth(len(s.queue))
	s.cond.Signal()

	s.logger.Debug("task submitted", zap.String("task_id", task.TaskID), zap.String("job_id", jobID))
	return *task, nil
}

func (s *Scheduler) Task(taskID string) (TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return TaskInfo{}, ErrTaskNotFound
	}
	return copyTask(task), nil
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		QueueSize:   len(s.queue),
		Total:       s.submitted,
		Pending:     len(s.queue),
		Running:     s.running,
		Completed:   s.completed,
		Failed:      s.failed,
		WorkerCount: s.workers,
	}
}

// Shutdown stops accepting submissions and waits for queued and in-flight tasks to
// finish. If ctx expires first, running tasks are cancelled, queued ones are left
// pending, and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	started := s.started
	pending := len(s.queue)
	s.cond.Broadcast()
	s.mu.Unlock()

	if !started {
		return nil
	}
	s.logger.Info("scheduler draining", zap.Int("queued", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("scheduler drain timed out", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		task := s.next(ctx)
		if task == nil {
			return
		}
		s.execute(ctx, id, task)
	}
}

// next blocks until a task is available. It returns nil once the scheduler is
// closed and the queue is empty, or ctx is cancelled.
func (s *Scheduler) next(ctx context.Context) *TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}
	if len(s.queue) == 0 || ctx.Err() != nil {
		return nil
	}

	task := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	now := time.Now().UTC()
	task.Status = TaskRunning
	task.StartedAt = &now
	s.running++
	metrics.SetSchedulerQueueDepth(len(s.queue))
	metrics.SetSchedulerRunning(s.running)
	return task
}

func (s *Scheduler) execute(ctx context.Context, worker int, task *TaskInfo) {
	logger := s.logger.With(zap.String("task_id", task.TaskID), zap.String("job_id", task.JobID), zap.Int("worker", worker))
	logger.Info("task started")

	err := s.run(ctx, task.JobID)

	s.mu.Lock()
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err != nil {
		task.Status = TaskFailed
		task.Error = err.Error()
		s.failed++
	} else {
		task.Status = TaskCompleted
		s.completed++
	}
	s.running--
	s.retire(task.TaskID)
	metrics.SetSchedulerRunning(s.running)
	s.mu.Unlock()

	metrics.IncSchedulerTask(string(task.Status))
	if err != nil {
		logger.Error("task failed", zap.Error(err))
		return
	}
	logger.Info("task completed", zap.Duration("duration", now.Sub(*task.StartedAt)))
}

// run calls the runner and turns a panic into a task error.
func (s *Scheduler) run(ctx context.Context, jobID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic in task", zap.String("job_id", jobID), zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.runner.Run(ctx, jobID)
}

// retire records a finished task and forgets the oldest one past the cap.
// Must be called with s.mu held.
func (s *Scheduler) retire(taskID string) {
	s.finished = append(s.finished, taskID)
	if len(s.finished) > s.keep {
		delete(s.tasks, s.finished[0])
		s.finished[0] = ""
		s.finished = s.finished[1:]
	}
}

func copyTask(t *TaskInfo) TaskInfo {
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}
