// Package pipeline drives a render job from pending to a terminal status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/megaartsstore/renderpipe/internal/blob"
	"github.com/megaartsstore/renderpipe/internal/config"
	"github.com/megaartsstore/renderpipe/internal/events"
	"github.com/megaartsstore/renderpipe/internal/metrics"
	"github.com/megaartsstore/renderpipe/internal/store"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"go.uber.org/zap"
)

// Progress milestones. A stage enters at its milestone and the next stage's
// milestone is the previous stage's completion value.
const (
	ProgressValidating = 10
	ProgressCleaning   = 25
	ProgressOptimizing = 30
	ProgressRendering  = 50
	ProgressTurnaround = 60
	ProgressExporting  = 70
	ProgressARConfig   = 90
	ProgressCompleted  = 100
)

// Config controls a Runner.
type Config struct {
	TargetFaces      int
	ThumbnailSize    int
	TurnaroundWidth  int
	TurnaroundHeight int
	TurnaroundAngles []float64
	// StageTimeout bounds each processor call. Zero disables it.
	StageTimeout time.Duration
	// WorkDir is the parent of per-job workspaces. Empty means os.TempDir.
	WorkDir string
	// StoreRetryMaxElapsed bounds the retries of a single job store write.
	StoreRetryMaxElapsed time.Duration
}

// ConfigFrom builds a Runner config from the processor settings.
func ConfigFrom(cfg config.ProcessorConfig) Config {
	return Config{
		TargetFaces:          cfg.TargetFaces,
		ThumbnailSize:        cfg.ThumbnailSize,
		TurnaroundWidth:      cfg.TurnaroundWidth,
		TurnaroundHeight:     cfg.TurnaroundHeight,
		TurnaroundAngles:     append([]float64(nil), cfg.TurnaroundAngles...),
		StageTimeout:         cfg.StageTimeout,
		StoreRetryMaxElapsed: 30 * time.Second,
	}
}

// Runner executes the processing pipeline for one job at a time. It is safe to
// call Run concurrently for different jobs.
type Runner struct {
	store     store.Store
	blobs     blob.Store
	processor models.ModelProcessor
	events    events.Publisher
	cfg       Config
	logger    *zap.Logger
}

func NewRunner(st store.Store, blobs blob.Store, processor models.ModelProcessor, publisher events.Publisher, cfg Config, logger *zap.Logger) *Runner {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.TargetFaces <= 0 {
		cfg.TargetFaces = 10000
	}
	if cfg.ThumbnailSize <= 0 {
		cfg.ThumbnailSize = 800
	}
	if cfg.TurnaroundWidth <= 0 || cfg.TurnaroundHeight <= 0 {
		cfg.TurnaroundWidth, cfg.TurnaroundHeight = 1920, 1080
	}
	if len(cfg.TurnaroundAngles) == 0 {
		cfg.TurnaroundAngles = []float64{0, 45, 90, 135, 180, 225, 270, 315}
	}
	if cfg.StoreRetryMaxElapsed <= 0 {
		cfg.StoreRetryMaxElapsed = 30 * time.Second
	}
	return &Runner{
		store:     st,
		blobs:     blobs,
		processor: processor,
		events:    publisher,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
}

// Backend is the name of the processor the runner drives.
func (r *Runner) Backend() string { return r.processor.Name() }

// persistError marks a job store write that failed after retries. It aborts the
// run and is reported to the caller instead of being recorded on the job.
type persistError struct {
	op  string
	err error
}

func (e *persistError) Error() string { return fmt.Sprintf("persist %s: %v", e.op, e.err) }
func (e *persistError) Unwrap() error { return e.err }

// Run executes every stage for jobID. A job already in a terminal status is left
// untouched. Processing failures end the job as failed and Run returns nil; only
// job store failures are returned.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	var job *models.Job
	err := r.retry(ctx, func() error {
		var err error
		job, err = r.store.GetJob(ctx, jobID)
		return err
	})
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		r.logger.Info("job already finished, skipping", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return nil
	}

	metrics.JobStarted()
	jr := &jobRun{
		runner: r,
		job:    job,
		logger: r.logger.With(zap.String("job_id", jobID), zap.String("backend", r.Backend())),
	}

	runErr := jr.execute(ctx)

	var pe *persistError
	switch {
	case runErr == nil:
		metrics.JobFinished(string(models.JobStatusCompleted), r.Backend())
		return nil
	case errors.As(runErr, &pe):
		metrics.JobFinished(string(models.JobStatusFailed), r.Backend())
		jr.logger.Error("job store write failed", zap.Error(runErr))
		// Best effort: the store may be healthy again for the terminal write.
		jr.fail(ctx, runErr.Error())
		return runErr
	default:
		metrics.JobFinished(string(models.JobStatusFailed), r.Backend())
		if err := jr.fail(ctx, jr.failureMessage(runErr)); err != nil {
			return err
		}
		return nil
	}
}

// jobRun carries the state of one execution.
type jobRun struct {
	runner    *Runner
	job       *models.Job
	logger    *zap.Logger
	workspace string
	stage     string

	inputPath     string
	cleanedPath   string
	optimizedPath string
	optimizedURL  string
	arConfig      *models.ARConfig
	timedOut      time.Duration
}

func (jr *jobRun) execute(ctx context.Context) (err error) {
	r := jr.runner

	jr.workspace, err = os.MkdirTemp(r.cfg.WorkDir, "renderpipe-job-")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(jr.workspace); rmErr != nil {
			jr.logger.Warn("failed to remove workspace", zap.String("workspace", jr.workspace), zap.Error(rmErr))
		}
	}()

	steps := []struct {
		status   models.JobStatus
		progress int
		message  string
		run      func(context.Context) error
	}{
		{models.JobStatusValidating, ProgressValidating, "Validating model", jr.validate},
		{models.JobStatusCleaning, ProgressCleaning, "Cleaning geometry", jr.clean},
		{models.JobStatusOptimizing, ProgressOptimizing, fmt.Sprintf("Optimizing mesh (target: %d faces)", r.cfg.TargetFaces), jr.optimize},
		{models.JobStatusRendering, ProgressRendering, "Rendering thumbnail", jr.render},
		{models.JobStatusExporting, ProgressExporting, "Computing AR configuration", jr.export},
	}

	for _, step := range steps {
		jr.stage = string(step.status)
		if err := jr.update(ctx, step.status, step.progress, step.message); err != nil {
			return err
		}
		jr.logger.Info("stage started", zap.String("stage", jr.stage), zap.Int("progress", step.progress))

		start := time.Now()
		err := step.run(ctx)
		metrics.ObserveStage(jr.stage, r.Backend(), time.Since(start), err == nil)
		if err != nil {
			return err
		}
	}

	jr.stage = string(models.JobStatusCompleted)
	if err := jr.update(ctx, models.JobStatusCompleted, ProgressCompleted, "Processing completed successfully"); err != nil {
		return err
	}
	jr.logger.Info("job completed", zap.Int("progress", ProgressCompleted))

	jr.applyProductAR(ctx)
	jr.publish(ctx)
	return nil
}

func (jr *jobRun) validate(ctx context.Context) error {
	r := jr.runner

	jr.inputPath = filepath.Join(jr.workspace, "input"+inputExt(jr.job.InputFile))
	if err := jr.download(ctx, jr.job.InputFile, jr.inputPath); err != nil {
		return err
	}

	var report models.ValidationReport
	err := jr.withDeadline(ctx, func(ctx context.Context) error {
		var err error
		report, err = r.processor.Validate(ctx, jr.inputPath)
		return err
	})
	if err != nil {
		return err
	}
	for _, w := range report.Warnings {
		if err := jr.log(ctx, models.JobStatusValidating, "Warning: "+w); err != nil {
			return err
		}
	}
	if !report.Valid || len(report.Issues) > 0 {
		return &models.ValidationError{Issues: report.Issues}
	}
	return jr.log(ctx, models.JobStatusValidating, fmt.Sprintf("Model valid: %d faces, %d vertices",
		report.Stats.Faces, report.Stats.Vertices))
}

func (jr *jobRun) clean(ctx context.Context) error {
	r := jr.runner
	jr.cleanedPath = filepath.Join(jr.workspace, "cleaned.glb")

	var report models.CleanReport
	err := jr.withDeadline(ctx, func(ctx context.Context) error {
		var err error
		report, err = r.processor.Clean(ctx, jr.inputPath, jr.cleanedPath)
		return err
	})
	if err != nil {
		return err
	}
	return jr.log(ctx, models.JobStatusCleaning, fmt.Sprintf("Merged %d vertices, removed %d faces and %d loose vertices",
		report.MergedVertices, report.RemovedFaces, report.RemovedVertices))
}

func (jr *jobRun) optimize(ctx context.Context) error {
	r := jr.runner
	jr.optimizedPath = filepath.Join(jr.workspace, "optimized.glb")

	var stats models.OptimizationStats
	err := jr.withDeadline(ctx, func(ctx context.Context) error {
		var err error
		stats, err = r.processor.Optimize(ctx, jr.cleanedPath, jr.optimizedPath, r.cfg.TargetFaces)
		return err
	})
	if err != nil {
		return err
	}

	url, err := jr.upload(ctx, jr.optimizedPath, jr.key("optimized.glb"))
	if err != nil {
		return err
	}
	jr.optimizedURL = url

	outputs := map[string]any{
		models.OutputGLB:               url,
		models.OutputOptimizationStats: stats,
	}
	if err := jr.outputs(ctx, outputs, nil); err != nil {
		return err
	}
	return jr.log(ctx, models.JobStatusOptimizing, fmt.Sprintf("Reduced faces: %d -> %d (%.2f%%)",
		stats.OriginalFaces, stats.OptimizedFaces, stats.ReductionPercentage))
}

func (jr *jobRun) render(ctx context.Context) error {
	r := jr.runner

	thumbPath := filepath.Join(jr.workspace, "thumbnail.png")
	size := models.Resolution{Width: r.cfg.ThumbnailSize, Height: r.cfg.ThumbnailSize}
	err := jr.withDeadline(ctx, func(ctx context.Context) error {
		return r.processor.RenderThumbnail(ctx, jr.optimizedPath, thumbPath, size)
	})
	if err != nil {
		return err
	}
	thumbURL, err := jr.upload(ctx, thumbPath, jr.key("thumbnail.png"))
	if err != nil {
		return err
	}
	if err := jr.outputs(ctx, map[string]any{models.OutputThumbnail: thumbURL}, nil); err != nil {
		return err
	}

	angles := r.cfg.TurnaroundAngles
	if err := jr.update(ctx, models.JobStatusRendering, ProgressTurnaround,
		fmt.Sprintf("Rendering 360 turnaround (%d angles)", len(angles))); err != nil {
		return err
	}

	var frames []string
	res := models.Resolution{Width: r.cfg.TurnaroundWidth, Height: r.cfg.TurnaroundHeight}
	err = jr.withDeadline(ctx, func(ctx context.Context) error {
		var err error
		frames, err = r.processor.RenderTurnaround(ctx, jr.optimizedPath, filepath.Join(jr.workspace, "renders"), angles, res)
		return err
	})
	if err != nil {
		return err
	}
	if len(frames) != len(angles) {
		return models.NewProcessingError("turnaround",
			fmt.Errorf("expected %d frames, got %d", len(angles), len(frames)))
	}

	urls, err := jr.uploadFrames(ctx, frames, angles)
	if err != nil {
		return err
	}
	if err := jr.outputs(ctx, map[string]any{models.OutputRenders360: urls}, nil); err != nil {
		return err
	}
	return jr.log(ctx, models.JobStatusRendering, fmt.Sprintf("Generated %d turnaround frames", len(urls)))
}

func (jr *jobRun) export(ctx context.Context) error {
	r := jr.runner

	var report models.AlignmentReport
	err := jr.withDeadline(ctx, func(ctx context.Context) error {
		var err error
		report, err = r.processor.ExtractAlignment(ctx, jr.optimizedPath)
		return err
	})
	if err != nil {
		return err
	}

	jr.arConfig = ComputeARConfig(report)
	if err := jr.outputs(ctx, nil, jr.arConfig); err != nil {
		return err
	}
	return jr.update(ctx, models.JobStatusExporting, ProgressARConfig,
		fmt.Sprintf("AR configuration computed (scale: %.4f)", jr.arConfig.Scale))
}

// applyProductAR copies the finished asset onto the product. The job is already
// completed, so a failure here is only logged; the result endpoint applies it again.
func (jr *jobRun) applyProductAR(ctx context.Context) {
	err := jr.runner.retry(ctx, func() error {
		return jr.runner.store.ApplyProductAR(ctx, jr.job.ProductID, jr.optimizedURL, jr.arConfig)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		jr.logger.Warn("product has no model record, AR config not applied", zap.String("product_id", jr.job.ProductID))
	case err != nil:
		jr.logger.Error("failed to apply AR config to product", zap.String("product_id", jr.job.ProductID), zap.Error(err))
	}
}

// fail moves the job to failed. It returns a persistError only when the store
// could not record the failure.
func (jr *jobRun) fail(ctx context.Context, msg string) error {
	r := jr.runner
	ctx = context.WithoutCancel(ctx)

	var job *models.Job
	err := r.retry(ctx, func() error {
		var err error
		job, err = r.store.UpdateJobStatus(ctx, jr.job.JobID, models.JobStatusFailed,
			store.WithError(msg), store.WithLogLine("Error: "+msg))
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			jr.logger.Warn("job already terminal, failure not recorded", zap.String("error", msg))
			return nil
		}
		return &persistError{op: "failed status", err: err}
	}
	jr.job = job
	jr.logger.Warn("job failed", zap.String("stage", jr.stage), zap.Int("progress", job.Progress), zap.String("error", msg))
	jr.publish(ctx)
	return nil
}

func (jr *jobRun) publish(ctx context.Context) {
	ev := events.NewJobEvent(jr.job, jr.runner.Backend())
	if err := jr.runner.events.Publish(ctx, ev); err != nil {
		jr.logger.Warn("failed to publish job event", zap.String("status", string(ev.Status)), zap.Error(err))
	}
}

// failureMessage is the text recorded in the job's error field.
func (jr *jobRun) failureMessage(err error) string {
	if jr.timedOut > 0 {
		return fmt.Sprintf("stage %s timed out after %s", jr.stage, jr.timedOut)
	}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	var perr *models.ProcessingError
	if errors.As(err, &perr) {
		return perr.Error()
	}
	return fmt.Sprintf("%s failed: %v", jr.stage, err)
}

// withDeadline runs a processor call under the configured stage timeout.
func (jr *jobRun) withDeadline(ctx context.Context, fn func(context.Context) error) error {
	timeout := jr.runner.cfg.StageTimeout
	if timeout <= 0 {
		return fn(ctx)
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(stageCtx)
	if err != nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		jr.timedOut = timeout
	}
	return err
}

func (jr *jobRun) update(ctx context.Context, status models.JobStatus, progress int, msg string) error {
	r := jr.runner
	var job *models.Job
	err := r.retry(ctx, func() error {
		var err error
		job, err = r.store.UpdateJobStatus(ctx, jr.job.JobID, status, store.WithProgress(progress), store.WithLogLine(msg))
		return err
	})
	if err != nil {
		return &persistError{op: string(status) + " status", err: err}
	}
	jr.job = job
	return nil
}

// log appends a log line without changing status or progress.
func (jr *jobRun) log(ctx context.Context, status models.JobStatus, msg string) error {
	r := jr.runner
	var job *models.Job
	err := r.retry(ctx, func() error {
		var err error
		job, err = r.store.UpdateJobStatus(ctx, jr.job.JobID, status, store.WithLogLine(msg))
		return err
	})
	if err != nil {
		return &persistError{op: "log line", err: err}
	}
	jr.job = job
	return nil
}

func (jr *jobRun) outputs(ctx context.Context, outputs map[string]any, ar *models.ARConfig) error {
	r := jr.runner
	var job *models.Job
	err := r.retry(ctx, func() error {
		var err error
		job, err = r.store.UpdateJobOutputs(ctx, jr.job.JobID, outputs, ar)
		return err
	})
	if err != nil {
		return &persistError{op: "outputs", err: err}
	}
	jr.job = job
	return nil
}

func (jr *jobRun) download(ctx context.Context, url, dst string) error {
	rc, err := jr.runner.blobs.Open(ctx, url)
	if err != nil {
		return models.NewProcessingError("download", fmt.Errorf("open input %s: %w", url, err))
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return models.NewProcessingError("download", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return models.NewProcessingError("download", fmt.Errorf("copy input: %w", err))
	}
	if err := f.Close(); err != nil {
		return models.NewProcessingError("download", err)
	}
	return nil
}

func (jr *jobRun) upload(ctx context.Context, src, key string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", models.NewProcessingError("upload", err)
	}
	defer f.Close()

	url, err := jr.runner.blobs.Put(ctx, key, f, blob.ContentTypeFor(key))
	if err != nil {
		return "", models.NewProcessingError("upload", fmt.Errorf("put %s: %w", key, err))
	}
	return url, nil
}

func (jr *jobRun) key(name string) string {
	return path.Join("jobs", jr.job.JobID, name)
}

// retry runs a job store operation with exponential backoff. Missing jobs and
// rejected transitions are not retried.
func (r *Runner) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = r.cfg.StoreRetryMaxElapsed

	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func inputExt(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.ToLower(path.Ext(url))
}
