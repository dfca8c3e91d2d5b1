package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/megaartsstore/renderpipe/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrInvalidTransition = errors.New("invalid job status transition")

// DefaultListLimit caps ListJobsByProduct when the caller passes no limit.
const DefaultListLimit = 100

// StorageError wraps a failure of the underlying storage layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the data access interface. All database operations go through here.
// Every mutation is atomic for a single job record and safe to retry.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, productID, inputFile string, jobType models.JobType) (*models.Job, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobsByProduct(ctx context.Context, productID string, limit int) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error)
	UpdateJobOutputs(ctx context.Context, jobID string, outputs map[string]any, arConfig *models.ARConfig) (*models.Job, error)

	UpsertProductModel(ctx context.Context, pm *models.ProductModel) (*models.ProductModel, error)
	GetProductModel(ctx context.Context, productID string) (*models.ProductModel, error)
	ApplyProductAR(ctx context.Context, productID, modelURL string, arConfig *models.ARConfig) error
	SetProductAREnabled(ctx context.Context, productID string, enabled bool) error
}

type jobUpdateParams struct {
	Progress *int
	LogLine  *string
	Error    *string
}

type JobUpdateOption func(*jobUpdateParams)

// WithProgress sets progress. Values are clamped to 0..100 and never lower the stored value.
func WithProgress(p int) JobUpdateOption {
	return func(params *jobUpdateParams) {
		p = clampProgress(p)
		params.Progress = &p
	}
}

// WithLogLine appends a timestamped line to the job log.
func WithLogLine(msg string) JobUpdateOption {
	return func(params *jobUpdateParams) {
		params.LogLine = &msg
	}
}

// WithError records the failure description. Only honoured on the failed transition.
func WithError(msg string) JobUpdateOption {
	return func(params *jobUpdateParams) {
		params.Error = &msg
	}
}

func applyOptions(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// FormatLogLine renders a log entry the way it is persisted: "[<RFC3339 UTC>] message".
func FormatLogLine(at time.Time, msg string) string {
	return fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), msg)
}

func checkTransition(current, next models.JobStatus) error {
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
