package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/megaartsstore/renderpipe/pkg/models"
)

// MemoryStore is a process-local Store. Every read returns a deep copy so callers
// never observe a record while it is being mutated.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*models.Job
	seq      map[string]int64
	next     int64
	products map[string]*models.ProductModel
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*models.Job),
		seq:      make(map[string]int64),
		products: make(map[string]*models.ProductModel),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, productID, inputFile string, jobType models.JobType) (*models.Job, error) {
	if jobType == "" {
		jobType = models.JobTypeFullRender
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &models.Job{
		JobID:       uuid.NewString(),
		ProductID:   productID,
		InputFile:   inputFile,
		JobType:     jobType,
		Status:      models.JobStatusPending,
		OutputFiles: map[string]any{},
		Logs:        []string{},
		CreatedAt:   s.now(),
	}
	s.next++
	s.jobs[job.JobID] = job
	s.seq[job.JobID] = s.next
	return job.Clone(), nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListJobsByProduct(_ context.Context, productID string, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Job
	for _, j := range s.jobs {
		if j.ProductID == productID {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		return s.seq[matched[a].JobID] > s.seq[matched[b].JobID]
	})

	limit = normalizeLimit(limit)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*models.Job, 0, len(matched))
	for _, j := range matched {
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, jobID string, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := checkTransition(job.Status, status); err != nil {
		return nil, err
	}

	now := s.now()
	job.Status = status
	if params.Progress != nil && *params.Progress > job.Progress {
		job.Progress = *params.Progress
	}
	if params.LogLine != nil {
		job.Logs = append(job.Logs, FormatLogLine(now, *params.LogLine))
	}
	if status == models.JobStatusFailed && params.Error != nil {
		e := *params.Error
		job.Error = &e
	}
	if job.StartedAt == nil {
		t := now
		job.StartedAt = &t
	}
	if status.IsTerminal() && job.CompletedAt == nil {
		t := now
		job.CompletedAt = &t
	}
	return job.Clone(), nil
}

func (s *MemoryStore) UpdateJobOutputs(_ context.Context, jobID string, outputs map[string]any, arConfig *models.ARConfig) (*models.Job, error) {
	normalized, err := normalizeOutputs(outputs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range normalized {
		if _, exists := job.OutputFiles[k]; !exists {
			job.OutputFiles[k] = v
		}
	}
	if arConfig != nil {
		job.ARConfig = arConfig.Clone()
	}
	return job.Clone(), nil
}

func (s *MemoryStore) UpsertProductModel(_ context.Context, pm *models.ProductModel) (*models.ProductModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.products[pm.ProductID]
	if !ok {
		existing = &models.ProductModel{ProductID: pm.ProductID}
		s.products[pm.ProductID] = existing
	}
	existing.OriginalURL = pm.OriginalURL
	existing.ModelURL = pm.ModelURL
	if existing.ModelURL == "" {
		existing.ModelURL = pm.OriginalURL
	}
	existing.FileName = pm.FileName
	existing.FileSize = pm.FileSize
	existing.Format = pm.Format
	existing.UploadedAt = now
	existing.UpdatedAt = now
	return cloneProductModel(existing), nil
}

func (s *MemoryStore) GetProductModel(_ context.Context, productID string) (*models.ProductModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pm, ok := s.products[productID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProductModel(pm), nil
}

func (s *MemoryStore) ApplyProductAR(_ context.Context, productID, modelURL string, arConfig *models.ARConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pm, ok := s.products[productID]
	if !ok {
		return ErrNotFound
	}
	if modelURL != "" {
		pm.ModelURL = modelURL
	}
	if arConfig != nil {
		pm.ARConfig = arConfig.Clone()
	}
	pm.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetProductAREnabled(_ context.Context, productID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pm, ok := s.products[productID]
	if !ok {
		return ErrNotFound
	}
	pm.AREnabled = enabled
	pm.UpdatedAt = s.now()
	return nil
}

// normalizeOutputs round-trips values through JSON so the memory store hands back
// the same shapes (map[string]any, []any, float64) the Postgres JSONB column does.
func normalizeOutputs(outputs map[string]any) (map[string]any, error) {
	b, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("encode output files: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode output files: %w", err)
	}
	return out, nil
}

func cloneProductModel(pm *models.ProductModel) *models.ProductModel {
	c := *pm
	c.ARConfig = pm.ARConfig.Clone()
	return &c
}
