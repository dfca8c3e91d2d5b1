package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/megaartsstore/renderpipe/internal/cache"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"go.uber.org/zap"
)

// CachedStore serves GetJob for finished jobs from the cache. Only terminal jobs
// are cached because nothing may change them afterwards, so a cached copy can
// never be older than the database row. Cache failures fall through to the store.
type CachedStore struct {
	Store
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps inner with a read cache for terminal jobs.
func NewCachedStore(inner Store, c cache.Cache, ttl time.Duration, logger *zap.Logger) *CachedStore {
	return &CachedStore{Store: inner, cache: c, ttl: ttl, logger: logger}
}

func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.Store.Ping(ctx); err != nil {
		return err
	}
	return s.cache.Ping(ctx)
}

func (s *CachedStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	key := cache.JobKey(jobID)
	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("job cache read failed", zap.String("job_id", jobID), zap.Error(err))
	} else if ok {
		var job models.Job
		if err := json.Unmarshal(raw, &job); err == nil {
			return &job, nil
		}
		_ = s.cache.Delete(ctx, key)
	}

	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, job)
	return job, nil
}

func (s *CachedStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	job, err := s.Store.UpdateJobStatus(ctx, jobID, status, opts...)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, job)
	return job, nil
}

func (s *CachedStore) UpdateJobOutputs(ctx context.Context, jobID string, outputs map[string]any, arConfig *models.ARConfig) (*models.Job, error) {
	job, err := s.Store.UpdateJobOutputs(ctx, jobID, outputs, arConfig)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		_ = s.cache.Delete(ctx, cache.JobKey(jobID))
	}
	return job, nil
}

func (s *CachedStore) remember(ctx context.Context, job *models.Job) {
	if !job.Status.IsTerminal() {
		return
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.JobKey(job.JobID), raw, s.ttl); err != nil {
		s.logger.Warn("job cache write failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}
