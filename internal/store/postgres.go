package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/megaartsstore/renderpipe/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `job_id, product_id, input_file, job_type, status, progress, output_files, ar_config,
	error, logs, created_at, started_at, completed_at`

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, productID, inputFile string, jobType models.JobType) (*models.Job, error) {
	if jobType == "" {
		jobType = models.JobTypeFullRender
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO render_jobs (job_id, product_id, input_file, job_type, status, progress, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6)
		 RETURNING `+jobColumns,
		uuid.New(), productID, inputFile, string(jobType), string(models.JobStatusPending), time.Now().UTC())
	job, err := scanJob(row)
	if err != nil {
		return nil, &StorageError{Op: "create job", Err: err}
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, ErrNotFound
	}
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM render_jobs WHERE job_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get job", Err: err}
	}
	return job, nil
}

func (s *PostgresStore) ListJobsByProduct(ctx context.Context, productID string, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM render_jobs WHERE product_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`, productID, normalizeLimit(limit))
	if err != nil {
		return nil, &StorageError{Op: "list jobs", Err: err}
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan job", Err: err}
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list jobs", Err: err}
	}
	return jobs, nil
}

// UpdateJobStatus locks the row, checks the transition and applies every field in one UPDATE.
// progress only moves up, started_at and completed_at are stamped once, logs are appended.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, ErrNotFound
	}
	params := applyOptions(opts)
	now := time.Now().UTC()

	var logLine *string
	if params.LogLine != nil {
		l := FormatLogLine(now, *params.LogLine)
		logLine = &l
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &StorageError{Op: "begin update job status", Err: err}
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM render_jobs WHERE job_id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get job status", Err: err}
	}
	if err := checkTransition(models.JobStatus(current), status); err != nil {
		return nil, err
	}

	terminal := status.IsTerminal()
	job, err := scanJob(tx.QueryRow(ctx,
		`UPDATE render_jobs SET
		   status       = $2,
		   progress     = GREATEST(progress, COALESCE($3, progress)),
		   logs         = CASE WHEN $4::text IS NULL THEN logs ELSE array_append(logs, $4::text) END,
		   error        = CASE WHEN $2 = 'failed' THEN COALESCE($5, error) ELSE error END,
		   started_at   = COALESCE(started_at, $6),
		   completed_at = CASE WHEN $7 THEN COALESCE(completed_at, $6) ELSE completed_at END
		 WHERE job_id = $1
		 RETURNING `+jobColumns,
		id, string(status), params.Progress, logLine, params.Error, now, terminal))
	if err != nil {
		return nil, &StorageError{Op: "update job status", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &StorageError{Op: "commit job status", Err: err}
	}
	return job, nil
}

// UpdateJobOutputs merges outputs into output_files. Slots that already exist keep their value.
func (s *PostgresStore) UpdateJobOutputs(ctx context.Context, jobID string, outputs map[string]any, arConfig *models.ARConfig) (*models.Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, ErrNotFound
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	outJSON, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("encode output files: %w", err)
	}
	var arJSON *string
	if arConfig != nil {
		b, err := json.Marshal(arConfig)
		if err != nil {
			return nil, fmt.Errorf("encode ar config: %w", err)
		}
		str := string(b)
		arJSON = &str
	}

	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE render_jobs SET
		   output_files = $2::jsonb || output_files,
		   ar_config    = COALESCE($3::jsonb, ar_config)
		 WHERE job_id = $1
		 RETURNING `+jobColumns,
		id, string(outJSON), arJSON))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "update job outputs", Err: err}
	}
	return job, nil
}

// --- Product models ---

const productColumns = `product_id, original_url, model_url, file_name, file_size, format, ar_config,
	ar_enabled, uploaded_at, updated_at`

func (s *PostgresStore) UpsertProductModel(ctx context.Context, pm *models.ProductModel) (*models.ProductModel, error) {
	now := time.Now().UTC()
	modelURL := pm.ModelURL
	if modelURL == "" {
		modelURL = pm.OriginalURL
	}
	out, err := scanProductModel(s.pool.QueryRow(ctx,
		`INSERT INTO product_models (product_id, original_url, model_url, file_name, file_size, format, uploaded_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (product_id) DO UPDATE SET
		   original_url = EXCLUDED.original_url,
		   model_url    = EXCLUDED.model_url,
		   file_name    = EXCLUDED.file_name,
		   file_size    = EXCLUDED.file_size,
		   format       = EXCLUDED.format,
		   uploaded_at  = EXCLUDED.uploaded_at,
		   updated_at   = EXCLUDED.updated_at
		 RETURNING `+productColumns,
		pm.ProductID, pm.OriginalURL, modelURL, pm.FileName, pm.FileSize, pm.Format, now))
	if err != nil {
		return nil, &StorageError{Op: "upsert product model", Err: err}
	}
	return out, nil
}

func (s *PostgresStore) GetProductModel(ctx context.Context, productID string) (*models.ProductModel, error) {
	pm, err := scanProductModel(s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM product_models WHERE product_id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get product model", Err: err}
	}
	return pm, nil
}

func (s *PostgresStore) ApplyProductAR(ctx context.Context, productID, modelURL string, arConfig *models.ARConfig) error {
	var arJSON *string
	if arConfig != nil {
		b, err := json.Marshal(arConfig)
		if err != nil {
			return fmt.Errorf("encode ar config: %w", err)
		}
		str := string(b)
		arJSON = &str
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE product_models SET
		   model_url  = COALESCE(NULLIF($2, ''), model_url),
		   ar_config  = COALESCE($3::jsonb, ar_config),
		   updated_at = $4
		 WHERE product_id = $1`,
		productID, modelURL, arJSON, time.Now().UTC())
	if err != nil {
		return &StorageError{Op: "apply product ar", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetProductAREnabled(ctx context.Context, productID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE product_models SET ar_enabled = $2, updated_at = $3 WHERE product_id = $1`,
		productID, enabled, time.Now().UTC())
	if err != nil {
		return &StorageError{Op: "set product ar enabled", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j         models.Job
		id        uuid.UUID
		jobType   string
		status    string
		outputRaw []byte
		arRaw     []byte
	)
	if err := row.Scan(&id, &j.ProductID, &j.InputFile, &jobType, &status, &j.Progress,
		&outputRaw, &arRaw, &j.Error, &j.Logs, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.JobID = id.String()
	j.JobType = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	j.OutputFiles = map[string]any{}
	if len(outputRaw) > 0 {
		if err := json.Unmarshal(outputRaw, &j.OutputFiles); err != nil {
			return nil, fmt.Errorf("decode output files: %w", err)
		}
	}
	if len(arRaw) > 0 {
		var ar models.ARConfig
		if err := json.Unmarshal(arRaw, &ar); err != nil {
			return nil, fmt.Errorf("decode ar config: %w", err)
		}
		j.ARConfig = &ar
	}
	if j.Logs == nil {
		j.Logs = []string{}
	}
	return &j, nil
}

func scanProductModel(row pgx.Row) (*models.ProductModel, error) {
	var (
		pm    models.ProductModel
		arRaw []byte
	)
	if err := row.Scan(&pm.ProductID, &pm.OriginalURL, &pm.ModelURL, &pm.FileName, &pm.FileSize, &pm.Format,
		&arRaw, &pm.AREnabled, &pm.UploadedAt, &pm.UpdatedAt); err != nil {
		return nil, err
	}
	if len(arRaw) > 0 {
		var ar models.ARConfig
		if err := json.Unmarshal(arRaw, &ar); err != nil {
			return nil, fmt.Errorf("decode ar config: %w", err)
		}
		pm.ARConfig = &ar
	}
	return &pm, nil
}
