package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/megaartsstore/renderpipe/internal/store"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("renderpipe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	// Running twice is a no-op
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// storeSuite is the behaviour every Store implementation must share.
var storeSuite = map[string]func(t *testing.T, s store.Store){
	"CreateAndGet":             testCreateAndGet,
	"GetNotFound":              testGetNotFound,
	"ListByProductNewestFirst": testListByProductNewestFirst,
	"StatusLifecycle":          testStatusLifecycle,
	"ProgressNeverDecreases":   testProgressNeverDecreases,
	"TerminalIsFrozen":         testTerminalIsFrozen,
	"FailedRecordsError":       testFailedRecordsError,
	"OutputsSetAtMostOnce":     testOutputsSetAtMostOnce,
	"GetIsIdempotent":          testGetIsIdempotent,
	"ConcurrentReaders":        testConcurrentReaders,
	"ProductModels":            testProductModels,
}

func runSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	for name, fn := range storeSuite {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	runSuite(t, func(*testing.T) store.Store { return store.NewMemoryStore() })
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	runSuite(t, func(t *testing.T) store.Store {
		_, err := pool.Exec(context.Background(), `TRUNCATE render_jobs, product_models`)
		require.NoError(t, err)
		return store.NewPostgresStore(pool)
	})
}

func TestPostgresStore_MalformedJobID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetJob(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- suite cases ---

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "prod-1", "https://cdn.example.com/models/bangle.obj", "")
	require.NoError(t, err)
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypeFullRender, job.JobType)
	assert.Equal(t, 0, job.Progress)
	assert.Empty(t, job.Logs)
	assert.Empty(t, job.OutputFiles)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Nil(t, job.Error)
	assert.False(t, job.CreatedAt.IsZero())

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, "prod-1", got.ProductID)
	assert.Equal(t, "https://cdn.example.com/models/bangle.obj", got.InputFile)

	other, err := s.CreateJob(ctx, "prod-1", "x", models.JobTypeOptimize)
	require.NoError(t, err)
	assert.NotEqual(t, job.JobID, other.JobID)
	assert.Equal(t, models.JobTypeOptimize, other.JobType)
}

func testGetNotFound(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.UpdateJobStatus(context.Background(), "00000000-0000-0000-0000-000000000000", models.JobStatusValidating)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListByProductNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		j, err := s.CreateJob(ctx, "prod-list", fmt.Sprintf("file-%d", i), "")
		require.NoError(t, err)
		ids = append(ids, j.JobID)
	}
	_, err := s.CreateJob(ctx, "other", "file", "")
	require.NoError(t, err)

	jobs, err := s.ListJobsByProduct(ctx, "prod-list", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].JobID)
	assert.Equal(t, ids[0], jobs[2].JobID)

	limited, err := s.ListJobsByProduct(ctx, "prod-list", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := s.ListJobsByProduct(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testStatusLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "prod-2", "in", "")
	require.NoError(t, err)

	steps := []struct {
		status   models.JobStatus
		progress int
	}{
		{models.JobStatusValidating, 10},
		{models.JobStatusCleaning, 25},
		{models.JobStatusOptimizing, 30},
		{models.JobStatusRendering, 50},
		{models.JobStatusRendering, 60},
		{models.JobStatusExporting, 70},
		{models.JobStatusCompleted, 100},
	}

	var startedAt *time.Time
	for i, st := range steps {
		updated, err := s.UpdateJobStatus(ctx, job.JobID, st.status,
			store.WithProgress(st.progress), store.WithLogLine(fmt.Sprintf("step %d", i)))
		require.NoError(t, err)
		assert.Equal(t, st.status, updated.Status)
		assert.Equal(t, st.progress, updated.Progress)
		require.Len(t, updated.Logs, i+1)
		assert.Contains(t, updated.Logs[i], fmt.Sprintf("] step %d", i))
		assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\] `, updated.Logs[i])

		require.NotNil(t, updated.StartedAt)
		if startedAt == nil {
			startedAt = updated.StartedAt
		}
		assert.True(t, startedAt.Equal(*updated.StartedAt), "started_at is stamped once")

		if st.status.IsTerminal() {
			assert.NotNil(t, updated.CompletedAt)
		} else {
			assert.Nil(t, updated.CompletedAt)
		}
	}

	_, err = s.UpdateJobStatus(ctx, job.JobID, models.JobStatusRendering)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func testProgressNeverDecreases(t *testing.T, s store.Store) {
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "prod-3", "in", "")
	require.NoError(t, err)

	_, err = s.UpdateJobStatus(ctx, job.JobID, models.JobStatusValidating, store.WithProgress(40))
	require.NoError(t, err)
	updated, err := s.UpdateJobStatus(ctx, job.JobID, models.JobStatusCleaning, store.WithProgress(20))
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Progress)

	updated, err = s.UpdateJobStatus(ctx, job.JobID, models.JobStatusCleaning, store.WithProgress(250))
	require.NoError(t, err)
	assert.Equal(t, 100, updated.Progress)

	_, err = s.UpdateJobStatus(ctx, job.JobID, models.JobStatusValidating)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func testTerminalIsFrozen(t *testing.T, s store.Store) {
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "prod-4", "in", "")
	require.NoError(t, err)

	_, err = s.UpdateJobStatus(ctx, job.JobID, models.JobStatusValidating, store.WithProgress(10))
	require.NoError(t, err)
	failed, err := s.UpdateJobStatus(ctx, job.JobID, models.JobStatusFailed, store.WithError("bad mesh"))
	require.NoError(t, err)
	require.NotNil(t, failed.CompletedAt)

	for _, next := range []models.JobStatus{models.JobStatusFailed, models.JobStatusCompleted, models.JobStatusCleaning} {
		_, err = s.UpdateJobStatus(ctx, job.JobID, next, store.WithProgress(100))
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	}

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 10, got.Progress)
	assert.True(t, failed.CompletedAt.Equal(*got.CompletedAt))
}

func testFailedRecordsError(t *testing.T, s store.Store) {
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "prod-5", "in", "")
	require.NoError(t, err)

	updated, err := s.UpdateJobStatus(ctx, job.JobID, models.JobStatusValidating, store.WithError("ignored"))
	require.NoError(t, err)
	assert.Nil(t, updated.Error, "error is only set on the failed transition")

	updated, err = s.UpdateJobStatus(ctx, job.JobID, models.JobStatusFailed,
		store.WithError("non-manifold geometry"), store.WithLogLine("Processing failed: non-manifold geometry"))
	require.NoError(t, err)
	require.NotNil(t, updated.Error)
	assert.Equal(t, "non-manifold geometry", *updated.Error)
	assert.Contains(t, updated.Logs[len(updated.Logs)-1], "Processing failed")
}

func testOutputsSetAtMostOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "prod-6", "in", "")
	require.NoError(t, err)

	_, err = s.UpdateJobOutputs(ctx, job.JobID, map[string]any{"glb": "https://cdn/a.glb"}, nil)
	require.NoError(t, err)

	updated, err := s.UpdateJobOutputs(ctx, job.JobID, map[string]any{
		"glb":         "https://cdn/b.glb",
		"renders_360": []string{"https://cdn/r0.png", "https://cdn/r1.png"},
	}, &models.ARConfig{Scale: 1.25, WristDiameter: 6.5})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn/a.glb", updated.OutputFiles["glb"])
	assert.Equal(t, []any{"https://cdn/r0.png", "https://cdn/r1.png"}, updated.OutputFiles["renders_360"])
	require.NotNil(t, updated.ARConfig)
	assert.Equal(t, 6.5, updated.ARConfig.WristDiameter)

	// nil ar config leaves the stored one in place
	updated, err = s.UpdateJobOutputs(ctx, job.JobID, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.ARConfig)
	assert.Equal(t, 1.25, updated.ARConfig.Scale)

	_, err = s.UpdateJobOutputs(ctx, "00000000-0000-0000-0000-000000000000", nil, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testGetIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "prod-7", "in", "")
	require.NoError(t, err)
	_, err = s.UpdateJobStatus(ctx, job.JobID, models.JobStatusValidating, store.WithLogLine("go"))
	require.NoError(t, err)

	a, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	b, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// mutating a returned copy does not leak into the store
	a.Logs[0] = "tampered"
	c, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, b.Logs, c.Logs)
}

func testConcurrentReaders(t *testing.T, s store.Store) {
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "prod-8", "in", "")
	require.NoError(t, err)

	statuses := []models.JobStatus{
		models.JobStatusValidating, models.JobStatusCleaning, models.JobStatusOptimizing,
		models.JobStatusRendering, models.JobStatusExporting, models.JobStatusCompleted,
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lastProgress, lastLogs := 0, 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := s.GetJob(ctx, job.JobID)
				if !assert.NoError(t, err) {
					return
				}
				assert.GreaterOrEqual(t, got.Progress, lastProgress)
				assert.GreaterOrEqual(t, len(got.Logs), lastLogs)
				lastProgress, lastLogs = got.Progress, len(got.Logs)
			}
		}()
	}

	for i, st := range statuses {
		_, err := s.UpdateJobStatus(ctx, job.JobID, st, store.WithProgress((i+1)*15), store.WithLogLine(string(st)))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func testProductModels(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetProductModel(ctx, "prod-9")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.ApplyProductAR(ctx, "prod-9", "", nil), store.ErrNotFound)
	assert.ErrorIs(t, s.SetProductAREnabled(ctx, "prod-9", true), store.ErrNotFound)

	pm, err := s.UpsertProductModel(ctx, &models.ProductModel{
		ProductID:   "prod-9",
		OriginalURL: "https://cdn/models/prod-9/ring.obj",
		FileName:    "ring.obj",
		FileSize:    1024,
		Format:      "obj",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/models/prod-9/ring.obj", pm.ModelURL)
	assert.False(t, pm.AREnabled)

	ar := &models.ARConfig{Scale: 0.9, WristDiameter: 6.5}
	require.NoError(t, s.ApplyProductAR(ctx, "prod-9", "https://cdn/jobs/x/optimized.glb", ar))
	require.NoError(t, s.SetProductAREnabled(ctx, "prod-9", true))

	got, err := s.GetProductModel(ctx, "prod-9")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/jobs/x/optimized.glb", got.ModelURL)
	assert.Equal(t, "https://cdn/models/prod-9/ring.obj", got.OriginalURL)
	require.NotNil(t, got.ARConfig)
	assert.Equal(t, 0.9, got.ARConfig.Scale)
	assert.True(t, got.AREnabled)

	// re-upload replaces the asset but keeps AR state
	pm, err = s.UpsertProductModel(ctx, &models.ProductModel{
		ProductID:   "prod-9",
		OriginalURL: "https://cdn/models/prod-9/ring-v2.glb",
		FileName:    "ring-v2.glb",
		FileSize:    2048,
		Format:      "glb",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/models/prod-9/ring-v2.glb", pm.ModelURL)
	assert.Equal(t, "glb", pm.Format)
	assert.True(t, pm.AREnabled)
}
