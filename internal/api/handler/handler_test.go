package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/megaartsstore/renderpipe/internal/api/handler"
	"github.com/megaartsstore/renderpipe/internal/blob"
	"github.com/megaartsstore/renderpipe/internal/scheduler"
	"github.com/megaartsstore/renderpipe/internal/store"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeSubmitter records submitted jobs. A non-nil err is returned instead.
type fakeSubmitter struct {
	submitted []string
	err       error
}

func (f *fakeSubmitter) Submit(jobID string) (scheduler.TaskInfo, error) {
	if f.err != nil {
		return scheduler.TaskInfo{}, f.err
	}
	f.submitted = append(f.submitted, jobID)
	return scheduler.TaskInfo{TaskID: "task-" + jobID, JobID: jobID, Status: scheduler.TaskPending}, nil
}

type testAPI struct {
	router *chi.Mux
	store  *store.MemoryStore
	blobs  *blob.LocalStore
	sched  *fakeSubmitter
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)
	blobs, err := blob.NewLocalStore(filepath.Join(t.TempDir(), "blobs"), "http://files.test")
	require.NoError(t, err)

	a := &testAPI{
		router: chi.NewRouter(),
		store:  store.NewMemoryStore(),
		blobs:  blobs,
		sched:  &fakeSubmitter{},
	}
	r := a.router
	r.Post("/api/v1/models/{productID}", handler.NewUploadModelHandler(a.store, a.blobs, 1024, logger))
	r.Post("/api/v1/jobs", handler.NewCreateJobHandler(a.store, a.sched, logger))
	r.Get("/api/v1/jobs/{jobID}", handler.NewGetJobHandler(a.store, logger))
	r.Get("/api/v1/jobs/{jobID}/result", handler.NewGetJobResultHandler(a.store, logger))
	r.Get("/api/v1/jobs/by-product/{productID}", handler.NewListProductJobsHandler(a.store, logger))
	r.Get("/api/v1/products/{productID}/ar-config", handler.NewGetARConfigHandler(a.store, logger))
	r.Post("/api/v1/products/{productID}/ar/enable", handler.NewSetAREnabledHandler(a.store, true, logger))
	r.Post("/api/v1/products/{productID}/ar/disable", handler.NewSetAREnabledHandler(a.store, false, logger))
	return a
}

func (a *testAPI) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// seedModel registers an uploaded model for productID without going through HTTP.
func (a *testAPI) seedModel(t *testing.T, productID string) *models.ProductModel {
	t.Helper()
	url, err := a.blobs.Put(context.Background(), "models/"+productID+"/ring.obj", strings.NewReader("o ring\n"), "model/obj")
	require.NoError(t, err)
	pm, err := a.store.UpsertProductModel(context.Background(), &models.ProductModel{
		ProductID:   productID,
		OriginalURL: url,
		FileName:    "ring.obj",
		FileSize:    7,
		Format:      "obj",
	})
	require.NoError(t, err)
	return pm
}

// completeJob drives a job straight to completed with a GLB output and AR config.
func (a *testAPI) completeJob(t *testing.T, jobID string, ar *models.ARConfig) {
	t.Helper()
	ctx := context.Background()
	_, err := a.store.UpdateJobOutputs(ctx, jobID, map[string]any{
		models.OutputGLB: "http://files.test/jobs/" + jobID + "/optimized.glb",
	}, ar)
	require.NoError(t, err)
	_, err = a.store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted, store.WithProgress(100))
	require.NoError(t, err)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env.Error.Code
}

func jsonDecode(rec *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(rec.Body).Decode(v)
}
