package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/megaartsstore/renderpipe/internal/api/middleware"
	"github.com/megaartsstore/renderpipe/internal/api/response"
	"go.uber.org/zap"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    *zap.Logger
	Auth      *mw.OperatorAuth
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	UploadModelHandler  http.HandlerFunc
	CreateJobHandler    http.HandlerFunc
	GetJobHandler       http.HandlerFunc
	GetJobResultHandler http.HandlerFunc
	ListProductJobs     http.HandlerFunc
	GetARConfigHandler  http.HandlerFunc
	EnableARHandler     http.HandlerFunc
	DisableARHandler    http.HandlerFunc
	SchedulerStats      http.HandlerFunc
	SchedulerTask       http.HandlerFunc

	MetricsHandler http.Handler

	// FilesHandler serves locally stored blobs under /files/. Nil when blobs live in S3.
	FilesHandler http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	auth := deps.Auth
	if auth == nil {
		auth = mw.NewOperatorAuth("")
	}
	rateLimit := deps.RateLimit
	if rateLimit == nil {
		rateLimit = mw.NewRateLimit(nil, 0)
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/products/{productID}/ar-config", orNotImplemented(deps.GetARConfigHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.FilesHandler != nil {
		r.Method(http.MethodGet, "/files/*", http.StripPrefix("/files", deps.FilesHandler))
		r.Method(http.MethodHead, "/files/*", http.StripPrefix("/files", deps.FilesHandler))
	}

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit.Limit)

			r.Post("/api/v1/models/{productID}", orNotImplemented(deps.UploadModelHandler))
			r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		})

		r.Get("/api/v1/jobs/by-product/{productID}", orNotImplemented(deps.ListProductJobs))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/result", orNotImplemented(deps.GetJobResultHandler))

		r.Post("/api/v1/products/{productID}/ar/enable", orNotImplemented(deps.EnableARHandler))
		r.Post("/api/v1/products/{productID}/ar/disable", orNotImplemented(deps.DisableARHandler))

		r.Get("/api/v1/scheduler/stats", orNotImplemented(deps.SchedulerStats))
		r.Get("/api/v1/scheduler/tasks/{taskID}", orNotImplemented(deps.SchedulerTask))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
