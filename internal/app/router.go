package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/meridian-lms/meridian-lms/internal/accounts"
	"github.com/meridian-lms/meridian-lms/internal/enrollment"
	"github.com/meridian-lms/meridian-lms/internal/lessons"
	"github.com/meridian-lms/meridian-lms/internal/observability"
	"github.com/meridian-lms/meridian-lms/internal/progress"
	"github.com/meridian-lms/meridian-lms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AccountsHandler   *accounts.Handler
	EnrollmentHandler *enrollment.Handler
	LessonsHandler    *lessons.Handler
	ProgressHandler   *progress.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.EnrollmentHandler != nil {
		r.Route("/enroll", params.EnrollmentHandler.MountRoutes)
	}
	if params.AccountsHandler != nil {
		r.Route("/auth", func(r chi.Router) {
			// Credential endpoints carry a tighter per-IP budget.
			r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
			params.AccountsHandler.MountAuthRoutes(r)
		})
		r.Route("/me", params.AccountsHandler.MountProfileRoutes)
		r.Route("/users", params.AccountsHandler.MountUserRoutes)
	}
	if params.LessonsHandler != nil {
		r.Route("/lessons", params.LessonsHandler.MountRoutes)
	}
	if params.ProgressHandler != nil {
		r.Route("/progress", params.ProgressHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
