package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/agentscore/internal/api/middleware"
	"github.com/kiranshivaraju/agentscore/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateJobHandler http.HandlerFunc
	RunJobHandler    http.HandlerFunc
	JobStatusHandler http.HandlerFunc
	CancelJobHandler http.HandlerFunc
	DeleteJobHandler http.HandlerFunc

	HistoryHandler     http.HandlerFunc
	LatestScoreHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeRead))

			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
			r.Get("/api/v1/agents/{agentID}/history", orNotImplemented(deps.HistoryHandler))
			r.Get("/api/v1/agents/{agentID}/score", orNotImplemented(deps.LatestScoreHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeWrite))

			r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
			r.Post("/api/v1/jobs/{jobID}/run", orNotImplemented(deps.RunJobHandler))
			r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
			r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJobHandler))
		})
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
