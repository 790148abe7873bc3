package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/argussec/argus/internal/adapter/otel"
	"github.com/argussec/argus/internal/middleware"
)

// NewRouter mounts all routes and middleware. Agent routes authenticate
// with an API key, dashboard routes with a session token. The WebSocket
// route authenticates after the upgrade so failures can be reported as
// close frames.
func NewRouter(api *API, log *slog.Logger, corsOrigin string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(SecurityHeaders)
	r.Use(CORS(corsOrigin))
	r.Use(otel.HTTPMiddleware("argus"))
	r.Use(Logger(log))

	r.Get("/health", api.handleHealth)
	r.Get("/ws/{runID}", api.wsh.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", api.handleRegister)
			r.Post("/login", api.handleLogin)
			r.Post("/logout", api.handleLogout)
			r.Group(func(r chi.Router) {
				r.Use(middleware.SessionAuth(api.auth))
				r.Get("/me", api.handleMe)
			})
		})

		// Agent ingestion surface.
		r.Route("/runs", func(r chi.Router) {
			r.Use(middleware.KeyAuth(api.auth))
			r.Post("/", api.handleStartRun)
			r.Post("/{runID}/end", api.handleEndRun)
			r.Post("/{runID}/events", api.handleIngestEvents)
		})

		// Dashboard surface.
		r.Route("/projects", func(r chi.Router) {
			r.Use(middleware.SessionAuth(api.auth))
			r.Post("/", api.handleCreateProject)
			r.Get("/", api.handleListProjects)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", api.handleGetProject)
				r.Put("/", api.handleRenameProject)
				r.Delete("/", api.handleDeleteProject)
				r.Get("/stats", api.handleProjectStats)
				r.Get("/runs", api.handleListRuns)
				r.Get("/runs/{runID}", api.handleGetRun)
				r.Get("/runs/{runID}/timeline", api.handleRunTimeline)
			})
		})
	})

	return r
}
