package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/argussec/argus/internal/adapter/otel"
	"github.com/argussec/argus/internal/adapter/ws"
	"github.com/argussec/argus/internal/config"
	"github.com/argussec/argus/internal/domain"
	"github.com/argussec/argus/internal/domain/event"
	"github.com/argussec/argus/internal/domain/project"
	"github.com/argussec/argus/internal/domain/run"
	"github.com/argussec/argus/internal/middleware"
	"github.com/argussec/argus/internal/service"
)

// API bundles the HTTP handlers with their dependencies.
type API struct {
	runs     *service.RunService
	projects *service.ProjectService
	auth     *service.AuthService
	wsh      *ws.Handler
	log      *slog.Logger
	metrics  *otel.Metrics
	ingest   config.Ingest
}

// NewAPI creates the HTTP API. metrics may be nil.
func NewAPI(runs *service.RunService, projects *service.ProjectService, auth *service.AuthService, wsh *ws.Handler, log *slog.Logger, metrics *otel.Metrics, ingest config.Ingest) *API {
	return &API{
		runs:     runs,
		projects: projects,
		auth:     auth,
		wsh:      wsh,
		log:      log,
		metrics:  metrics,
		ingest:   ingest,
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- agent endpoints (API-key authenticated) ---

func (a *API) handleStartRun(w http.ResponseWriter, r *http.Request) {
	projectID, ok := middleware.ProjectIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := readJSON[run.StartRequest](w, r, a.ingest.MaxBodyBytes)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	resp, err := a.runs.Start(r.Context(), projectID, req)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	if a.metrics != nil {
		a.metrics.RunsStarted.Add(r.Context(), 1)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleEndRun(w http.ResponseWriter, r *http.Request) {
	projectID, ok := middleware.ProjectIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	runID := chi.URLParam(r, "runID")

	req, err := readJSON[run.EndRequest](w, r, a.ingest.MaxBodyBytes)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	count, err := a.runs.End(r.Context(), projectID, runID, req)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	a.recordEnd(r, projectID, runID, count)
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        runID,
		"finding_count": count,
	})
}

func (a *API) recordEnd(r *http.Request, projectID, runID string, findings int) {
	if a.metrics == nil {
		return
	}
	ctx := r.Context()
	a.metrics.RunsEnded.Add(ctx, 1)
	a.metrics.Findings.Add(ctx, int64(findings))
	if ended, err := a.runs.Get(ctx, projectID, runID); err == nil && ended.EndTime != nil {
		a.metrics.RunDuration.Record(ctx, ended.EndTime.Sub(ended.StartTime).Seconds())
	}
}

type ingestRequest struct {
	Events []event.Ingest `json:"events"`
}

// handleIngestEvents is the HTTP fallback transport for agents whose
// WebSocket connection is unavailable. Semantics match the WebSocket
// path except there is no origin connection to exclude from fan-out.
func (a *API) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	projectID, ok := middleware.ProjectIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	runID := chi.URLParam(r, "runID")

	req, err := readJSON[ingestRequest](w, r, a.ingest.MaxBodyBytes)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	if len(req.Events) > a.ingest.MaxBatch {
		writeDomainError(w, a.log, fmt.Errorf("%w: batch exceeds %d events", domain.ErrValidation, a.ingest.MaxBatch))
		return
	}

	ctx, span := otel.StartIngestSpan(r.Context(), runID, len(req.Events))
	defer span.End()

	if err := a.runs.IngestEvents(ctx, projectID, runID, req.Events, ""); err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	if a.metrics != nil {
		a.metrics.EventsIngested.Add(ctx, int64(len(req.Events)))
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Events)})
}

// --- dashboard endpoints (session authenticated) ---

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := readJSON[project.CreateRequest](w, r, a.ingest.MaxBodyBytes)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	resp, err := a.projects.Create(r.Context(), u.ID, req)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	projects, err := a.projects.List(r.Context(), u.ID)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	p, err := a.projects.Get(r.Context(), u.ID, chi.URLParam(r, "projectID"))
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleRenameProject(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := readJSON[project.CreateRequest](w, r, a.ingest.MaxBodyBytes)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	projectID := chi.URLParam(r, "projectID")
	if err := a.projects.Rename(r.Context(), u.ID, projectID, req); err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	p, err := a.projects.Get(r.Context(), u.ID, projectID)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := a.projects.Delete(r.Context(), u.ID, chi.URLParam(r, "projectID")); err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := a.projects.Stats(r.Context(), u.ID, chi.URLParam(r, "projectID"))
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ownProject verifies that the project belongs to the requesting user.
// Dashboard run routes are nested under /projects/{projectID} so every
// access is scoped through this check.
func (a *API) ownProject(w http.ResponseWriter, r *http.Request) (string, bool) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}

	projectID := chi.URLParam(r, "projectID")
	if _, err := a.projects.Get(r.Context(), u.ID, projectID); err != nil {
		writeDomainError(w, a.log, err)
		return "", false
	}
	return projectID, true
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	projectID, ok := a.ownProject(w, r)
	if !ok {
		return
	}

	runs, err := a.runs.List(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	projectID, ok := a.ownProject(w, r)
	if !ok {
		return
	}

	rn, err := a.runs.Get(r.Context(), projectID, chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (a *API) handleRunTimeline(w http.ResponseWriter, r *http.Request) {
	projectID, ok := a.ownProject(w, r)
	if !ok {
		return
	}

	tl, err := a.runs.GetTimeline(r.Context(), projectID, chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}
