// Package httpapi exposes the service facade over JSON HTTP endpoints,
// store subscriptions over Server-Sent Events, and the deployment surface
// the single-page client expects (health, metrics, SPA fallback).
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"thesisgen/internal/core"
	"thesisgen/internal/exports"
	"thesisgen/internal/generate"
	"thesisgen/pkg/domain"
)

// Handler routes the public HTTP surface.
type Handler struct {
	service *core.Service
	exports exports.Scheduler
	logger  core.Logger
	mux     *http.ServeMux
}

// Option customizes handler construction.
type Option func(*Handler)

// WithExports attaches the export scheduler endpoints.
func WithExports(scheduler exports.Scheduler) Option {
	return func(h *Handler) { h.exports = scheduler }
}

// WithLogger attaches a logger.
func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetricsRegistry serves the given Prometheus registry on /metrics.
func WithMetricsRegistry(registry *prometheus.Registry) Option {
	return func(h *Handler) {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
}

// WithSPARoot serves static files from dir, falling back to its index.html
// for unknown non-API paths so client-side routing works.
func WithSPARoot(dir string) Option {
	return func(h *Handler) {
		h.mux.Handle("/", newSPAHandler(dir))
	}
}

// NewHandler constructs the HTTP surface over the service facade.
func NewHandler(service *core.Service, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  core.NoopLogger(),
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)

	h.mux.HandleFunc("POST /api/v1/project", h.handleSaveProject)
	h.mux.HandleFunc("GET /api/v1/project/{ownerID}", h.handleGetProject)
	h.mux.HandleFunc("DELETE /api/v1/project/{ownerID}", h.handleDeleteProject)
	h.mux.HandleFunc("POST /api/v1/project/{ownerID}/phase", h.handleSetPhase)
	h.mux.HandleFunc("PUT /api/v1/project/{ownerID}/drafts/{chapter}", h.handleSaveDraft)
	h.mux.HandleFunc("GET /api/v1/project/{ownerID}/drafts/{chapter}", h.handleLoadDraft)

	h.mux.HandleFunc("GET /api/v1/projects/{projectID}/sources", h.handleListSources)
	h.mux.HandleFunc("POST /api/v1/projects/{projectID}/sources/analyze", h.handleAnalyzeSource)

	h.mux.HandleFunc("GET /api/v1/projects/{projectID}/tasks", h.handleListTasks)
	h.mux.HandleFunc("POST /api/v1/tasks", h.handleCreateTask)
	h.mux.HandleFunc("PATCH /api/v1/tasks/{id}", h.handleUpdateTask)
	h.mux.HandleFunc("DELETE /api/v1/tasks/{id}", h.handleDeleteTask)
	h.mux.HandleFunc("POST /api/v1/tasks/{id}/advance", h.handleAdvanceTask)
	h.mux.HandleFunc("POST /api/v1/tasks/{id}/revert", h.handleRevertTask)

	h.mux.HandleFunc("POST /api/v1/generate/concepts", h.handleGenerateConcepts)
	h.mux.HandleFunc("POST /api/v1/generate/continue", h.handleContinueChapter)

	h.mux.HandleFunc("POST /api/v1/exports", h.handleCreateExport)
	h.mux.HandleFunc("GET /api/v1/exports", h.handleListExports)
	h.mux.HandleFunc("GET /api/v1/exports/{id}", h.handleGetExport)

	h.mux.HandleFunc("GET /api/v1/watch", h.handleWatch)

	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleSaveProject(w http.ResponseWriter, r *http.Request) {
	var project domain.Project
	if err := json.NewDecoder(r.Body).Decode(&project); err != nil {
		writeError(w, http.StatusBadRequest, "invalid project payload")
		return
	}
	if project.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id required")
		return
	}
	saved, _, err := h.service.SaveProject(r.Context(), project)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": saved})
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.service.GetProjectByOwner(r.Context(), r.PathValue("ownerID"))
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.DeleteProject(r.Context(), r.PathValue("ownerID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetPhase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Phase domain.ProjectPhase `json:"phase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid phase payload")
		return
	}
	project, _, err := h.service.SetProjectPhase(r.Context(), r.PathValue("ownerID"), payload.Phase)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid draft payload")
		return
	}
	project, _, err := h.service.SaveDraft(r.Context(), r.PathValue("ownerID"), r.PathValue("chapter"), payload.Text)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (h *Handler) handleLoadDraft(w http.ResponseWriter, r *http.Request) {
	text, err := h.service.LoadDraft(r.Context(), r.PathValue("ownerID"), r.PathValue("chapter"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text})
}

func (h *Handler) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources := h.service.ListSources(r.Context(), r.PathValue("projectID"))
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (h *Handler) handleAnalyzeSource(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis payload")
		return
	}
	source, _, err := h.service.AnalyzeSource(r.Context(), r.PathValue("projectID"), payload.Text)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"source": source})
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.service.ListTasks(r.Context(), r.PathValue("projectID"))
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var task domain.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task payload")
		return
	}
	created, _, err := h.service.CreateTask(r.Context(), task)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": created})
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    *string              `json:"title"`
		Priority *domain.TaskPriority `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task payload")
		return
	}
	task, _, err := h.service.UpdateTask(r.Context(), r.PathValue("id"), func(task *domain.Task) error {
		if payload.Title != nil {
			task.Title = *payload.Title
		}
		if payload.Priority != nil {
			task.Priority = *payload.Priority
		}
		return nil
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdvanceTask(w http.ResponseWriter, r *http.Request) {
	task, _, err := h.service.AdvanceTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (h *Handler) handleRevertTask(w http.ResponseWriter, r *http.Request) {
	task, _, err := h.service.RevertTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (h *Handler) handleGenerateConcepts(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Field string `json:"field"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid generation payload")
		return
	}
	concepts, err := h.service.GenerateConcepts(r.Context(), payload.Field)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"concepts": concepts})
}

func (h *Handler) handleContinueChapter(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OwnerID string `json:"owner_id"`
		Draft   string `json:"draft"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid generation payload")
		return
	}
	continuation, err := h.service.ContinueChapter(r.Context(), payload.OwnerID, payload.Draft)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"continuation": continuation})
}

func (h *Handler) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "exports not configured")
		return
	}
	var payload struct {
		Kind        exports.Kind     `json:"kind"`
		ProjectID   string           `json:"project_id"`
		Formats     []exports.Format `json:"formats"`
		RequestedBy string           `json:"requested_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid export payload")
		return
	}
	record, err := h.exports.Enqueue(r.Context(), exports.Input{
		Kind:        payload.Kind,
		ProjectID:   payload.ProjectID,
		Formats:     payload.Formats,
		RequestedBy: payload.RequestedBy,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
}

func (h *Handler) handleListExports(w http.ResponseWriter, _ *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "exports not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": h.exports.List()})
}

func (h *Handler) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "exports not configured")
		return
	}
	record, ok := h.exports.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

// writeServiceError maps service errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var notFound core.ErrNotFound
	var violation domain.RuleViolationError
	var parseErr *generate.ParseError
	var apiErr *generate.APIError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &violation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, core.ErrGenerationInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &parseErr), errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("request failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
