package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driving"
)

// readyTimeout bounds each dependency check in /ready.
const readyTimeout = 2 * time.Second

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// ReadyResponse reports each dependency checked by /ready
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// TickResponse is the result of a manual scheduler tick
type TickResponse struct {
	Skipped bool                `json:"skipped"`
	Summary *domain.TickSummary `json:"summary,omitempty"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the database and the job queue
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Checks: map[string]string{}}

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			resp.Status = "not_ready"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}
	check("database", s.db)
	if s.queue != nil {
		check("queue", s.queue)
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Binding endpoints

// handleGetBindingSync godoc
// @Summary      Get binding sync status
// @Tags         Bindings
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Binding ID"
// @Success      200  {object}  domain.BindingSyncStatus
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /bindings/{id}/sync [get]
func (s *Server) handleGetBindingSync(w http.ResponseWriter, r *http.Request) {
	status, err := s.bindingService.GetSyncStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleTriggerSync godoc
// @Summary      Trigger a sync for one binding
// @Description  Enqueues the job the scheduler would pick for the binding right now
// @Tags         Bindings
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Binding ID"
// @Success      202  {object}  domain.SyncJobMessage
// @Failure      409  {object}  ErrorResponse  "Binding not eligible or sync disabled"
// @Router       /bindings/{id}/sync [post]
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !domain.IsValidID(id) {
		writeError(w, http.StatusBadRequest, "malformed binding id")
		return
	}

	msg, err := s.scheduler.TriggerBinding(r.Context(), id, middleware.GetReqID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (s *Server) handleResetBudget(w http.ResponseWriter, r *http.Request) {
	status, err := s.bindingService.ResetBudget(r.Context(), chi.URLParam(r, "id"), middleware.GetReqID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Settings endpoints

func (s *Server) handleGetSyncSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settingsService.Get(r.Context()))
}

// handleUpdateSyncSettings godoc
// @Summary      Update sync flags and budgets
// @Description  Partial update; omitted fields keep their value. Changes are not persisted across restarts.
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.UpdateSyncSettingsRequest  true  "Settings"
// @Success      200      {object}  driving.SyncSettingsView
// @Failure      400      {object}  ErrorResponse
// @Router       /settings/sync [put]
func (s *Server) handleUpdateSyncSettings(w http.ResponseWriter, r *http.Request) {
	var req driving.UpdateSyncSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var updater string
	if authCtx := GetAuthContext(r.Context()); authCtx != nil {
		updater = authCtx.Subject
	}

	view, err := s.settingsService.Update(r.Context(), updater, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Scheduler and queue endpoints

func (s *Server) handleSchedulerTick(w http.ResponseWriter, r *http.Request) {
	summary, err := s.scheduler.Tick(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TickResponse{Skipped: summary == nil, Summary: summary})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue not configured")
		return
	}
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeServiceError maps domain errors onto status codes. Unexpected
// errors are logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "binding not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrBindingIneligible):
		writeError(w, http.StatusConflict, "binding not eligible for sync")
	case errors.Is(err, domain.ErrSyncDisabled):
		writeError(w, http.StatusConflict, "sync disabled")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
