package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/http/middleware"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// ScheduledJobHandler serves recurring-send management.
type ScheduledJobHandler struct {
	scheduler *service.SchedulerService
	logger    logger.Logger
}

// NewScheduledJobHandler creates the scheduled job handler.
func NewScheduledJobHandler(scheduler *service.SchedulerService, log logger.Logger) *ScheduledJobHandler {
	return &ScheduledJobHandler{scheduler: scheduler, logger: log}
}

// RegisterRoutes mounts the scheduled job endpoints.
func (h *ScheduledJobHandler) RegisterRoutes(r chi.Router) {
	r.Route("/scheduled-jobs", func(r chi.Router) {
		r.Use(middleware.RequireScope(domain.ScopeQueueManage))
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
}

func (h *ScheduledJobHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.CreateScheduledJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	job, err := h.scheduler.Create(r.Context(), auth, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *ScheduledJobHandler) handleList(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	jobs, err := h.scheduler.List(r.Context(), auth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *ScheduledJobHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.scheduler.Get(r.Context(), auth, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *ScheduledJobHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.CreateScheduledJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	job, err := h.scheduler.Update(r.Context(), auth, id, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *ScheduledJobHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.scheduler.Delete(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}
