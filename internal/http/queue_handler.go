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

// QueueHandler serves queue management endpoints.
type QueueHandler struct {
	queues *service.QueueService
	logger logger.Logger
}

// NewQueueHandler creates the queue handler.
func NewQueueHandler(queues *service.QueueService, log logger.Logger) *QueueHandler {
	return &QueueHandler{queues: queues, logger: log}
}

// RegisterRoutes mounts the queue endpoints.
func (h *QueueHandler) RegisterRoutes(r chi.Router) {
	r.Route("/queues", func(r chi.Router) {
		r.Use(middleware.RequireScope(domain.ScopeQueueManage))
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/pause", h.handlePause)
		r.Post("/{id}/resume", h.handleResume)
		r.Get("/{id}/stats", h.handleStats)
	})
}

func (h *QueueHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.CreateQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	queue, err := h.queues.Create(r.Context(), auth, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, queue)
}

func (h *QueueHandler) handleList(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	queues, err := h.queues.List(r.Context(), auth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

func (h *QueueHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	queue, err := h.queues.Get(r.Context(), auth, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *QueueHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.CreateQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	queue, err := h.queues.Update(r.Context(), auth, id, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *QueueHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.queues.Delete(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (h *QueueHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.queues.Pause(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": true})
}

func (h *QueueHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.queues.Resume(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": false})
}

func (h *QueueHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := h.queues.Stats(r.Context(), auth, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
