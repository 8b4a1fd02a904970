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

// SMTPConfigHandler serves relay configuration endpoints. Credentials
// never round-trip: stored passwords stay encrypted and responses
// carry only a has-credentials flag.
type SMTPConfigHandler struct {
	configs *service.SMTPConfigService
	logger  logger.Logger
}

// NewSMTPConfigHandler creates the SMTP config handler.
func NewSMTPConfigHandler(configs *service.SMTPConfigService, log logger.Logger) *SMTPConfigHandler {
	return &SMTPConfigHandler{configs: configs, logger: log}
}

// RegisterRoutes mounts the SMTP config endpoints.
func (h *SMTPConfigHandler) RegisterRoutes(r chi.Router) {
	r.Route("/smtp-configs", func(r chi.Router) {
		r.Use(middleware.RequireScope(domain.ScopeSMTPManage))
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/test", h.handleTest)
		r.Post("/{id}/activate", h.handleActivate)
		r.Post("/{id}/deactivate", h.handleDeactivate)
	})
}

func (h *SMTPConfigHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.CreateSMTPConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	config, err := h.configs.Create(r.Context(), auth, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, config)
}

func (h *SMTPConfigHandler) handleList(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	configs, err := h.configs.List(r.Context(), auth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (h *SMTPConfigHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	config, err := h.configs.Get(r.Context(), auth, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

func (h *SMTPConfigHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.CreateSMTPConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	config, err := h.configs.Update(r.Context(), auth, id, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

func (h *SMTPConfigHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.configs.Delete(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (h *SMTPConfigHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.configs.Test(r.Context(), auth, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SMTPConfigHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.configs.Activate(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": true})
}

func (h *SMTPConfigHandler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.configs.Deactivate(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
}
