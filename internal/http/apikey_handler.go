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

// APIKeyHandler serves credential management. All routes require the
// admin scope; the plaintext secret appears only in create and rotate
// responses.
type APIKeyHandler struct {
	keys   *service.APIKeyService
	logger logger.Logger
}

// NewAPIKeyHandler creates the API key handler.
func NewAPIKeyHandler(keys *service.APIKeyService, log logger.Logger) *APIKeyHandler {
	return &APIKeyHandler{keys: keys, logger: log}
}

// RegisterRoutes mounts the key endpoints.
func (h *APIKeyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api-keys", func(r chi.Router) {
		r.Use(middleware.RequireScope(domain.ScopeAdmin))
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/rotate", h.handleRotate)
		r.Post("/{id}/revoke", h.handleRevoke)
		r.Delete("/{id}", h.handleDelete)
	})
}

func (h *APIKeyHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	key, err := h.keys.Create(r.Context(), auth, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *APIKeyHandler) handleList(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	keys, err := h.keys.List(r.Context(), auth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *APIKeyHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key, err := h.keys.Get(r.Context(), auth, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *APIKeyHandler) handleRotate(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key, err := h.keys.Rotate(r.Context(), auth, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *APIKeyHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.keys.Revoke(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": true})
}

func (h *APIKeyHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.keys.Delete(r.Context(), auth, id); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}
