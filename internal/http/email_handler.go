// Package http is the REST surface: chi router, JSON envelopes, and
// the public tracking endpoints.
package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/http/middleware"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// EmailHandler serves submission and email read endpoints.
type EmailHandler struct {
	submission *service.SubmissionService
	logger     logger.Logger
}

// NewEmailHandler creates the email handler.
func NewEmailHandler(submission *service.SubmissionService, log logger.Logger) *EmailHandler {
	return &EmailHandler{submission: submission, logger: log}
}

// RegisterRoutes mounts the email endpoints.
func (h *EmailHandler) RegisterRoutes(r chi.Router) {
	r.Route("/emails", func(r chi.Router) {
		r.With(middleware.RequireScope(domain.ScopeEmailSend)).Post("/", h.handleSubmit)
		r.With(middleware.RequireScope(domain.ScopeEmailSend)).Post("/batch", h.handleSubmitBatch)
		r.With(middleware.RequireScope(domain.ScopeEmailRead)).Get("/", h.handleList)
		r.With(middleware.RequireScope(domain.ScopeEmailRead)).Get("/{id}", h.handleGet)
		r.With(middleware.RequireScope(domain.ScopeEmailRead)).Get("/{id}/events", h.handleEvents)
		r.With(middleware.RequireScope(domain.ScopeEmailSend)).Delete("/{id}", h.handleCancel)
		r.With(middleware.RequireScope(domain.ScopeEmailSend)).Post("/{id}/retry", h.handleRetry)
	})
}

func authAndID(r *http.Request) (*domain.AuthContext, uuid.UUID, error) {
	auth, ok := domain.AuthFromContext(r.Context())
	if !ok {
		return nil, uuid.Nil, domain.NewError(domain.ErrCodeUnauthorized, "missing auth context")
	}
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return auth, uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, uuid.Nil, domain.NewError(domain.ErrCodeValidation, "invalid id: "+raw)
	}
	return auth, id, nil
}

func (h *EmailHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.SubmitEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	var idempotencyKey *string
	if key, ok := middleware.IdempotencyKeyFromContext(r.Context()); ok {
		idempotencyKey = &key
	}

	resp, err := h.submission.Submit(r.Context(), auth.AppID, &req, idempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *EmailHandler) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Emails []*domain.SubmitEmailRequest `json:"emails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	results, err := h.submission.SubmitBatch(r.Context(), auth.AppID, body.Emails)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"results": results})
}

func (h *EmailHandler) handleList(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	filter, err := parseEmailFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	emails, total, err := h.submission.List(r.Context(), auth.AppID, *filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writePage(w, http.StatusOK, emails, total, filter.Limit, filter.Offset, len(emails))
}

func parseEmailFilter(r *http.Request) (*domain.EmailListFilter, error) {
	filter := &domain.EmailListFilter{Limit: 50}
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		status := domain.EmailStatus(raw)
		filter.Status = &status
	}
	if raw := query.Get("queue"); raw != "" {
		queueID, err := uuid.Parse(raw)
		if err != nil {
			return nil, domain.NewError(domain.ErrCodeValidation, "invalid queue id")
		}
		filter.QueueID = &queueID
	}
	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domain.NewError(domain.ErrCodeValidation, "invalid from timestamp")
		}
		filter.FromDate = &from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domain.NewError(domain.ErrCodeValidation, "invalid to timestamp")
		}
		filter.ToDate = &to
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return nil, domain.NewError(domain.ErrCodeValidation, "invalid limit")
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, domain.NewError(domain.ErrCodeValidation, "invalid offset")
		}
		filter.Offset = offset
	}
	return filter, nil
}

func (h *EmailHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	email, err := h.submission.Get(r.Context(), auth.AppID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (h *EmailHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := h.submission.Events(r.Context(), auth.AppID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EmailHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.submission.Cancel(r.Context(), auth.AppID, id); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (h *EmailHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	auth, id, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.submission.Retry(r.Context(), auth.AppID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
