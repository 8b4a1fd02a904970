package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/http/middleware"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// SuppressionHandler serves blocklist management, including CSV
// export and import.
type SuppressionHandler struct {
	suppressions *service.SuppressionService
	logger       logger.Logger
}

// NewSuppressionHandler creates the suppression handler.
func NewSuppressionHandler(suppressions *service.SuppressionService, log logger.Logger) *SuppressionHandler {
	return &SuppressionHandler{suppressions: suppressions, logger: log}
}

// RegisterRoutes mounts the suppression endpoints.
func (h *SuppressionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/suppression", func(r chi.Router) {
		r.Use(middleware.RequireScope(domain.ScopeSuppressionManage))
		r.Post("/", h.handleAdd)
		r.Get("/", h.handleList)
		r.Post("/bulk", h.handleAddBulk)
		r.Get("/check", h.handleCheck)
		r.Get("/export", h.handleExport)
		r.Post("/import", h.handleImport)
		r.Delete("/{address}", h.handleRemove)
	})
}

func (h *SuppressionHandler) handleAdd(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.AddSuppressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	entry, err := h.suppressions.Add(r.Context(), auth, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *SuppressionHandler) handleAddBulk(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Entries []*domain.AddSuppressionRequest `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	result, err := h.suppressions.AddBulk(r.Context(), auth, body.Entries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SuppressionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := domain.SuppressionListFilter{Limit: 50}
	query := r.URL.Query()
	if raw := query.Get("reason"); raw != "" {
		filter.Reason = &raw
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid limit"))
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid offset"))
			return
		}
		filter.Offset = offset
	}

	entries, total, err := h.suppressions.List(r.Context(), auth, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writePage(w, http.StatusOK, entries, total, filter.Limit, filter.Offset, len(entries))
}

func (h *SuppressionHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	address := r.URL.Query().Get("email")
	if address == "" {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "email query parameter is required"))
		return
	}

	check, err := h.suppressions.Check(r.Context(), auth, address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *SuppressionHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if format := r.URL.Query().Get("format"); format != "" && format != "csv" {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "unsupported format: "+format))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="suppression.csv"`)
	if err := h.suppressions.ExportCSV(r.Context(), auth, w); err != nil {
		// Headers are already out; the truncated body is the best we
		// can do.
		h.logger.WithField("error", err.Error()).Error("Suppression export failed mid-stream")
	}
}

func (h *SuppressionHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		CSV string `json:"csv"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "invalid request body"))
		return
	}
	if body.CSV == "" {
		writeError(w, domain.NewError(domain.ErrCodeValidation, "csv field is required"))
		return
	}

	result, err := h.suppressions.ImportCSV(r.Context(), auth, strings.NewReader(body.CSV))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SuppressionHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	address := chi.URLParam(r, "address")
	if err := h.suppressions.Remove(r.Context(), auth, address); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}
