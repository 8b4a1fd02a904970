package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/http/middleware"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// analyticsDefaultWindow is used when the caller sends no range.
const analyticsDefaultWindow = 30 * 24 * time.Hour

// AnalyticsHandler serves aggregated delivery statistics.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	logger    logger.Logger
}

// NewAnalyticsHandler creates the analytics handler.
func NewAnalyticsHandler(analytics *service.AnalyticsService, log logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: log}
}

// RegisterRoutes mounts the analytics endpoints.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Use(middleware.RequireScope(domain.ScopeAnalyticsRead))
		r.Get("/overview", h.handleOverview)
		r.Get("/delivery", h.handleDelivery)
		r.Get("/engagement", h.handleEngagement)
		r.Get("/bounces", h.handleBounces)
		r.Get("/reputation", h.handleReputation)
	})
}

func parseAnalyticsWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-analyticsDefaultWindow)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, domain.NewError(domain.ErrCodeValidation, "invalid from timestamp")
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, domain.NewError(domain.ErrCodeValidation, "invalid to timestamp")
		}
		to = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, domain.NewError(domain.ErrCodeValidation, "to must not precede from")
	}
	return from, to, nil
}

func (h *AnalyticsHandler) handleOverview(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	from, to, err := parseAnalyticsWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	overview, err := h.analytics.Overview(r.Context(), auth.AppID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *AnalyticsHandler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	h.handleSeries(w, r, h.analytics.Delivery)
}

func (h *AnalyticsHandler) handleEngagement(w http.ResponseWriter, r *http.Request) {
	h.handleSeries(w, r, h.analytics.Engagement)
}

func (h *AnalyticsHandler) handleBounces(w http.ResponseWriter, r *http.Request) {
	h.handleSeries(w, r, h.analytics.Bounces)
}

func (h *AnalyticsHandler) handleSeries(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error)) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	from, to, err := parseAnalyticsWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	series, err := fetch(r.Context(), auth.AppID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (h *AnalyticsHandler) handleReputation(w http.ResponseWriter, r *http.Request) {
	auth, _, err := authAndID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	reputation, err := h.analytics.Reputation(r.Context(), auth.AppID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reputation)
}
