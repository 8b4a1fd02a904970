package http

import (
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// TrackingHandler serves the public pixel and redirect endpoints.
// These are hit from recipient mail clients, so they are unauthed and
// mounted outside the /v1 API group.
type TrackingHandler struct {
	tracking *service.TrackingService
	logger   logger.Logger
}

// NewTrackingHandler creates the tracking handler.
func NewTrackingHandler(tracking *service.TrackingService, log logger.Logger) *TrackingHandler {
	return &TrackingHandler{tracking: tracking, logger: log}
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RegisterRoutes mounts the public tracking endpoints.
func (h *TrackingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/t/{id}/open.gif", h.handleOpen)
	r.Get("/c/{code}", h.handleClick)
}

// handleOpen always serves the pixel, even for garbage IDs. A broken
// image in a recipient's inbox is worse than a dropped open event.
func (h *TrackingHandler) handleOpen(w http.ResponseWriter, r *http.Request) {
	h.tracking.HandleOpen(r.Context(), chi.URLParam(r, "id"), r.UserAgent(), remoteAddr(r))

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(service.TransparentGIF)))
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(service.TransparentGIF)
}

func (h *TrackingHandler) handleClick(w http.ResponseWriter, r *http.Request) {
	target, err := h.tracking.HandleClick(r.Context(), chi.URLParam(r, "code"), r.UserAgent(), remoteAddr(r))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
