package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/mailqueue/mailqueue/internal/http/middleware"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// RouterDeps carries everything the router needs.
type RouterDeps struct {
	Auth        *service.AuthService
	RateLimits  *service.RateLimitService
	Submission  *service.SubmissionService
	Queues      *service.QueueService
	APIKeys     *service.APIKeyService
	Suppression *service.SuppressionService
	SMTPConfigs *service.SMTPConfigService
	Analytics   *service.AnalyticsService
	Scheduler   *service.SchedulerService
	Tracking    *service.TrackingService
	Redis       *redis.Client
	Logger      logger.Logger
}

// NewRouter assembles the full route tree: public tracking endpoints
// at the root, the authenticated API under /v1.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	NewTrackingHandler(deps.Tracking, deps.Logger).RegisterRoutes(r)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(deps.Auth, deps.Logger))
		r.Use(middleware.RateLimit(deps.RateLimits, deps.Logger))
		r.Use(middleware.IdempotencyCache(deps.Redis, deps.Logger))

		NewEmailHandler(deps.Submission, deps.Logger).RegisterRoutes(r)
		NewQueueHandler(deps.Queues, deps.Logger).RegisterRoutes(r)
		NewAPIKeyHandler(deps.APIKeys, deps.Logger).RegisterRoutes(r)
		NewSuppressionHandler(deps.Suppression, deps.Logger).RegisterRoutes(r)
		NewSMTPConfigHandler(deps.SMTPConfigs, deps.Logger).RegisterRoutes(r)
		NewAnalyticsHandler(deps.Analytics, deps.Logger).RegisterRoutes(r)
		NewScheduledJobHandler(deps.Scheduler, deps.Logger).RegisterRoutes(r)
	})

	return r
}

// Server wraps the API http.Server.
type Server struct {
	server *http.Server
	logger logger.Logger
}

// NewServer creates the API server on the given port.
func NewServer(port int, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: log,
	}
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("API server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
