// Package app wires configuration, storage, services, transport, and
// the worker pool into runnable API and worker processes.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mailqueue/mailqueue/config"
	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/database"
	"github.com/mailqueue/mailqueue/internal/domain"
	apihttp "github.com/mailqueue/mailqueue/internal/http"
	"github.com/mailqueue/mailqueue/internal/metrics"
	"github.com/mailqueue/mailqueue/internal/repository"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/internal/smtppool"
	"github.com/mailqueue/mailqueue/internal/worker"
	"github.com/mailqueue/mailqueue/pkg/logger"
	"github.com/mailqueue/mailqueue/pkg/ratelimiter"
)

// defaultKeyRateLimit applies when a credential has no per-key limit.
const defaultKeyRateLimit = 120

// App encapsulates the application dependencies and configuration
type App struct {
	cfg    *config.Config
	logger logger.Logger

	db          *sql.DB
	redisClient *redis.Client

	jobBroker broker.Broker
	limiter   *ratelimiter.Limiter
	smtpPool  *smtppool.Pool
	metrics   *metrics.Metrics

	// Repositories
	appRepo         domain.AppRepository
	apiKeyRepo      domain.APIKeyRepository
	queueRepo       domain.QueueRepository
	smtpConfigRepo  domain.SMTPConfigRepository
	emailRepo       domain.EmailRepository
	suppressionRepo domain.SuppressionRepository
	trackingRepo    domain.TrackingRepository
	webhookRepo     domain.WebhookDeliveryRepository
	scheduledRepo   domain.ScheduledJobRepository
	reputationRepo  domain.ReputationRepository
	analyticsRepo   domain.AnalyticsRepository

	// Services
	authService        *service.AuthService
	rateLimitService   *service.RateLimitService
	apiKeyService      *service.APIKeyService
	queueService       *service.QueueService
	smtpConfigService  *service.SMTPConfigService
	suppressionService *service.SuppressionService
	submissionService  *service.SubmissionService
	trackingService    *service.TrackingService
	webhookService     *service.WebhookService
	bounceService      *service.BounceService
	reputationService  *service.ReputationService
	analyticsService   *service.AnalyticsService
	schedulerService   *service.SchedulerService

	apiServer     *apihttp.Server
	metricsServer *metrics.Server
	worker        *worker.Worker
	workerCancel  context.CancelFunc

	closeOnce sync.Once
}

// AppOption defines a functional option for configuring the App
type AppOption func(*App)

// WithMockDB configures the app to use an externally provided database
func WithMockDB(db *sql.DB) AppOption {
	return func(a *App) {
		a.db = db
	}
}

// WithLogger sets a custom logger
func WithLogger(log logger.Logger) AppOption {
	return func(a *App) {
		a.logger = log
	}
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, opts ...AppOption) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.NewLoggerWithLevel(cfg.LogLevel),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InitDB initializes the database connection and ensures the schema
func (a *App) InitDB() error {
	if a.db == nil {
		if err := database.EnsureDatabaseExists(&a.cfg.Database); err != nil {
			return fmt.Errorf("failed to ensure database exists: %w", err)
		}
		db, err := database.Connect(&a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
	}

	if err := database.InitializeDatabase(a.db); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return nil
}

// InitRedis connects the Redis client shared by the broker, the rate
// limiter, and the idempotency cache.
func (a *App) InitRedis() error {
	redisOpts, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	a.redisClient = redis.NewClient(redisOpts)

	if err := a.redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	a.jobBroker = broker.NewRedisBroker(a.redisClient)
	a.limiter = ratelimiter.New(a.redisClient)
	return nil
}

// InitRepositories initializes all repositories
func (a *App) InitRepositories() error {
	if a.db == nil {
		return fmt.Errorf("database not initialized")
	}

	a.appRepo = repository.NewAppRepository(a.db)
	a.apiKeyRepo = repository.NewAPIKeyRepository(a.db)
	a.queueRepo = repository.NewQueueRepository(a.db)
	a.smtpConfigRepo = repository.NewSMTPConfigRepository(a.db)
	a.emailRepo = repository.NewEmailRepository(a.db)
	a.suppressionRepo = repository.NewSuppressionRepository(a.db)
	a.trackingRepo = repository.NewTrackingRepository(a.db)
	a.webhookRepo = repository.NewWebhookDeliveryRepository(a.db)
	a.scheduledRepo = repository.NewScheduledJobRepository(a.db)
	a.reputationRepo = repository.NewReputationRepository(a.db)
	a.analyticsRepo = repository.NewAnalyticsRepository(a.db)
	return nil
}

// InitServices initializes all application services
func (a *App) InitServices() error {
	a.metrics = metrics.New()
	a.smtpPool = smtppool.New(a.cfg.Security.SecretKey, a.logger)
	a.smtpPool.SetActiveHook(func(host string, active int) {
		a.metrics.SMTPConnections.WithLabelValues(host).Set(float64(active))
	})

	a.rateLimitService = service.NewRateLimitService(a.limiter, defaultKeyRateLimit)
	a.authService = service.NewAuthService(a.apiKeyRepo, a.appRepo, a.logger)
	a.apiKeyService = service.NewAPIKeyService(a.apiKeyRepo, a.logger)
	a.queueService = service.NewQueueService(a.queueRepo, a.smtpConfigRepo, a.logger)
	a.smtpConfigService = service.NewSMTPConfigService(a.smtpConfigRepo, a.smtpPool, a.cfg.Security.SecretKey, a.logger)
	a.suppressionService = service.NewSuppressionService(a.suppressionRepo, a.logger)
	a.submissionService = service.NewSubmissionService(
		a.emailRepo,
		a.queueRepo,
		a.appRepo,
		a.suppressionRepo,
		a.rateLimitService,
		a.jobBroker,
		a.logger,
	)
	a.trackingService = service.NewTrackingService(a.trackingRepo, a.emailRepo, a.jobBroker, a.cfg.Tracking.BaseURL, a.logger)
	a.webhookService = service.NewWebhookService(a.webhookRepo, a.appRepo, a.queueRepo, a.jobBroker, a.logger)
	a.bounceService = service.NewBounceService(a.emailRepo, a.suppressionRepo, a.webhookService, a.jobBroker, a.logger)
	a.reputationService = service.NewReputationService(a.emailRepo, a.reputationRepo, a.logger)
	a.analyticsService = service.NewAnalyticsService(a.analyticsRepo, a.reputationService, a.redisClient, a.logger)
	a.schedulerService = service.NewSchedulerService(a.scheduledRepo, a.queueRepo, a.submissionService, a.logger)
	return nil
}

// InitHandlers builds the HTTP router and API server
func (a *App) InitHandlers() error {
	router := apihttp.NewRouter(apihttp.RouterDeps{
		Auth:        a.authService,
		RateLimits:  a.rateLimitService,
		Submission:  a.submissionService,
		Queues:      a.queueService,
		APIKeys:     a.apiKeyService,
		Suppression: a.suppressionService,
		SMTPConfigs: a.smtpConfigService,
		Analytics:   a.analyticsService,
		Scheduler:   a.schedulerService,
		Tracking:    a.trackingService,
		Redis:       a.redisClient,
		Logger:      a.logger,
	})
	a.apiServer = apihttp.NewServer(a.cfg.Server.Port, router, a.logger)
	a.metricsServer = metrics.NewServer(a.cfg.Server.MetricsPort, a.metrics)
	return nil
}

// InitWorker builds the dispatch pool
func (a *App) InitWorker() error {
	workerCfg := worker.Config{
		PoolSize:      a.cfg.Worker.PoolSize,
		Visibility:    secondsDuration(a.cfg.Worker.VisibilitySeconds),
		SweepInterval: secondsDuration(a.cfg.Worker.SweepSeconds),
		SweepBatch:    a.cfg.Worker.SweepBatch,
		// Reputation and scheduler cadence
		ReputationEvery: secondsDuration(a.cfg.Worker.ReputationSeconds),
		SchedulerEvery:  secondsDuration(a.cfg.Worker.SchedulerSeconds),
	}
	a.worker = worker.New(workerCfg, worker.Deps{
		Broker:          a.jobBroker,
		EmailRepo:       a.emailRepo,
		QueueRepo:       a.queueRepo,
		AppRepo:         a.appRepo,
		SMTPRepo:        a.smtpConfigRepo,
		SuppressionRepo: a.suppressionRepo,
		RateLimits:      a.rateLimitService,
		Reputation:      a.reputationService,
		Tracking:        a.trackingService,
		Webhooks:        a.webhookService,
		Bounces:         a.bounceService,
		Analytics:       a.analyticsService,
		Scheduler:       a.schedulerService,
		SMTPPool:        a.smtpPool,
		Metrics:         a.metrics,
		Logger:          a.logger,
	})
	return nil
}

// Initialize sets up all components of the application
func (a *App) Initialize() error {
	if err := a.InitDB(); err != nil {
		return err
	}
	if err := a.InitRedis(); err != nil {
		return err
	}
	if err := a.InitRepositories(); err != nil {
		return err
	}
	if err := a.InitServices(); err != nil {
		return err
	}
	if err := a.InitHandlers(); err != nil {
		return err
	}
	return a.InitWorker()
}

// StartAPI serves the REST API alongside the metrics endpoint; it
// blocks until Shutdown or until either server fails.
func (a *App) StartAPI() error {
	var g errgroup.Group
	g.Go(a.metricsServer.Start)
	g.Go(a.apiServer.Start)
	return g.Wait()
}

// StartWorker runs the dispatch pool; it returns once the pool is up.
func (a *App) StartWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	a.workerCancel = cancel
	a.worker.Start(ctx)
	go func() {
		if err := a.metricsServer.Start(); err != nil {
			a.logger.WithField("error", err.Error()).Error("Metrics server stopped")
		}
	}()
}

// Shutdown gracefully shuts down the server
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	a.closeOnce.Do(func() {
		if a.apiServer != nil {
			if err := a.apiServer.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to shut down API server: %w", err)
			}
		}
		if a.workerCancel != nil {
			a.workerCancel()
		}
		if a.worker != nil {
			a.worker.Stop()
		}
		if a.metricsServer != nil {
			if err := a.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to shut down metrics server: %w", err)
			}
		}
		if a.smtpPool != nil {
			a.smtpPool.Close()
		}
		if a.redisClient != nil {
			if err := a.redisClient.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to close Redis client: %w", err)
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to close database: %w", err)
			}
		}
	})
	return firstErr
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// GetConfig returns the app's configuration
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// GetLogger returns the app's logger
func (a *App) GetLogger() logger.Logger {
	return a.logger
}

// GetDB returns the app's database connection
func (a *App) GetDB() *sql.DB {
	return a.db
}
