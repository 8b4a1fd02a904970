// Package worker runs the job dispatch pool: a fixed set of routines
// leasing from the broker lanes, plus the periodic maintenance loops
// (reconciliation sweep, reputation recompute, cron scheduler tick).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/metrics"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/internal/smtppool"
	"github.com/mailqueue/mailqueue/pkg/emailerror"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// Config tunes the pool and maintenance loops.
type Config struct {
	PoolSize          int
	Visibility        time.Duration
	IdlePoll          time.Duration
	SweepInterval     time.Duration
	SweepBatch        int
	ReputationEvery   time.Duration
	SchedulerEvery    time.Duration
	MaxHandlerRetries int
}

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.Visibility <= 0 {
		c.Visibility = 5 * time.Minute
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = 500 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 200
	}
	if c.ReputationEvery <= 0 {
		c.ReputationEvery = time.Minute
	}
	if c.SchedulerEvery <= 0 {
		c.SchedulerEvery = time.Minute
	}
	if c.MaxHandlerRetries <= 0 {
		c.MaxHandlerRetries = 5
	}
}

// Deps collects the worker's collaborators.
type Deps struct {
	Broker          broker.Broker
	EmailRepo       domain.EmailRepository
	QueueRepo       domain.QueueRepository
	AppRepo         domain.AppRepository
	SMTPRepo        domain.SMTPConfigRepository
	SuppressionRepo domain.SuppressionRepository
	RateLimits      *service.RateLimitService
	Reputation      *service.ReputationService
	Tracking        *service.TrackingService
	Webhooks        *service.WebhookService
	Bounces         *service.BounceService
	Analytics       *service.AnalyticsService
	Scheduler       *service.SchedulerService
	SMTPPool        *smtppool.Pool
	Metrics         *metrics.Metrics
	Logger          logger.Logger
}

// Worker is the dispatch pool.
type Worker struct {
	cfg Config

	broker          broker.Broker
	emailRepo       domain.EmailRepository
	queueRepo       domain.QueueRepository
	appRepo         domain.AppRepository
	smtpRepo        domain.SMTPConfigRepository
	suppressionRepo domain.SuppressionRepository
	rateLimits      *service.RateLimitService
	reputation      *service.ReputationService
	tracking        *service.TrackingService
	webhooks        *service.WebhookService
	bounces         *service.BounceService
	analytics       *service.AnalyticsService
	scheduler       *service.SchedulerService
	smtpPool        *smtppool.Pool
	classifier      *emailerror.Classifier
	metrics         *metrics.Metrics
	logger          logger.Logger

	handlers map[broker.JobType]handlerFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type handlerFunc func(ctx context.Context, job *broker.LeasedJob) error

// rescheduleError asks the loop to Nack the job after a delay without
// treating it as a handler failure.
type rescheduleError struct {
	delay time.Duration
}

func (e *rescheduleError) Error() string { return "rescheduled" }

func reschedule(delay time.Duration) error {
	return &rescheduleError{delay: delay}
}

// lanes in lease-priority order: email work first, then the fan-out
// and bookkeeping lanes.
var lanes = []string{broker.LaneEmail, broker.LaneWebhook, broker.LaneTracking, broker.LaneAnalytics}

// New creates a worker pool.
func New(cfg Config, deps Deps) *Worker {
	cfg.applyDefaults()

	w := &Worker{
		cfg:             cfg,
		broker:          deps.Broker,
		emailRepo:       deps.EmailRepo,
		queueRepo:       deps.QueueRepo,
		appRepo:         deps.AppRepo,
		smtpRepo:        deps.SMTPRepo,
		suppressionRepo: deps.SuppressionRepo,
		rateLimits:      deps.RateLimits,
		reputation:      deps.Reputation,
		tracking:        deps.Tracking,
		webhooks:        deps.Webhooks,
		bounces:         deps.Bounces,
		analytics:       deps.Analytics,
		scheduler:       deps.Scheduler,
		smtpPool:        deps.SMTPPool,
		classifier:      emailerror.NewClassifier(),
		metrics:         deps.Metrics,
		logger:          deps.Logger,
	}

	w.handlers = map[broker.JobType]handlerFunc{
		broker.JobSendEmail:        w.handleSendEmail,
		broker.JobDeliverWebhook:   w.handleDeliverWebhook,
		broker.JobRecordTracking:   w.handleRecordTracking,
		broker.JobAggregateStats:   w.handleAggregateStats,
		broker.JobUpdateReputation: w.handleUpdateReputation,
		broker.JobProcessBounce:    w.handleProcessBounce,
		broker.JobProcessComplaint: w.handleProcessComplaint,
		broker.JobProcessDelivery:  w.handleProcessDelivery,
	}
	return w
}

// Start launches the pool routines and maintenance loops. It returns
// immediately; Stop drains.
func (w *Worker) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel

	w.metrics.WorkerStatus.Set(1)
	w.logger.WithField("pool_size", w.cfg.PoolSize).Info("Worker pool starting")

	for i := 0; i < w.cfg.PoolSize; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx)
		}()
	}

	w.startTicker(ctx, w.cfg.SweepInterval, w.runSweep)
	w.startTicker(ctx, w.cfg.ReputationEvery, w.enqueueReputationJobs)
	w.startTicker(ctx, w.cfg.SchedulerEvery, func(ctx context.Context) {
		if err := w.scheduler.Tick(ctx); err != nil {
			w.logger.WithField("error", err.Error()).Error("Scheduler tick failed")
		}
	})
}

// Stop waits for in-flight jobs to finish. No hard deadline; the
// supervisor owns the timeout.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.metrics.WorkerStatus.Set(0)
	w.logger.Info("Worker pool stopped")
}

func (w *Worker) startTicker(ctx context.Context, every time.Duration, fn func(context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// runLoop is one pool routine: lease, process to completion, repeat.
func (w *Worker) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job := w.leaseNext(ctx)
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.IdlePoll):
			}
			continue
		}
		w.process(ctx, job)
	}
}

// leaseNext tries each lane in priority order.
func (w *Worker) leaseNext(ctx context.Context) *broker.LeasedJob {
	for _, lane := range lanes {
		job, err := w.broker.Lease(ctx, lane, w.cfg.Visibility)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.WithFields(map[string]interface{}{
					"lane":  lane,
					"error": err.Error(),
				}).Error("Broker lease failed")
			}
			continue
		}
		if job != nil {
			return job
		}
	}
	return nil
}

// process runs one job through its handler and settles the lease.
// Handler errors Nack with linear backoff until the retry cap, then
// drop the job.
func (w *Worker) process(ctx context.Context, job *broker.LeasedJob) {
	w.metrics.ActiveJobs.Inc()
	defer w.metrics.ActiveJobs.Dec()

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.logger.WithFields(map[string]interface{}{
			"job_id": job.ID,
			"type":   string(job.Type),
		}).Error("Dropping job of unknown type")
		w.settle(ctx, job, nil, 0)
		return
	}

	err := handler(ctx, job)
	if resched, ok := err.(*rescheduleError); ok {
		w.settle(ctx, job, nil, resched.delay)
		return
	}
	if err != nil {
		if job.Attempts < w.cfg.MaxHandlerRetries {
			w.logger.WithFields(map[string]interface{}{
				"job_id":  job.ID,
				"type":    string(job.Type),
				"attempt": job.Attempts,
				"error":   err.Error(),
			}).Warn("Job handler failed; backing off")
			w.settle(ctx, job, nil, time.Duration(job.Attempts)*30*time.Second)
			return
		}
		w.logger.WithFields(map[string]interface{}{
			"job_id": job.ID,
			"type":   string(job.Type),
			"error":  err.Error(),
		}).Error("Job handler exhausted retries; dropping")
	}
	w.settle(ctx, job, nil, 0)
}

// settle Acks, or Nacks with delay when one is given.
func (w *Worker) settle(ctx context.Context, job *broker.LeasedJob, _ error, nackDelay time.Duration) {
	var err error
	if nackDelay > 0 {
		err = w.broker.Nack(ctx, job, nackDelay)
	} else {
		err = w.broker.Ack(ctx, job)
	}
	if err != nil && ctx.Err() == nil {
		w.logger.WithFields(map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		}).Error("Failed to settle job lease")
	}
}

// insertEvent appends a lifecycle event, logging on failure.
func (w *Worker) insertEvent(ctx context.Context, emailID uuid.UUID, eventType domain.EventType, data map[string]interface{}) {
	event := &domain.EmailEvent{
		ID:        uuid.New(),
		EmailID:   emailID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.emailRepo.InsertEvent(ctx, event); err != nil {
		w.logger.WithFields(map[string]interface{}{
			"email_id": emailID.String(),
			"type":     string(eventType),
			"error":    err.Error(),
		}).Error("Failed to insert email event")
	}
}

// enqueueStats feeds the analytics lane.
func (w *Worker) enqueueStats(ctx context.Context, appID, emailID uuid.UUID, eventType string) {
	job, err := broker.NewJob(broker.JobAggregateStats, domain.DefaultQueuePriority, broker.AggregateStatsPayload{
		AppID:     appID,
		EmailID:   emailID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	})
	if err == nil {
		err = w.broker.Enqueue(ctx, broker.LaneAnalytics, job, 0)
	}
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("Failed to enqueue stats aggregation")
	}
}
