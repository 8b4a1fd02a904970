package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// SchedulerService manages cron-driven recurring sends and fires the
// due ones each tick.
type SchedulerService struct {
	repo       domain.ScheduledJobRepository
	queueRepo  domain.QueueRepository
	submission *SubmissionService
	logger     logger.Logger
}

// NewSchedulerService creates the scheduler.
func NewSchedulerService(repo domain.ScheduledJobRepository, queueRepo domain.QueueRepository, submission *SubmissionService, log logger.Logger) *SchedulerService {
	return &SchedulerService{
		repo:       repo,
		queueRepo:  queueRepo,
		submission: submission,
		logger:     log,
	}
}

// Create registers a scheduled job, resolving its queue and computing
// the first run.
func (s *SchedulerService) Create(ctx context.Context, auth *domain.AuthContext, req *domain.CreateScheduledJobRequest) (*domain.ScheduledJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	queue, err := s.queueRepo.GetByName(ctx, auth.AppID, req.Queue)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewError(domain.ErrCodeQueueNotFound, "queue not found: "+req.Queue)
		}
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.ScheduledJob{
		ID:        uuid.New(),
		AppID:     auth.AppID,
		QueueID:   queue.ID,
		Name:      req.Name,
		CronExpr:  req.CronExpr,
		Timezone:  req.Timezone,
		Template:  req.Template,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Active != nil {
		job.Active = *req.Active
	}

	nextRun, err := job.NextRun(now)
	if err != nil {
		return nil, err
	}
	job.NextRunAt = &nextRun

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns one scheduled job within the tenant.
func (s *SchedulerService) Get(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) (*domain.ScheduledJob, error) {
	return s.repo.GetByID(ctx, auth.AppID, id)
}

// List returns the tenant's scheduled jobs.
func (s *SchedulerService) List(ctx context.Context, auth *domain.AuthContext) ([]*domain.ScheduledJob, error) {
	return s.repo.List(ctx, auth.AppID)
}

// Update overwrites a job's definition and recomputes its next run.
func (s *SchedulerService) Update(ctx context.Context, auth *domain.AuthContext, id uuid.UUID, req *domain.CreateScheduledJobRequest) (*domain.ScheduledJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job, err := s.repo.GetByID(ctx, auth.AppID, id)
	if err != nil {
		return nil, err
	}

	queue, err := s.queueRepo.GetByName(ctx, auth.AppID, req.Queue)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewError(domain.ErrCodeQueueNotFound, "queue not found: "+req.Queue)
		}
		return nil, err
	}

	job.QueueID = queue.ID
	job.Name = req.Name
	job.CronExpr = req.CronExpr
	job.Timezone = req.Timezone
	job.Template = req.Template
	if req.Active != nil {
		job.Active = *req.Active
	}
	job.UpdatedAt = time.Now().UTC()

	nextRun, err := job.NextRun(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	job.NextRunAt = &nextRun

	if err := s.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Delete removes a scheduled job.
func (s *SchedulerService) Delete(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	return s.repo.Delete(ctx, auth.AppID, id)
}

// Tick fires every due job once and advances its schedule. One bad job
// never blocks the rest of the batch.
func (s *SchedulerService) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.repo.ListDue(ctx, now, 100)
	if err != nil {
		return err
	}

	for _, job := range due {
		if err := s.fire(ctx, job, now); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"job_id": job.ID.String(),
				"error":  err.Error(),
			}).Error("Scheduled job run failed")
		}
	}
	return nil
}

// fire submits the job's template and advances lastRunAt/nextRunAt.
// The schedule advances even when the submission is rejected, so a
// persistently failing template cannot wedge the tick loop.
func (s *SchedulerService) fire(ctx context.Context, job *domain.ScheduledJob, now time.Time) error {
	queue, err := s.queueRepo.GetByID(ctx, job.AppID, job.QueueID)
	if err != nil {
		return err
	}

	req := &domain.SubmitEmailRequest{
		Queue:    queue.Name,
		From:     job.Template.From,
		To:       job.Template.To,
		Subject:  job.Template.Subject,
		HTML:     job.Template.HTML,
		Text:     job.Template.Text,
		Headers:  job.Template.Headers,
		Metadata: job.Template.Meta,
	}
	if _, err := s.submission.Submit(ctx, job.AppID, req, nil); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"job_id": job.ID.String(),
			"error":  err.Error(),
		}).Warn("Scheduled job submission rejected")
	}

	nextRun, err := job.NextRun(now)
	if err != nil {
		return err
	}
	return s.repo.MarkRun(ctx, job.ID, now, nextRun)
}
