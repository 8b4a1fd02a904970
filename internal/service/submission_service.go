package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// MaxBatchSize caps one batch submission.
const MaxBatchSize = 1000

// SubmissionService runs the intake pipeline: validation, queue
// resolution, idempotency, suppression, ceiling, persist, enqueue.
type SubmissionService struct {
	emailRepo       domain.EmailRepository
	queueRepo       domain.QueueRepository
	appRepo         domain.AppRepository
	suppressionRepo domain.SuppressionRepository
	rateLimits      *RateLimitService
	broker          broker.Broker
	logger          logger.Logger
}

// NewSubmissionService creates the submission service.
func NewSubmissionService(
	emailRepo domain.EmailRepository,
	queueRepo domain.QueueRepository,
	appRepo domain.AppRepository,
	suppressionRepo domain.SuppressionRepository,
	rateLimits *RateLimitService,
	jobBroker broker.Broker,
	log logger.Logger,
) *SubmissionService {
	return &SubmissionService{
		emailRepo:       emailRepo,
		queueRepo:       queueRepo,
		appRepo:         appRepo,
		suppressionRepo: suppressionRepo,
		rateLimits:      rateLimits,
		broker:          jobBroker,
		logger:          log,
	}
}

// Submit accepts one email. The email/event pair commits in a single
// transaction; the broker enqueue afterwards is best-effort, with the
// reconciliation sweep as the crash backstop.
func (s *SubmissionService) Submit(ctx context.Context, appID uuid.UUID, req *domain.SubmitEmailRequest, idempotencyKey *string) (*domain.SubmitEmailResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	queue, err := s.queueRepo.GetByName(ctx, appID, req.Queue)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewError(domain.ErrCodeQueueNotFound, "queue not found: "+req.Queue)
		}
		return nil, err
	}
	if queue.Paused {
		return nil, domain.NewError(domain.ErrCodeQueuePaused, "queue is paused: "+queue.Name)
	}

	app, err := s.appRepo.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}

	// The apiKey tier is consumed by the HTTP middleware; submission
	// consumes the daily and queue windows so dispatch can only peek.
	if err := s.acquireRateLimits(ctx, app, queue); err != nil {
		return nil, err
	}

	if idempotencyKey != nil && *idempotencyKey != "" {
		existing, err := s.emailRepo.GetByIdempotencyKey(ctx, appID, *idempotencyKey)
		if err != nil && !domain.IsNotFound(err) {
			return nil, err
		}
		if existing != nil {
			return nil, domain.NewErrorWithDetails(
				domain.ErrCodeIdempotencyConflict,
				"an email with this idempotency key already exists",
				map[string]interface{}{"existingId": existing.ID.String()},
			)
		}
	}

	email := &domain.Email{
		ID:              uuid.New(),
		AppID:           appID,
		QueueID:         queue.ID,
		IdempotencyKey:  idempotencyKey,
		From:            req.From,
		To:              req.To,
		CC:              req.CC,
		BCC:             req.BCC,
		ReplyTo:         req.ReplyTo,
		Subject:         req.Subject,
		HTMLBody:        req.HTML,
		TextBody:        req.Text,
		Headers:         req.Headers,
		Personalization: req.Personalization,
		Metadata:        req.Metadata,
		Status:          domain.EmailStatusQueued,
		ScheduledAt:     req.ScheduledAt,
	}

	if err := s.checkSuppression(ctx, appID, email.Recipients()); err != nil {
		return nil, err
	}
	if err := s.checkMonthlyCeiling(ctx, app); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	email.CreatedAt = now
	email.UpdatedAt = now

	event := &domain.EmailEvent{
		ID:        uuid.New(),
		EmailID:   email.ID,
		Type:      domain.EventQueued,
		CreatedAt: now,
	}
	if err := s.emailRepo.CreateWithEvent(ctx, email, event); err != nil {
		return nil, err
	}

	s.enqueueSend(ctx, email, queue)

	return &domain.SubmitEmailResponse{
		ID:       email.ID,
		Status:   email.Status,
		QueuedAt: email.CreatedAt,
	}, nil
}

// SubmitBatch accepts up to MaxBatchSize emails, returning per-item
// outcomes. One item failing never aborts the rest.
func (s *SubmissionService) SubmitBatch(ctx context.Context, appID uuid.UUID, reqs []*domain.SubmitEmailRequest) ([]*domain.BatchSubmitResult, error) {
	if len(reqs) == 0 {
		return nil, domain.NewError(domain.ErrCodeValidation, "batch is empty")
	}
	if len(reqs) > MaxBatchSize {
		return nil, domain.NewError(domain.ErrCodeValidation, "batch exceeds 1000 items")
	}

	results := make([]*domain.BatchSubmitResult, 0, len(reqs))
	for i, req := range reqs {
		resp, err := s.Submit(ctx, appID, req, nil)
		if err != nil {
			domainErr, ok := domain.AsError(err)
			if !ok {
				domainErr = domain.NewError(domain.ErrCodeInternal, "internal error")
				s.logger.WithFields(map[string]interface{}{
					"app_id": appID.String(),
					"index":  i,
					"error":  err.Error(),
				}).Error("Batch item failed")
			}
			results = append(results, &domain.BatchSubmitResult{Index: i, Success: false, Error: domainErr})
			continue
		}
		results = append(results, &domain.BatchSubmitResult{Index: i, Success: true, Data: resp})
	}
	return results, nil
}

// Cancel stops a queued email. Any other status is too late.
func (s *SubmissionService) Cancel(ctx context.Context, appID, id uuid.UUID) error {
	email, err := s.emailRepo.GetByID(ctx, appID, id)
	if err != nil {
		return err
	}

	ok, err := s.emailRepo.UpdateStatus(ctx, email.ID, []domain.EmailStatus{domain.EmailStatusQueued}, domain.EmailStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewError(domain.ErrCodeValidation, "only queued emails can be cancelled")
	}

	s.insertEvent(ctx, email.ID, domain.EventQueued, map[string]interface{}{"cancelled": true})
	return nil
}

// Retry re-queues a failed email with default priority.
func (s *SubmissionService) Retry(ctx context.Context, appID, id uuid.UUID) (*domain.SubmitEmailResponse, error) {
	email, err := s.emailRepo.GetByID(ctx, appID, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.emailRepo.ResetForManualRetry(ctx, appID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewError(domain.ErrCodeValidation, "only failed emails can be retried")
	}

	s.insertEvent(ctx, email.ID, domain.EventQueued, map[string]interface{}{
		"retry":            true,
		"previousAttempts": email.RetryCount,
	})

	job, err := broker.NewJob(broker.JobSendEmail, domain.DefaultQueuePriority, broker.SendEmailPayload{
		EmailID:  email.ID,
		AppID:    appID,
		QueueID:  email.QueueID,
		Priority: domain.DefaultQueuePriority,
	})
	if err == nil {
		err = s.broker.Enqueue(ctx, broker.LaneEmail, job, 0)
	}
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"email_id": email.ID.String(),
			"error":    err.Error(),
		}).Error("Failed to enqueue manual retry; sweep will pick it up")
	}

	return &domain.SubmitEmailResponse{
		ID:       email.ID,
		Status:   domain.EmailStatusQueued,
		QueuedAt: time.Now().UTC(),
	}, nil
}

// Get returns one email within the tenant.
func (s *SubmissionService) Get(ctx context.Context, appID, id uuid.UUID) (*domain.Email, error) {
	return s.emailRepo.GetByID(ctx, appID, id)
}

// List pages through the tenant's emails.
func (s *SubmissionService) List(ctx context.Context, appID uuid.UUID, filter domain.EmailListFilter) ([]*domain.Email, int64, error) {
	return s.emailRepo.List(ctx, appID, filter)
}

// Events returns an email's append-only event log.
func (s *SubmissionService) Events(ctx context.Context, appID, id uuid.UUID) ([]*domain.EmailEvent, error) {
	if _, err := s.emailRepo.GetByID(ctx, appID, id); err != nil {
		return nil, err
	}
	return s.emailRepo.ListEvents(ctx, id)
}

// checkSuppression rejects the whole submission when any recipient is
// suppressed for the tenant or globally.
func (s *SubmissionService) checkSuppression(ctx context.Context, appID uuid.UUID, recipients []string) error {
	for _, address := range recipients {
		entry, err := s.suppressionRepo.Get(ctx, appID, address)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return err
		}
		return domain.NewErrorWithDetails(
			domain.ErrCodeSuppressedEmail,
			"recipient is suppressed: "+address,
			map[string]interface{}{"address": address, "reason": entry.Reason},
		)
	}
	return nil
}

// acquireRateLimits consumes one slot from the daily and queue
// windows.
func (s *SubmissionService) acquireRateLimits(ctx context.Context, app *domain.App, queue *domain.Queue) error {
	if s.rateLimits == nil {
		return nil
	}

	daily, err := s.rateLimits.AllowAppDaily(ctx, app.ID, app.DailyLimit)
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("Daily rate limit check failed; allowing submission")
		return nil
	}
	if !daily.Allowed {
		return RateLimitError(daily, "appDaily")
	}

	queueResult, err := s.rateLimits.AllowQueue(ctx, queue.ID, queue.RateLimit)
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("Queue rate limit check failed; allowing submission")
		return nil
	}
	if !queueResult.Allowed {
		return RateLimitError(queueResult, "queue")
	}
	return nil
}

// checkMonthlyCeiling enforces the app's calendar-month send cap.
func (s *SubmissionService) checkMonthlyCeiling(ctx context.Context, app *domain.App) error {
	if app.MonthlyLimit == nil {
		return nil
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	sent, err := s.emailRepo.CountByStatusSince(ctx, app.ID,
		[]domain.EmailStatus{domain.EmailStatusSent, domain.EmailStatusDelivered},
		monthStart,
	)
	if err != nil {
		return err
	}
	if sent >= *app.MonthlyLimit {
		return domain.NewErrorWithDetails(
			domain.ErrCodeLimitExceeded,
			"monthly send limit reached",
			map[string]interface{}{"limit": *app.MonthlyLimit},
		)
	}
	return nil
}

// enqueueSend pushes the send job, honoring scheduledAt. Failures are
// logged only; the reconciliation sweep re-enqueues.
func (s *SubmissionService) enqueueSend(ctx context.Context, email *domain.Email, queue *domain.Queue) {
	var delay time.Duration
	if email.ScheduledAt != nil {
		if until := time.Until(*email.ScheduledAt); until > 0 {
			delay = until
		}
	}

	job, err := broker.NewJob(broker.JobSendEmail, queue.Priority, broker.SendEmailPayload{
		EmailID:  email.ID,
		AppID:    email.AppID,
		QueueID:  queue.ID,
		Priority: queue.Priority,
	})
	if err == nil {
		err = s.broker.Enqueue(ctx, broker.LaneEmail, job, delay)
	}
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"email_id": email.ID.String(),
			"error":    err.Error(),
		}).Error("Failed to enqueue send job; sweep will pick it up")
	}
}

// insertEvent appends a lifecycle event, logging rather than failing
// the caller on error.
func (s *SubmissionService) insertEvent(ctx context.Context, emailID uuid.UUID, eventType domain.EventType, data map[string]interface{}) {
	event := &domain.EmailEvent{
		ID:        uuid.New(),
		EmailID:   emailID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.emailRepo.InsertEvent(ctx, event); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"email_id": emailID.String(),
			"type":     string(eventType),
			"error":    err.Error(),
		}).Error("Failed to insert email event")
	}
}
