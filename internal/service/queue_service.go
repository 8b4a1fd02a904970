package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// QueueService manages the tenant's send lanes.
type QueueService struct {
	repo     domain.QueueRepository
	smtpRepo domain.SMTPConfigRepository
	logger   logger.Logger
}

// NewQueueService creates the queue service.
func NewQueueService(repo domain.QueueRepository, smtpRepo domain.SMTPConfigRepository, log logger.Logger) *QueueService {
	return &QueueService{repo: repo, smtpRepo: smtpRepo, logger: log}
}

// Create adds a queue, applying defaults for unset knobs.
func (s *QueueService) Create(ctx context.Context, auth *domain.AuthContext, req *domain.CreateQueueRequest) (*domain.Queue, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkSMTPConfig(ctx, auth.AppID, req.SMTPConfigID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	queue := &domain.Queue{
		ID:           uuid.New(),
		AppID:        auth.AppID,
		Name:         req.Name,
		Priority:     domain.DefaultQueuePriority,
		RateLimit:    req.RateLimit,
		MaxRetries:   domain.DefaultQueueMaxRetries,
		RetryDelays:  domain.DefaultRetryDelays,
		SMTPConfigID: req.SMTPConfigID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Priority != nil {
		queue.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		queue.MaxRetries = *req.MaxRetries
	}
	if len(req.RetryDelays) > 0 {
		queue.RetryDelays = req.RetryDelays
	}
	if req.Settings != nil {
		queue.Settings = *req.Settings
	}

	if err := s.repo.Create(ctx, queue); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"app_id":   auth.AppID.String(),
		"queue_id": queue.ID.String(),
		"name":     queue.Name,
	}).Info("Queue created")
	return queue, nil
}

// Get returns one queue within the tenant.
func (s *QueueService) Get(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) (*domain.Queue, error) {
	return s.repo.GetByID(ctx, auth.AppID, id)
}

// List returns the tenant's queues.
func (s *QueueService) List(ctx context.Context, auth *domain.AuthContext) ([]*domain.Queue, error) {
	return s.repo.List(ctx, auth.AppID)
}

// Update overwrites a queue's mutable fields. Pending emails pick up
// the new retry policy on their next attempt.
func (s *QueueService) Update(ctx context.Context, auth *domain.AuthContext, id uuid.UUID, req *domain.CreateQueueRequest) (*domain.Queue, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkSMTPConfig(ctx, auth.AppID, req.SMTPConfigID); err != nil {
		return nil, err
	}

	queue, err := s.repo.GetByID(ctx, auth.AppID, id)
	if err != nil {
		return nil, err
	}

	queue.Name = req.Name
	queue.RateLimit = req.RateLimit
	queue.SMTPConfigID = req.SMTPConfigID
	if req.Priority != nil {
		queue.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		queue.MaxRetries = *req.MaxRetries
	}
	if len(req.RetryDelays) > 0 {
		queue.RetryDelays = req.RetryDelays
	}
	if req.Settings != nil {
		queue.Settings = *req.Settings
	}
	queue.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// Pause makes submissions to the queue fail fast with QUEUE_PAUSED
// and stops dispatch of its pending emails.
func (s *QueueService) Pause(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	return s.repo.SetPaused(ctx, auth.AppID, id, true)
}

// Resume re-enables dispatch.
func (s *QueueService) Resume(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	return s.repo.SetPaused(ctx, auth.AppID, id, false)
}

// Delete removes an empty queue. Queues still holding queued or
// processing emails cannot be deleted.
func (s *QueueService) Delete(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	stats, err := s.repo.Stats(ctx, auth.AppID, id)
	if err != nil {
		return err
	}
	if stats.Counts[string(domain.EmailStatusQueued)] > 0 || stats.Counts[string(domain.EmailStatusProcessing)] > 0 {
		return domain.NewError(domain.ErrCodeValidation, "queue has pending emails")
	}
	return s.repo.Delete(ctx, auth.AppID, id)
}

// Stats returns the live per-status counts.
func (s *QueueService) Stats(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) (*domain.QueueStats, error) {
	return s.repo.Stats(ctx, auth.AppID, id)
}

// checkSMTPConfig verifies a referenced relay config belongs to the
// tenant.
func (s *QueueService) checkSMTPConfig(ctx context.Context, appID uuid.UUID, configID *uuid.UUID) error {
	if configID == nil {
		return nil
	}
	if _, err := s.smtpRepo.GetByID(ctx, appID, *configID); err != nil {
		if domain.IsNotFound(err) {
			return domain.NewError(domain.ErrCodeInvalidSMTPConfig, "smtp config not found: "+configID.String())
		}
		return err
	}
	return nil
}
