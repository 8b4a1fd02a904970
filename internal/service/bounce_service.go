package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// BounceService processes asynchronous delivery notifications: DSN
// bounces, complaints, and delivery confirmations.
type BounceService struct {
	emailRepo       domain.EmailRepository
	suppressionRepo domain.SuppressionRepository
	webhooks        *WebhookService
	broker          broker.Broker
	logger          logger.Logger
}

// NewBounceService creates the bounce/complaint processor.
func NewBounceService(
	emailRepo domain.EmailRepository,
	suppressionRepo domain.SuppressionRepository,
	webhooks *WebhookService,
	jobBroker broker.Broker,
	log logger.Logger,
) *BounceService {
	return &BounceService{
		emailRepo:       emailRepo,
		suppressionRepo: suppressionRepo,
		webhooks:        webhooks,
		broker:          jobBroker,
		logger:          log,
	}
}

// ProcessBounce marks the email bounced and suppresses the bouncing
// recipients: hard bounces permanently, soft bounces for seven days.
func (s *BounceService) ProcessBounce(ctx context.Context, payload *broker.ProcessBouncePayload) error {
	email, err := s.emailRepo.GetAny(ctx, payload.EmailID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}

	lastError := "bounce:" + payload.BounceType
	if payload.BounceMessage != "" {
		lastError = payload.BounceMessage
	}
	if _, err := s.emailRepo.MarkBounced(ctx, payload.EmailID, lastError); err != nil {
		return err
	}

	eventData := map[string]interface{}{
		"bounceType": payload.BounceType,
		"recipients": payload.BouncedRecipients,
	}
	if payload.BounceSubType != "" {
		eventData["bounceSubType"] = payload.BounceSubType
	}
	if payload.BounceMessage != "" {
		eventData["message"] = payload.BounceMessage
	}
	s.insertEvent(ctx, payload.EmailID, domain.EventBounced, eventData, payload.Timestamp)

	reason := domain.SuppressionReasonHardBounce
	var expiresAt *time.Time
	if payload.BounceType == "soft" {
		reason = domain.SuppressionReasonSoftBounce
		t := time.Now().UTC().Add(domain.SoftBounceSuppressionTTL)
		expiresAt = &t
	}
	for _, address := range payload.BouncedRecipients {
		s.suppress(ctx, payload.AppID, address, reason, payload.EmailID, expiresAt)
	}

	email.Status = domain.EmailStatusBounced
	s.webhooks.Emit(ctx, email, domain.WebhookEventBounced, eventData)
	s.enqueueStats(ctx, payload.AppID, payload.EmailID, string(domain.EventBounced), payload.Timestamp)
	return nil
}

// ProcessComplaint appends a complained event and suppresses the
// complaining recipients with complaint precedence. The email status
// does not change.
func (s *BounceService) ProcessComplaint(ctx context.Context, payload *broker.ProcessComplaintPayload) error {
	email, err := s.emailRepo.GetAny(ctx, payload.EmailID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}

	eventData := map[string]interface{}{
		"recipients": payload.ComplainedRecipients,
	}
	if payload.ComplaintType != "" {
		eventData["complaintType"] = payload.ComplaintType
	}
	s.insertEvent(ctx, payload.EmailID, domain.EventComplained, eventData, payload.Timestamp)

	for _, address := range payload.ComplainedRecipients {
		s.suppress(ctx, payload.AppID, address, domain.SuppressionReasonComplaint, payload.EmailID, nil)
	}

	s.webhooks.Emit(ctx, email, domain.WebhookEventComplained, eventData)
	s.enqueueStats(ctx, payload.AppID, payload.EmailID, string(domain.EventComplained), payload.Timestamp)
	return nil
}

// ProcessDelivery confirms a sent email as delivered.
func (s *BounceService) ProcessDelivery(ctx context.Context, payload *broker.ProcessDeliveryPayload) error {
	email, err := s.emailRepo.GetAny(ctx, payload.EmailID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}

	ok, err := s.emailRepo.MarkDelivered(ctx, payload.EmailID, payload.Timestamp)
	if err != nil {
		return err
	}
	if !ok {
		// Already terminal; a duplicate DSN is a no-op.
		return nil
	}

	s.insertEvent(ctx, payload.EmailID, domain.EventDelivered, nil, payload.Timestamp)

	email.Status = domain.EmailStatusDelivered
	s.webhooks.Emit(ctx, email, domain.WebhookEventDelivered, nil)
	s.enqueueStats(ctx, payload.AppID, payload.EmailID, string(domain.EventDelivered), payload.Timestamp)
	return nil
}

// suppress upserts one suppression entry and records the source email.
func (s *BounceService) suppress(ctx context.Context, appID uuid.UUID, address, reason string, sourceEmailID uuid.UUID, expiresAt *time.Time) {
	source := sourceEmailID
	entry := &domain.SuppressionEntry{
		ID:            uuid.New(),
		AppID:         &appID,
		EmailAddress:  domain.NormalizeEmailAddress(address),
		Reason:        reason,
		SourceEmailID: &source,
		ExpiresAt:     expiresAt,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.suppressionRepo.Upsert(ctx, entry); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"app_id":  appID.String(),
			"address": entry.EmailAddress,
			"error":   err.Error(),
		}).Error("Failed to upsert suppression")
	}
}

func (s *BounceService) insertEvent(ctx context.Context, emailID uuid.UUID, eventType domain.EventType, data map[string]interface{}, at time.Time) {
	event := &domain.EmailEvent{
		ID:        uuid.New(),
		EmailID:   emailID,
		Type:      eventType,
		Data:      data,
		CreatedAt: at,
	}
	if err := s.emailRepo.InsertEvent(ctx, event); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"email_id": emailID.String(),
			"type":     string(eventType),
			"error":    err.Error(),
		}).Error("Failed to insert email event")
	}
}

func (s *BounceService) enqueueStats(ctx context.Context, appID, emailID uuid.UUID, eventType string, at time.Time) {
	job, err := broker.NewJob(broker.JobAggregateStats, domain.DefaultQueuePriority, broker.AggregateStatsPayload{
		AppID:     appID,
		EmailID:   emailID,
		EventType: eventType,
		Timestamp: at,
	})
	if err == nil {
		err = s.broker.Enqueue(ctx, broker.LaneAnalytics, job, 0)
	}
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to enqueue stats aggregation")
	}
}
