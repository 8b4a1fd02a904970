package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/crypto"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

const (
	webhookTimeout      = 30 * time.Second
	webhookUserAgent    = "MailQueue-Webhook/1.0"
	webhookMaxErrorBody = 200
)

// WebhookService persists and delivers signed event notifications.
type WebhookService struct {
	deliveryRepo domain.WebhookDeliveryRepository
	appRepo      domain.AppRepository
	queueRepo    domain.QueueRepository
	broker       broker.Broker
	client       *http.Client
	logger       logger.Logger
}

// NewWebhookService creates the webhook service.
func NewWebhookService(
	deliveryRepo domain.WebhookDeliveryRepository,
	appRepo domain.AppRepository,
	queueRepo domain.QueueRepository,
	jobBroker broker.Broker,
	log logger.Logger,
) *WebhookService {
	return &WebhookService{
		deliveryRepo: deliveryRepo,
		appRepo:      appRepo,
		queueRepo:    queueRepo,
		broker:       jobBroker,
		client:       &http.Client{Timeout: webhookTimeout},
		logger:       log,
	}
}

// Emit persists a pending delivery for the event and queues its first
// attempt. Apps without a webhook URL produce nothing.
func (s *WebhookService) Emit(ctx context.Context, email *domain.Email, eventType string, eventData map[string]interface{}) {
	app, err := s.appRepo.GetByID(ctx, email.AppID)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"app_id": email.AppID.String(),
			"error":  err.Error(),
		}).Error("Failed to load app for webhook")
		return
	}
	if app.WebhookURL == nil || *app.WebhookURL == "" {
		return
	}

	queueName := ""
	if queue, err := s.queueRepo.GetByID(ctx, email.AppID, email.QueueID); err == nil {
		queueName = queue.Name
	}

	now := time.Now().UTC()
	deliveryID := uuid.New()

	toAddresses := make([]string, 0, len(email.To))
	for _, addr := range email.To {
		toAddresses = append(toAddresses, addr.Email)
	}

	data := map[string]interface{}{
		"emailId":   email.ID.String(),
		"appId":     email.AppID.String(),
		"queueName": queueName,
		"from":      email.From.Email,
		"to":        toAddresses,
		"subject":   email.Subject,
		"status":    string(email.Status),
		"metadata":  email.Metadata,
	}
	if email.MessageID != nil {
		data["messageId"] = *email.MessageID
	}
	if eventData != nil {
		data["event"] = map[string]interface{}{
			"type":      eventType,
			"timestamp": now.Format(time.RFC3339),
			"data":      eventData,
		}
	}

	emailID := email.ID
	delivery := &domain.WebhookDelivery{
		ID:        deliveryID,
		AppID:     email.AppID,
		EmailID:   &emailID,
		EventType: eventType,
		Payload: map[string]interface{}{
			"id":        deliveryID.String(),
			"type":      eventType,
			"timestamp": now.Format(time.RFC3339),
			"data":      data,
		},
		Status: domain.WebhookStatusPending,
		// Due immediately so a crash between persist and enqueue is
		// covered by the sweep.
		NextRetryAt: &now,
		CreatedAt:   now,
	}
	if err := s.deliveryRepo.Create(ctx, delivery); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"app_id": email.AppID.String(),
			"event":  eventType,
			"error":  err.Error(),
		}).Error("Failed to persist webhook delivery")
		return
	}

	s.enqueueDelivery(ctx, delivery, 0)
}

func (s *WebhookService) enqueueDelivery(ctx context.Context, delivery *domain.WebhookDelivery, delay time.Duration) {
	job, err := broker.NewJob(broker.JobDeliverWebhook, domain.DefaultQueuePriority, broker.DeliverWebhookPayload{
		DeliveryID: delivery.ID,
		AppID:      delivery.AppID,
	})
	if err == nil {
		err = s.broker.Enqueue(ctx, broker.LaneWebhook, job, delay)
	}
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID.String(),
			"error":       err.Error(),
		}).Error("Failed to enqueue webhook delivery; sweep will pick it up")
	}
}

// SignPayload computes the signature header value for a payload at a
// timestamp: sha256=<hex HMAC over "<timestamp>.<payload>">.
func SignPayload(secret string, timestamp int64, payload []byte) string {
	toSign := append([]byte(strconv.FormatInt(timestamp, 10)+"."), payload...)
	return "sha256=" + crypto.ComputeHMAC256(toSign, secret)
}

// VerifySignature is the receiver-side check, constant time.
func VerifySignature(secret, header string, timestamp int64, payload []byte) bool {
	return crypto.SecureCompare(header, SignPayload(secret, timestamp, payload))
}

// Deliver is the worker-side handler for one delivery attempt.
func (s *WebhookService) Deliver(ctx context.Context, deliveryID uuid.UUID) error {
	delivery, err := s.deliveryRepo.GetByID(ctx, deliveryID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}
	if delivery.Status != domain.WebhookStatusPending {
		return nil
	}

	app, err := s.appRepo.GetByID(ctx, delivery.AppID)
	if err != nil {
		return err
	}
	if app.WebhookURL == nil || app.WebhookSecret == nil {
		return s.deliveryRepo.MarkFailed(ctx, delivery.ID, delivery.Attempts+1, "webhook config removed")
	}

	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	attemptErr := s.post(ctx, *app.WebhookURL, *app.WebhookSecret, delivery.ID, body)
	attempts := delivery.Attempts + 1

	if attemptErr == nil {
		s.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID.String(),
			"event":       delivery.EventType,
			"attempts":    attempts,
		}).Info("Webhook delivered")
		return s.deliveryRepo.MarkDelivered(ctx, delivery.ID, time.Now().UTC())
	}

	if attempts >= domain.WebhookMaxAttempts {
		s.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID.String(),
			"event":       delivery.EventType,
			"error":       attemptErr.Error(),
		}).Warn("Webhook delivery exhausted")
		return s.deliveryRepo.MarkFailed(ctx, delivery.ID, attempts, attemptErr.Error())
	}

	delay := domain.WebhookRetryDelays[len(domain.WebhookRetryDelays)-1]
	if attempts-1 < len(domain.WebhookRetryDelays) {
		delay = domain.WebhookRetryDelays[attempts-1]
	}
	nextRetryAt := time.Now().UTC().Add(delay)
	if err := s.deliveryRepo.ScheduleRetry(ctx, delivery.ID, attempts, attemptErr.Error(), nextRetryAt); err != nil {
		return err
	}
	s.enqueueDelivery(ctx, delivery, delay)
	return nil
}

// post performs one signed POST. Non-2xx and transport errors both
// count as failures; the returned error is what lands in lastError.
func (s *WebhookService) post(ctx context.Context, url, secret string, deliveryID uuid.UUID, body []byte) error {
	timestamp := time.Now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("X-Webhook-Id", deliveryID.String())
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Webhook-Signature", SignPayload(secret, timestamp, body))

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeoutError(err) {
			return fmt.Errorf("Request timeout")
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, webhookMaxErrorBody))
	return fmt.Errorf("status %d: %s", resp.StatusCode, string(excerpt))
}

func isTimeoutError(err error) bool {
	type timeout interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeout); ok && t.Timeout() {
			return true
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = unwrapper.Unwrap()
	}
	return false
}

// Sweep re-enqueues pending deliveries whose retry time has come;
// covers jobs lost to crashes between persist and enqueue.
func (s *WebhookService) Sweep(ctx context.Context, limit int) error {
	deliveries, err := s.deliveryRepo.ListPendingDue(ctx, time.Now().UTC(), limit)
	if err != nil {
		return err
	}
	for _, delivery := range deliveries {
		s.enqueueDelivery(ctx, delivery, 0)
	}
	if len(deliveries) > 0 {
		s.logger.WithField("count", len(deliveries)).Info("Re-enqueued due webhook deliveries")
	}
	return nil
}
