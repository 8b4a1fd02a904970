package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Webhook delivery statuses.
const (
	WebhookStatusPending   = "pending"
	WebhookStatusDelivered = "delivered"
	WebhookStatusFailed    = "failed"
)

// WebhookMaxAttempts is the hard cap on delivery attempts.
const WebhookMaxAttempts = 5

// WebhookRetryDelays is the delay before attempts 2..5, indexed by the
// number of attempts already made.
var WebhookRetryDelays = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
	14400 * time.Second,
}

// Webhook event types emitted by the delivery core.
const (
	WebhookEventSent       = "email.sent"
	WebhookEventDelivered  = "email.delivered"
	WebhookEventBounced    = "email.bounced"
	WebhookEventComplained = "email.complained"
	WebhookEventFailed     = "email.failed"
	WebhookEventOpened     = "email.opened"
	WebhookEventClicked    = "email.clicked"
)

// WebhookDelivery is one persisted outbound notification and its
// retry state.
type WebhookDelivery struct {
	ID          uuid.UUID              `json:"id"`
	AppID       uuid.UUID              `json:"appId"`
	EmailID     *uuid.UUID             `json:"emailId,omitempty"`
	EventType   string                 `json:"eventType"`
	Payload     map[string]interface{} `json:"payload"`
	Status      string                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	LastError   *string                `json:"lastError,omitempty"`
	NextRetryAt *time.Time             `json:"nextRetryAt,omitempty"`
	DeliveredAt *time.Time             `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// WebhookDeliveryRepository persists outbound webhook state.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *WebhookDelivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*WebhookDelivery, error)
	ListPendingDue(ctx context.Context, now time.Time, limit int) ([]*WebhookDelivery, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
}
