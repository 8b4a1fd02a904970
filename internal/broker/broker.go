// Package broker provides the durable job queue: named lanes with
// priority, delayed delivery, and at-least-once leasing.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Lanes. Retention knobs per lane are configuration, not contract.
const (
	LaneEmail     = "email"
	LaneWebhook   = "webhook"
	LaneTracking  = "tracking"
	LaneAnalytics = "analytics"
)

// JobType tags the payload union. The worker dispatch table maps
// tag to handler.
type JobType string

const (
	JobSendEmail        JobType = "send-email"
	JobDeliverWebhook   JobType = "deliver-webhook"
	JobRecordTracking   JobType = "record-tracking"
	JobAggregateStats   JobType = "aggregate-stats"
	JobUpdateReputation JobType = "update-reputation"
	JobProcessBounce    JobType = "process-bounce"
	JobProcessComplaint JobType = "process-complaint"
	JobProcessDelivery  JobType = "process-delivery"
)

// Job is one unit of durable work.
type Job struct {
	ID       string          `json:"id"`
	Type     JobType         `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
	Attempts int             `json:"attempts"`
}

// LeasedJob is a job held under a visibility timeout; it must be
// Acked or Nacked before the lease expires or it returns to the lane.
type LeasedJob struct {
	Job
	Lane    string
	LeaseID string
}

// NewJob builds a job with a fresh id and marshalled payload.
func NewJob(jobType JobType, priority int, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:       uuid.New().String(),
		Type:     jobType,
		Payload:  body,
		Priority: priority,
	}, nil
}

// SendEmailPayload dispatches one email.
type SendEmailPayload struct {
	EmailID  uuid.UUID `json:"emailId"`
	AppID    uuid.UUID `json:"appId"`
	QueueID  uuid.UUID `json:"queueId"`
	Priority int       `json:"priority"`
}

// DeliverWebhookPayload posts one persisted webhook delivery.
type DeliverWebhookPayload struct {
	DeliveryID uuid.UUID `json:"deliveryId"`
	AppID      uuid.UUID `json:"appId"`
}

// RecordTrackingPayload records an open or click asynchronously.
type RecordTrackingPayload struct {
	EmailID   uuid.UUID  `json:"emailId"`
	Type      string     `json:"type"`
	LinkID    *uuid.UUID `json:"linkId,omitempty"`
	URL       string     `json:"url,omitempty"`
	UserAgent string     `json:"userAgent,omitempty"`
	IP        string     `json:"ip,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// AggregateStatsPayload bumps analytics buckets for one email event.
type AggregateStatsPayload struct {
	AppID     uuid.UUID `json:"appId"`
	EmailID   uuid.UUID `json:"emailId"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateReputationPayload recomputes one app's reputation.
type UpdateReputationPayload struct {
	AppID uuid.UUID `json:"appId"`
}

// ProcessBouncePayload feeds a DSN bounce into the processor.
type ProcessBouncePayload struct {
	EmailID           uuid.UUID `json:"emailId"`
	AppID             uuid.UUID `json:"appId"`
	BounceType        string    `json:"bounceType"`
	BounceSubType     string    `json:"bounceSubType,omitempty"`
	BounceMessage     string    `json:"bounceMessage,omitempty"`
	BouncedRecipients []string  `json:"bouncedRecipients"`
	Timestamp         time.Time `json:"timestamp"`
}

// ProcessComplaintPayload feeds a complaint into the processor.
type ProcessComplaintPayload struct {
	EmailID              uuid.UUID `json:"emailId"`
	AppID                uuid.UUID `json:"appId"`
	ComplaintType        string    `json:"complaintType,omitempty"`
	ComplainedRecipients []string  `json:"complainedRecipients"`
	Timestamp            time.Time `json:"timestamp"`
}

// ProcessDeliveryPayload confirms delivery of a sent email.
type ProcessDeliveryPayload struct {
	EmailID   uuid.UUID `json:"emailId"`
	AppID     uuid.UUID `json:"appId"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker is the durable queue contract. Any backing store offering
// at-least-once leasing with delay support satisfies it.
type Broker interface {
	Enqueue(ctx context.Context, lane string, job *Job, delay time.Duration) error
	// Lease returns the next ready job or nil when the lane is empty.
	Lease(ctx context.Context, lane string, visibility time.Duration) (*LeasedJob, error)
	Ack(ctx context.Context, job *LeasedJob) error
	// Nack returns the job to the lane after delay without consuming
	// a delivery.
	Nack(ctx context.Context, job *LeasedJob, delay time.Duration) error
	Close() error
}
