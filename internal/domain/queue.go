package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue defaults applied when the create payload leaves them unset.
const (
	DefaultQueuePriority   = 5
	DefaultQueueMaxRetries = 5
)

// DefaultRetryDelays is the retry delay vector in seconds.
var DefaultRetryDelays = []int{30, 120, 600, 3600, 86400}

// QueueSettings is the free-form settings bag. TrackingEnabled is the
// only key the worker interprets.
type QueueSettings struct {
	TrackingEnabled bool                   `json:"trackingEnabled"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

// Queue is a named send lane within an app.
type Queue struct {
	ID           uuid.UUID     `json:"id"`
	AppID        uuid.UUID     `json:"appId"`
	Name         string        `json:"name"`
	Priority     int           `json:"priority"`
	RateLimit    *int64        `json:"rateLimit,omitempty"`
	MaxRetries   int           `json:"maxRetries"`
	RetryDelays  []int         `json:"retryDelays"`
	SMTPConfigID *uuid.UUID    `json:"smtpConfigId,omitempty"`
	Paused       bool          `json:"paused"`
	Settings     QueueSettings `json:"settings"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// RetryDelay returns the delay before retry attempt number
// retryCount+1, clamping to the last vector entry.
func (q *Queue) RetryDelay(retryCount int) time.Duration {
	delays := q.RetryDelays
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	idx := retryCount
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return time.Duration(delays[idx]) * time.Second
}

// CreateQueueRequest is the payload for queue creation and update.
type CreateQueueRequest struct {
	Name         string         `json:"name"`
	Priority     *int           `json:"priority,omitempty"`
	RateLimit    *int64         `json:"rateLimit,omitempty"`
	MaxRetries   *int           `json:"maxRetries,omitempty"`
	RetryDelays  []int          `json:"retryDelays,omitempty"`
	SMTPConfigID *uuid.UUID     `json:"smtpConfigId,omitempty"`
	Settings     *QueueSettings `json:"settings,omitempty"`
}

// Validate checks the queue payload.
func (r *CreateQueueRequest) Validate() error {
	var details []ValidationDetail
	if r.Name == "" {
		details = append(details, ValidationDetail{Path: "name", Message: "name is required"})
	}
	if len(r.Name) > 255 {
		details = append(details, ValidationDetail{Path: "name", Message: "name must be at most 255 characters"})
	}
	if r.Priority != nil && (*r.Priority < 1 || *r.Priority > 10) {
		details = append(details, ValidationDetail{Path: "priority", Message: "priority must be between 1 and 10"})
	}
	if r.RateLimit != nil && *r.RateLimit < 0 {
		details = append(details, ValidationDetail{Path: "rateLimit", Message: "must be >= 0"})
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		details = append(details, ValidationDetail{Path: "maxRetries", Message: "must be >= 0"})
	}
	for _, d := range r.RetryDelays {
		if d < 0 {
			details = append(details, ValidationDetail{Path: "retryDelays", Message: "delays must be >= 0"})
			break
		}
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// QueueStats is the live per-status email count for a queue.
type QueueStats struct {
	QueueID uuid.UUID        `json:"queueId"`
	Counts  map[string]int64 `json:"counts"`
}

// QueueRepository persists queues.
type QueueRepository interface {
	Create(ctx context.Context, queue *Queue) error
	GetByID(ctx context.Context, appID, id uuid.UUID) (*Queue, error)
	GetByName(ctx context.Context, appID uuid.UUID, name string) (*Queue, error)
	List(ctx context.Context, appID uuid.UUID) ([]*Queue, error)
	Update(ctx context.Context, queue *Queue) error
	SetPaused(ctx context.Context, appID, id uuid.UUID, paused bool) error
	Delete(ctx context.Context, appID, id uuid.UUID) error
	Stats(ctx context.Context, appID, id uuid.UUID) (*QueueStats, error)
}
