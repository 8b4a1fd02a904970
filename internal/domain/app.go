package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// App is a tenant. Created and deleted by the external control plane;
// the delivery core only reads it.
type App struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Sandbox       bool      `json:"sandbox"`
	Active        bool      `json:"active"`
	WebhookURL    *string   `json:"webhookUrl,omitempty"`
	WebhookSecret *string   `json:"-"`
	DailyLimit    *int64    `json:"dailyLimit,omitempty"`
	MonthlyLimit  *int64    `json:"monthlyLimit,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AppRepository reads tenant rows.
type AppRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*App, error)
	List(ctx context.Context) ([]*App, error)
}

// AppReputation is the rolling 24 h delivery health of an app.
type AppReputation struct {
	AppID          uuid.UUID `json:"appId"`
	BounceRate     float64   `json:"bounceRate"`
	ComplaintRate  float64   `json:"complaintRate"`
	Score          float64   `json:"score"`
	Throttled      bool      `json:"throttled"`
	ThrottleReason *string   `json:"throttleReason,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ReputationRepository persists per-app reputation rows.
type ReputationRepository interface {
	Upsert(ctx context.Context, reputation *AppReputation) error
	GetByAppID(ctx context.Context, appID uuid.UUID) (*AppReputation, error)
}
