package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ShortCodeLength is the tracking link code length; base62 at this
// length gives ~5.7e17 codes, so collisions are re-rolled, not feared.
const ShortCodeLength = 10

// ShortCodeMaxRetries caps collision re-rolls.
const ShortCodeMaxRetries = 10

// TrackingLink maps a short code to an original URL within an email.
type TrackingLink struct {
	ID          uuid.UUID `json:"id"`
	EmailID     uuid.UUID `json:"emailId"`
	ShortCode   string    `json:"shortCode"`
	OriginalURL string    `json:"originalUrl"`
	ClickCount  int64     `json:"clickCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TrackingRepository persists tracking links.
type TrackingRepository interface {
	// Create inserts the link; a short-code collision returns
	// ErrShortCodeTaken so the caller can re-roll.
	Create(ctx context.Context, link *TrackingLink) error
	GetByCode(ctx context.Context, code string) (*TrackingLink, error)
	IncrementClicks(ctx context.Context, id uuid.UUID) error
	ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*TrackingLink, error)
}

// ErrShortCodeTaken signals a short-code uniqueness collision.
var ErrShortCodeTaken = NewError(ErrCodeInternal, "tracking short code already taken")
