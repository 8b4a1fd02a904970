package domain

import (
	"context"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
)

// Suppression reasons. Complaint outranks every other reason: an
// upsert with reason complaint upgrades the row and clears its expiry.
const (
	SuppressionReasonHardBounce  = "hard_bounce"
	SuppressionReasonSoftBounce  = "soft_bounce"
	SuppressionReasonComplaint   = "complaint"
	SuppressionReasonUnsubscribe = "unsubscribe"
	SuppressionReasonManual      = "manual"
)

// ValidSuppressionReasons is the closed reason set.
var ValidSuppressionReasons = map[string]bool{
	SuppressionReasonHardBounce:  true,
	SuppressionReasonSoftBounce:  true,
	SuppressionReasonComplaint:   true,
	SuppressionReasonUnsubscribe: true,
	SuppressionReasonManual:      true,
}

// SoftBounceSuppressionTTL is how long a soft bounce keeps an address
// suppressed.
const SoftBounceSuppressionTTL = 7 * 24 * time.Hour

// SuppressionEntry blocks sends to an address. A nil AppID makes the
// entry global: it applies to every tenant in checks.
type SuppressionEntry struct {
	ID            uuid.UUID  `json:"id"`
	AppID         *uuid.UUID `json:"appId,omitempty"`
	EmailAddress  string     `json:"emailAddress"`
	Reason        string     `json:"reason"`
	SourceEmailID *uuid.UUID `json:"sourceEmailId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Expired reports whether the entry's optional expiry has passed.
func (s *SuppressionEntry) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// SuppressionCheck is the result of a suppression lookup.
type SuppressionCheck struct {
	IsSuppressed bool       `json:"isSuppressed"`
	Reason       string     `json:"reason,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// AddSuppressionRequest is the payload for manual suppression.
type AddSuppressionRequest struct {
	EmailAddress string     `json:"emailAddress"`
	Reason       string     `json:"reason"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Validate checks a suppression payload.
func (r *AddSuppressionRequest) Validate() error {
	var details []ValidationDetail
	if address := NormalizeEmailAddress(r.EmailAddress); address == "" {
		details = append(details, ValidationDetail{Path: "emailAddress", Message: "email address is required"})
	} else if !govalidator.IsEmail(address) {
		details = append(details, ValidationDetail{Path: "emailAddress", Message: "invalid email address"})
	}
	if r.Reason == "" {
		r.Reason = SuppressionReasonManual
	}
	if !ValidSuppressionReasons[r.Reason] {
		details = append(details, ValidationDetail{Path: "reason", Message: "unknown reason: " + r.Reason})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// BulkSuppressionResult reports an addBulk or CSV import outcome.
type BulkSuppressionResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// SuppressionListFilter narrows suppression list queries.
type SuppressionListFilter struct {
	Reason *string
	Limit  int
	Offset int
}

// SuppressionRepository persists the blocklist. Upsert applies the
// complaint precedence rule; Get filters expired entries and folds in
// the global scope.
type SuppressionRepository interface {
	Upsert(ctx context.Context, entry *SuppressionEntry) (inserted bool, err error)
	Get(ctx context.Context, appID uuid.UUID, address string) (*SuppressionEntry, error)
	Remove(ctx context.Context, appID *uuid.UUID, address string) error
	List(ctx context.Context, appID uuid.UUID, filter SuppressionListFilter) ([]*SuppressionEntry, int64, error)
	UpdateSource(ctx context.Context, appID uuid.UUID, address string, sourceEmailID uuid.UUID) error
}
