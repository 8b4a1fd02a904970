package domain

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// EmailStatus is the lifecycle state of an email.
type EmailStatus string

const (
	EmailStatusQueued     EmailStatus = "queued"
	EmailStatusProcessing EmailStatus = "processing"
	EmailStatusSent       EmailStatus = "sent"
	EmailStatusDelivered  EmailStatus = "delivered"
	EmailStatusBounced    EmailStatus = "bounced"
	EmailStatusFailed     EmailStatus = "failed"
	EmailStatusCancelled  EmailStatus = "cancelled"
)

// IsTerminal reports whether no further transition may persist.
// "sent" is not terminal: delivery is confirmed asynchronously by DSN.
func (s EmailStatus) IsTerminal() bool {
	switch s {
	case EmailStatusDelivered, EmailStatusBounced, EmailStatusFailed, EmailStatusCancelled:
		return true
	}
	return false
}

// EventType classifies email events.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventProcessing   EventType = "processing"
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventFailed       EventType = "failed"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
)

// EmailAddress is an address with an optional display name.
type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Email is a single submitted message and its delivery state.
type Email struct {
	ID              uuid.UUID              `json:"id"`
	AppID           uuid.UUID              `json:"appId"`
	QueueID         uuid.UUID              `json:"queueId"`
	IdempotencyKey  *string                `json:"idempotencyKey,omitempty"`
	MessageID       *string                `json:"messageId,omitempty"`
	From            EmailAddress           `json:"from"`
	To              []EmailAddress         `json:"to"`
	CC              []EmailAddress         `json:"cc,omitempty"`
	BCC             []EmailAddress         `json:"bcc,omitempty"`
	ReplyTo         *EmailAddress          `json:"replyTo,omitempty"`
	Subject         string                 `json:"subject"`
	HTMLBody        *string                `json:"htmlBody,omitempty"`
	TextBody        *string                `json:"textBody,omitempty"`
	Headers         map[string]string      `json:"headers,omitempty"`
	Personalization map[string]interface{} `json:"personalization,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Status          EmailStatus            `json:"status"`
	RetryCount      int                    `json:"retryCount"`
	LastError       *string                `json:"lastError,omitempty"`
	ScheduledAt     *time.Time             `json:"scheduledAt,omitempty"`
	SentAt          *time.Time             `json:"sentAt,omitempty"`
	DeliveredAt     *time.Time             `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Recipients returns the distinct lowercase addresses across
// to, cc, and bcc, in first-seen order.
func (e *Email) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]EmailAddress{e.To, e.CC, e.BCC} {
		for _, addr := range list {
			normalized := NormalizeEmailAddress(addr.Email)
			if normalized == "" || seen[normalized] {
				continue
			}
			seen[normalized] = true
			out = append(out, normalized)
		}
	}
	return out
}

// EmailEvent is one append-only lifecycle record.
type EmailEvent struct {
	ID        uuid.UUID              `json:"id"`
	EmailID   uuid.UUID              `json:"emailId"`
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NormalizeEmailAddress lowercases and trims an address for
// suppression and dedup comparisons.
func NormalizeEmailAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// SubmitEmailRequest is the submission payload.
type SubmitEmailRequest struct {
	Queue           string                 `json:"queue"`
	From            EmailAddress           `json:"from"`
	To              []EmailAddress         `json:"to"`
	CC              []EmailAddress         `json:"cc,omitempty"`
	BCC             []EmailAddress         `json:"bcc,omitempty"`
	ReplyTo         *EmailAddress          `json:"replyTo,omitempty"`
	Subject         string                 `json:"subject"`
	HTML            *string                `json:"html,omitempty"`
	Text            *string                `json:"text,omitempty"`
	Headers         map[string]string      `json:"headers,omitempty"`
	Personalization map[string]interface{} `json:"personalization,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ScheduledAt     *time.Time             `json:"scheduledAt,omitempty"`
}

// Validate applies the submission checks in order: address forms, the
// malformed-HTML gate, then recipient count. All failures are
// collected into a single VALIDATION_ERROR.
func (r *SubmitEmailRequest) Validate() error {
	var details []ValidationDetail

	if r.Queue == "" {
		details = append(details, ValidationDetail{Path: "queue", Message: "queue is required"})
	}

	if !govalidator.IsEmail(r.From.Email) {
		details = append(details, ValidationDetail{Path: "from.email", Message: "invalid email address"})
	}
	for i, addr := range r.To {
		if !govalidator.IsEmail(addr.Email) {
			details = append(details, ValidationDetail{Path: "to[" + strconv.Itoa(i) + "].email", Message: "invalid email address"})
		}
	}
	for i, addr := range r.CC {
		if !govalidator.IsEmail(addr.Email) {
			details = append(details, ValidationDetail{Path: "cc[" + strconv.Itoa(i) + "].email", Message: "invalid email address"})
		}
	}
	for i, addr := range r.BCC {
		if !govalidator.IsEmail(addr.Email) {
			details = append(details, ValidationDetail{Path: "bcc[" + strconv.Itoa(i) + "].email", Message: "invalid email address"})
		}
	}
	if r.ReplyTo != nil && !govalidator.IsEmail(r.ReplyTo.Email) {
		details = append(details, ValidationDetail{Path: "replyTo.email", Message: "invalid email address"})
	}

	if r.HTML != nil && *r.HTML != "" {
		if err := CheckHTMLWellFormed(*r.HTML); err != nil {
			details = append(details, ValidationDetail{Path: "html", Message: err.Error()})
		}
	}

	if len(r.To)+len(r.CC)+len(r.BCC) == 0 {
		details = append(details, ValidationDetail{Path: "to", Message: "at least one recipient is required"})
	}

	if (r.HTML == nil || *r.HTML == "") && (r.Text == nil || *r.Text == "") {
		details = append(details, ValidationDetail{Path: "html", Message: "either html or text body is required"})
	}

	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// htmlUnclosedTolerance allows the sloppy-but-renderable markup email
// templates commonly carry; only clearly broken documents are rejected.
const htmlUnclosedTolerance = 3

// voidElements never take a closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// CheckHTMLWellFormed rejects clearly malformed HTML: tokenizer errors
// or more unclosed non-void tags than the tolerance admits.
func CheckHTMLWellFormed(doc string) error {
	tokenizer := html.NewTokenizer(strings.NewReader(doc))
	depth := 0
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			if tokenizer.Err().Error() != "EOF" {
				return NewError(ErrCodeValidation, "malformed HTML document")
			}
			break
		}
		token := tokenizer.Token()
		switch tokenType {
		case html.StartTagToken:
			if !voidElements[token.Data] {
				depth++
			}
		case html.EndTagToken:
			if depth > 0 {
				depth--
			}
		}
	}
	if depth > htmlUnclosedTolerance {
		return NewError(ErrCodeValidation, "malformed HTML document: unclosed tags")
	}
	return nil
}

// SubmitEmailResponse acknowledges an accepted submission.
type SubmitEmailResponse struct {
	ID       uuid.UUID   `json:"id"`
	Status   EmailStatus `json:"status"`
	QueuedAt time.Time   `json:"queuedAt"`
}

// BatchSubmitResult is the per-item outcome of a batch submission.
type BatchSubmitResult struct {
	Index   int                  `json:"index"`
	Success bool                 `json:"success"`
	Data    *SubmitEmailResponse `json:"data,omitempty"`
	Error   *Error               `json:"error,omitempty"`
}

// EmailListFilter narrows email list queries.
type EmailListFilter struct {
	Status    *EmailStatus
	QueueID   *uuid.UUID
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}

// EmailRepository persists emails and their append-only events.
type EmailRepository interface {
	// CreateWithEvent inserts the email row and its initial queued
	// event in a single transaction.
	CreateWithEvent(ctx context.Context, email *Email, event *EmailEvent) error
	GetByID(ctx context.Context, appID, id uuid.UUID) (*Email, error)
	// GetAny loads an email without tenant scoping, for internal
	// consumers that resolve the tenant from the row.
	GetAny(ctx context.Context, id uuid.UUID) (*Email, error)
	GetByIdempotencyKey(ctx context.Context, appID uuid.UUID, key string) (*Email, error)
	List(ctx context.Context, appID uuid.UUID, filter EmailListFilter) ([]*Email, int64, error)

	// UpdateStatus guards the transition with WHERE status IN
	// (expected); it returns false when another writer won the race.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []EmailStatus, to EmailStatus) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, messageID *string, at time.Time) (bool, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, from []EmailStatus, lastError string) (bool, error)
	MarkBounced(ctx context.Context, id uuid.UUID, lastError string) (bool, error)
	RequeueForRetry(ctx context.Context, id uuid.UUID, retryCount int, nextAttemptAt time.Time) (bool, error)
	ResetForManualRetry(ctx context.Context, appID, id uuid.UUID) (bool, error)
	SetMessageID(ctx context.Context, id uuid.UUID, messageID string) error

	InsertEvent(ctx context.Context, event *EmailEvent) error
	ListEvents(ctx context.Context, emailID uuid.UUID) ([]*EmailEvent, error)

	// Reconciliation sweeps: queued emails due for dispatch and
	// processing rows stuck past the lease window.
	ListDueQueued(ctx context.Context, updatedBefore time.Time, limit int) ([]*Email, error)
	ListStaleProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*Email, error)

	// Reputation and ceiling inputs.
	ActiveAppIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error)
	CountByStatusSince(ctx context.Context, appID uuid.UUID, statuses []EmailStatus, since time.Time) (int64, error)
	CountEventsSince(ctx context.Context, appID uuid.UUID, eventType EventType, since time.Time) (int64, error)
	CountByQueueAndStatus(ctx context.Context, appID, queueID uuid.UUID) (map[string]int64, error)
}
