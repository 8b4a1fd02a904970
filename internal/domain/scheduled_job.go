package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus descriptors
// like @daily.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ScheduledJobTemplate is the email template instantiated on each run.
type ScheduledJobTemplate struct {
	From    EmailAddress           `json:"from"`
	To      []EmailAddress         `json:"to"`
	Subject string                 `json:"subject"`
	HTML    *string                `json:"html,omitempty"`
	Text    *string                `json:"text,omitempty"`
	Headers map[string]string      `json:"headers,omitempty"`
	Meta    map[string]interface{} `json:"metadata,omitempty"`
}

// ScheduledJob is a cron-driven recurring send.
type ScheduledJob struct {
	ID         uuid.UUID            `json:"id"`
	AppID      uuid.UUID            `json:"appId"`
	QueueID    uuid.UUID            `json:"queueId"`
	Name       string               `json:"name"`
	CronExpr   string               `json:"cronExpression"`
	Timezone   string               `json:"timezone"`
	Template   ScheduledJobTemplate `json:"template"`
	Active     bool                 `json:"active"`
	LastRunAt  *time.Time           `json:"lastRunAt,omitempty"`
	NextRunAt  *time.Time           `json:"nextRunAt,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// NextRun computes the next fire time after now in the job's stored
// timezone. Unparseable expressions and unknown timezones are rejected
// at write time, so failures here mean corrupted rows.
func (j *ScheduledJob) NextRun(now time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(j.CronExpr)
	if err != nil {
		return time.Time{}, NewError(ErrCodeValidation, "invalid cron expression: "+err.Error())
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return time.Time{}, NewError(ErrCodeValidation, "invalid timezone: "+err.Error())
	}
	return schedule.Next(now.In(loc)), nil
}

// CreateScheduledJobRequest is the payload for scheduled job writes.
type CreateScheduledJobRequest struct {
	Queue    string               `json:"queue"`
	Name     string               `json:"name"`
	CronExpr string               `json:"cronExpression"`
	Timezone string               `json:"timezone"`
	Template ScheduledJobTemplate `json:"template"`
	Active   *bool                `json:"active,omitempty"`
}

// Validate rejects unparseable cron expressions and timezones at
// write time.
func (r *CreateScheduledJobRequest) Validate() error {
	var details []ValidationDetail
	if r.Name == "" {
		details = append(details, ValidationDetail{Path: "name", Message: "name is required"})
	}
	if r.Queue == "" {
		details = append(details, ValidationDetail{Path: "queue", Message: "queue is required"})
	}
	if _, err := cronParser.Parse(r.CronExpr); err != nil {
		details = append(details, ValidationDetail{Path: "cronExpression", Message: "invalid cron expression"})
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		details = append(details, ValidationDetail{Path: "timezone", Message: "unknown timezone"})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// ScheduledJobRepository persists cron rules.
type ScheduledJobRepository interface {
	Create(ctx context.Context, job *ScheduledJob) error
	GetByID(ctx context.Context, appID, id uuid.UUID) (*ScheduledJob, error)
	List(ctx context.Context, appID uuid.UUID) ([]*ScheduledJob, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledJob, error)
	Update(ctx context.Context, job *ScheduledJob) error
	MarkRun(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error
	Delete(ctx context.Context, appID, id uuid.UUID) error
}
