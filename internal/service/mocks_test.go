package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
)

// Function-field fakes. Nil fields return zero values so each test
// only wires the calls it cares about.

type fakeEmailRepo struct {
	CreateWithEventFn       func(ctx context.Context, email *domain.Email, event *domain.EmailEvent) error
	GetByIDFn               func(ctx context.Context, appID, id uuid.UUID) (*domain.Email, error)
	GetAnyFn                func(ctx context.Context, id uuid.UUID) (*domain.Email, error)
	GetByIdempotencyKeyFn   func(ctx context.Context, appID uuid.UUID, key string) (*domain.Email, error)
	ListFn                  func(ctx context.Context, appID uuid.UUID, filter domain.EmailListFilter) ([]*domain.Email, int64, error)
	UpdateStatusFn          func(ctx context.Context, id uuid.UUID, from []domain.EmailStatus, to domain.EmailStatus) (bool, error)
	MarkSentFn              func(ctx context.Context, id uuid.UUID, messageID *string, at time.Time) (bool, error)
	MarkDeliveredFn         func(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailedFn            func(ctx context.Context, id uuid.UUID, from []domain.EmailStatus, lastError string) (bool, error)
	MarkBouncedFn           func(ctx context.Context, id uuid.UUID, lastError string) (bool, error)
	RequeueForRetryFn       func(ctx context.Context, id uuid.UUID, retryCount int, nextAttemptAt time.Time) (bool, error)
	ResetForManualRetryFn   func(ctx context.Context, appID, id uuid.UUID) (bool, error)
	SetMessageIDFn          func(ctx context.Context, id uuid.UUID, messageID string) error
	InsertEventFn           func(ctx context.Context, event *domain.EmailEvent) error
	ListEventsFn            func(ctx context.Context, emailID uuid.UUID) ([]*domain.EmailEvent, error)
	ListDueQueuedFn         func(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Email, error)
	ListStaleProcessingFn   func(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Email, error)
	ActiveAppIDsFn          func(ctx context.Context, since time.Time) ([]uuid.UUID, error)
	CountByStatusSinceFn    func(ctx context.Context, appID uuid.UUID, statuses []domain.EmailStatus, since time.Time) (int64, error)
	CountEventsSinceFn      func(ctx context.Context, appID uuid.UUID, eventType domain.EventType, since time.Time) (int64, error)
	CountByQueueAndStatusFn func(ctx context.Context, appID, queueID uuid.UUID) (map[string]int64, error)
}

func (f *fakeEmailRepo) CreateWithEvent(ctx context.Context, email *domain.Email, event *domain.EmailEvent) error {
	if f.CreateWithEventFn != nil {
		return f.CreateWithEventFn(ctx, email, event)
	}
	return nil
}

func (f *fakeEmailRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.Email, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, appID, id)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "email not found")
}

func (f *fakeEmailRepo) GetAny(ctx context.Context, id uuid.UUID) (*domain.Email, error) {
	if f.GetAnyFn != nil {
		return f.GetAnyFn(ctx, id)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "email not found")
}

func (f *fakeEmailRepo) GetByIdempotencyKey(ctx context.Context, appID uuid.UUID, key string) (*domain.Email, error) {
	if f.GetByIdempotencyKeyFn != nil {
		return f.GetByIdempotencyKeyFn(ctx, appID, key)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "email not found")
}

func (f *fakeEmailRepo) List(ctx context.Context, appID uuid.UUID, filter domain.EmailListFilter) ([]*domain.Email, int64, error) {
	if f.ListFn != nil {
		return f.ListFn(ctx, appID, filter)
	}
	return nil, 0, nil
}

func (f *fakeEmailRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from []domain.EmailStatus, to domain.EmailStatus) (bool, error) {
	if f.UpdateStatusFn != nil {
		return f.UpdateStatusFn(ctx, id, from, to)
	}
	return true, nil
}

func (f *fakeEmailRepo) MarkSent(ctx context.Context, id uuid.UUID, messageID *string, at time.Time) (bool, error) {
	if f.MarkSentFn != nil {
		return f.MarkSentFn(ctx, id, messageID, at)
	}
	return true, nil
}

func (f *fakeEmailRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if f.MarkDeliveredFn != nil {
		return f.MarkDeliveredFn(ctx, id, at)
	}
	return true, nil
}

func (f *fakeEmailRepo) MarkFailed(ctx context.Context, id uuid.UUID, from []domain.EmailStatus, lastError string) (bool, error) {
	if f.MarkFailedFn != nil {
		return f.MarkFailedFn(ctx, id, from, lastError)
	}
	return true, nil
}

func (f *fakeEmailRepo) MarkBounced(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	if f.MarkBouncedFn != nil {
		return f.MarkBouncedFn(ctx, id, lastError)
	}
	return true, nil
}

func (f *fakeEmailRepo) RequeueForRetry(ctx context.Context, id uuid.UUID, retryCount int, nextAttemptAt time.Time) (bool, error) {
	if f.RequeueForRetryFn != nil {
		return f.RequeueForRetryFn(ctx, id, retryCount, nextAttemptAt)
	}
	return true, nil
}

func (f *fakeEmailRepo) ResetForManualRetry(ctx context.Context, appID, id uuid.UUID) (bool, error) {
	if f.ResetForManualRetryFn != nil {
		return f.ResetForManualRetryFn(ctx, appID, id)
	}
	return true, nil
}

func (f *fakeEmailRepo) SetMessageID(ctx context.Context, id uuid.UUID, messageID string) error {
	if f.SetMessageIDFn != nil {
		return f.SetMessageIDFn(ctx, id, messageID)
	}
	return nil
}

func (f *fakeEmailRepo) InsertEvent(ctx context.Context, event *domain.EmailEvent) error {
	if f.InsertEventFn != nil {
		return f.InsertEventFn(ctx, event)
	}
	return nil
}

func (f *fakeEmailRepo) ListEvents(ctx context.Context, emailID uuid.UUID) ([]*domain.EmailEvent, error) {
	if f.ListEventsFn != nil {
		return f.ListEventsFn(ctx, emailID)
	}
	return nil, nil
}

func (f *fakeEmailRepo) ListDueQueued(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Email, error) {
	if f.ListDueQueuedFn != nil {
		return f.ListDueQueuedFn(ctx, updatedBefore, limit)
	}
	return nil, nil
}

func (f *fakeEmailRepo) ListStaleProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Email, error) {
	if f.ListStaleProcessingFn != nil {
		return f.ListStaleProcessingFn(ctx, updatedBefore, limit)
	}
	return nil, nil
}

func (f *fakeEmailRepo) ActiveAppIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	if f.ActiveAppIDsFn != nil {
		return f.ActiveAppIDsFn(ctx, since)
	}
	return nil, nil
}

func (f *fakeEmailRepo) CountByStatusSince(ctx context.Context, appID uuid.UUID, statuses []domain.EmailStatus, since time.Time) (int64, error) {
	if f.CountByStatusSinceFn != nil {
		return f.CountByStatusSinceFn(ctx, appID, statuses, since)
	}
	return 0, nil
}

func (f *fakeEmailRepo) CountEventsSince(ctx context.Context, appID uuid.UUID, eventType domain.EventType, since time.Time) (int64, error) {
	if f.CountEventsSinceFn != nil {
		return f.CountEventsSinceFn(ctx, appID, eventType, since)
	}
	return 0, nil
}

func (f *fakeEmailRepo) CountByQueueAndStatus(ctx context.Context, appID, queueID uuid.UUID) (map[string]int64, error) {
	if f.CountByQueueAndStatusFn != nil {
		return f.CountByQueueAndStatusFn(ctx, appID, queueID)
	}
	return nil, nil
}

type fakeQueueRepo struct {
	CreateFn    func(ctx context.Context, queue *domain.Queue) error
	GetByIDFn   func(ctx context.Context, appID, id uuid.UUID) (*domain.Queue, error)
	GetByNameFn func(ctx context.Context, appID uuid.UUID, name string) (*domain.Queue, error)
	ListFn      func(ctx context.Context, appID uuid.UUID) ([]*domain.Queue, error)
	UpdateFn    func(ctx context.Context, queue *domain.Queue) error
	SetPausedFn func(ctx context.Context, appID, id uuid.UUID, paused bool) error
	DeleteFn    func(ctx context.Context, appID, id uuid.UUID) error
	StatsFn     func(ctx context.Context, appID, id uuid.UUID) (*domain.QueueStats, error)
}

func (f *fakeQueueRepo) Create(ctx context.Context, queue *domain.Queue) error {
	if f.CreateFn != nil {
		return f.CreateFn(ctx, queue)
	}
	return nil
}

func (f *fakeQueueRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.Queue, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, appID, id)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "queue not found")
}

func (f *fakeQueueRepo) GetByName(ctx context.Context, appID uuid.UUID, name string) (*domain.Queue, error) {
	if f.GetByNameFn != nil {
		return f.GetByNameFn(ctx, appID, name)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "queue not found")
}

func (f *fakeQueueRepo) List(ctx context.Context, appID uuid.UUID) ([]*domain.Queue, error) {
	if f.ListFn != nil {
		return f.ListFn(ctx, appID)
	}
	return nil, nil
}

func (f *fakeQueueRepo) Update(ctx context.Context, queue *domain.Queue) error {
	if f.UpdateFn != nil {
		return f.UpdateFn(ctx, queue)
	}
	return nil
}

func (f *fakeQueueRepo) SetPaused(ctx context.Context, appID, id uuid.UUID, paused bool) error {
	if f.SetPausedFn != nil {
		return f.SetPausedFn(ctx, appID, id, paused)
	}
	return nil
}

func (f *fakeQueueRepo) Delete(ctx context.Context, appID, id uuid.UUID) error {
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, appID, id)
	}
	return nil
}

func (f *fakeQueueRepo) Stats(ctx context.Context, appID, id uuid.UUID) (*domain.QueueStats, error) {
	if f.StatsFn != nil {
		return f.StatsFn(ctx, appID, id)
	}
	return nil, nil
}

type fakeAppRepo struct {
	GetByIDFn func(ctx context.Context, id uuid.UUID) (*domain.App, error)
	ListFn    func(ctx context.Context) ([]*domain.App, error)
}

func (f *fakeAppRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.App, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, id)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "app not found")
}

func (f *fakeAppRepo) List(ctx context.Context) ([]*domain.App, error) {
	if f.ListFn != nil {
		return f.ListFn(ctx)
	}
	return nil, nil
}

type fakeSuppressionRepo struct {
	UpsertFn       func(ctx context.Context, entry *domain.SuppressionEntry) (bool, error)
	GetFn          func(ctx context.Context, appID uuid.UUID, address string) (*domain.SuppressionEntry, error)
	RemoveFn       func(ctx context.Context, appID *uuid.UUID, address string) error
	ListFn         func(ctx context.Context, appID uuid.UUID, filter domain.SuppressionListFilter) ([]*domain.SuppressionEntry, int64, error)
	UpdateSourceFn func(ctx context.Context, appID uuid.UUID, address string, sourceEmailID uuid.UUID) error
}

func (f *fakeSuppressionRepo) Upsert(ctx context.Context, entry *domain.SuppressionEntry) (bool, error) {
	if f.UpsertFn != nil {
		return f.UpsertFn(ctx, entry)
	}
	return true, nil
}

func (f *fakeSuppressionRepo) Get(ctx context.Context, appID uuid.UUID, address string) (*domain.SuppressionEntry, error) {
	if f.GetFn != nil {
		return f.GetFn(ctx, appID, address)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "not suppressed")
}

func (f *fakeSuppressionRepo) Remove(ctx context.Context, appID *uuid.UUID, address string) error {
	if f.RemoveFn != nil {
		return f.RemoveFn(ctx, appID, address)
	}
	return nil
}

func (f *fakeSuppressionRepo) List(ctx context.Context, appID uuid.UUID, filter domain.SuppressionListFilter) ([]*domain.SuppressionEntry, int64, error) {
	if f.ListFn != nil {
		return f.ListFn(ctx, appID, filter)
	}
	return nil, 0, nil
}

func (f *fakeSuppressionRepo) UpdateSource(ctx context.Context, appID uuid.UUID, address string, sourceEmailID uuid.UUID) error {
	if f.UpdateSourceFn != nil {
		return f.UpdateSourceFn(ctx, appID, address, sourceEmailID)
	}
	return nil
}

type fakeWebhookDeliveryRepo struct {
	CreateFn         func(ctx context.Context, delivery *domain.WebhookDelivery) error
	GetByIDFn        func(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error)
	ListPendingDueFn func(ctx context.Context, now time.Time, limit int) ([]*domain.WebhookDelivery, error)
	MarkDeliveredFn  func(ctx context.Context, id uuid.UUID, at time.Time) error
	ScheduleRetryFn  func(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRetryAt time.Time) error
	MarkFailedFn     func(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
}

func (f *fakeWebhookDeliveryRepo) Create(ctx context.Context, delivery *domain.WebhookDelivery) error {
	if f.CreateFn != nil {
		return f.CreateFn(ctx, delivery)
	}
	return nil
}

func (f *fakeWebhookDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, id)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "delivery not found")
}

func (f *fakeWebhookDeliveryRepo) ListPendingDue(ctx context.Context, now time.Time, limit int) ([]*domain.WebhookDelivery, error) {
	if f.ListPendingDueFn != nil {
		return f.ListPendingDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeWebhookDeliveryRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	if f.MarkDeliveredFn != nil {
		return f.MarkDeliveredFn(ctx, id, at)
	}
	return nil
}

func (f *fakeWebhookDeliveryRepo) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRetryAt time.Time) error {
	if f.ScheduleRetryFn != nil {
		return f.ScheduleRetryFn(ctx, id, attempts, lastError, nextRetryAt)
	}
	return nil
}

func (f *fakeWebhookDeliveryRepo) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	if f.MarkFailedFn != nil {
		return f.MarkFailedFn(ctx, id, attempts, lastError)
	}
	return nil
}

type fakeTrackingRepo struct {
	CreateFn          func(ctx context.Context, link *domain.TrackingLink) error
	GetByCodeFn       func(ctx context.Context, code string) (*domain.TrackingLink, error)
	IncrementClicksFn func(ctx context.Context, id uuid.UUID) error
	ListByEmailFn     func(ctx context.Context, emailID uuid.UUID) ([]*domain.TrackingLink, error)
}

func (f *fakeTrackingRepo) Create(ctx context.Context, link *domain.TrackingLink) error {
	if f.CreateFn != nil {
		return f.CreateFn(ctx, link)
	}
	return nil
}

func (f *fakeTrackingRepo) GetByCode(ctx context.Context, code string) (*domain.TrackingLink, error) {
	if f.GetByCodeFn != nil {
		return f.GetByCodeFn(ctx, code)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "link not found")
}

func (f *fakeTrackingRepo) IncrementClicks(ctx context.Context, id uuid.UUID) error {
	if f.IncrementClicksFn != nil {
		return f.IncrementClicksFn(ctx, id)
	}
	return nil
}

func (f *fakeTrackingRepo) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*domain.TrackingLink, error) {
	if f.ListByEmailFn != nil {
		return f.ListByEmailFn(ctx, emailID)
	}
	return nil, nil
}

type fakeReputationRepo struct {
	UpsertFn     func(ctx context.Context, reputation *domain.AppReputation) error
	GetByAppIDFn func(ctx context.Context, appID uuid.UUID) (*domain.AppReputation, error)
}

func (f *fakeReputationRepo) Upsert(ctx context.Context, reputation *domain.AppReputation) error {
	if f.UpsertFn != nil {
		return f.UpsertFn(ctx, reputation)
	}
	return nil
}

func (f *fakeReputationRepo) GetByAppID(ctx context.Context, appID uuid.UUID) (*domain.AppReputation, error) {
	if f.GetByAppIDFn != nil {
		return f.GetByAppIDFn(ctx, appID)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "reputation not found")
}

type fakeAnalyticsRepo struct {
	IncrementBucketFn func(ctx context.Context, appID uuid.UUID, bucketStart time.Time, eventType domain.EventType, delta int64) error
	TotalsFn          func(ctx context.Context, appID uuid.UUID, from, to time.Time) (map[domain.EventType]int64, error)
	SeriesFn          func(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error)
}

func (f *fakeAnalyticsRepo) IncrementBucket(ctx context.Context, appID uuid.UUID, bucketStart time.Time, eventType domain.EventType, delta int64) error {
	if f.IncrementBucketFn != nil {
		return f.IncrementBucketFn(ctx, appID, bucketStart, eventType, delta)
	}
	return nil
}

func (f *fakeAnalyticsRepo) Totals(ctx context.Context, appID uuid.UUID, from, to time.Time) (map[domain.EventType]int64, error) {
	if f.TotalsFn != nil {
		return f.TotalsFn(ctx, appID, from, to)
	}
	return nil, nil
}

func (f *fakeAnalyticsRepo) Series(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error) {
	if f.SeriesFn != nil {
		return f.SeriesFn(ctx, appID, from, to)
	}
	return nil, nil
}

type fakeScheduledJobRepo struct {
	CreateFn  func(ctx context.Context, job *domain.ScheduledJob) error
	GetByIDFn func(ctx context.Context, appID, id uuid.UUID) (*domain.ScheduledJob, error)
	ListFn    func(ctx context.Context, appID uuid.UUID) ([]*domain.ScheduledJob, error)
	ListDueFn func(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledJob, error)
	UpdateFn  func(ctx context.Context, job *domain.ScheduledJob) error
	MarkRunFn func(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error
	DeleteFn  func(ctx context.Context, appID, id uuid.UUID) error
}

func (f *fakeScheduledJobRepo) Create(ctx context.Context, job *domain.ScheduledJob) error {
	if f.CreateFn != nil {
		return f.CreateFn(ctx, job)
	}
	return nil
}

func (f *fakeScheduledJobRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.ScheduledJob, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, appID, id)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "scheduled job not found")
}

func (f *fakeScheduledJobRepo) List(ctx context.Context, appID uuid.UUID) ([]*domain.ScheduledJob, error) {
	if f.ListFn != nil {
		return f.ListFn(ctx, appID)
	}
	return nil, nil
}

func (f *fakeScheduledJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledJob, error) {
	if f.ListDueFn != nil {
		return f.ListDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeScheduledJobRepo) Update(ctx context.Context, job *domain.ScheduledJob) error {
	if f.UpdateFn != nil {
		return f.UpdateFn(ctx, job)
	}
	return nil
}

func (f *fakeScheduledJobRepo) MarkRun(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error {
	if f.MarkRunFn != nil {
		return f.MarkRunFn(ctx, id, lastRunAt, nextRunAt)
	}
	return nil
}

func (f *fakeScheduledJobRepo) Delete(ctx context.Context, appID, id uuid.UUID) error {
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, appID, id)
	}
	return nil
}

type fakeSMTPConfigRepo struct {
	CreateFn    func(ctx context.Context, config *domain.SMTPConfig) error
	GetByIDFn   func(ctx context.Context, appID, id uuid.UUID) (*domain.SMTPConfig, error)
	GetActiveFn func(ctx context.Context, appID uuid.UUID) (*domain.SMTPConfig, error)
	ListFn      func(ctx context.Context, appID uuid.UUID) ([]*domain.SMTPConfig, error)
	UpdateFn    func(ctx context.Context, config *domain.SMTPConfig) error
	SetActiveFn func(ctx context.Context, appID, id uuid.UUID, active bool) error
	DeleteFn    func(ctx context.Context, appID, id uuid.UUID) error
}

func (f *fakeSMTPConfigRepo) Create(ctx context.Context, config *domain.SMTPConfig) error {
	if f.CreateFn != nil {
		return f.CreateFn(ctx, config)
	}
	return nil
}

func (f *fakeSMTPConfigRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.SMTPConfig, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, appID, id)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "smtp config not found")
}

func (f *fakeSMTPConfigRepo) GetActive(ctx context.Context, appID uuid.UUID) (*domain.SMTPConfig, error) {
	if f.GetActiveFn != nil {
		return f.GetActiveFn(ctx, appID)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "no active smtp config")
}

func (f *fakeSMTPConfigRepo) List(ctx context.Context, appID uuid.UUID) ([]*domain.SMTPConfig, error) {
	if f.ListFn != nil {
		return f.ListFn(ctx, appID)
	}
	return nil, nil
}

func (f *fakeSMTPConfigRepo) Update(ctx context.Context, config *domain.SMTPConfig) error {
	if f.UpdateFn != nil {
		return f.UpdateFn(ctx, config)
	}
	return nil
}

func (f *fakeSMTPConfigRepo) SetActive(ctx context.Context, appID, id uuid.UUID, active bool) error {
	if f.SetActiveFn != nil {
		return f.SetActiveFn(ctx, appID, id, active)
	}
	return nil
}

func (f *fakeSMTPConfigRepo) Delete(ctx context.Context, appID, id uuid.UUID) error {
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, appID, id)
	}
	return nil
}

type fakeAPIKeyRepo struct {
	CreateFn         func(ctx context.Context, key *domain.APIKey) error
	GetByIDFn        func(ctx context.Context, appID, id uuid.UUID) (*domain.APIKey, error)
	GetByHashFn      func(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListFn           func(ctx context.Context, appID uuid.UUID) ([]*domain.APIKey, error)
	UpdateSecretFn   func(ctx context.Context, appID, id uuid.UUID, keyPrefix, keyHash string) error
	RevokeFn         func(ctx context.Context, appID, id uuid.UUID) error
	DeleteFn         func(ctx context.Context, appID, id uuid.UUID) error
	UpdateLastUsedFn func(ctx context.Context, id uuid.UUID, at time.Time) error
}

func (f *fakeAPIKeyRepo) Create(ctx context.Context, key *domain.APIKey) error {
	if f.CreateFn != nil {
		return f.CreateFn(ctx, key)
	}
	return nil
}

func (f *fakeAPIKeyRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.APIKey, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, appID, id)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "api key not found")
}

func (f *fakeAPIKeyRepo) GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	if f.GetByHashFn != nil {
		return f.GetByHashFn(ctx, keyHash)
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, "api key not found")
}

func (f *fakeAPIKeyRepo) List(ctx context.Context, appID uuid.UUID) ([]*domain.APIKey, error) {
	if f.ListFn != nil {
		return f.ListFn(ctx, appID)
	}
	return nil, nil
}

func (f *fakeAPIKeyRepo) UpdateSecret(ctx context.Context, appID, id uuid.UUID, keyPrefix, keyHash string) error {
	if f.UpdateSecretFn != nil {
		return f.UpdateSecretFn(ctx, appID, id, keyPrefix, keyHash)
	}
	return nil
}

func (f *fakeAPIKeyRepo) Revoke(ctx context.Context, appID, id uuid.UUID) error {
	if f.RevokeFn != nil {
		return f.RevokeFn(ctx, appID, id)
	}
	return nil
}

func (f *fakeAPIKeyRepo) Delete(ctx context.Context, appID, id uuid.UUID) error {
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, appID, id)
	}
	return nil
}

func (f *fakeAPIKeyRepo) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if f.UpdateLastUsedFn != nil {
		return f.UpdateLastUsedFn(ctx, id, at)
	}
	return nil
}

// fakeBroker records enqueued jobs.
type fakeBroker struct {
	jobs      []enqueuedJob
	enqueueFn func(ctx context.Context, lane string, job *broker.Job, delay time.Duration) error
}

type enqueuedJob struct {
	Lane  string
	Job   *broker.Job
	Delay time.Duration
}

func (f *fakeBroker) Enqueue(ctx context.Context, lane string, job *broker.Job, delay time.Duration) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, lane, job, delay)
	}
	f.jobs = append(f.jobs, enqueuedJob{Lane: lane, Job: job, Delay: delay})
	return nil
}

func (f *fakeBroker) Lease(ctx context.Context, lane string, visibility time.Duration) (*broker.LeasedJob, error) {
	return nil, nil
}

func (f *fakeBroker) Ack(ctx context.Context, job *broker.LeasedJob) error { return nil }

func (f *fakeBroker) Nack(ctx context.Context, job *broker.LeasedJob, delay time.Duration) error {
	return nil
}

func (f *fakeBroker) Close() error { return nil }
