package http

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
)

// Function-field fakes backing the real services the router is wired
// with. A nil field misses with NotFound or succeeds, so tests only
// wire what they assert.

func notFound(what string) error {
	return domain.NewError(domain.ErrCodeNotFound, what+" not found")
}

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

func (r *fakeEmailRepo) CreateWithEvent(ctx context.Context, email *domain.Email, event *domain.EmailEvent) error {
	if r.CreateWithEventFn != nil {
		return r.CreateWithEventFn(ctx, email, event)
	}
	return nil
}

func (r *fakeEmailRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.Email, error) {
	if r.GetByIDFn != nil {
		return r.GetByIDFn(ctx, appID, id)
	}
	return nil, notFound("email")
}

func (r *fakeEmailRepo) GetAny(ctx context.Context, id uuid.UUID) (*domain.Email, error) {
	if r.GetAnyFn != nil {
		return r.GetAnyFn(ctx, id)
	}
	return nil, notFound("email")
}

func (r *fakeEmailRepo) GetByIdempotencyKey(ctx context.Context, appID uuid.UUID, key string) (*domain.Email, error) {
	if r.GetByIdempotencyKeyFn != nil {
		return r.GetByIdempotencyKeyFn(ctx, appID, key)
	}
	return nil, notFound("email")
}

func (r *fakeEmailRepo) List(ctx context.Context, appID uuid.UUID, filter domain.EmailListFilter) ([]*domain.Email, int64, error) {
	if r.ListFn != nil {
		return r.ListFn(ctx, appID, filter)
	}
	return nil, 0, nil
}

func (r *fakeEmailRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from []domain.EmailStatus, to domain.EmailStatus) (bool, error) {
	if r.UpdateStatusFn != nil {
		return r.UpdateStatusFn(ctx, id, from, to)
	}
	return true, nil
}

func (r *fakeEmailRepo) MarkSent(ctx context.Context, id uuid.UUID, messageID *string, at time.Time) (bool, error) {
	if r.MarkSentFn != nil {
		return r.MarkSentFn(ctx, id, messageID, at)
	}
	return true, nil
}

func (r *fakeEmailRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if r.MarkDeliveredFn != nil {
		return r.MarkDeliveredFn(ctx, id, at)
	}
	return true, nil
}

func (r *fakeEmailRepo) MarkFailed(ctx context.Context, id uuid.UUID, from []domain.EmailStatus, lastError string) (bool, error) {
	if r.MarkFailedFn != nil {
		return r.MarkFailedFn(ctx, id, from, lastError)
	}
	return true, nil
}

func (r *fakeEmailRepo) MarkBounced(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	if r.MarkBouncedFn != nil {
		return r.MarkBouncedFn(ctx, id, lastError)
	}
	return true, nil
}

func (r *fakeEmailRepo) RequeueForRetry(ctx context.Context, id uuid.UUID, retryCount int, nextAttemptAt time.Time) (bool, error) {
	if r.RequeueForRetryFn != nil {
		return r.RequeueForRetryFn(ctx, id, retryCount, nextAttemptAt)
	}
	return true, nil
}

func (r *fakeEmailRepo) ResetForManualRetry(ctx context.Context, appID, id uuid.UUID) (bool, error) {
	if r.ResetForManualRetryFn != nil {
		return r.ResetForManualRetryFn(ctx, appID, id)
	}
	return true, nil
}

func (r *fakeEmailRepo) SetMessageID(ctx context.Context, id uuid.UUID, messageID string) error {
	if r.SetMessageIDFn != nil {
		return r.SetMessageIDFn(ctx, id, messageID)
	}
	return nil
}

func (r *fakeEmailRepo) InsertEvent(ctx context.Context, event *domain.EmailEvent) error {
	if r.InsertEventFn != nil {
		return r.InsertEventFn(ctx, event)
	}
	return nil
}

func (r *fakeEmailRepo) ListEvents(ctx context.Context, emailID uuid.UUID) ([]*domain.EmailEvent, error) {
	if r.ListEventsFn != nil {
		return r.ListEventsFn(ctx, emailID)
	}
	return nil, nil
}

func (r *fakeEmailRepo) ListDueQueued(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Email, error) {
	if r.ListDueQueuedFn != nil {
		return r.ListDueQueuedFn(ctx, updatedBefore, limit)
	}
	return nil, nil
}

func (r *fakeEmailRepo) ListStaleProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Email, error) {
	if r.ListStaleProcessingFn != nil {
		return r.ListStaleProcessingFn(ctx, updatedBefore, limit)
	}
	return nil, nil
}

func (r *fakeEmailRepo) ActiveAppIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	if r.ActiveAppIDsFn != nil {
		return r.ActiveAppIDsFn(ctx, since)
	}
	return nil, nil
}

func (r *fakeEmailRepo) CountByStatusSince(ctx context.Context, appID uuid.UUID, statuses []domain.EmailStatus, since time.Time) (int64, error) {
	if r.CountByStatusSinceFn != nil {
		return r.CountByStatusSinceFn(ctx, appID, statuses, since)
	}
	return 0, nil
}

func (r *fakeEmailRepo) CountEventsSince(ctx context.Context, appID uuid.UUID, eventType domain.EventType, since time.Time) (int64, error) {
	if r.CountEventsSinceFn != nil {
		return r.CountEventsSinceFn(ctx, appID, eventType, since)
	}
	return 0, nil
}

func (r *fakeEmailRepo) CountByQueueAndStatus(ctx context.Context, appID, queueID uuid.UUID) (map[string]int64, error) {
	if r.CountByQueueAndStatusFn != nil {
		return r.CountByQueueAndStatusFn(ctx, appID, queueID)
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

func (r *fakeQueueRepo) Create(ctx context.Context, queue *domain.Queue) error {
	if r.CreateFn != nil {
		return r.CreateFn(ctx, queue)
	}
	return nil
}

func (r *fakeQueueRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.Queue, error) {
	if r.GetByIDFn != nil {
		return r.GetByIDFn(ctx, appID, id)
	}
	return nil, notFound("queue")
}

func (r *fakeQueueRepo) GetByName(ctx context.Context, appID uuid.UUID, name string) (*domain.Queue, error) {
	if r.GetByNameFn != nil {
		return r.GetByNameFn(ctx, appID, name)
	}
	return nil, notFound("queue")
}

func (r *fakeQueueRepo) List(ctx context.Context, appID uuid.UUID) ([]*domain.Queue, error) {
	if r.ListFn != nil {
		return r.ListFn(ctx, appID)
	}
	return nil, nil
}

func (r *fakeQueueRepo) Update(ctx context.Context, queue *domain.Queue) error {
	if r.UpdateFn != nil {
		return r.UpdateFn(ctx, queue)
	}
	return nil
}

func (r *fakeQueueRepo) SetPaused(ctx context.Context, appID, id uuid.UUID, paused bool) error {
	if r.SetPausedFn != nil {
		return r.SetPausedFn(ctx, appID, id, paused)
	}
	return nil
}

func (r *fakeQueueRepo) Delete(ctx context.Context, appID, id uuid.UUID) error {
	if r.DeleteFn != nil {
		return r.DeleteFn(ctx, appID, id)
	}
	return nil
}

func (r *fakeQueueRepo) Stats(ctx context.Context, appID, id uuid.UUID) (*domain.QueueStats, error) {
	if r.StatsFn != nil {
		return r.StatsFn(ctx, appID, id)
	}
	return &domain.QueueStats{}, nil
}

type fakeAppRepo struct {
	GetByIDFn func(ctx context.Context, id uuid.UUID) (*domain.App, error)
	ListFn    func(ctx context.Context) ([]*domain.App, error)
}

func (r *fakeAppRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.App, error) {
	if r.GetByIDFn != nil {
		return r.GetByIDFn(ctx, id)
	}
	return nil, notFound("app")
}

func (r *fakeAppRepo) List(ctx context.Context) ([]*domain.App, error) {
	if r.ListFn != nil {
		return r.ListFn(ctx)
	}
	return nil, nil
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

func (r *fakeAPIKeyRepo) Create(ctx context.Context, key *domain.APIKey) error {
	if r.CreateFn != nil {
		return r.CreateFn(ctx, key)
	}
	return nil
}

func (r *fakeAPIKeyRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.APIKey, error) {
	if r.GetByIDFn != nil {
		return r.GetByIDFn(ctx, appID, id)
	}
	return nil, notFound("api key")
}

func (r *fakeAPIKeyRepo) GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	if r.GetByHashFn != nil {
		return r.GetByHashFn(ctx, keyHash)
	}
	return nil, notFound("api key")
}

func (r *fakeAPIKeyRepo) List(ctx context.Context, appID uuid.UUID) ([]*domain.APIKey, error) {
	if r.ListFn != nil {
		return r.ListFn(ctx, appID)
	}
	return nil, nil
}

func (r *fakeAPIKeyRepo) UpdateSecret(ctx context.Context, appID, id uuid.UUID, keyPrefix, keyHash string) error {
	if r.UpdateSecretFn != nil {
		return r.UpdateSecretFn(ctx, appID, id, keyPrefix, keyHash)
	}
	return nil
}

func (r *fakeAPIKeyRepo) Revoke(ctx context.Context, appID, id uuid.UUID) error {
	if r.RevokeFn != nil {
		return r.RevokeFn(ctx, appID, id)
	}
	return nil
}

func (r *fakeAPIKeyRepo) Delete(ctx context.Context, appID, id uuid.UUID) error {
	if r.DeleteFn != nil {
		return r.DeleteFn(ctx, appID, id)
	}
	return nil
}

func (r *fakeAPIKeyRepo) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if r.UpdateLastUsedFn != nil {
		return r.UpdateLastUsedFn(ctx, id, at)
	}
	return nil
}

type fakeSuppressionRepo struct {
	UpsertFn       func(ctx context.Context, entry *domain.SuppressionEntry) (bool, error)
	GetFn          func(ctx context.Context, appID uuid.UUID, address string) (*domain.SuppressionEntry, error)
	RemoveFn       func(ctx context.Context, appID *uuid.UUID, address string) error
	ListFn         func(ctx context.Context, appID uuid.UUID, filter domain.SuppressionListFilter) ([]*domain.SuppressionEntry, int64, error)
	UpdateSourceFn func(ctx context.Context, appID uuid.UUID, address string, sourceEmailID uuid.UUID) error
}

func (r *fakeSuppressionRepo) Upsert(ctx context.Context, entry *domain.SuppressionEntry) (bool, error) {
	if r.UpsertFn != nil {
		return r.UpsertFn(ctx, entry)
	}
	return true, nil
}

func (r *fakeSuppressionRepo) Get(ctx context.Context, appID uuid.UUID, address string) (*domain.SuppressionEntry, error) {
	if r.GetFn != nil {
		return r.GetFn(ctx, appID, address)
	}
	return nil, notFound("suppression entry")
}

func (r *fakeSuppressionRepo) Remove(ctx context.Context, appID *uuid.UUID, address string) error {
	if r.RemoveFn != nil {
		return r.RemoveFn(ctx, appID, address)
	}
	return nil
}

func (r *fakeSuppressionRepo) List(ctx context.Context, appID uuid.UUID, filter domain.SuppressionListFilter) ([]*domain.SuppressionEntry, int64, error) {
	if r.ListFn != nil {
		return r.ListFn(ctx, appID, filter)
	}
	return nil, 0, nil
}

func (r *fakeSuppressionRepo) UpdateSource(ctx context.Context, appID uuid.UUID, address string, sourceEmailID uuid.UUID) error {
	if r.UpdateSourceFn != nil {
		return r.UpdateSourceFn(ctx, appID, address, sourceEmailID)
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

func (r *fakeSMTPConfigRepo) Create(ctx context.Context, config *domain.SMTPConfig) error {
	if r.CreateFn != nil {
		return r.CreateFn(ctx, config)
	}
	return nil
}

func (r *fakeSMTPConfigRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.SMTPConfig, error) {
	if r.GetByIDFn != nil {
		return r.GetByIDFn(ctx, appID, id)
	}
	return nil, notFound("smtp config")
}

func (r *fakeSMTPConfigRepo) GetActive(ctx context.Context, appID uuid.UUID) (*domain.SMTPConfig, error) {
	if r.GetActiveFn != nil {
		return r.GetActiveFn(ctx, appID)
	}
	return nil, notFound("smtp config")
}

func (r *fakeSMTPConfigRepo) List(ctx context.Context, appID uuid.UUID) ([]*domain.SMTPConfig, error) {
	if r.ListFn != nil {
		return r.ListFn(ctx, appID)
	}
	return nil, nil
}

func (r *fakeSMTPConfigRepo) Update(ctx context.Context, config *domain.SMTPConfig) error {
	if r.UpdateFn != nil {
		return r.UpdateFn(ctx, config)
	}
	return nil
}

func (r *fakeSMTPConfigRepo) SetActive(ctx context.Context, appID, id uuid.UUID, active bool) error {
	if r.SetActiveFn != nil {
		return r.SetActiveFn(ctx, appID, id, active)
	}
	return nil
}

func (r *fakeSMTPConfigRepo) Delete(ctx context.Context, appID, id uuid.UUID) error {
	if r.DeleteFn != nil {
		return r.DeleteFn(ctx, appID, id)
	}
	return nil
}

type fakeAnalyticsRepo struct {
	IncrementBucketFn func(ctx context.Context, appID uuid.UUID, bucketStart time.Time, eventType domain.EventType, delta int64) error
	TotalsFn          func(ctx context.Context, appID uuid.UUID, from, to time.Time) (map[domain.EventType]int64, error)
	SeriesFn          func(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error)
}

func (r *fakeAnalyticsRepo) IncrementBucket(ctx context.Context, appID uuid.UUID, bucketStart time.Time, eventType domain.EventType, delta int64) error {
	if r.IncrementBucketFn != nil {
		return r.IncrementBucketFn(ctx, appID, bucketStart, eventType, delta)
	}
	return nil
}

func (r *fakeAnalyticsRepo) Totals(ctx context.Context, appID uuid.UUID, from, to time.Time) (map[domain.EventType]int64, error) {
	if r.TotalsFn != nil {
		return r.TotalsFn(ctx, appID, from, to)
	}
	return nil, nil
}

func (r *fakeAnalyticsRepo) Series(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error) {
	if r.SeriesFn != nil {
		return r.SeriesFn(ctx, appID, from, to)
	}
	return nil, nil
}

type fakeReputationRepo struct {
	UpsertFn     func(ctx context.Context, reputation *domain.AppReputation) error
	GetByAppIDFn func(ctx context.Context, appID uuid.UUID) (*domain.AppReputation, error)
}

func (r *fakeReputationRepo) Upsert(ctx context.Context, reputation *domain.AppReputation) error {
	if r.UpsertFn != nil {
		return r.UpsertFn(ctx, reputation)
	}
	return nil
}

func (r *fakeReputationRepo) GetByAppID(ctx context.Context, appID uuid.UUID) (*domain.AppReputation, error) {
	if r.GetByAppIDFn != nil {
		return r.GetByAppIDFn(ctx, appID)
	}
	return nil, notFound("reputation")
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

func (r *fakeScheduledJobRepo) Create(ctx context.Context, job *domain.ScheduledJob) error {
	if r.CreateFn != nil {
		return r.CreateFn(ctx, job)
	}
	return nil
}

func (r *fakeScheduledJobRepo) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.ScheduledJob, error) {
	if r.GetByIDFn != nil {
		return r.GetByIDFn(ctx, appID, id)
	}
	return nil, notFound("scheduled job")
}

func (r *fakeScheduledJobRepo) List(ctx context.Context, appID uuid.UUID) ([]*domain.ScheduledJob, error) {
	if r.ListFn != nil {
		return r.ListFn(ctx, appID)
	}
	return nil, nil
}

func (r *fakeScheduledJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledJob, error) {
	if r.ListDueFn != nil {
		return r.ListDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (r *fakeScheduledJobRepo) Update(ctx context.Context, job *domain.ScheduledJob) error {
	if r.UpdateFn != nil {
		return r.UpdateFn(ctx, job)
	}
	return nil
}

func (r *fakeScheduledJobRepo) MarkRun(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error {
	if r.MarkRunFn != nil {
		return r.MarkRunFn(ctx, id, lastRunAt, nextRunAt)
	}
	return nil
}

func (r *fakeScheduledJobRepo) Delete(ctx context.Context, appID, id uuid.UUID) error {
	if r.DeleteFn != nil {
		return r.DeleteFn(ctx, appID, id)
	}
	return nil
}

type fakeTrackingRepo struct {
	CreateFn          func(ctx context.Context, link *domain.TrackingLink) error
	GetByCodeFn       func(ctx context.Context, code string) (*domain.TrackingLink, error)
	IncrementClicksFn func(ctx context.Context, id uuid.UUID) error
	ListByEmailFn     func(ctx context.Context, emailID uuid.UUID) ([]*domain.TrackingLink, error)
}

func (r *fakeTrackingRepo) Create(ctx context.Context, link *domain.TrackingLink) error {
	if r.CreateFn != nil {
		return r.CreateFn(ctx, link)
	}
	return nil
}

func (r *fakeTrackingRepo) GetByCode(ctx context.Context, code string) (*domain.TrackingLink, error) {
	if r.GetByCodeFn != nil {
		return r.GetByCodeFn(ctx, code)
	}
	return nil, notFound("tracking link")
}

func (r *fakeTrackingRepo) IncrementClicks(ctx context.Context, id uuid.UUID) error {
	if r.IncrementClicksFn != nil {
		return r.IncrementClicksFn(ctx, id)
	}
	return nil
}

func (r *fakeTrackingRepo) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*domain.TrackingLink, error) {
	if r.ListByEmailFn != nil {
		return r.ListByEmailFn(ctx, emailID)
	}
	return nil, nil
}

// fakeBroker records enqueued jobs.
type fakeBroker struct {
	jobs []enqueuedJob
}

type enqueuedJob struct {
	Lane  string
	Job   *broker.Job
	Delay time.Duration
}

func (b *fakeBroker) Enqueue(ctx context.Context, lane string, job *broker.Job, delay time.Duration) error {
	b.jobs = append(b.jobs, enqueuedJob{Lane: lane, Job: job, Delay: delay})
	return nil
}

func (b *fakeBroker) Lease(ctx context.Context, lane string, visibility time.Duration) (*broker.LeasedJob, error) {
	return nil, nil
}

func (b *fakeBroker) Ack(ctx context.Context, job *broker.LeasedJob) error { return nil }

func (b *fakeBroker) Nack(ctx context.Context, job *broker.LeasedJob, delay time.Duration) error {
	return nil
}

func (b *fakeBroker) Close() error { return nil }
