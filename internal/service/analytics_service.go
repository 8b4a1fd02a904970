package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// dedupeTTL outlives an hourly bucket plus the tracking lane's worst
// redelivery lag.
const dedupeTTL = 2 * time.Hour

// AnalyticsService maintains hourly counters and serves aggregate
// queries.
type AnalyticsService struct {
	repo       domain.AnalyticsRepository
	reputation *ReputationService
	redis      *redis.Client
	logger     logger.Logger
}

// NewAnalyticsService creates the analytics aggregator.
func NewAnalyticsService(repo domain.AnalyticsRepository, reputation *ReputationService, redisClient *redis.Client, log logger.Logger) *AnalyticsService {
	return &AnalyticsService{repo: repo, reputation: reputation, redis: redisClient, logger: log}
}

// Aggregate is the worker-side handler for one stats job: bump the
// event's hourly bucket. Each (email, event, bucket) counts once, so
// repeated pixel loads and broker redeliveries cannot inflate totals.
func (s *AnalyticsService) Aggregate(ctx context.Context, payload *broker.AggregateStatsPayload) error {
	bucket := domain.BucketStart(payload.Timestamp)
	if payload.EmailID != uuid.Nil {
		key := fmt.Sprintf("analytics:dedupe:%s:%s:%d", payload.EmailID, payload.EventType, bucket.Unix())
		fresh, err := s.redis.SetNX(ctx, key, 1, dedupeTTL).Result()
		if err != nil {
			s.logger.WithField("error", err.Error()).Error("Analytics dedupe check failed; counting event")
		} else if !fresh {
			return nil
		}
	}
	return s.repo.IncrementBucket(ctx, payload.AppID, bucket, domain.EventType(payload.EventType), 1)
}

// windowOrDefault widens zero bounds to the last 30 days.
func windowOrDefault(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-30 * 24 * time.Hour)
	}
	return from, to
}

// Overview returns the headline totals for a window.
func (s *AnalyticsService) Overview(ctx context.Context, appID uuid.UUID, from, to time.Time) (*domain.AnalyticsOverview, error) {
	from, to = windowOrDefault(from, to)
	totals, err := s.repo.Totals(ctx, appID, from, to)
	if err != nil {
		return nil, err
	}
	return &domain.AnalyticsOverview{
		Sent:       totals[domain.EventSent],
		Delivered:  totals[domain.EventDelivered],
		Bounced:    totals[domain.EventBounced],
		Complained: totals[domain.EventComplained],
		Opened:     totals[domain.EventOpened],
		Clicked:    totals[domain.EventClicked],
		Failed:     totals[domain.EventFailed],
		Queued:     totals[domain.EventQueued],
	}, nil
}

// Delivery returns the hourly sent/delivered/bounced/failed series.
func (s *AnalyticsService) Delivery(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error) {
	from, to = windowOrDefault(from, to)
	return s.filteredSeries(ctx, appID, from, to,
		domain.EventSent, domain.EventDelivered, domain.EventBounced, domain.EventFailed)
}

// Engagement returns the hourly opened/clicked series.
func (s *AnalyticsService) Engagement(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error) {
	from, to = windowOrDefault(from, to)
	return s.filteredSeries(ctx, appID, from, to, domain.EventOpened, domain.EventClicked)
}

// Bounces returns the hourly bounced/complained series.
func (s *AnalyticsService) Bounces(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error) {
	from, to = windowOrDefault(from, to)
	return s.filteredSeries(ctx, appID, from, to, domain.EventBounced, domain.EventComplained)
}

// Reputation returns the app's current reputation snapshot.
func (s *AnalyticsService) Reputation(ctx context.Context, appID uuid.UUID) (*domain.AppReputation, error) {
	return s.reputation.Get(ctx, appID)
}

func (s *AnalyticsService) filteredSeries(ctx context.Context, appID uuid.UUID, from, to time.Time, types ...domain.EventType) ([]*domain.AnalyticsSeriesPoint, error) {
	series, err := s.repo.Series(ctx, appID, from, to)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[string(t)] = true
	}

	out := make([]*domain.AnalyticsSeriesPoint, 0, len(series))
	for _, point := range series {
		filtered := &domain.AnalyticsSeriesPoint{
			BucketStart: point.BucketStart,
			Counts:      make(map[string]int64),
		}
		for eventType, count := range point.Counts {
			if wanted[eventType] {
				filtered.Counts[eventType] = count
			}
		}
		if len(filtered.Counts) > 0 {
			out = append(out, filtered)
		}
	}
	return out, nil
}
