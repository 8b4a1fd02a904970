package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/ratelimiter"
)

// Rate limit tiers share one Redis-backed fixed-window limiter but use
// separate key namespaces and windows.
const (
	keyRateWindow   = time.Minute
	queueRateWindow = time.Minute
	appDailyWindow  = 24 * time.Hour
)

// RateLimitService enforces the three-tier limits: per-key
// requests/minute, per-app sends/day, and per-queue sends/minute.
type RateLimitService struct {
	limiter         *ratelimiter.Limiter
	defaultKeyLimit int64
}

// NewRateLimitService creates the rate limit service. defaultKeyLimit
// applies to keys without an explicit rateLimit.
func NewRateLimitService(limiter *ratelimiter.Limiter, defaultKeyLimit int64) *RateLimitService {
	if defaultKeyLimit <= 0 {
		defaultKeyLimit = 120
	}
	return &RateLimitService{limiter: limiter, defaultKeyLimit: defaultKeyLimit}
}

// AllowKey consumes one slot from the API key's per-minute window.
func (s *RateLimitService) AllowKey(ctx context.Context, keyID uuid.UUID, limit *int64) (*ratelimiter.Result, error) {
	effective := s.defaultKeyLimit
	if limit != nil {
		effective = *limit
	}
	return s.limiter.Allow(ctx, "apiKey:"+keyID.String(), effective, keyRateWindow)
}

// AllowAppDaily consumes one slot from the app's daily window. A nil
// limit means the app is uncapped.
func (s *RateLimitService) AllowAppDaily(ctx context.Context, appID uuid.UUID, limit *int64) (*ratelimiter.Result, error) {
	if limit == nil {
		return &ratelimiter.Result{Allowed: true}, nil
	}
	return s.limiter.Allow(ctx, "appDaily:"+appID.String(), *limit, appDailyWindow)
}

// PeekAppDaily reports the daily window without consuming a slot.
func (s *RateLimitService) PeekAppDaily(ctx context.Context, appID uuid.UUID, limit *int64) (*ratelimiter.Result, error) {
	if limit == nil {
		return &ratelimiter.Result{Allowed: true}, nil
	}
	return s.limiter.Peek(ctx, "appDaily:"+appID.String(), *limit, appDailyWindow)
}

// AllowQueue consumes one slot from the queue's per-minute window.
func (s *RateLimitService) AllowQueue(ctx context.Context, queueID uuid.UUID, limit *int64) (*ratelimiter.Result, error) {
	if limit == nil {
		return &ratelimiter.Result{Allowed: true}, nil
	}
	return s.limiter.Allow(ctx, "queue:"+queueID.String(), *limit, queueRateWindow)
}

// PeekQueue reports the queue window without consuming a slot. The
// dispatch path uses this before taking a send slot.
func (s *RateLimitService) PeekQueue(ctx context.Context, queueID uuid.UUID, limit *int64) (*ratelimiter.Result, error) {
	if limit == nil {
		return &ratelimiter.Result{Allowed: true}, nil
	}
	return s.limiter.Peek(ctx, "queue:"+queueID.String(), *limit, queueRateWindow)
}

// RateLimitError builds the RATE_LIMIT_EXCEEDED error for a denied
// result, naming the tier that blocked and the wait in seconds.
func RateLimitError(result *ratelimiter.Result, scope string) *domain.Error {
	retryAfter := int64(result.RetryAfter(time.Now()).Seconds())
	return domain.NewErrorWithDetails(
		domain.ErrCodeRateLimitExceeded,
		fmt.Sprintf("%s rate limit exceeded", scope),
		map[string]interface{}{
			"scope":      scope,
			"limit":      result.Limit,
			"retryAfter": retryAfter,
		},
	)
}
