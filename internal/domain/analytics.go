package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AnalyticsBucket is one hourly counter cell.
type AnalyticsBucket struct {
	AppID       uuid.UUID `json:"appId"`
	BucketStart time.Time `json:"bucketStart"`
	EventType   EventType `json:"eventType"`
	Count       int64     `json:"count"`
}

// BucketStart floors t to the hour; the analytics layer dedupes
// engagement events per (emailId, type, bucket).
func BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// AnalyticsOverview is the headline aggregate for a window.
type AnalyticsOverview struct {
	Sent       int64 `json:"sent"`
	Delivered  int64 `json:"delivered"`
	Bounced    int64 `json:"bounced"`
	Complained int64 `json:"complained"`
	Opened     int64 `json:"opened"`
	Clicked    int64 `json:"clicked"`
	Failed     int64 `json:"failed"`
	Queued     int64 `json:"queued"`
}

// AnalyticsSeriesPoint is one time bucket in a range query.
type AnalyticsSeriesPoint struct {
	BucketStart time.Time        `json:"bucketStart"`
	Counts      map[string]int64 `json:"counts"`
}

// AnalyticsRepository persists time-bucketed counters.
type AnalyticsRepository interface {
	IncrementBucket(ctx context.Context, appID uuid.UUID, bucketStart time.Time, eventType EventType, delta int64) error
	Totals(ctx context.Context, appID uuid.UUID, from, to time.Time) (map[EventType]int64, error)
	Series(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*AnalyticsSeriesPoint, error)
}
