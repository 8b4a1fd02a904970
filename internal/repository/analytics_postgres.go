package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type analyticsRepository struct {
	db *sql.DB
}

// NewAnalyticsRepository creates a PostgreSQL analytics repository
// over the hourly bucket table.
func NewAnalyticsRepository(db *sql.DB) domain.AnalyticsRepository {
	return &analyticsRepository{db: db}
}

func (r *analyticsRepository) IncrementBucket(ctx context.Context, appID uuid.UUID, bucketStart time.Time, eventType domain.EventType, delta int64) error {
	query := `
		INSERT INTO analytics_buckets (app_id, bucket_start, event_type, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (app_id, bucket_start, event_type) DO UPDATE
		SET count = analytics_buckets.count + EXCLUDED.count
	`
	if _, err := r.db.ExecContext(ctx, query, appID, bucketStart, eventType, delta); err != nil {
		return fmt.Errorf("failed to increment analytics bucket: %w", err)
	}
	return nil
}

func (r *analyticsRepository) Totals(ctx context.Context, appID uuid.UUID, from, to time.Time) (map[domain.EventType]int64, error) {
	query := `
		SELECT event_type, SUM(count)
		FROM analytics_buckets
		WHERE app_id = $1 AND bucket_start >= $2 AND bucket_start < $3
		GROUP BY event_type
	`
	rows, err := r.db.QueryContext(ctx, query, appID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[domain.EventType]int64)
	for rows.Next() {
		var eventType domain.EventType
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan analytics total: %w", err)
		}
		totals[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analytics totals: %w", err)
	}
	return totals, nil
}

func (r *analyticsRepository) Series(ctx context.Context, appID uuid.UUID, from, to time.Time) ([]*domain.AnalyticsSeriesPoint, error) {
	query := `
		SELECT bucket_start, event_type, count
		FROM analytics_buckets
		WHERE app_id = $1 AND bucket_start >= $2 AND bucket_start < $3
		ORDER BY bucket_start
	`
	rows, err := r.db.QueryContext(ctx, query, appID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics series: %w", err)
	}
	defer rows.Close()

	var points []*domain.AnalyticsSeriesPoint
	index := make(map[time.Time]*domain.AnalyticsSeriesPoint)
	for rows.Next() {
		var bucketStart time.Time
		var eventType string
		var count int64
		if err := rows.Scan(&bucketStart, &eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan analytics point: %w", err)
		}
		point, ok := index[bucketStart]
		if !ok {
			point = &domain.AnalyticsSeriesPoint{
				BucketStart: bucketStart,
				Counts:      make(map[string]int64),
			}
			index[bucketStart] = point
			points = append(points, point)
		}
		point.Counts[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analytics series: %w", err)
	}
	return points, nil
}
