package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type webhookDeliveryRepository struct {
	db *sql.DB
}

// NewWebhookDeliveryRepository creates a PostgreSQL webhook delivery
// repository.
func NewWebhookDeliveryRepository(db *sql.DB) domain.WebhookDeliveryRepository {
	return &webhookDeliveryRepository{db: db}
}

const webhookDeliveryColumns = `id, app_id, email_id, event_type, payload, status, attempts, last_error, next_retry_at, delivered_at, created_at`

func (r *webhookDeliveryRepository) Create(ctx context.Context, delivery *domain.WebhookDelivery) error {
	payloadJSON, err := json.Marshal(delivery.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO webhook_deliveries (` + webhookDeliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.AppID,
		delivery.EmailID,
		delivery.EventType,
		payloadJSON,
		delivery.Status,
		delivery.Attempts,
		delivery.LastError,
		delivery.NextRetryAt,
		delivery.DeliveredAt,
		delivery.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

func (r *webhookDeliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + webhookDeliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	delivery, err := scanWebhookDelivery(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("webhook delivery", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook delivery: %w", err)
	}
	return delivery, nil
}

func (r *webhookDeliveryRepository) ListPendingDue(ctx context.Context, now time.Time, limit int) ([]*domain.WebhookDelivery, error) {
	query := `
		SELECT ` + webhookDeliveryColumns + `
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*domain.WebhookDelivery
	for rows.Next() {
		delivery, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}
	return deliveries, nil
}

func (r *webhookDeliveryRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'delivered', delivered_at = $2, attempts = attempts + 1, next_retry_at = NULL
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark delivery delivered: %w", err)
	}
	return nil
}

func (r *webhookDeliveryRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRetryAt time.Time) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'pending', attempts = $2, last_error = $3, next_retry_at = $4
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, attempts, lastError, nextRetryAt); err != nil {
		return fmt.Errorf("failed to schedule delivery retry: %w", err)
	}
	return nil
}

func (r *webhookDeliveryRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'failed', attempts = $2, last_error = $3, next_retry_at = NULL
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, attempts, lastError); err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	return nil
}

func scanWebhookDelivery(row rowScanner) (*domain.WebhookDelivery, error) {
	var delivery domain.WebhookDelivery
	var emailID uuid.NullUUID
	var payloadJSON []byte
	var lastError sql.NullString
	var nextRetryAt, deliveredAt sql.NullTime

	err := row.Scan(
		&delivery.ID,
		&delivery.AppID,
		&emailID,
		&delivery.EventType,
		&payloadJSON,
		&delivery.Status,
		&delivery.Attempts,
		&lastError,
		&nextRetryAt,
		&deliveredAt,
		&delivery.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if emailID.Valid {
		id := emailID.UUID
		delivery.EmailID = &id
	}
	if lastError.Valid {
		delivery.LastError = &lastError.String
	}
	if nextRetryAt.Valid {
		delivery.NextRetryAt = &nextRetryAt.Time
	}
	if deliveredAt.Valid {
		delivery.DeliveredAt = &deliveredAt.Time
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &delivery.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return &delivery, nil
}
