package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type reputationRepository struct {
	db *sql.DB
}

// NewReputationRepository creates a PostgreSQL reputation repository.
func NewReputationRepository(db *sql.DB) domain.ReputationRepository {
	return &reputationRepository{db: db}
}

func (r *reputationRepository) Upsert(ctx context.Context, reputation *domain.AppReputation) error {
	query := `
		INSERT INTO app_reputation (app_id, bounce_rate, complaint_rate, score, throttled, throttle_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (app_id) DO UPDATE
		SET bounce_rate = EXCLUDED.bounce_rate,
			complaint_rate = EXCLUDED.complaint_rate,
			score = EXCLUDED.score,
			throttled = EXCLUDED.throttled,
			throttle_reason = EXCLUDED.throttle_reason,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		reputation.AppID,
		reputation.BounceRate,
		reputation.ComplaintRate,
		reputation.Score,
		reputation.Throttled,
		reputation.ThrottleReason,
		reputation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reputation: %w", err)
	}
	return nil
}

func (r *reputationRepository) GetByAppID(ctx context.Context, appID uuid.UUID) (*domain.AppReputation, error) {
	query := `
		SELECT app_id, bounce_rate, complaint_rate, score, throttled, throttle_reason, updated_at
		FROM app_reputation
		WHERE app_id = $1
	`
	var reputation domain.AppReputation
	var throttleReason sql.NullString

	err := r.db.QueryRowContext(ctx, query, appID).Scan(
		&reputation.AppID,
		&reputation.BounceRate,
		&reputation.ComplaintRate,
		&reputation.Score,
		&reputation.Throttled,
		&throttleReason,
		&reputation.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("app reputation", appID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reputation: %w", err)
	}

	if throttleReason.Valid {
		reputation.ThrottleReason = &throttleReason.String
	}
	return &reputation, nil
}
