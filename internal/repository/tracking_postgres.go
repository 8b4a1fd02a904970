package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type trackingRepository struct {
	db *sql.DB
}

// NewTrackingRepository creates a PostgreSQL tracking link repository.
func NewTrackingRepository(db *sql.DB) domain.TrackingRepository {
	return &trackingRepository{db: db}
}

const trackingColumns = `id, email_id, short_code, original_url, click_count, created_at`

func (r *trackingRepository) Create(ctx context.Context, link *domain.TrackingLink) error {
	query := `
		INSERT INTO tracking_links (` + trackingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ID,
		link.EmailID,
		link.ShortCode,
		link.OriginalURL,
		link.ClickCount,
		link.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrShortCodeTaken
		}
		return fmt.Errorf("failed to create tracking link: %w", err)
	}
	return nil
}

func (r *trackingRepository) GetByCode(ctx context.Context, code string) (*domain.TrackingLink, error) {
	query := `SELECT ` + trackingColumns + ` FROM tracking_links WHERE short_code = $1`

	var link domain.TrackingLink
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&link.ID,
		&link.EmailID,
		&link.ShortCode,
		&link.OriginalURL,
		&link.ClickCount,
		&link.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("tracking link", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking link: %w", err)
	}
	return &link, nil
}

func (r *trackingRepository) IncrementClicks(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE tracking_links SET click_count = click_count + 1 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment click count: %w", err)
	}
	return nil
}

func (r *trackingRepository) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*domain.TrackingLink, error) {
	query := `SELECT ` + trackingColumns + ` FROM tracking_links WHERE email_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking links: %w", err)
	}
	defer rows.Close()

	var links []*domain.TrackingLink
	for rows.Next() {
		var link domain.TrackingLink
		err := rows.Scan(
			&link.ID,
			&link.EmailID,
			&link.ShortCode,
			&link.OriginalURL,
			&link.ClickCount,
			&link.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracking link: %w", err)
		}
		links = append(links, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracking links: %w", err)
	}
	return links, nil
}
