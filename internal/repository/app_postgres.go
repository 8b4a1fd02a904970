package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type appRepository struct {
	db *sql.DB
}

// NewAppRepository creates a PostgreSQL app repository. Apps are
// written by the external control plane; the core only reads them.
func NewAppRepository(db *sql.DB) domain.AppRepository {
	return &appRepository{db: db}
}

const appColumns = `id, name, sandbox, active, webhook_url, webhook_secret, daily_limit, monthly_limit, created_at, updated_at`

func (r *appRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE id = $1`

	app, err := scanApp(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("app", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	return app, nil
}

func (r *appRepository) List(ctx context.Context) ([]*domain.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE active = TRUE ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	var apps []*domain.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating apps: %w", err)
	}
	return apps, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApp(row rowScanner) (*domain.App, error) {
	var app domain.App
	var webhookURL, webhookSecret sql.NullString
	var dailyLimit, monthlyLimit sql.NullInt64

	err := row.Scan(
		&app.ID,
		&app.Name,
		&app.Sandbox,
		&app.Active,
		&webhookURL,
		&webhookSecret,
		&dailyLimit,
		&monthlyLimit,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if webhookURL.Valid {
		app.WebhookURL = &webhookURL.String
	}
	if webhookSecret.Valid {
		app.WebhookSecret = &webhookSecret.String
	}
	if dailyLimit.Valid {
		app.DailyLimit = &dailyLimit.Int64
	}
	if monthlyLimit.Valid {
		app.MonthlyLimit = &monthlyLimit.Int64
	}
	return &app, nil
}
