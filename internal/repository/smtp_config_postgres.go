package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type smtpConfigRepository struct {
	db *sql.DB
}

// NewSMTPConfigRepository creates a PostgreSQL SMTP config repository.
// Credentials are stored encrypted; this layer passes ciphertext
// through untouched.
func NewSMTPConfigRepository(db *sql.DB) domain.SMTPConfigRepository {
	return &smtpConfigRepository{db: db}
}

const smtpConfigColumns = `id, app_id, name, host, port, username, password, encryption, pool_size, timeout_ms, active, created_at, updated_at`

func (r *smtpConfigRepository) Create(ctx context.Context, config *domain.SMTPConfig) error {
	query := `
		INSERT INTO smtp_configs (` + smtpConfigColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		config.ID,
		config.AppID,
		config.Name,
		config.Host,
		config.Port,
		config.Username,
		config.Password,
		config.Encryption,
		config.PoolSize,
		config.TimeoutMs,
		config.Active,
		config.CreatedAt,
		config.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create smtp config: %w", err)
	}
	return nil
}

func (r *smtpConfigRepository) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.SMTPConfig, error) {
	query := `SELECT ` + smtpConfigColumns + ` FROM smtp_configs WHERE app_id = $1 AND id = $2`

	config, err := scanSMTPConfig(r.db.QueryRowContext(ctx, query, appID, id))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("smtp config", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get smtp config: %w", err)
	}
	return config, nil
}

func (r *smtpConfigRepository) GetActive(ctx context.Context, appID uuid.UUID) (*domain.SMTPConfig, error) {
	query := `
		SELECT ` + smtpConfigColumns + `
		FROM smtp_configs
		WHERE app_id = $1 AND active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1
	`
	config, err := scanSMTPConfig(r.db.QueryRowContext(ctx, query, appID))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("active smtp config", appID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active smtp config: %w", err)
	}
	return config, nil
}

func (r *smtpConfigRepository) List(ctx context.Context, appID uuid.UUID) ([]*domain.SMTPConfig, error) {
	query := `SELECT ` + smtpConfigColumns + ` FROM smtp_configs WHERE app_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list smtp configs: %w", err)
	}
	defer rows.Close()

	var configs []*domain.SMTPConfig
	for rows.Next() {
		config, err := scanSMTPConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan smtp config: %w", err)
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating smtp configs: %w", err)
	}
	return configs, nil
}

func (r *smtpConfigRepository) Update(ctx context.Context, config *domain.SMTPConfig) error {
	query := `
		UPDATE smtp_configs
		SET name = $3, host = $4, port = $5, username = $6, password = $7,
			encryption = $8, pool_size = $9, timeout_ms = $10, updated_at = NOW()
		WHERE app_id = $1 AND id = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		config.AppID,
		config.ID,
		config.Name,
		config.Host,
		config.Port,
		config.Username,
		config.Password,
		config.Encryption,
		config.PoolSize,
		config.TimeoutMs,
	)
	if err != nil {
		return fmt.Errorf("failed to update smtp config: %w", err)
	}
	return requireRowAffected(result, "smtp config", config.ID.String())
}

func (r *smtpConfigRepository) SetActive(ctx context.Context, appID, id uuid.UUID, active bool) error {
	query := `UPDATE smtp_configs SET active = $3, updated_at = NOW() WHERE app_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, appID, id, active)
	if err != nil {
		return fmt.Errorf("failed to set smtp config active: %w", err)
	}
	return requireRowAffected(result, "smtp config", id.String())
}

func (r *smtpConfigRepository) Delete(ctx context.Context, appID, id uuid.UUID) error {
	query := `DELETE FROM smtp_configs WHERE app_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, appID, id)
	if err != nil {
		return fmt.Errorf("failed to delete smtp config: %w", err)
	}
	return requireRowAffected(result, "smtp config", id.String())
}

func scanSMTPConfig(row rowScanner) (*domain.SMTPConfig, error) {
	var config domain.SMTPConfig
	var username, password sql.NullString

	err := row.Scan(
		&config.ID,
		&config.AppID,
		&config.Name,
		&config.Host,
		&config.Port,
		&username,
		&password,
		&config.Encryption,
		&config.PoolSize,
		&config.TimeoutMs,
		&config.Active,
		&config.CreatedAt,
		&config.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if username.Valid {
		config.Username = &username.String
	}
	if password.Valid {
		config.Password = &password.String
	}
	return &config, nil
}
