package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type apiKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a PostgreSQL API key repository.
func NewAPIKeyRepository(db *sql.DB) domain.APIKeyRepository {
	return &apiKeyRepository{db: db}
}

const apiKeyColumns = `id, app_id, name, key_prefix, key_hash, scopes, rate_limit, ip_allowlist, expires_at, active, last_used_at, created_at`

func (r *apiKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	query := `
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		key.ID,
		key.AppID,
		key.Name,
		key.KeyPrefix,
		key.KeyHash,
		pq.Array(key.Scopes),
		key.RateLimit,
		pq.Array(key.IPAllowlist),
		key.ExpiresAt,
		key.Active,
		key.LastUsedAt,
		key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (r *apiKeyRepository) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE app_id = $1 AND id = $2`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, appID, id))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("api key", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

func (r *apiKeyRepository) GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyHash))
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.ErrCodeUnauthorized, "unknown api key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return key, nil
}

func (r *apiKeyRepository) List(ctx context.Context, appID uuid.UUID) ([]*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE app_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}
	return keys, nil
}

func (r *apiKeyRepository) UpdateSecret(ctx context.Context, appID, id uuid.UUID, keyPrefix, keyHash string) error {
	query := `UPDATE api_keys SET key_prefix = $3, key_hash = $4 WHERE app_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, appID, id, keyPrefix, keyHash)
	if err != nil {
		return fmt.Errorf("failed to rotate api key: %w", err)
	}
	return requireRowAffected(result, "api key", id.String())
}

func (r *apiKeyRepository) Revoke(ctx context.Context, appID, id uuid.UUID) error {
	query := `UPDATE api_keys SET active = FALSE WHERE app_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, appID, id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return requireRowAffected(result, "api key", id.String())
}

func (r *apiKeyRepository) Delete(ctx context.Context, appID, id uuid.UUID) error {
	query := `DELETE FROM api_keys WHERE app_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, appID, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return requireRowAffected(result, "api key", id.String())
}

func (r *apiKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

func requireRowAffected(result sql.Result, entity, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFoundError(entity, id)
	}
	return nil
}

func scanAPIKey(row rowScanner) (*domain.APIKey, error) {
	var key domain.APIKey
	var rateLimit sql.NullInt64
	var expiresAt, lastUsedAt sql.NullTime

	err := row.Scan(
		&key.ID,
		&key.AppID,
		&key.Name,
		&key.KeyPrefix,
		&key.KeyHash,
		pq.Array(&key.Scopes),
		&rateLimit,
		pq.Array(&key.IPAllowlist),
		&expiresAt,
		&key.Active,
		&lastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rateLimit.Valid {
		key.RateLimit = &rateLimit.Int64
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	return &key, nil
}
