package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type suppressionRepository struct {
	db *sql.DB
}

// NewSuppressionRepository creates a PostgreSQL suppression repository.
func NewSuppressionRepository(db *sql.DB) domain.SuppressionRepository {
	return &suppressionRepository{db: db}
}

const suppressionColumns = `id, app_id, email_address, reason, source_email_id, expires_at, created_at`

// Upsert inserts or upgrades an entry. A complaint overrides any
// existing reason and clears the expiry; any other reason leaves an
// existing row untouched. Returns whether a new row was inserted.
func (r *suppressionRepository) Upsert(ctx context.Context, entry *domain.SuppressionEntry) (bool, error) {
	entry.EmailAddress = domain.NormalizeEmailAddress(entry.EmailAddress)

	query := `
		INSERT INTO suppression_list (` + suppressionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (app_id, email_address) DO UPDATE
		SET reason = EXCLUDED.reason,
			expires_at = NULL,
			source_email_id = COALESCE(EXCLUDED.source_email_id, suppression_list.source_email_id)
		WHERE EXCLUDED.reason = 'complaint' AND suppression_list.reason <> 'complaint'
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		entry.ID,
		entry.AppID,
		entry.EmailAddress,
		entry.Reason,
		entry.SourceEmailID,
		entry.ExpiresAt,
		entry.CreatedAt,
	).Scan(&inserted)
	if err == sql.ErrNoRows {
		// Conflict with no upgrade applied; the existing entry stands.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert suppression: %w", err)
	}
	return inserted, nil
}

// Get returns the live entry covering (appID, address), folding in the
// global scope and filtering expired rows. App-scoped entries win over
// global ones when both exist.
func (r *suppressionRepository) Get(ctx context.Context, appID uuid.UUID, address string) (*domain.SuppressionEntry, error) {
	query := `
		SELECT ` + suppressionColumns + `
		FROM suppression_list
		WHERE email_address = $2
			AND (app_id = $1 OR app_id IS NULL)
			AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY app_id NULLS LAST
		LIMIT 1
	`
	normalized := domain.NormalizeEmailAddress(address)
	entry, err := scanSuppression(r.db.QueryRowContext(ctx, query, appID, normalized))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("suppression entry", normalized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check suppression: %w", err)
	}
	return entry, nil
}

func (r *suppressionRepository) Remove(ctx context.Context, appID *uuid.UUID, address string) error {
	normalized := domain.NormalizeEmailAddress(address)

	var result sql.Result
	var err error
	if appID == nil {
		result, err = r.db.ExecContext(ctx,
			`DELETE FROM suppression_list WHERE app_id IS NULL AND email_address = $1`, normalized)
	} else {
		result, err = r.db.ExecContext(ctx,
			`DELETE FROM suppression_list WHERE app_id = $1 AND email_address = $2`, *appID, normalized)
	}
	if err != nil {
		return fmt.Errorf("failed to remove suppression: %w", err)
	}
	return requireRowAffected(result, "suppression entry", normalized)
}

func (r *suppressionRepository) List(ctx context.Context, appID uuid.UUID, filter domain.SuppressionListFilter) ([]*domain.SuppressionEntry, int64, error) {
	where := sq.And{sq.Or{sq.Eq{"app_id": appID}, sq.Eq{"app_id": nil}}}
	if filter.Reason != nil {
		where = append(where, sq.Eq{"reason": *filter.Reason})
	}

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("suppression_list").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count suppressions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	listSQL, listArgs, err := psql.Select(suppressionColumns).
		From("suppression_list").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list suppressions: %w", err)
	}
	defer rows.Close()

	var entries []*domain.SuppressionEntry
	for rows.Next() {
		entry, err := scanSuppression(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan suppression: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating suppressions: %w", err)
	}
	return entries, total, nil
}

func (r *suppressionRepository) UpdateSource(ctx context.Context, appID uuid.UUID, address string, sourceEmailID uuid.UUID) error {
	query := `
		UPDATE suppression_list SET source_email_id = $3
		WHERE email_address = $2 AND (app_id = $1 OR app_id IS NULL)
	`
	if _, err := r.db.ExecContext(ctx, query, appID, domain.NormalizeEmailAddress(address), sourceEmailID); err != nil {
		return fmt.Errorf("failed to update suppression source: %w", err)
	}
	return nil
}

func scanSuppression(row rowScanner) (*domain.SuppressionEntry, error) {
	var entry domain.SuppressionEntry
	var appID uuid.NullUUID
	var sourceEmailID uuid.NullUUID
	var expiresAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&appID,
		&entry.EmailAddress,
		&entry.Reason,
		&sourceEmailID,
		&expiresAt,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if appID.Valid {
		id := appID.UUID
		entry.AppID = &id
	}
	if sourceEmailID.Valid {
		id := sourceEmailID.UUID
		entry.SourceEmailID = &id
	}
	if expiresAt.Valid {
		entry.ExpiresAt = &expiresAt.Time
	}
	return &entry, nil
}
