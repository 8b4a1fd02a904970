package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type queueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a PostgreSQL queue repository.
func NewQueueRepository(db *sql.DB) domain.QueueRepository {
	return &queueRepository{db: db}
}

const queueColumns = `id, app_id, name, priority, rate_limit, max_retries, retry_delays, smtp_config_id, paused, settings, created_at, updated_at`

// isUniqueViolation reports a Postgres 23505 error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (r *queueRepository) Create(ctx context.Context, queue *domain.Queue) error {
	settingsJSON, err := json.Marshal(queue.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal queue settings: %w", err)
	}

	query := `
		INSERT INTO queues (` + queueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		queue.ID,
		queue.AppID,
		queue.Name,
		queue.Priority,
		queue.RateLimit,
		queue.MaxRetries,
		pq.Array(queue.RetryDelays),
		queue.SMTPConfigID,
		queue.Paused,
		settingsJSON,
		queue.CreatedAt,
		queue.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.ErrCodeDuplicateQueue, "queue name already exists: "+queue.Name)
		}
		return fmt.Errorf("failed to create queue: %w", err)
	}
	return nil
}

func (r *queueRepository) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE app_id = $1 AND id = $2`

	queue, err := scanQueue(r.db.QueryRowContext(ctx, query, appID, id))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("queue", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	return queue, nil
}

func (r *queueRepository) GetByName(ctx context.Context, appID uuid.UUID, name string) (*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE app_id = $1 AND name = $2`

	queue, err := scanQueue(r.db.QueryRowContext(ctx, query, appID, name))
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.ErrCodeQueueNotFound, "queue not found: "+name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue by name: %w", err)
	}
	return queue, nil
}

func (r *queueRepository) List(ctx context.Context, appID uuid.UUID) ([]*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE app_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	defer rows.Close()

	var queues []*domain.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue: %w", err)
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queues: %w", err)
	}
	return queues, nil
}

func (r *queueRepository) Update(ctx context.Context, queue *domain.Queue) error {
	settingsJSON, err := json.Marshal(queue.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal queue settings: %w", err)
	}

	query := `
		UPDATE queues
		SET name = $3, priority = $4, rate_limit = $5, max_retries = $6,
			retry_delays = $7, smtp_config_id = $8, settings = $9, updated_at = NOW()
		WHERE app_id = $1 AND id = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		queue.AppID,
		queue.ID,
		queue.Name,
		queue.Priority,
		queue.RateLimit,
		queue.MaxRetries,
		pq.Array(queue.RetryDelays),
		queue.SMTPConfigID,
		settingsJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.ErrCodeDuplicateQueue, "queue name already exists: "+queue.Name)
		}
		return fmt.Errorf("failed to update queue: %w", err)
	}
	return requireRowAffected(result, "queue", queue.ID.String())
}

func (r *queueRepository) SetPaused(ctx context.Context, appID, id uuid.UUID, paused bool) error {
	query := `UPDATE queues SET paused = $3, updated_at = NOW() WHERE app_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, appID, id, paused)
	if err != nil {
		return fmt.Errorf("failed to set queue paused: %w", err)
	}
	return requireRowAffected(result, "queue", id.String())
}

func (r *queueRepository) Delete(ctx context.Context, appID, id uuid.UUID) error {
	query := `DELETE FROM queues WHERE app_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, appID, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue: %w", err)
	}
	return requireRowAffected(result, "queue", id.String())
}

func (r *queueRepository) Stats(ctx context.Context, appID, id uuid.UUID) (*domain.QueueStats, error) {
	query := `
		SELECT status, COUNT(*)
		FROM emails
		WHERE app_id = $1 AND queue_id = $2
		GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, query, appID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.QueueStats{QueueID: id, Counts: make(map[string]int64)}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats.Counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}
	return stats, nil
}

func scanQueue(row rowScanner) (*domain.Queue, error) {
	var queue domain.Queue
	var rateLimit sql.NullInt64
	var smtpConfigID uuid.NullUUID
	var retryDelays pq.Int64Array
	var settingsJSON []byte

	err := row.Scan(
		&queue.ID,
		&queue.AppID,
		&queue.Name,
		&queue.Priority,
		&rateLimit,
		&queue.MaxRetries,
		&retryDelays,
		&smtpConfigID,
		&queue.Paused,
		&settingsJSON,
		&queue.CreatedAt,
		&queue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rateLimit.Valid {
		queue.RateLimit = &rateLimit.Int64
	}
	if smtpConfigID.Valid {
		id := smtpConfigID.UUID
		queue.SMTPConfigID = &id
	}
	queue.RetryDelays = make([]int, 0, len(retryDelays))
	for _, d := range retryDelays {
		queue.RetryDelays = append(queue.RetryDelays, int(d))
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &queue.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue settings: %w", err)
		}
	}
	return &queue, nil
}
