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

type scheduledJobRepository struct {
	db *sql.DB
}

// NewScheduledJobRepository creates a PostgreSQL scheduled job
// repository.
func NewScheduledJobRepository(db *sql.DB) domain.ScheduledJobRepository {
	return &scheduledJobRepository{db: db}
}

const scheduledJobColumns = `id, app_id, queue_id, name, cron_expression, timezone, template, active, last_run_at, next_run_at, created_at, updated_at`

func (r *scheduledJobRepository) Create(ctx context.Context, job *domain.ScheduledJob) error {
	templateJSON, err := json.Marshal(job.Template)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	query := `
		INSERT INTO scheduled_jobs (` + scheduledJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.AppID,
		job.QueueID,
		job.Name,
		job.CronExpr,
		job.Timezone,
		templateJSON,
		job.Active,
		job.LastRunAt,
		job.NextRunAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

func (r *scheduledJobRepository) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.ScheduledJob, error) {
	query := `SELECT ` + scheduledJobColumns + ` FROM scheduled_jobs WHERE app_id = $1 AND id = $2`

	job, err := scanScheduledJob(r.db.QueryRowContext(ctx, query, appID, id))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("scheduled job", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return job, nil
}

func (r *scheduledJobRepository) List(ctx context.Context, appID uuid.UUID) ([]*domain.ScheduledJob, error) {
	query := `SELECT ` + scheduledJobColumns + ` FROM scheduled_jobs WHERE app_id = $1 ORDER BY created_at`
	return r.queryJobs(ctx, query, appID)
}

func (r *scheduledJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledJob, error) {
	query := `
		SELECT ` + scheduledJobColumns + `
		FROM scheduled_jobs
		WHERE active = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2
	`
	return r.queryJobs(ctx, query, now, limit)
}

func (r *scheduledJobRepository) Update(ctx context.Context, job *domain.ScheduledJob) error {
	templateJSON, err := json.Marshal(job.Template)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	query := `
		UPDATE scheduled_jobs
		SET name = $3, queue_id = $4, cron_expression = $5, timezone = $6,
			template = $7, active = $8, next_run_at = $9, updated_at = NOW()
		WHERE app_id = $1 AND id = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		job.AppID,
		job.ID,
		job.Name,
		job.QueueID,
		job.CronExpr,
		job.Timezone,
		templateJSON,
		job.Active,
		job.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled job: %w", err)
	}
	return requireRowAffected(result, "scheduled job", job.ID.String())
}

func (r *scheduledJobRepository) MarkRun(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error {
	query := `
		UPDATE scheduled_jobs SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, lastRunAt, nextRunAt); err != nil {
		return fmt.Errorf("failed to mark scheduled job run: %w", err)
	}
	return nil
}

func (r *scheduledJobRepository) Delete(ctx context.Context, appID, id uuid.UUID) error {
	query := `DELETE FROM scheduled_jobs WHERE app_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, appID, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job: %w", err)
	}
	return requireRowAffected(result, "scheduled job", id.String())
}

func (r *scheduledJobRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*domain.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled jobs: %w", err)
	}
	return jobs, nil
}

func scanScheduledJob(row rowScanner) (*domain.ScheduledJob, error) {
	var job domain.ScheduledJob
	var templateJSON []byte
	var lastRunAt, nextRunAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.AppID,
		&job.QueueID,
		&job.Name,
		&job.CronExpr,
		&job.Timezone,
		&templateJSON,
		&job.Active,
		&lastRunAt,
		&nextRunAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		job.NextRunAt = &nextRunAt.Time
	}
	if len(templateJSON) > 0 {
		if err := json.Unmarshal(templateJSON, &job.Template); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template: %w", err)
		}
	}
	return &job, nil
}
