package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mailqueue/mailqueue/internal/domain"
)

type emailRepository struct {
	db *sql.DB
}

// NewEmailRepository creates a PostgreSQL email repository.
func NewEmailRepository(db *sql.DB) domain.EmailRepository {
	return &emailRepository{db: db}
}

const emailColumns = `id, app_id, queue_id, idempotency_key, message_id, from_address, from_name, to_addresses, cc_addresses, bcc_addresses, reply_to, subject, html_body, text_body, headers, personalization, metadata, status, retry_count, last_error, scheduled_at, sent_at, delivered_at, created_at, updated_at`

// psql builds queries with Postgres dollar placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (r *emailRepository) CreateWithEvent(ctx context.Context, email *domain.Email, event *domain.EmailEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	toJSON, err := json.Marshal(email.To)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}
	ccJSON, err := json.Marshal(email.CC)
	if err != nil {
		return fmt.Errorf("failed to marshal cc: %w", err)
	}
	bccJSON, err := json.Marshal(email.BCC)
	if err != nil {
		return fmt.Errorf("failed to marshal bcc: %w", err)
	}
	var replyToJSON []byte
	if email.ReplyTo != nil {
		if replyToJSON, err = json.Marshal(email.ReplyTo); err != nil {
			return fmt.Errorf("failed to marshal reply-to: %w", err)
		}
	}
	headersJSON, err := marshalBag(email.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	personalizationJSON, err := marshalBag(email.Personalization)
	if err != nil {
		return fmt.Errorf("failed to marshal personalization: %w", err)
	}
	metadataJSON, err := marshalBag(email.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	insertEmail := `
		INSERT INTO emails (` + emailColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err = tx.ExecContext(ctx, insertEmail,
		email.ID,
		email.AppID,
		email.QueueID,
		email.IdempotencyKey,
		email.MessageID,
		email.From.Email,
		nullableString(email.From.Name),
		toJSON,
		ccJSON,
		bccJSON,
		replyToJSON,
		email.Subject,
		email.HTMLBody,
		email.TextBody,
		headersJSON,
		personalizationJSON,
		metadataJSON,
		email.Status,
		email.RetryCount,
		email.LastError,
		email.ScheduledAt,
		email.SentAt,
		email.DeliveredAt,
		email.CreatedAt,
		email.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.ErrCodeIdempotencyConflict, "email already submitted with this idempotency key")
		}
		return fmt.Errorf("failed to insert email: %w", err)
	}

	if err := insertEventTx(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit email insert: %w", err)
	}
	return nil
}

func (r *emailRepository) GetByID(ctx context.Context, appID, id uuid.UUID) (*domain.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE app_id = $1 AND id = $2`

	email, err := scanEmail(r.db.QueryRowContext(ctx, query, appID, id))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("email", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return email, nil
}

// GetAny loads an email without tenant scoping; internal consumers
// (tracking, bounce processing) resolve the tenant from the row itself.
func (r *emailRepository) GetAny(ctx context.Context, id uuid.UUID) (*domain.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE id = $1`

	email, err := scanEmail(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("email", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return email, nil
}

func (r *emailRepository) GetByIdempotencyKey(ctx context.Context, appID uuid.UUID, key string) (*domain.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE app_id = $1 AND idempotency_key = $2`

	email, err := scanEmail(r.db.QueryRowContext(ctx, query, appID, key))
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("email", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email by idempotency key: %w", err)
	}
	return email, nil
}

func (r *emailRepository) List(ctx context.Context, appID uuid.UUID, filter domain.EmailListFilter) ([]*domain.Email, int64, error) {
	where := sq.And{sq.Eq{"app_id": appID}}
	if filter.Status != nil {
		where = append(where, sq.Eq{"status": *filter.Status})
	}
	if filter.QueueID != nil {
		where = append(where, sq.Eq{"queue_id": *filter.QueueID})
	}
	if filter.FromDate != nil {
		where = append(where, sq.GtOrEq{"created_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		where = append(where, sq.LtOrEq{"created_at": *filter.ToDate})
	}

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("emails").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count emails: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	listSQL, listArgs, err := psql.Select(emailColumns).
		From("emails").
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
		return nil, 0, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	var emails []*domain.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating emails: %w", err)
	}
	return emails, total, nil
}

// UpdateStatus guards the transition with the expected set; zero rows
// affected means another writer already progressed the row.
func (r *emailRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []domain.EmailStatus, to domain.EmailStatus) (bool, error) {
	query := `
		UPDATE emails SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`
	result, err := r.db.ExecContext(ctx, query, id, to, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to update email status: %w", err)
	}
	return oneRowAffected(result)
}

func (r *emailRepository) MarkSent(ctx context.Context, id uuid.UUID, messageID *string, at time.Time) (bool, error) {
	query := `
		UPDATE emails SET status = 'sent', message_id = COALESCE($2, message_id), sent_at = $3, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.ExecContext(ctx, query, id, messageID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark email sent: %w", err)
	}
	return oneRowAffected(result)
}

func (r *emailRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE emails SET status = 'delivered', delivered_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'sent'
	`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark email delivered: %w", err)
	}
	return oneRowAffected(result)
}

func (r *emailRepository) MarkFailed(ctx context.Context, id uuid.UUID, from []domain.EmailStatus, lastError string) (bool, error) {
	query := `
		UPDATE emails SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`
	result, err := r.db.ExecContext(ctx, query, id, lastError, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to mark email failed: %w", err)
	}
	return oneRowAffected(result)
}

func (r *emailRepository) MarkBounced(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	// Only sent emails can bounce; delivered and failed are terminal.
	query := `
		UPDATE emails SET status = 'bounced', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'sent'
	`
	result, err := r.db.ExecContext(ctx, query, id, lastError)
	if err != nil {
		return false, fmt.Errorf("failed to mark email bounced: %w", err)
	}
	return oneRowAffected(result)
}

func (r *emailRepository) RequeueForRetry(ctx context.Context, id uuid.UUID, retryCount int, nextAttemptAt time.Time) (bool, error) {
	query := `
		UPDATE emails SET status = 'queued', retry_count = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.ExecContext(ctx, query, id, retryCount, nextAttemptAt)
	if err != nil {
		return false, fmt.Errorf("failed to requeue email: %w", err)
	}
	return oneRowAffected(result)
}

func (r *emailRepository) ResetForManualRetry(ctx context.Context, appID, id uuid.UUID) (bool, error) {
	query := `
		UPDATE emails SET status = 'queued', last_error = NULL, next_attempt_at = NULL, updated_at = NOW()
		WHERE app_id = $1 AND id = $2 AND status = 'failed'
	`
	result, err := r.db.ExecContext(ctx, query, appID, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset email for retry: %w", err)
	}
	return oneRowAffected(result)
}

func (r *emailRepository) SetMessageID(ctx context.Context, id uuid.UUID, messageID string) error {
	query := `UPDATE emails SET message_id = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, messageID); err != nil {
		return fmt.Errorf("failed to set message id: %w", err)
	}
	return nil
}

func (r *emailRepository) InsertEvent(ctx context.Context, event *domain.EmailEvent) error {
	return insertEventTx(ctx, r.db, event)
}

func (r *emailRepository) ListEvents(ctx context.Context, emailID uuid.UUID) ([]*domain.EmailEvent, error) {
	query := `
		SELECT id, email_id, event_type, event_data, created_at
		FROM email_events
		WHERE email_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list email events: %w", err)
	}
	defer rows.Close()

	var events []*domain.EmailEvent
	for rows.Next() {
		var event domain.EmailEvent
		var dataJSON []byte
		if err := rows.Scan(&event.ID, &event.EmailID, &event.Type, &dataJSON, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan email event: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &event.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email events: %w", err)
	}
	return events, nil
}

func (r *emailRepository) ListDueQueued(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Email, error) {
	query := `
		SELECT ` + emailColumns + `
		FROM emails
		WHERE status = 'queued'
			AND (scheduled_at IS NULL OR scheduled_at <= NOW())
			AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
			AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`
	return r.queryEmails(ctx, query, updatedBefore, limit)
}

func (r *emailRepository) ListStaleProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Email, error) {
	query := `
		SELECT ` + emailColumns + `
		FROM emails
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`
	return r.queryEmails(ctx, query, updatedBefore, limit)
}

func (r *emailRepository) ActiveAppIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	query := `SELECT DISTINCT app_id FROM emails WHERE created_at >= $1`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active apps: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan app id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating app ids: %w", err)
	}
	return ids, nil
}

func (r *emailRepository) CountByStatusSince(ctx context.Context, appID uuid.UUID, statuses []domain.EmailStatus, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM emails WHERE app_id = $1 AND status = ANY($2) AND created_at >= $3`

	var count int64
	err := r.db.QueryRowContext(ctx, query, appID, pq.Array(statusStrings(statuses)), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count emails by status: %w", err)
	}
	return count, nil
}

func (r *emailRepository) CountEventsSince(ctx context.Context, appID uuid.UUID, eventType domain.EventType, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM email_events e
		JOIN emails m ON m.id = e.email_id
		WHERE m.app_id = $1 AND e.event_type = $2 AND e.created_at >= $3
	`
	var count int64
	err := r.db.QueryRowContext(ctx, query, appID, eventType, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count email events: %w", err)
	}
	return count, nil
}

func (r *emailRepository) CountByQueueAndStatus(ctx context.Context, appID, queueID uuid.UUID) (map[string]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM emails
		WHERE app_id = $1 AND queue_id = $2
		GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, query, appID, queueID)
	if err != nil {
		return nil, fmt.Errorf("failed to count by queue and status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

func (r *emailRepository) queryEmails(ctx context.Context, query string, args ...interface{}) ([]*domain.Email, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	var emails []*domain.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}
	return emails, nil
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEventTx(ctx context.Context, db execer, event *domain.EmailEvent) error {
	dataJSON, err := marshalBag(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `
		INSERT INTO email_events (id, email_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := db.ExecContext(ctx, query, event.ID, event.EmailID, event.Type, dataJSON, event.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert email event: %w", err)
	}
	return nil
}

func oneRowAffected(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func statusStrings(statuses []domain.EmailStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func marshalBag(bag interface{}) ([]byte, error) {
	switch v := bag.(type) {
	case map[string]string:
		if len(v) == 0 {
			return nil, nil
		}
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(bag)
}

func scanEmail(row rowScanner) (*domain.Email, error) {
	var email domain.Email
	var idempotencyKey, messageID, fromName, lastError sql.NullString
	var htmlBody, textBody sql.NullString
	var toJSON, ccJSON, bccJSON, replyToJSON, headersJSON, personalizationJSON, metadataJSON []byte
	var scheduledAt, sentAt, deliveredAt sql.NullTime

	err := row.Scan(
		&email.ID,
		&email.AppID,
		&email.QueueID,
		&idempotencyKey,
		&messageID,
		&email.From.Email,
		&fromName,
		&toJSON,
		&ccJSON,
		&bccJSON,
		&replyToJSON,
		&email.Subject,
		&htmlBody,
		&textBody,
		&headersJSON,
		&personalizationJSON,
		&metadataJSON,
		&email.Status,
		&email.RetryCount,
		&lastError,
		&scheduledAt,
		&sentAt,
		&deliveredAt,
		&email.CreatedAt,
		&email.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if idempotencyKey.Valid {
		email.IdempotencyKey = &idempotencyKey.String
	}
	if messageID.Valid {
		email.MessageID = &messageID.String
	}
	if fromName.Valid {
		email.From.Name = fromName.String
	}
	if htmlBody.Valid {
		email.HTMLBody = &htmlBody.String
	}
	if textBody.Valid {
		email.TextBody = &textBody.String
	}
	if lastError.Valid {
		email.LastError = &lastError.String
	}
	if scheduledAt.Valid {
		email.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		email.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		email.DeliveredAt = &deliveredAt.Time
	}

	if len(toJSON) > 0 {
		if err := json.Unmarshal(toJSON, &email.To); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}
	}
	if len(ccJSON) > 0 {
		if err := json.Unmarshal(ccJSON, &email.CC); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cc: %w", err)
		}
	}
	if len(bccJSON) > 0 {
		if err := json.Unmarshal(bccJSON, &email.BCC); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bcc: %w", err)
		}
	}
	if len(replyToJSON) > 0 {
		email.ReplyTo = &domain.EmailAddress{}
		if err := json.Unmarshal(replyToJSON, email.ReplyTo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reply-to: %w", err)
		}
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &email.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if len(personalizationJSON) > 0 {
		if err := json.Unmarshal(personalizationJSON, &email.Personalization); err != nil {
			return nil, fmt.Errorf("failed to unmarshal personalization: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &email.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &email, nil
}
