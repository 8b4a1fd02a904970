package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// SuppressionService manages the per-app blocklist.
type SuppressionService struct {
	repo   domain.SuppressionRepository
	logger logger.Logger
}

// NewSuppressionService creates the suppression service.
func NewSuppressionService(repo domain.SuppressionRepository, log logger.Logger) *SuppressionService {
	return &SuppressionService{repo: repo, logger: log}
}

// Add suppresses an address for the tenant.
func (s *SuppressionService) Add(ctx context.Context, auth *domain.AuthContext, req *domain.AddSuppressionRequest) (*domain.SuppressionEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	appID := auth.AppID
	entry := &domain.SuppressionEntry{
		ID:           uuid.New(),
		AppID:        &appID,
		EmailAddress: domain.NormalizeEmailAddress(req.EmailAddress),
		Reason:       req.Reason,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.repo.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AddBulk suppresses a batch of addresses; invalid entries are skipped
// and reported, valid ones still land.
func (s *SuppressionService) AddBulk(ctx context.Context, auth *domain.AuthContext, reqs []*domain.AddSuppressionRequest) (*domain.BulkSuppressionResult, error) {
	result := &domain.BulkSuppressionResult{}
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %s", i, err.Error()))
			continue
		}
		appID := auth.AppID
		entry := &domain.SuppressionEntry{
			ID:           uuid.New(),
			AppID:        &appID,
			EmailAddress: domain.NormalizeEmailAddress(req.EmailAddress),
			Reason:       req.Reason,
			ExpiresAt:    req.ExpiresAt,
			CreatedAt:    time.Now().UTC(),
		}
		inserted, err := s.repo.Upsert(ctx, entry)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %s", i, err.Error()))
			continue
		}
		if inserted {
			result.Added++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

// Remove unsuppresses an address within the tenant.
func (s *SuppressionService) Remove(ctx context.Context, auth *domain.AuthContext, address string) error {
	appID := auth.AppID
	return s.repo.Remove(ctx, &appID, domain.NormalizeEmailAddress(address))
}

// Check reports whether an address is currently suppressed for the
// tenant, folding in global entries.
func (s *SuppressionService) Check(ctx context.Context, auth *domain.AuthContext, address string) (*domain.SuppressionCheck, error) {
	entry, err := s.repo.Get(ctx, auth.AppID, domain.NormalizeEmailAddress(address))
	if err != nil {
		if domain.IsNotFound(err) {
			return &domain.SuppressionCheck{IsSuppressed: false}, nil
		}
		return nil, err
	}
	return &domain.SuppressionCheck{
		IsSuppressed: true,
		Reason:       entry.Reason,
		ExpiresAt:    entry.ExpiresAt,
	}, nil
}

// List pages through the tenant's entries.
func (s *SuppressionService) List(ctx context.Context, auth *domain.AuthContext, filter domain.SuppressionListFilter) ([]*domain.SuppressionEntry, int64, error) {
	return s.repo.List(ctx, auth.AppID, filter)
}

// csvHeader is the suppression export/import column layout.
var csvHeader = []string{"email_address", "reason", "expires_at", "created_at"}

// ExportCSV streams the tenant's entries as CSV.
func (s *SuppressionService) ExportCSV(ctx context.Context, auth *domain.AuthContext, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	// Pages must stay within the repository's limit cap or the cap
	// would silently shrink them and end the loop early.
	const pageSize = 100
	offset := 0
	for {
		entries, total, err := s.repo.List(ctx, auth.AppID, domain.SuppressionListFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			expiresAt := ""
			if entry.ExpiresAt != nil {
				expiresAt = entry.ExpiresAt.UTC().Format(time.RFC3339)
			}
			record := []string{
				entry.EmailAddress,
				entry.Reason,
				expiresAt,
				entry.CreatedAt.UTC().Format(time.RFC3339),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write csv record: %w", err)
			}
		}
		offset += len(entries)
		if len(entries) == 0 || int64(offset) >= total {
			break
		}
	}

	writer.Flush()
	return writer.Error()
}

// ImportCSV reads entries in the export layout. Rows that fail to
// parse are skipped and reported; the import continues.
func (s *SuppressionService) ImportCSV(ctx context.Context, auth *domain.AuthContext, r io.Reader) (*domain.BulkSuppressionResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, domain.NewError(domain.ErrCodeValidation, "empty or unreadable CSV")
	}
	if len(header) == 0 || header[0] != "email_address" {
		return nil, domain.NewError(domain.ErrCodeValidation, "CSV must start with an email_address column")
	}

	result := &domain.BulkSuppressionResult{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": "+err.Error())
			continue
		}

		req := &domain.AddSuppressionRequest{EmailAddress: record[0]}
		if len(record) > 1 {
			req.Reason = record[1]
		}
		if len(record) > 2 && record[2] != "" {
			expiresAt, err := time.Parse(time.RFC3339, record[2])
			if err != nil {
				result.Skipped++
				result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": invalid expires_at")
				continue
			}
			req.ExpiresAt = &expiresAt
		}

		if err := req.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": "+err.Error())
			continue
		}

		appID := auth.AppID
		entry := &domain.SuppressionEntry{
			ID:           uuid.New(),
			AppID:        &appID,
			EmailAddress: domain.NormalizeEmailAddress(req.EmailAddress),
			Reason:       req.Reason,
			ExpiresAt:    req.ExpiresAt,
			CreatedAt:    time.Now().UTC(),
		}
		inserted, err := s.repo.Upsert(ctx, entry)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": "+err.Error())
			continue
		}
		if inserted {
			result.Added++
		} else {
			result.Skipped++
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"app_id":  auth.AppID.String(),
		"added":   result.Added,
		"skipped": result.Skipped,
	}).Info("Suppression CSV import finished")
	return result, nil
}

// Suppress records an automatic suppression from the bounce/complaint
// pipeline, tagging the source email.
func (s *SuppressionService) Suppress(ctx context.Context, appID uuid.UUID, address, reason string, sourceEmailID *uuid.UUID, expiresAt *time.Time) error {
	entry := &domain.SuppressionEntry{
		ID:            uuid.New(),
		AppID:         &appID,
		EmailAddress:  domain.NormalizeEmailAddress(address),
		Reason:        reason,
		SourceEmailID: sourceEmailID,
		ExpiresAt:     expiresAt,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.repo.Upsert(ctx, entry); err != nil {
		return err
	}
	return nil
}
