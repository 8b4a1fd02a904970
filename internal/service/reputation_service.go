package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// Throttle thresholds: bounce rate and complaint rate in percent.
const (
	bounceRateThreshold    = 10.0
	complaintRateThreshold = 1.0
)

// ReputationService computes rolling 24 h delivery health per app and
// flags unhealthy senders for throttling.
type ReputationService struct {
	emailRepo domain.EmailRepository
	repo      domain.ReputationRepository
	logger    logger.Logger
}

// NewReputationService creates the reputation engine.
func NewReputationService(emailRepo domain.EmailRepository, repo domain.ReputationRepository, log logger.Logger) *ReputationService {
	return &ReputationService{emailRepo: emailRepo, repo: repo, logger: log}
}

// RecomputeAll recalculates reputation for every app with activity in
// the last 24 h.
func (s *ReputationService) RecomputeAll(ctx context.Context) error {
	since := time.Now().UTC().Add(-24 * time.Hour)
	appIDs, err := s.emailRepo.ActiveAppIDs(ctx, since)
	if err != nil {
		return err
	}
	for _, appID := range appIDs {
		if err := s.Recompute(ctx, appID); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"app_id": appID.String(),
				"error":  err.Error(),
			}).Error("Failed to recompute reputation")
		}
	}
	return nil
}

// Recompute recalculates and upserts one app's reputation.
func (s *ReputationService) Recompute(ctx context.Context, appID uuid.UUID) error {
	since := time.Now().UTC().Add(-24 * time.Hour)

	sent, err := s.emailRepo.CountByStatusSince(ctx, appID,
		[]domain.EmailStatus{domain.EmailStatusSent, domain.EmailStatusDelivered, domain.EmailStatusBounced},
		since,
	)
	if err != nil {
		return err
	}
	bounced, err := s.emailRepo.CountByStatusSince(ctx, appID,
		[]domain.EmailStatus{domain.EmailStatusBounced},
		since,
	)
	if err != nil {
		return err
	}
	complaints, err := s.emailRepo.CountEventsSince(ctx, appID, domain.EventComplained, since)
	if err != nil {
		return err
	}

	var bounceRate, complaintRate float64
	if sent > 0 {
		bounceRate = float64(bounced) / float64(sent) * 100
		complaintRate = float64(complaints) / float64(sent) * 100
	}

	score := 100 - 2*bounceRate - 20*complaintRate
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	reputation := &domain.AppReputation{
		AppID:         appID,
		BounceRate:    bounceRate,
		ComplaintRate: complaintRate,
		Score:         score,
		UpdatedAt:     time.Now().UTC(),
	}
	switch {
	case bounceRate > bounceRateThreshold:
		reputation.Throttled = true
		reason := fmt.Sprintf("bounce rate %.1f%% exceeds %.0f%%", bounceRate, bounceRateThreshold)
		reputation.ThrottleReason = &reason
	case complaintRate > complaintRateThreshold:
		reputation.Throttled = true
		reason := fmt.Sprintf("complaint rate %.2f%% exceeds %.0f%%", complaintRate, complaintRateThreshold)
		reputation.ThrottleReason = &reason
	}

	if reputation.Throttled {
		s.logger.WithFields(map[string]interface{}{
			"app_id":         appID.String(),
			"bounce_rate":    bounceRate,
			"complaint_rate": complaintRate,
			"score":          score,
		}).Warn("App throttled for poor reputation")
	}
	return s.repo.Upsert(ctx, reputation)
}

// Get returns the stored reputation; apps without activity yet get a
// clean default.
func (s *ReputationService) Get(ctx context.Context, appID uuid.UUID) (*domain.AppReputation, error) {
	reputation, err := s.repo.GetByAppID(ctx, appID)
	if err != nil {
		if domain.IsNotFound(err) {
			return &domain.AppReputation{AppID: appID, Score: 100, UpdatedAt: time.Now().UTC()}, nil
		}
		return nil, err
	}
	return reputation, nil
}

// IsThrottled is the dispatch-path gate.
func (s *ReputationService) IsThrottled(ctx context.Context, appID uuid.UUID) (bool, error) {
	reputation, err := s.repo.GetByAppID(ctx, appID)
	if err != nil {
		if domain.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return reputation.Throttled, nil
}
