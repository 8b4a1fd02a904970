package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/crypto"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// Key format: mq_<env>_<10 char id>_<40 char secret>, all base62. The
// stored hash covers the whole plaintext.
const (
	apiKeyIDLength     = 10
	apiKeySecretLength = 40
)

// APIKeyService manages scoped credentials.
type APIKeyService struct {
	repo   domain.APIKeyRepository
	logger logger.Logger
}

// NewAPIKeyService creates the API key service.
func NewAPIKeyService(repo domain.APIKeyRepository, log logger.Logger) *APIKeyService {
	return &APIKeyService{repo: repo, logger: log}
}

// generateKey mints a fresh plaintext key for the environment.
func generateKey(sandbox bool) (plaintext, prefix string, err error) {
	env := "live"
	if sandbox {
		env = "test"
	}
	id, err := crypto.RandomBase62(apiKeyIDLength)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key id: %w", err)
	}
	secret, err := crypto.RandomBase62(apiKeySecretLength)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key secret: %w", err)
	}
	prefix = fmt.Sprintf("mq_%s_%s", env, id)
	return prefix + "_" + secret, prefix, nil
}

// Create mints a key and returns the plaintext exactly once.
func (s *APIKeyService) Create(ctx context.Context, auth *domain.AuthContext, req *domain.CreateAPIKeyRequest) (*domain.APIKeyWithSecret, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	plaintext, prefix, err := generateKey(auth.Sandbox)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	key := &domain.APIKey{
		ID:          uuid.New(),
		AppID:       auth.AppID,
		Name:        req.Name,
		KeyPrefix:   prefix,
		KeyHash:     crypto.Sha256Hex(plaintext),
		Scopes:      req.Scopes,
		RateLimit:   req.RateLimit,
		IPAllowlist: req.IPAllowlist,
		ExpiresAt:   req.ExpiresAt,
		Active:      true,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"app_id": auth.AppID.String(),
		"key_id": key.ID.String(),
	}).Info("API key created")

	return &domain.APIKeyWithSecret{APIKey: *key, Key: plaintext}, nil
}

// Get returns one key within the tenant.
func (s *APIKeyService) Get(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) (*domain.APIKey, error) {
	return s.repo.GetByID(ctx, auth.AppID, id)
}

// List returns the tenant's keys, hashes withheld.
func (s *APIKeyService) List(ctx context.Context, auth *domain.AuthContext) ([]*domain.APIKey, error) {
	return s.repo.List(ctx, auth.AppID)
}

// Rotate replaces the key's secret. The old plaintext stops working
// immediately; scopes and limits carry over.
func (s *APIKeyService) Rotate(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) (*domain.APIKeyWithSecret, error) {
	key, err := s.repo.GetByID(ctx, auth.AppID, id)
	if err != nil {
		return nil, err
	}
	if !key.Active {
		return nil, domain.NewError(domain.ErrCodeValidation, "cannot rotate a revoked key")
	}

	plaintext, prefix, err := generateKey(auth.Sandbox)
	if err != nil {
		return nil, err
	}
	hash := crypto.Sha256Hex(plaintext)
	if err := s.repo.UpdateSecret(ctx, auth.AppID, id, prefix, hash); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"app_id": auth.AppID.String(),
		"key_id": id.String(),
	}).Info("API key rotated")

	key.KeyPrefix = prefix
	key.KeyHash = hash
	return &domain.APIKeyWithSecret{APIKey: *key, Key: plaintext}, nil
}

// Revoke deactivates a key. Revocation is permanent.
func (s *APIKeyService) Revoke(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	if err := s.repo.Revoke(ctx, auth.AppID, id); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"app_id": auth.AppID.String(),
		"key_id": id.String(),
	}).Info("API key revoked")
	return nil
}

// Delete removes a key row entirely.
func (s *APIKeyService) Delete(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	return s.repo.Delete(ctx, auth.AppID, id)
}
