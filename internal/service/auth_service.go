package service

import (
	"context"
	"strings"
	"time"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/crypto"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// AuthService resolves bearer tokens to tenant-scoped identities.
type AuthService struct {
	apiKeyRepo domain.APIKeyRepository
	appRepo    domain.AppRepository
	logger     logger.Logger
}

// NewAuthService creates the auth service.
func NewAuthService(apiKeyRepo domain.APIKeyRepository, appRepo domain.AppRepository, log logger.Logger) *AuthService {
	return &AuthService{
		apiKeyRepo: apiKeyRepo,
		appRepo:    appRepo,
		logger:     log,
	}
}

var errUnauthorized = domain.NewError(domain.ErrCodeUnauthorized, "invalid or missing API key")

// Authenticate verifies a plaintext API key and returns the auth
// context plus the matched key. Revoked, expired, and IP-blocked keys
// all return the same UNAUTHORIZED error so probing reveals nothing.
func (s *AuthService) Authenticate(ctx context.Context, token, remoteIP string) (*domain.AuthContext, *domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" || !strings.HasPrefix(token, "mq_") {
		return nil, nil, errUnauthorized
	}

	key, err := s.apiKeyRepo.GetByHash(ctx, crypto.Sha256Hex(token))
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil, errUnauthorized
		}
		return nil, nil, err
	}

	if !key.Active || key.Expired(time.Now()) || !key.AllowsIP(remoteIP) {
		return nil, nil, errUnauthorized
	}

	app, err := s.appRepo.GetByID(ctx, key.AppID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil, errUnauthorized
		}
		return nil, nil, err
	}
	if !app.Active {
		return nil, nil, errUnauthorized
	}

	s.touchLastUsed(key)

	auth := &domain.AuthContext{
		AppID:   key.AppID,
		KeyID:   key.ID,
		Scopes:  key.Scopes,
		IsAdmin: key.IsAdmin(),
		Sandbox: app.Sandbox,
	}
	return auth, key, nil
}

// touchLastUsed records key usage off the request path; a failed write
// only loses a timestamp.
func (s *AuthService) touchLastUsed(key *domain.APIKey) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.apiKeyRepo.UpdateLastUsed(ctx, key.ID, time.Now()); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"key_id": key.ID.String(),
				"error":  err.Error(),
			}).Debug("Failed to update key last_used_at")
		}
	}()
}
