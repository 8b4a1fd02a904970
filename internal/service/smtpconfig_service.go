package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/smtppool"
	"github.com/mailqueue/mailqueue/pkg/crypto"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// SMTPConfigService manages relay configurations. Credentials are
// encrypted before they reach the repository and never leave it
// decrypted; only the pool decrypts, at dial time.
type SMTPConfigService struct {
	repo      domain.SMTPConfigRepository
	pool      *smtppool.Pool
	secretKey string
	logger    logger.Logger
}

// NewSMTPConfigService creates the relay config service.
func NewSMTPConfigService(repo domain.SMTPConfigRepository, pool *smtppool.Pool, secretKey string, log logger.Logger) *SMTPConfigService {
	return &SMTPConfigService{repo: repo, pool: pool, secretKey: secretKey, logger: log}
}

func (s *SMTPConfigService) encryptCredential(value *string) (*string, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	encrypted, err := crypto.EncryptString(*value, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return &encrypted, nil
}

// Create stores a relay config with encrypted credentials.
func (s *SMTPConfigService) Create(ctx context.Context, auth *domain.AuthContext, req *domain.CreateSMTPConfigRequest) (*domain.SMTPConfig, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	username, err := s.encryptCredential(req.Username)
	if err != nil {
		return nil, err
	}
	password, err := s.encryptCredential(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	config := &domain.SMTPConfig{
		ID:         uuid.New(),
		AppID:      auth.AppID,
		Name:       req.Name,
		Host:       req.Host,
		Port:       req.Port,
		Username:   username,
		Password:   password,
		Encryption: req.Encryption,
		PoolSize:   5,
		TimeoutMs:  domain.DefaultSMTPTimeoutMs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.PoolSize != nil {
		config.PoolSize = *req.PoolSize
	}
	if req.TimeoutMs != nil {
		config.TimeoutMs = *req.TimeoutMs
	}

	if err := s.repo.Create(ctx, config); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"app_id":    auth.AppID.String(),
		"config_id": config.ID.String(),
		"host":      config.Host,
	}).Info("SMTP config created")
	return config, nil
}

// Get returns one relay config within the tenant.
func (s *SMTPConfigService) Get(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) (*domain.SMTPConfig, error) {
	return s.repo.GetByID(ctx, auth.AppID, id)
}

// List returns the tenant's relay configs.
func (s *SMTPConfigService) List(ctx context.Context, auth *domain.AuthContext) ([]*domain.SMTPConfig, error) {
	return s.repo.List(ctx, auth.AppID)
}

// Update overwrites a relay config. Credentials left empty in the
// payload keep their stored values.
func (s *SMTPConfigService) Update(ctx context.Context, auth *domain.AuthContext, id uuid.UUID, req *domain.CreateSMTPConfigRequest) (*domain.SMTPConfig, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	config, err := s.repo.GetByID(ctx, auth.AppID, id)
	if err != nil {
		return nil, err
	}

	config.Name = req.Name
	config.Host = req.Host
	config.Port = req.Port
	config.Encryption = req.Encryption
	if req.PoolSize != nil {
		config.PoolSize = *req.PoolSize
	}
	if req.TimeoutMs != nil {
		config.TimeoutMs = *req.TimeoutMs
	}
	if req.Username != nil && *req.Username != "" {
		username, err := s.encryptCredential(req.Username)
		if err != nil {
			return nil, err
		}
		config.Username = username
	}
	if req.Password != nil && *req.Password != "" {
		password, err := s.encryptCredential(req.Password)
		if err != nil {
			return nil, err
		}
		config.Password = password
	}
	config.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Activate makes this the config used by queues without an explicit
// binding. Only one config per app is active at a time; the repository
// deactivates the others.
func (s *SMTPConfigService) Activate(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	return s.repo.SetActive(ctx, auth.AppID, id, true)
}

// Deactivate unsets the config as the app default.
func (s *SMTPConfigService) Deactivate(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	return s.repo.SetActive(ctx, auth.AppID, id, false)
}

// Delete removes a relay config.
func (s *SMTPConfigService) Delete(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) error {
	return s.repo.Delete(ctx, auth.AppID, id)
}

// Test dials the stored config and reports connection health.
func (s *SMTPConfigService) Test(ctx context.Context, auth *domain.AuthContext, id uuid.UUID) (*domain.SMTPTestResult, error) {
	config, err := s.repo.GetByID(ctx, auth.AppID, id)
	if err != nil {
		return nil, err
	}
	return s.pool.Test(ctx, config), nil
}
