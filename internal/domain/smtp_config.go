package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Encryption modes for the relay connection.
const (
	EncryptionTLS      = "tls"
	EncryptionSTARTTLS = "starttls"
	EncryptionNone     = "none"
)

// DefaultSMTPTimeoutMs bounds a complete send when the config leaves
// the timeout unset.
const DefaultSMTPTimeoutMs = 30000

// SMTPConfig describes one relay an app may send through. Username and
// Password are stored AES-GCM encrypted; repositories return them
// encrypted and the pool decrypts at dial time.
type SMTPConfig struct {
	ID         uuid.UUID `json:"id"`
	AppID      uuid.UUID `json:"appId"`
	Name       string    `json:"name"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Username   *string   `json:"-"`
	Password   *string   `json:"-"`
	Encryption string    `json:"encryption"`
	PoolSize   int       `json:"poolSize"`
	TimeoutMs  int       `json:"timeoutMs"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HasCredentials reports whether the config carries AUTH credentials.
func (c *SMTPConfig) HasCredentials() bool {
	return c.Username != nil && *c.Username != "" && c.Password != nil
}

// CreateSMTPConfigRequest is the payload for relay config creation.
type CreateSMTPConfigRequest struct {
	Name       string  `json:"name"`
	Host       string  `json:"host"`
	Port       int     `json:"port"`
	Username   *string `json:"username,omitempty"`
	Password   *string `json:"password,omitempty"`
	Encryption string  `json:"encryption"`
	PoolSize   *int    `json:"poolSize,omitempty"`
	TimeoutMs  *int    `json:"timeoutMs,omitempty"`
}

// Validate checks the relay config payload.
func (r *CreateSMTPConfigRequest) Validate() error {
	var details []ValidationDetail
	if r.Name == "" {
		details = append(details, ValidationDetail{Path: "name", Message: "name is required"})
	}
	if r.Host == "" {
		details = append(details, ValidationDetail{Path: "host", Message: "host is required"})
	}
	if r.Port < 1 || r.Port > 65535 {
		details = append(details, ValidationDetail{Path: "port", Message: "port must be between 1 and 65535"})
	}
	switch r.Encryption {
	case EncryptionTLS, EncryptionSTARTTLS, EncryptionNone:
	default:
		details = append(details, ValidationDetail{Path: "encryption", Message: "must be one of tls, starttls, none"})
	}
	if r.PoolSize != nil && *r.PoolSize < 1 {
		details = append(details, ValidationDetail{Path: "poolSize", Message: "must be >= 1"})
	}
	if r.TimeoutMs != nil && *r.TimeoutMs < 1 {
		details = append(details, ValidationDetail{Path: "timeoutMs", Message: "must be >= 1"})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// SMTPTestResult reports the outcome of a connection test.
type SMTPTestResult struct {
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// SMTPConfigRepository persists relay configs.
type SMTPConfigRepository interface {
	Create(ctx context.Context, config *SMTPConfig) error
	GetByID(ctx context.Context, appID, id uuid.UUID) (*SMTPConfig, error)
	GetActive(ctx context.Context, appID uuid.UUID) (*SMTPConfig, error)
	List(ctx context.Context, appID uuid.UUID) ([]*SMTPConfig, error)
	Update(ctx context.Context, config *SMTPConfig) error
	SetActive(ctx context.Context, appID, id uuid.UUID, active bool) error
	Delete(ctx context.Context, appID, id uuid.UUID) error
}
