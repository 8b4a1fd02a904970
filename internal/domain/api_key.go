package domain

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// APIKey is a revocable scoped credential. KeyHash is the SHA-256 hex
// of the full plaintext key; the plaintext itself is emitted exactly
// once, at creation or rotation.
type APIKey struct {
	ID           uuid.UUID  `json:"id"`
	AppID        uuid.UUID  `json:"appId"`
	Name         string     `json:"name"`
	KeyPrefix    string     `json:"keyPrefix"`
	KeyHash      string     `json:"-"`
	Scopes       []string   `json:"scopes"`
	RateLimit    *int64     `json:"rateLimit,omitempty"`
	IPAllowlist  []string   `json:"ipAllowlist,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Active       bool       `json:"active"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsAdmin reports whether the key carries the admin scope.
func (k *APIKey) IsAdmin() bool {
	for _, s := range k.Scopes {
		if s == ScopeAdmin {
			return true
		}
	}
	return false
}

// Expired reports whether the key's optional expiry has passed.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// AllowsIP reports whether remoteIP passes the optional allowlist. An
// empty allowlist admits every address.
func (k *APIKey) AllowsIP(remoteIP string) bool {
	if len(k.IPAllowlist) == 0 {
		return true
	}
	for _, ip := range k.IPAllowlist {
		if ip == remoteIP {
			return true
		}
	}
	return false
}

// CreateAPIKeyRequest is the payload for key creation.
type CreateAPIKeyRequest struct {
	Name        string     `json:"name"`
	Scopes      []string   `json:"scopes"`
	RateLimit   *int64     `json:"rateLimit,omitempty"`
	IPAllowlist []string   `json:"ipAllowlist,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Validate checks the create payload.
func (r *CreateAPIKeyRequest) Validate() error {
	var details []ValidationDetail
	if r.Name == "" {
		details = append(details, ValidationDetail{Path: "name", Message: "name is required"})
	}
	if len(r.Scopes) == 0 {
		details = append(details, ValidationDetail{Path: "scopes", Message: "at least one scope is required"})
	}
	for i, scope := range r.Scopes {
		if !ValidScopes[scope] {
			details = append(details, ValidationDetail{
				Path:    "scopes[" + strconv.Itoa(i) + "]",
				Message: "unknown scope: " + scope,
			})
		}
	}
	if r.RateLimit != nil && *r.RateLimit < 0 {
		details = append(details, ValidationDetail{Path: "rateLimit", Message: "must be >= 0"})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// APIKeyWithSecret carries the plaintext key alongside the stored row.
// Returned only from Create and Rotate.
type APIKeyWithSecret struct {
	APIKey
	Key string `json:"key"`
}

// APIKeyRepository persists credentials.
type APIKeyRepository interface {
	Create(ctx context.Context, key *APIKey) error
	GetByID(ctx context.Context, appID, id uuid.UUID) (*APIKey, error)
	GetByHash(ctx context.Context, keyHash string) (*APIKey, error)
	List(ctx context.Context, appID uuid.UUID) ([]*APIKey, error)
	UpdateSecret(ctx context.Context, appID, id uuid.UUID, keyPrefix, keyHash string) error
	Revoke(ctx context.Context, appID, id uuid.UUID) error
	Delete(ctx context.Context, appID, id uuid.UUID) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}
