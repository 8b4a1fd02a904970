package domain

import (
	"context"

	"github.com/google/uuid"
)

// API key scopes. ScopeAdmin implicitly grants every other scope.
const (
	ScopeEmailSend         = "email:send"
	ScopeEmailRead         = "email:read"
	ScopeQueueManage       = "queue:manage"
	ScopeSMTPManage        = "smtp:manage"
	ScopeSuppressionManage = "suppression:manage"
	ScopeAnalyticsRead     = "analytics:read"
	ScopeAdmin             = "admin"
)

// ValidScopes is the closed set of assignable scopes.
var ValidScopes = map[string]bool{
	ScopeEmailSend:         true,
	ScopeEmailRead:         true,
	ScopeQueueManage:       true,
	ScopeSMTPManage:        true,
	ScopeSuppressionManage: true,
	ScopeAnalyticsRead:     true,
	ScopeAdmin:             true,
}

// AuthContext is the tenant-scoped identity attached to every
// authenticated request.
type AuthContext struct {
	AppID   uuid.UUID
	KeyID   uuid.UUID
	Scopes  []string
	IsAdmin bool
	Sandbox bool
}

// HasScope reports whether the credential carries the scope, either
// directly or through admin.
func (a *AuthContext) HasScope(scope string) bool {
	if a.IsAdmin {
		return true
	}
	for _, s := range a.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

type authContextKey struct{}

// WithAuthContext attaches the auth context to a request context.
func WithAuthContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext retrieves the auth context set by the auth middleware.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return auth, ok
}
