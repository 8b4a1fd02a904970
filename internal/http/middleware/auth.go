// Package middleware holds the request-path cross-cutting concerns:
// authentication, scope checks, rate limiting, idempotent replay,
// logging, and panic recovery.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

type apiKeyContextKey struct{}

// APIKeyFromContext returns the credential matched by Authenticate.
func APIKeyFromContext(ctx context.Context) (*domain.APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey{}).(*domain.APIKey)
	return key, ok
}

func writeAuthError(w http.ResponseWriter, err error) {
	domainErr, ok := domain.AsError(err)
	if !ok {
		domainErr = domain.NewError(domain.ErrCodeInternal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(domainErr.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": domainErr})
}

// remoteIP strips the port from RemoteAddr.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Authenticate resolves the bearer token and attaches the auth
// context.
func Authenticate(auth *service.AuthService, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				token = ""
			}

			authCtx, key, err := auth.Authenticate(r.Context(), token, remoteIP(r))
			if err != nil {
				writeAuthError(w, err)
				return
			}

			ctx := domain.WithAuthContext(r.Context(), authCtx)
			ctx = context.WithValue(ctx, apiKeyContextKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects credentials lacking the scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := domain.AuthFromContext(r.Context())
			if !ok {
				writeAuthError(w, domain.NewError(domain.ErrCodeUnauthorized, "missing auth context"))
				return
			}
			if !auth.HasScope(scope) {
				writeAuthError(w, domain.NewError(domain.ErrCodeForbidden, "missing required scope: "+scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
