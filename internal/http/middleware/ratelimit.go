package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// RateLimit consumes one slot from the credential's per-minute window
// and reflects the window state in X-RateLimit-* headers. Denials get
// a Retry-After.
func RateLimit(limits *service.RateLimitService, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := domain.AuthFromContext(r.Context())
			if !ok {
				writeAuthError(w, domain.NewError(domain.ErrCodeUnauthorized, "missing auth context"))
				return
			}

			var keyLimit *int64
			if key, ok := APIKeyFromContext(r.Context()); ok {
				keyLimit = key.RateLimit
			}

			result, err := limits.AllowKey(r.Context(), auth.KeyID, keyLimit)
			if err != nil {
				// Redis trouble must not take the API down.
				log.WithField("error", err.Error()).Error("Rate limit check failed; allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := result.RetryAfter(time.Now())
				w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
				writeAuthError(w, service.RateLimitError(result, "apiKey"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
