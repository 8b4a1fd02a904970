package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// idempotencyTTL is the replay window for cached POST responses.
const idempotencyTTL = 24 * time.Hour

type cachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// IdempotencyCache replays cached responses for repeated POSTs
// carrying the same Idempotency-Key within the window. Only 2xx
// responses are cached; failures may be retried with the same key.
func IdempotencyCache(client *redis.Client, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			auth, ok := domain.AuthFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			cacheKey := "idempotency:" + auth.AppID.String() + ":" + key

			if raw, err := client.Get(r.Context(), cacheKey).Bytes(); err == nil {
				var cached cachedResponse
				if json.Unmarshal(raw, &cached) == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotent-Replay", "true")
					w.WriteHeader(cached.Status)
					w.Write(cached.Body)
					return
				}
			}

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r.WithContext(withIdempotencyKey(r.Context(), key)))

			if capture.status >= 200 && capture.status < 300 {
				raw, err := json.Marshal(cachedResponse{Status: capture.status, Body: capture.body.Bytes()})
				if err == nil {
					err = client.Set(r.Context(), cacheKey, raw, idempotencyTTL).Err()
				}
				if err != nil {
					log.WithField("error", err.Error()).Error("Failed to cache idempotent response")
				}
			}
		})
	}
}

type idempotencyKeyContextKey struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// IdempotencyKeyFromContext returns the request's Idempotency-Key, if
// one was sent.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyContextKey{}).(string)
	return key, ok
}
