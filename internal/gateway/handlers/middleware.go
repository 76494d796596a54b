package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/loschvladislav/ai-service/internal/shared/database"
)

// Middleware bundles credential authentication and rate limiting.
type Middleware struct {
	store        Store
	limiter      RateLimiter
	defaultLimit int
}

func NewMiddleware(store Store, limiter RateLimiter, defaultLimit int) *Middleware {
	return &Middleware{
		store:        store,
		limiter:      limiter,
		defaultLimit: defaultLimit,
	}
}

// Auth resolves the caller's credential from the X-API-Key header.
// Missing, unknown, and deactivated keys each get a distinct response.
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get("X-API-Key")
		if rawKey == "" {
			respondError(w, http.StatusUnauthorized, "missing API key")
			return
		}

		apiKey, err := m.store.GetAPIKeyByHash(r.Context(), database.HashKey(rawKey))
		if errors.Is(err, database.ErrNotFound) {
			log.WithField("key_prefix", keyPrefix(rawKey)).Warn("invalid API key attempt")
			respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if err != nil {
			log.WithError(err).Error("API key lookup failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if !apiKey.IsActive {
			log.WithField("key_prefix", apiKey.KeyPrefix).Warn("inactive API key used")
			respondError(w, http.StatusForbidden, "API key is inactive")
			return
		}

		// Stamp last-used off the critical path
		keyID := apiKey.ID
		go func() {
			if err := m.store.TouchAPIKeyLastUsed(context.Background(), keyID); err != nil {
				log.WithError(err).Warn("failed to update API key last_used_at")
			}
		}()

		next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), apiKey)))
	})
}

// RateLimit enforces the per-minute budget keyed by credential ID.
// Fails open when the counter store is unavailable.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, ok := apiKeyFromContext(r.Context())
		if !ok || m.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := apiKey.RateLimitPerMinute
		if limit <= 0 {
			limit = m.defaultLimit
		}

		exceeded, remaining, err := m.limiter.CheckRateLimit(r.Context(), apiKey.ID.String(), limit)
		if err != nil {
			log.WithError(err).Warn("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if exceeded {
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORS handles cross-origin requests.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func keyPrefix(rawKey string) string {
	if len(rawKey) > 8 {
		return rawKey[:8]
	}
	return rawKey
}
