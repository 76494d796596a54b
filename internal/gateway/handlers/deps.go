package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loschvladislav/ai-service/internal/shared/models"
)

// Store is the persistence surface the handlers need. *database.DB
// implements it; tests substitute fakes.
type Store interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, skip, limit int, activeOnly bool) ([]models.APIKey, error)
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
	TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	RecordUsage(ctx context.Context, rec *models.UsageRecord) error
	ListUsage(ctx context.Context, apiKeyID uuid.UUID, skip, limit int, since *time.Time) ([]models.UsageRecord, error)
	UsageSummary(ctx context.Context, apiKeyID uuid.UUID, days int) (*models.UsageSummary, error)
}

// ResponseCache is the cache surface the AI handlers need. Both methods
// are fail-open: Get degrades to a miss, Set to a no-op.
type ResponseCache interface {
	Get(ctx context.Context, namespace string, fields map[string]any) (string, bool)
	Set(ctx context.Context, namespace string, fields map[string]any, value string, ttl time.Duration)
}

// RateLimiter counts a request against a caller's per-minute budget.
// *redis.Client implements it; a nil limiter disables enforcement.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, callerID string, limit int) (exceeded bool, remaining int, err error)
}

type contextKey int

const apiKeyContextKey contextKey = iota

func withAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

func apiKeyFromContext(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return key, ok
}
