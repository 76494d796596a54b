package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey represents a gateway credential. The raw key is never stored;
// only its SHA-256 hash and a short display prefix survive issuance.
type APIKey struct {
	ID                 uuid.UUID
	Name               string
	KeyPrefix          string
	KeyHash            string
	IsActive           bool
	RateLimitPerMinute int
	CreatedAt          time.Time
	LastUsedAt         *time.Time
}

// UsageRecord is an immutable accounting row tying a credential to the
// token consumption of one request.
type UsageRecord struct {
	ID               uuid.UUID
	APIKeyID         uuid.UUID
	Endpoint         string
	PromptTokens     int
	CompletionTokens int
	TokensUsed       int
	CreatedAt        time.Time
}

// UsageSummary aggregates usage rows over a time window.
type UsageSummary struct {
	TotalRequests         int
	TotalTokens           int
	TotalPromptTokens     int
	TotalCompletionTokens int
	PeriodStart           time.Time
	PeriodEnd             time.Time
}
