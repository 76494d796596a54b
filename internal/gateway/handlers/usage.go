package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/loschvladislav/ai-service/internal/shared/database"
	"github.com/loschvladislav/ai-service/internal/shared/models"
)

type UsageHandler struct {
	store Store
}

func NewUsageHandler(store Store) *UsageHandler {
	return &UsageHandler{store: store}
}

type usageRecordResponse struct {
	ID               uuid.UUID `json:"id"`
	Endpoint         string    `json:"endpoint"`
	TokensUsed       int       `json:"tokens_used"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

type usageSummaryResponse struct {
	TotalRequests         int       `json:"total_requests"`
	TotalTokens           int       `json:"total_tokens"`
	TotalPromptTokens     int       `json:"total_prompt_tokens"`
	TotalCompletionTokens int       `json:"total_completion_tokens"`
	PeriodStart           time.Time `json:"period_start"`
	PeriodEnd             time.Time `json:"period_end"`
}

// HandleRecords handles GET /api/v1/usage/{id}
func (h *UsageHandler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}
	if !h.keyExists(w, r, id) {
		return
	}

	skip, ok := queryInt(w, r, "skip", 0, 0, 1<<30)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 100, 1, 1000)
	if !ok {
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "since must be an RFC 3339 timestamp")
			return
		}
		since = &parsed
	}

	records, err := h.store.ListUsage(r.Context(), id, skip, limit, since)
	if err != nil {
		log.WithError(err).Error("failed to list usage records")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]usageRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, usageRecordResponse{
			ID:               rec.ID,
			Endpoint:         rec.Endpoint,
			TokensUsed:       rec.TokensUsed,
			PromptTokens:     rec.PromptTokens,
			CompletionTokens: rec.CompletionTokens,
			CreatedAt:        rec.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleSummary handles GET /api/v1/usage/{id}/summary
func (h *UsageHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}
	if !h.keyExists(w, r, id) {
		return
	}

	days, ok := queryInt(w, r, "days", 30, 1, 365)
	if !ok {
		return
	}

	summary, err := h.store.UsageSummary(r.Context(), id, days)
	if err != nil {
		log.WithError(err).Error("failed to compute usage summary")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, toUsageSummaryResponse(summary))
}

func toUsageSummaryResponse(s *models.UsageSummary) usageSummaryResponse {
	return usageSummaryResponse{
		TotalRequests:         s.TotalRequests,
		TotalTokens:           s.TotalTokens,
		TotalPromptTokens:     s.TotalPromptTokens,
		TotalCompletionTokens: s.TotalCompletionTokens,
		PeriodStart:           s.PeriodStart,
		PeriodEnd:             s.PeriodEnd,
	}
}

func (h *UsageHandler) keyExists(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	_, err := h.store.GetAPIKeyByID(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "API key not found")
		return false
	}
	if err != nil {
		log.WithError(err).Error("failed to get API key")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	return true
}

// queryInt parses an integer query parameter, defaulting on absence.
// Non-integer or out-of-range values are rejected with a 422.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, min, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s must be an integer", name))
		return 0, false
	}
	if val < min || val > max {
		respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s must be between %d and %d", name, min, max))
		return 0, false
	}
	return val, true
}
