package handlers

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/loschvladislav/ai-service/internal/shared/database"
)

// DiagnosticsHandler exposes EXPLAIN ANALYZE plans for the hot queries.
// Needs the concrete database, not the Store interface.
type DiagnosticsHandler struct {
	db *database.DB
}

func NewDiagnosticsHandler(db *database.DB) *DiagnosticsHandler {
	return &DiagnosticsHandler{db: db}
}

type explainResponse struct {
	Query string   `json:"query"`
	Plan  []string `json:"plan"`
}

// HandleExplainUsageRecords handles GET /api/v1/diagnostics/explain/usage-records
func (h *DiagnosticsHandler) HandleExplainUsageRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}
	days, ok := queryInt(w, r, "days", 30, 1, 365)
	if !ok {
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	plan, err := h.db.ExplainAnalyze(r.Context(), `
		SELECT * FROM usage_records
		WHERE api_key_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 100
	`, id, since)
	if err != nil {
		log.WithError(err).Error("explain usage records failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, explainResponse{Query: "list_usage", Plan: plan})
}

// HandleExplainUsageSummary handles GET /api/v1/diagnostics/explain/usage-summary
func (h *DiagnosticsHandler) HandleExplainUsageSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}
	days, ok := queryInt(w, r, "days", 30, 1, 365)
	if !ok {
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	plan, err := h.db.ExplainAnalyze(r.Context(), `
		SELECT COUNT(id),
		       COALESCE(SUM(tokens_used), 0),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0)
		FROM usage_records
		WHERE api_key_id = $1 AND created_at >= $2
	`, id, since)
	if err != nil {
		log.WithError(err).Error("explain usage summary failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, explainResponse{Query: "usage_summary", Plan: plan})
}

// HandleExplainAPIKeyLookup handles GET /api/v1/diagnostics/explain/api-key-lookup
func (h *DiagnosticsHandler) HandleExplainAPIKeyLookup(w http.ResponseWriter, r *http.Request) {
	keyHash := r.URL.Query().Get("key_hash")
	if keyHash == "" {
		respondError(w, http.StatusUnprocessableEntity, "key_hash is required")
		return
	}

	plan, err := h.db.ExplainAnalyze(r.Context(), `SELECT * FROM api_keys WHERE key_hash = $1`, keyHash)
	if err != nil {
		log.WithError(err).Error("explain api key lookup failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, explainResponse{Query: "get_api_key_by_hash", Plan: plan})
}
