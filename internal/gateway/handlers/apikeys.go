package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/loschvladislav/ai-service/internal/shared/database"
	"github.com/loschvladislav/ai-service/internal/shared/models"
)

const defaultKeyRateLimit = 10

type APIKeyHandler struct {
	store Store
}

func NewAPIKeyHandler(store Store) *APIKeyHandler {
	return &APIKeyHandler{store: store}
}

type apiKeyResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	KeyPrefix          string     `json:"key_prefix"`
	IsActive           bool       `json:"is_active"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUsedAt         *time.Time `json:"last_used_at"`
}

// apiKeyCreatedResponse additionally carries the raw key, shown exactly
// once.
type apiKeyCreatedResponse struct {
	apiKeyResponse
	Key string `json:"key"`
}

func toAPIKeyResponse(key *models.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:                 key.ID,
		Name:               key.Name,
		KeyPrefix:          key.KeyPrefix,
		IsActive:           key.IsActive,
		RateLimitPerMinute: key.RateLimitPerMinute,
		CreatedAt:          key.CreatedAt,
		LastUsedAt:         key.LastUsedAt,
	}
}

// generateAPIKey returns a fresh raw credential: "ai_" plus 43 base64url
// characters of entropy.
func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ai_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

type apiKeyCreateRequest struct {
	Name               string `json:"name"`
	RateLimitPerMinute *int   `json:"rate_limit_per_minute"`
}

// HandleCreate handles POST /api/v1/api-keys
func (h *APIKeyHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body apiKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	nameLen := utf8.RuneCountInString(body.Name)
	if nameLen < 1 || nameLen > 255 {
		respondError(w, http.StatusUnprocessableEntity, "name must be between 1 and 255 characters")
		return
	}
	rateLimit := defaultKeyRateLimit
	if body.RateLimitPerMinute != nil {
		if *body.RateLimitPerMinute < 1 || *body.RateLimitPerMinute > 1000 {
			respondError(w, http.StatusUnprocessableEntity, "rate_limit_per_minute must be between 1 and 1000")
			return
		}
		rateLimit = *body.RateLimitPerMinute
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		log.WithError(err).Error("failed to generate API key")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	key := &models.APIKey{
		ID:                 uuid.New(),
		Name:               body.Name,
		KeyPrefix:          rawKey[:8],
		KeyHash:            database.HashKey(rawKey),
		IsActive:           true,
		RateLimitPerMinute: rateLimit,
	}

	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		log.WithError(err).Error("failed to create API key")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	log.WithFields(log.Fields{"name": key.Name, "key_prefix": key.KeyPrefix}).Info("API key created")

	respondJSON(w, http.StatusCreated, apiKeyCreatedResponse{
		apiKeyResponse: toAPIKeyResponse(key),
		Key:            rawKey,
	})
}

// HandleList handles GET /api/v1/api-keys
func (h *APIKeyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	skip, ok := queryInt(w, r, "skip", 0, 0, 1<<30)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 100, 1, 1000)
	if !ok {
		return
	}
	activeOnly := r.URL.Query().Get("active_only") == "true"

	keys, err := h.store.ListAPIKeys(r.Context(), skip, limit, activeOnly)
	if err != nil {
		log.WithError(err).Error("failed to list API keys")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]apiKeyResponse, 0, len(keys))
	for i := range keys {
		out = append(out, toAPIKeyResponse(&keys[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleGet handles GET /api/v1/api-keys/{id}
func (h *APIKeyHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	key, err := h.store.GetAPIKeyByID(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "API key not found")
		return
	}
	if err != nil {
		log.WithError(err).Error("failed to get API key")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, toAPIKeyResponse(key))
}

type apiKeyUpdateRequest struct {
	Name               *string `json:"name"`
	IsActive           *bool   `json:"is_active"`
	RateLimitPerMinute *int    `json:"rate_limit_per_minute"`
}

// HandleUpdate handles PATCH /api/v1/api-keys/{id}
func (h *APIKeyHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	var body apiKeyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	key, err := h.store.GetAPIKeyByID(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "API key not found")
		return
	}
	if err != nil {
		log.WithError(err).Error("failed to get API key")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if body.Name != nil {
		nameLen := utf8.RuneCountInString(*body.Name)
		if nameLen < 1 || nameLen > 255 {
			respondError(w, http.StatusUnprocessableEntity, "name must be between 1 and 255 characters")
			return
		}
		key.Name = *body.Name
	}
	if body.IsActive != nil {
		key.IsActive = *body.IsActive
	}
	if body.RateLimitPerMinute != nil {
		if *body.RateLimitPerMinute < 1 || *body.RateLimitPerMinute > 1000 {
			respondError(w, http.StatusUnprocessableEntity, "rate_limit_per_minute must be between 1 and 1000")
			return
		}
		key.RateLimitPerMinute = *body.RateLimitPerMinute
	}

	if err := h.store.UpdateAPIKey(r.Context(), key); err != nil {
		log.WithError(err).Error("failed to update API key")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	log.WithFields(log.Fields{"name": key.Name, "key_prefix": key.KeyPrefix}).Info("API key updated")
	respondJSON(w, http.StatusOK, toAPIKeyResponse(key))
}

// HandleDelete handles DELETE /api/v1/api-keys/{id}. Usage rows cascade.
func (h *APIKeyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteAPIKey(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "API key not found")
		return
	}
	if err != nil {
		log.WithError(err).Error("failed to delete API key")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	log.WithField("id", id).Info("API key deleted")
	w.WriteHeader(http.StatusNoContent)
}

func parseKeyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid key id")
		return uuid.Nil, false
	}
	return id, true
}
