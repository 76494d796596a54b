package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/loschvladislav/ai-service/internal/gateway/providers"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

type healthResponse struct {
	Status string `json:"status"`
	Cache  bool   `json:"cache"`
}

// RespondHealth writes the liveness payload, reporting whether the
// response cache is active.
func RespondHealth(w http.ResponseWriter, cacheEnabled bool) {
	respondJSON(w, http.StatusOK, healthResponse{Status: "healthy", Cache: cacheEnabled})
}

// respondProviderError maps a classified upstream failure to the
// caller-visible status. Unknown failures log full detail but return an
// opaque message.
func respondProviderError(w http.ResponseWriter, err error) {
	var perr *providers.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case providers.KindAuth:
			log.WithError(perr.Err).Error("AI provider authentication failed")
			respondError(w, http.StatusInternalServerError, "AI service configuration error")
			return
		case providers.KindRateLimited:
			log.WithError(perr.Err).Warn("AI provider rate limit exceeded")
			respondError(w, http.StatusTooManyRequests, "AI service is busy, please try again later")
			return
		case providers.KindUnavailable:
			log.WithError(perr.Err).Error("failed to connect to AI provider")
			respondError(w, http.StatusServiceUnavailable, "AI service temporarily unavailable")
			return
		}
	}

	log.WithError(err).Error("unexpected AI provider error")
	respondError(w, http.StatusInternalServerError, "an unexpected error occurred")
}
