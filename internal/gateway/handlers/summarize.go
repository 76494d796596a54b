package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/loschvladislav/ai-service/internal/gateway/providers"
)

const (
	summarizeNamespace = "summarize"
	minSummarizeText   = 10
	maxSummarizeText   = 50000
	defaultMaxLength   = 200
)

type SummarizeHandler struct {
	provider providers.Provider
	cache    ResponseCache
	store    Store
}

func NewSummarizeHandler(provider providers.Provider, cache ResponseCache, store Store) *SummarizeHandler {
	return &SummarizeHandler{
		provider: provider,
		cache:    cache,
		store:    store,
	}
}

type summarizeRequest struct {
	Text      string  `json:"text"`
	MaxLength *int    `json:"max_length"`
	Style     *string `json:"style"`
}

func (r *summarizeRequest) validate() (providers.SummarizeRequest, error) {
	n := utf8.RuneCountInString(r.Text)
	if n < minSummarizeText || n > maxSummarizeText {
		return providers.SummarizeRequest{}, fmt.Errorf("text must be between %d and %d characters", minSummarizeText, maxSummarizeText)
	}

	out := providers.SummarizeRequest{
		Text:      r.Text,
		MaxLength: defaultMaxLength,
		Style:     "concise",
	}
	if r.MaxLength != nil {
		if *r.MaxLength < 50 || *r.MaxLength > 1000 {
			return providers.SummarizeRequest{}, fmt.Errorf("max_length must be between 50 and 1000")
		}
		out.MaxLength = *r.MaxLength
	}
	if r.Style != nil {
		switch *r.Style {
		case "concise", "detailed", "bullet_points":
			out.Style = *r.Style
		default:
			return providers.SummarizeRequest{}, fmt.Errorf("style must be concise, detailed or bullet_points")
		}
	}
	return out, nil
}

func summarizeCacheFields(req providers.SummarizeRequest) map[string]any {
	return map[string]any{
		"text":       req.Text,
		"max_length": req.MaxLength,
		"style":      req.Style,
	}
}

// HandleSummarize handles POST /api/v1/summarize
func (h *SummarizeHandler) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, ok := apiKeyFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing API key")
		return
	}

	var body summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req, err := body.validate()
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	log.WithFields(log.Fields{
		"text_length": utf8.RuneCountInString(req.Text),
		"style":       req.Style,
		"api_key":     apiKey.KeyPrefix,
	}).Info("summarize request received")

	fields := summarizeCacheFields(req)
	if cached, hit := h.cache.Get(ctx, summarizeNamespace, fields); hit {
		var resp providers.SummarizeResponse
		if err := json.Unmarshal([]byte(cached), &resp); err != nil {
			log.WithError(err).Warn("discarding undecodable cache entry")
		} else {
			log.Info("returning cached summarize response")
			if err := recordUsage(ctx, h.store, apiKey, "/api/v1/summarize", 0, 0); err != nil {
				respondError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			respondJSON(w, http.StatusOK, resp)
			return
		}
	}

	resp, err := h.provider.Summarize(ctx, req)
	if err != nil {
		respondProviderError(w, err)
		return
	}

	if data, err := json.Marshal(resp); err == nil {
		h.cache.Set(ctx, summarizeNamespace, fields, string(data), 0)
	}

	if err := recordUsage(ctx, h.store, apiKey, "/api/v1/summarize", resp.Usage.PromptTokens, resp.Usage.CompletionTokens); err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
