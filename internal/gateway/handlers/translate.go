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
	translateNamespace = "translate"
	maxTranslateText   = 10000
	maxLanguageRunes   = 50
)

type TranslateHandler struct {
	provider providers.Provider
	cache    ResponseCache
	store    Store
}

func NewTranslateHandler(provider providers.Provider, cache ResponseCache, store Store) *TranslateHandler {
	return &TranslateHandler{
		provider: provider,
		cache:    cache,
		store:    store,
	}
}

type translateRequest struct {
	Text           string  `json:"text"`
	SourceLanguage *string `json:"source_language"`
	TargetLanguage string  `json:"target_language"`
}

func (r *translateRequest) validate() (providers.TranslateRequest, error) {
	n := utf8.RuneCountInString(r.Text)
	if n < 1 || n > maxTranslateText {
		return providers.TranslateRequest{}, fmt.Errorf("text must be between 1 and %d characters", maxTranslateText)
	}

	target := utf8.RuneCountInString(r.TargetLanguage)
	if target < 2 || target > maxLanguageRunes {
		return providers.TranslateRequest{}, fmt.Errorf("target_language must be between 2 and %d characters", maxLanguageRunes)
	}

	out := providers.TranslateRequest{
		Text:           r.Text,
		SourceLanguage: "auto",
		TargetLanguage: r.TargetLanguage,
	}
	if r.SourceLanguage != nil && *r.SourceLanguage != "" {
		if utf8.RuneCountInString(*r.SourceLanguage) > maxLanguageRunes {
			return providers.TranslateRequest{}, fmt.Errorf("source_language must be at most %d characters", maxLanguageRunes)
		}
		out.SourceLanguage = *r.SourceLanguage
	}
	return out, nil
}

func translateCacheFields(req providers.TranslateRequest) map[string]any {
	return map[string]any{
		"text":            req.Text,
		"source_language": req.SourceLanguage,
		"target_language": req.TargetLanguage,
	}
}

// HandleTranslate handles POST /api/v1/translate
func (h *TranslateHandler) HandleTranslate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, ok := apiKeyFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing API key")
		return
	}

	var body translateRequest
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
		"source":      req.SourceLanguage,
		"target":      req.TargetLanguage,
		"api_key":     apiKey.KeyPrefix,
	}).Info("translate request received")

	fields := translateCacheFields(req)
	if cached, hit := h.cache.Get(ctx, translateNamespace, fields); hit {
		var resp providers.TranslateResponse
		if err := json.Unmarshal([]byte(cached), &resp); err != nil {
			log.WithError(err).Warn("discarding undecodable cache entry")
		} else {
			log.Info("returning cached translate response")
			if err := recordUsage(ctx, h.store, apiKey, "/api/v1/translate", 0, 0); err != nil {
				respondError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			respondJSON(w, http.StatusOK, resp)
			return
		}
	}

	resp, err := h.provider.Translate(ctx, req)
	if err != nil {
		respondProviderError(w, err)
		return
	}

	if data, err := json.Marshal(resp); err == nil {
		h.cache.Set(ctx, translateNamespace, fields, string(data), 0)
	}

	if err := recordUsage(ctx, h.store, apiKey, "/api/v1/translate", resp.Usage.PromptTokens, resp.Usage.CompletionTokens); err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
