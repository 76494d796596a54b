package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/loschvladislav/ai-service/internal/gateway/providers"
	"github.com/loschvladislav/ai-service/internal/shared/models"
)

const (
	chatNamespace   = "chat"
	defaultModel    = "gpt-3.5-turbo"
	defaultMaxTok   = 1000
	defaultTemp     = float32(0.7)
	maxMessages     = 50
	maxContentRunes = 10000
)

type ChatHandler struct {
	provider providers.Provider
	cache    ResponseCache
	store    Store
}

func NewChatHandler(provider providers.Provider, cache ResponseCache, store Store) *ChatHandler {
	return &ChatHandler{
		provider: provider,
		cache:    cache,
		store:    store,
	}
}

type chatRequest struct {
	Messages    []providers.ChatMessage `json:"messages"`
	Model       *string                 `json:"model"`
	MaxTokens   *int                    `json:"max_tokens"`
	Temperature *float32                `json:"temperature"`
}

// validate applies defaults and range checks, returning the provider
// request.
func (r *chatRequest) validate() (providers.ChatRequest, error) {
	if len(r.Messages) == 0 {
		return providers.ChatRequest{}, fmt.Errorf("messages must contain at least 1 item")
	}
	if len(r.Messages) > maxMessages {
		return providers.ChatRequest{}, fmt.Errorf("messages must contain at most %d items", maxMessages)
	}
	for i, msg := range r.Messages {
		switch msg.Role {
		case "system", "user", "assistant":
		default:
			return providers.ChatRequest{}, fmt.Errorf("messages[%d].role must be system, user or assistant", i)
		}
		n := utf8.RuneCountInString(msg.Content)
		if n < 1 || n > maxContentRunes {
			return providers.ChatRequest{}, fmt.Errorf("messages[%d].content must be between 1 and %d characters", i, maxContentRunes)
		}
	}

	out := providers.ChatRequest{
		Messages:    r.Messages,
		Model:       defaultModel,
		MaxTokens:   defaultMaxTok,
		Temperature: defaultTemp,
	}
	if r.Model != nil && *r.Model != "" {
		out.Model = *r.Model
	}
	if r.MaxTokens != nil {
		if *r.MaxTokens < 1 || *r.MaxTokens > 4000 {
			return providers.ChatRequest{}, fmt.Errorf("max_tokens must be between 1 and 4000")
		}
		out.MaxTokens = *r.MaxTokens
	}
	if r.Temperature != nil {
		if *r.Temperature < 0 || *r.Temperature > 2 {
			return providers.ChatRequest{}, fmt.Errorf("temperature must be between 0 and 2")
		}
		out.Temperature = *r.Temperature
	}
	return out, nil
}

// chatCacheFields lists the semantically relevant request fields.
// Caller identity is deliberately excluded: identical inputs share one
// entry across callers.
func chatCacheFields(req providers.ChatRequest) map[string]any {
	return map[string]any{
		"messages":    req.Messages,
		"model":       req.Model,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
}

// HandleChat handles POST /api/v1/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, ok := apiKeyFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing API key")
		return
	}

	var body chatRequest
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
		"model":         req.Model,
		"message_count": len(req.Messages),
		"api_key":       apiKey.KeyPrefix,
	}).Info("chat request received")

	fields := chatCacheFields(req)
	if cached, hit := h.cache.Get(ctx, chatNamespace, fields); hit {
		var resp providers.ChatResponse
		if err := json.Unmarshal([]byte(cached), &resp); err != nil {
			log.WithError(err).Warn("discarding undecodable cache entry")
		} else {
			log.Info("returning cached chat response")
			// A cache hit still counts as a request; zero tokens consumed.
			if err := recordUsage(ctx, h.store, apiKey, "/api/v1/chat", 0, 0); err != nil {
				respondError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			respondJSON(w, http.StatusOK, resp)
			return
		}
	}

	resp, err := h.provider.Chat(ctx, req)
	if err != nil {
		respondProviderError(w, err)
		return
	}

	if data, err := json.Marshal(resp); err == nil {
		h.cache.Set(ctx, chatNamespace, fields, string(data), 0)
	}

	if err := recordUsage(ctx, h.store, apiKey, "/api/v1/chat", resp.Usage.PromptTokens, resp.Usage.CompletionTokens); err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// HandleChatStream handles POST /api/v1/chat/stream using Server-Sent
// Events. The cache is bypassed: the result is unknown until fully
// generated.
func (h *ChatHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, ok := apiKeyFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing API key")
		return
	}

	var body chatRequest
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
		"model":         req.Model,
		"message_count": len(req.Messages),
		"api_key":       apiKey.KeyPrefix,
	}).Info("streaming chat request received")

	// Token counts are unknown until the stream completes and are not
	// reconciled afterward, so streamed calls are undercounted.
	if err := recordUsage(ctx, h.store, apiKey, "/api/v1/chat/stream", 0, 0); err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	stream, err := h.provider.ChatStream(ctx, req)
	if err != nil {
		respondProviderError(w, err)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var fullText string
	for {
		token, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithError(err).Error("streaming chat failed mid-stream")
			writeSSE(w, map[string]any{"error": "stream interrupted"})
			flusher.Flush()
			return
		}

		fullText += token
		writeSSE(w, map[string]any{"token": token})
		flusher.Flush()
	}

	writeSSE(w, map[string]any{"done": true, "full_text": fullText})
	flusher.Flush()

	log.WithFields(log.Fields{
		"model":          req.Model,
		"content_length": utf8.RuneCountInString(fullText),
	}).Info("streaming chat response complete")
}

func writeSSE(w io.Writer, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("failed to marshal SSE payload")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// recordUsage appends the accounting row for a completed request.
// Failures propagate: usage recording is part of the contract, unlike
// caching.
func recordUsage(ctx context.Context, store Store, apiKey *models.APIKey, endpoint string, promptTokens, completionTokens int) error {
	rec := &models.UsageRecord{
		ID:               uuid.New(),
		APIKeyID:         apiKey.ID,
		Endpoint:         endpoint,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TokensUsed:       promptTokens + completionTokens,
	}
	if err := store.RecordUsage(ctx, rec); err != nil {
		log.WithError(err).Error("failed to record usage")
		return err
	}
	return nil
}
