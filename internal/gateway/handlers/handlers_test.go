package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loschvladislav/ai-service/internal/gateway/cache"
	"github.com/loschvladislav/ai-service/internal/gateway/providers"
	"github.com/loschvladislav/ai-service/internal/shared/database"
	"github.com/loschvladislav/ai-service/internal/shared/models"
)

func testAPIKey() *models.APIKey {
	return &models.APIKey{
		ID:                 uuid.New(),
		Name:               "test key",
		KeyPrefix:          "ai_test1",
		KeyHash:            database.HashKey("ai_test1234567890"),
		IsActive:           true,
		RateLimitPerMinute: 10,
		CreatedAt:          time.Now().UTC(),
	}
}

// fakeStore is an in-memory Store. Error fields inject failures.
type fakeStore struct {
	mu        sync.Mutex
	keys      map[uuid.UUID]*models.APIKey
	usage     []models.UsageRecord
	recordErr error
	touches   int
}

func newFakeStore(keys ...*models.APIKey) *fakeStore {
	s := &fakeStore{keys: make(map[uuid.UUID]*models.APIKey)}
	for _, k := range keys {
		s.keys[k.ID] = k
	}
	return s
}

func (s *fakeStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key.CreatedAt = time.Now().UTC()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *fakeStore) GetAPIKeyByID(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *fakeStore) GetAPIKeyByHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.keys {
		if key.KeyHash == keyHash {
			cp := *key
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) ListAPIKeys(_ context.Context, skip, limit int, activeOnly bool) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.APIKey
	for _, key := range s.keys {
		if activeOnly && !key.IsActive {
			continue
		}
		out = append(out, *key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if skip >= len(out) {
		return nil, nil
	}
	out = out[skip:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) UpdateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return database.ErrNotFound
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.keys, id)
	kept := s.usage[:0]
	for _, rec := range s.usage {
		if rec.APIKeyID != id {
			kept = append(kept, rec)
		}
	}
	s.usage = kept
	return nil
}

func (s *fakeStore) TouchAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches++
	return nil
}

func (s *fakeStore) RecordUsage(_ context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	rec.CreatedAt = time.Now().UTC()
	s.usage = append(s.usage, *rec)
	return nil
}

func (s *fakeStore) ListUsage(_ context.Context, apiKeyID uuid.UUID, skip, limit int, since *time.Time) ([]models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UsageRecord
	for _, rec := range s.usage {
		if rec.APIKeyID != apiKeyID {
			continue
		}
		if since != nil && rec.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, rec)
	}
	if skip >= len(out) {
		return nil, nil
	}
	out = out[skip:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) UsageSummary(_ context.Context, apiKeyID uuid.UUID, days int) (*models.UsageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	sum := &models.UsageSummary{PeriodStart: now.AddDate(0, 0, -days), PeriodEnd: now}
	for _, rec := range s.usage {
		if rec.APIKeyID != apiKeyID || rec.CreatedAt.Before(sum.PeriodStart) {
			continue
		}
		sum.TotalRequests++
		sum.TotalTokens += rec.TokensUsed
		sum.TotalPromptTokens += rec.PromptTokens
		sum.TotalCompletionTokens += rec.CompletionTokens
	}
	return sum, nil
}

func (s *fakeStore) usageRecords() []models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.UsageRecord(nil), s.usage...)
}

// fakeCache is an in-memory ResponseCache keyed the same way as the real
// one.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, namespace string, fields map[string]any) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.entries[cache.Key(namespace, fields)]
	return val, ok
}

func (c *fakeCache) Set(_ context.Context, namespace string, fields map[string]any, value string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cache.Key(namespace, fields)] = value
}

func (c *fakeCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// stubStream yields the configured tokens, then finalErr or io.EOF.
type stubStream struct {
	tokens   []string
	finalErr error
	pos      int
	closed   bool
}

func (s *stubStream) Recv() (string, error) {
	if s.pos < len(s.tokens) {
		tok := s.tokens[s.pos]
		s.pos++
		return tok, nil
	}
	if s.finalErr != nil {
		return "", s.finalErr
	}
	return "", io.EOF
}

func (s *stubStream) Close() error {
	s.closed = true
	return nil
}

// stubProvider records the last request and returns canned responses.
type stubProvider struct {
	chatResp      *providers.ChatResponse
	summarizeResp *providers.SummarizeResponse
	translateResp *providers.TranslateResponse
	stream        *stubStream
	err           error

	calls         int
	lastChat      providers.ChatRequest
	lastSummarize providers.SummarizeRequest
	lastTranslate providers.TranslateRequest
}

func (p *stubProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.calls++
	p.lastChat = req
	if p.err != nil {
		return nil, p.err
	}
	return p.chatResp, nil
}

func (p *stubProvider) ChatStream(_ context.Context, req providers.ChatRequest) (providers.StreamReader, error) {
	p.calls++
	p.lastChat = req
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}

func (p *stubProvider) Summarize(_ context.Context, req providers.SummarizeRequest) (*providers.SummarizeResponse, error) {
	p.calls++
	p.lastSummarize = req
	if p.err != nil {
		return nil, p.err
	}
	return p.summarizeResp, nil
}

func (p *stubProvider) Translate(_ context.Context, req providers.TranslateRequest) (*providers.TranslateResponse, error) {
	p.calls++
	p.lastTranslate = req
	if p.err != nil {
		return nil, p.err
	}
	return p.translateResp, nil
}

// authedRequest builds a JSON POST carrying the credential in context,
// as the auth middleware would.
func authedRequest(t *testing.T, target string, body any, key *models.APIKey) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if raw, ok := body.(string); ok {
		buf.WriteString(raw)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encoding request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != nil {
		req = req.WithContext(withAPIKey(req.Context(), key))
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}
