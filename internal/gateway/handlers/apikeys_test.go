package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/loschvladislav/ai-service/internal/shared/database"
)

func apiKeyRouter(h *APIKeyHandler) chi.Router {
	r := chi.NewRouter()
	r.Post("/api-keys", h.HandleCreate)
	r.Get("/api-keys", h.HandleList)
	r.Get("/api-keys/{id}", h.HandleGet)
	r.Patch("/api-keys/{id}", h.HandleUpdate)
	r.Delete("/api-keys/{id}", h.HandleDelete)
	return r
}

func TestAPIKeyCreate(t *testing.T) {
	store := newFakeStore()
	router := apiKeyRouter(NewAPIKeyHandler(store))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, "/api-keys", map[string]any{"name": "billing service"}, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID                 uuid.UUID `json:"id"`
		Name               string    `json:"name"`
		Key                string    `json:"key"`
		KeyPrefix          string    `json:"key_prefix"`
		IsActive           bool      `json:"is_active"`
		RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	}
	decodeBody(t, rec, &resp)

	if !strings.HasPrefix(resp.Key, "ai_") {
		t.Errorf("raw key %q lacks ai_ prefix", resp.Key)
	}
	if len(resp.Key) != 46 {
		t.Errorf("raw key length = %d, want 46", len(resp.Key))
	}
	if resp.KeyPrefix != resp.Key[:8] {
		t.Errorf("key_prefix = %q, want first 8 of %q", resp.KeyPrefix, resp.Key)
	}
	if !resp.IsActive || resp.RateLimitPerMinute != 10 {
		t.Errorf("defaults wrong: active=%v limit=%d", resp.IsActive, resp.RateLimitPerMinute)
	}

	// Only the hash is persisted, and it must match the raw key.
	stored, err := store.GetAPIKeyByID(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("created key not stored: %v", err)
	}
	if stored.KeyHash != database.HashKey(resp.Key) {
		t.Errorf("stored hash does not match raw key")
	}
	if stored.KeyHash == resp.Key {
		t.Errorf("raw key persisted")
	}
}

func TestAPIKeyCreateValidation(t *testing.T) {
	router := apiKeyRouter(NewAPIKeyHandler(newFakeStore()))

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty name", map[string]any{"name": ""}},
		{"name too long", map[string]any{"name": strings.Repeat("x", 256)}},
		{"rate limit zero", map[string]any{"name": "svc", "rate_limit_per_minute": 0}},
		{"rate limit too high", map[string]any{"name": "svc", "rate_limit_per_minute": 1001}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(t, "/api-keys", tt.body, nil))
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", rec.Code)
			}
		})
	}
}

func TestAPIKeyGetUnknown(t *testing.T) {
	router := apiKeyRouter(NewAPIKeyHandler(newFakeStore()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-keys/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-keys/not-a-uuid", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status for malformed id = %d, want 422", rec.Code)
	}
}

func TestAPIKeyDeactivate(t *testing.T) {
	key := testAPIKey()
	router := apiKeyRouter(NewAPIKeyHandler(newFakeStore(key)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api-keys/"+key.ID.String(), strings.NewReader(`{"is_active": false}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		IsActive bool   `json:"is_active"`
		Name     string `json:"name"`
	}
	decodeBody(t, rec, &resp)
	if resp.IsActive {
		t.Errorf("key still active after deactivation")
	}
	if resp.Name != key.Name {
		t.Errorf("unrelated field changed: name = %q", resp.Name)
	}
}

func TestAPIKeyDelete(t *testing.T) {
	key := testAPIKey()
	store := newFakeStore(key)
	router := apiKeyRouter(NewAPIKeyHandler(store))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api-keys/"+key.ID.String(), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-keys/"+key.ID.String(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleted key still retrievable")
	}
}

func TestAPIKeyListActiveOnly(t *testing.T) {
	active := testAPIKey()
	inactive := testAPIKey()
	inactive.IsActive = false
	inactive.KeyHash = database.HashKey("ai_other")
	router := apiKeyRouter(NewAPIKeyHandler(newFakeStore(active, inactive)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-keys?active_only=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var keys []struct {
		ID uuid.UUID `json:"id"`
	}
	decodeBody(t, rec, &keys)
	if len(keys) != 1 || keys[0].ID != active.ID {
		t.Errorf("active_only returned %+v", keys)
	}
}
