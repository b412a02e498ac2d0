package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"companion/internal/models"
	"companion/internal/services"
	"companion/internal/storage"
)

type testEnv struct {
	app          *fiber.App
	conversation *services.ConversationService
	memory       *services.MemoryService
	provider     *httptest.Server
	providerHits int
}

// newTestEnv wires the full handler stack against a fake completion
// provider that echoes a fixed reply.
func newTestEnv(t *testing.T, providerStatus int, providerReply string) *testEnv {
	t.Helper()

	env := &testEnv{}
	env.provider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.providerHits++
		io.Copy(io.Discard, r.Body)
		if providerStatus != http.StatusOK {
			w.WriteHeader(providerStatus)
			w.Write([]byte(`{"error": "denied"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": providerReply}},
			},
		})
	}))
	t.Cleanup(env.provider.Close)

	store, err := storage.NewFileBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	env.conversation = services.NewConversationService(store)
	env.memory = services.NewMemoryService(models.StandardMemoryConfig(), store)

	client := services.NewCompletionClient(models.Provider{
		Name:    "test",
		BaseURL: env.provider.URL,
		APIKey:  "sk-test",
		Model:   "test-model",
	})
	cache := services.NewSummaryCache()
	summarizer := services.NewSummarizerService(client, cache, 0, false)

	cfg := services.DefaultTriggerConfig()
	cfg.Debounce = time.Hour // keep background summarization out of handler tests
	policy := services.NewTriggerPolicy(cfg, env.conversation, summarizer, env.memory)
	t.Cleanup(policy.Stop)

	env.app = fiber.New()
	chat := NewChatHandler(env.conversation, client, policy, env.memory, nil)
	conversation := NewConversationHandler(env.conversation)
	memory := NewMemoryHandler(env.memory)
	health := NewHealthHandler(env.conversation)

	env.app.Get("/health", health.Handle)
	env.app.Post("/api/chat", chat.Handle)
	env.app.Get("/api/conversation", conversation.Get)
	env.app.Delete("/api/conversation", conversation.Clear)
	env.app.Get("/api/memory/stats", memory.Stats)
	env.app.Get("/api/memory/search", memory.Search)
	env.app.Delete("/api/memory", memory.Wipe)

	return env
}

func (env *testEnv) request(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("response not JSON: %v (%s)", err, raw)
		}
	}
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")

	resp, body := env.request(t, "GET", "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
	if _, ok := body["uptime"]; !ok {
		t.Error("health response missing uptime")
	}
}

func TestChatHappyPath(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "Nice to hear from you! How was the trip?")

	resp, body := env.request(t, "POST", "/api/chat", map[string]string{
		"message": "I'm back from the trip to the mountains",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, body)
	}

	user, ok := body["user"].(map[string]interface{})
	if !ok {
		t.Fatal("response missing user message")
	}
	if user["text"] != "I'm back from the trip to the mountains" {
		t.Errorf("wrong user text: %v", user["text"])
	}
	assistant, ok := body["assistant"].(map[string]interface{})
	if !ok {
		t.Fatal("response missing assistant message")
	}
	if assistant["text"] != "Nice to hear from you! How was the trip?" {
		t.Errorf("wrong assistant text: %v", assistant["text"])
	}

	if env.conversation.MessageCount() != 2 {
		t.Errorf("expected both turns stored, got %d", env.conversation.MessageCount())
	}
	if env.providerHits != 1 {
		t.Errorf("expected one provider call, got %d", env.providerHits)
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty message", map[string]string{"message": "   "}},
		{"missing field", map[string]string{"text": "wrong key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.request(t, "POST", "/api/chat", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}

	if env.conversation.MessageCount() != 0 {
		t.Errorf("rejected requests must not append messages, got %d", env.conversation.MessageCount())
	}
}

func TestChatQuotaError(t *testing.T) {
	env := newTestEnv(t, http.StatusTooManyRequests, "")

	resp, body := env.request(t, "POST", "/api/chat", map[string]string{"message": "hello there"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if body["error_type"] != "quota" {
		t.Errorf("expected quota error type, got %v", body["error_type"])
	}
}

func TestChatUnconfiguredProvider(t *testing.T) {
	env := newTestEnv(t, http.StatusUnauthorized, "")

	resp, body := env.request(t, "POST", "/api/chat", map[string]string{"message": "hello there"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if body["error_type"] != "config" {
		t.Errorf("expected config error type, got %v", body["error_type"])
	}
}

func TestChatTransientProviderError(t *testing.T) {
	env := newTestEnv(t, http.StatusInternalServerError, "")

	resp, body := env.request(t, "POST", "/api/chat", map[string]string{"message": "hello there"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if body["error_type"] != "transient" {
		t.Errorf("expected transient error type, got %v", body["error_type"])
	}
	// The user turn stays in the log; only the reply is missing.
	if env.conversation.MessageCount() != 1 {
		t.Errorf("expected the user turn to be kept, got %d messages", env.conversation.MessageCount())
	}
}

func TestConversationGet(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")
	env.conversation.Append("first", true)
	env.conversation.Append("second", false)
	env.conversation.ReplaceSummary("a summary of things")

	resp, body := env.request(t, "GET", "/api/conversation?limit=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	messages, ok := body["messages"].([]interface{})
	if !ok || len(messages) != 1 {
		t.Fatalf("expected 1 message in window, got %v", body["messages"])
	}
	if body["summary"] != "a summary of things" {
		t.Errorf("wrong summary: %v", body["summary"])
	}
	if body["total"] != float64(2) {
		t.Errorf("expected total 2, got %v", body["total"])
	}
}

func TestConversationGetRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")

	resp, _ := env.request(t, "GET", "/api/conversation?limit=-5", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for negative limit, got %d", resp.StatusCode)
	}
}

func TestConversationClear(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")
	env.conversation.Append("to be forgotten", true)
	env.conversation.ReplaceSummary("old summary")

	resp, body := env.request(t, "DELETE", "/api/conversation", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "cleared" {
		t.Errorf("expected cleared status, got %v", body["status"])
	}
	if env.conversation.MessageCount() != 0 || env.conversation.Summary() != "" {
		t.Error("clear must wipe messages and summary")
	}
}

func TestMemoryStats(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")
	env.memory.ProcessBatch([]models.Message{
		{Text: "I am excited about starting my new job at the hospital next month", IsUser: true, Timestamp: time.Now()},
	})

	resp, body := env.request(t, "GET", "/api/memory/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["total_segments"] != float64(1) {
		t.Errorf("expected 1 segment, got %v", body["total_segments"])
	}
	if _, ok := body["counts_by_tier"]; !ok {
		t.Error("stats missing per-tier counts")
	}
}

func TestMemorySearch(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")
	env.memory.ProcessBatch([]models.Message{
		{Text: "I am excited about starting my new job at the hospital next month", IsUser: true, Timestamp: time.Now()},
	})

	resp, body := env.request(t, "GET", "/api/memory/search?q="+strings.ReplaceAll("new job hospital", " ", "+"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	segments, ok := body["segments"].([]interface{})
	if !ok || len(segments) != 1 {
		t.Fatalf("expected 1 matching segment, got %v", body["segments"])
	}
}

func TestMemorySearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")

	resp, _ := env.request(t, "GET", "/api/memory/search", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without query, got %d", resp.StatusCode)
	}
}

func TestMemoryWipe(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, "hi")
	env.memory.ProcessBatch([]models.Message{
		{Text: "I am excited about starting my new job at the hospital next month", IsUser: true, Timestamp: time.Now()},
	})

	resp, body := env.request(t, "DELETE", "/api/memory", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "wiped" {
		t.Errorf("expected wiped status, got %v", body["status"])
	}
	if env.memory.Metrics().TotalSegments != 0 {
		t.Error("wipe must remove all segments")
	}
}
