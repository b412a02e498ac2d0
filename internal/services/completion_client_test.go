package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"companion/internal/models"
)

func completionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func chatMessages(text string) []map[string]interface{} {
	return []map[string]interface{}{
		{"role": "user", "content": text},
	}
}

func TestCompletePlaceholderKey(t *testing.T) {
	placeholders := []string{"", "your-api-key", "sk-your-api-key", "changeme", "YOUR_API_KEY", "  "}

	for _, key := range placeholders {
		client := NewCompletionClient(models.Provider{BaseURL: "http://unused", APIKey: key, Model: "m"})
		_, err := client.Complete(context.Background(), chatMessages("hello"))
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("key %q: expected ErrMissingAPIKey, got %v", key, err)
		}
	}
}

func TestCompleteStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited by provider", http.StatusTooManyRequests, ErrQuotaExceeded},
		{"payment required", http.StatusPaymentRequired, ErrQuotaExceeded},
		{"unauthorized", http.StatusUnauthorized, ErrMissingAPIKey},
		{"forbidden", http.StatusForbidden, ErrMissingAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := completionServer(t, tt.status, `{"error": "denied"}`)
			client := NewCompletionClient(models.Provider{BaseURL: server.URL, APIKey: "sk-real", Model: "m"})

			_, err := client.Complete(context.Background(), chatMessages("hello"))
			if !errors.Is(err, tt.want) {
				t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
			}
		})
	}
}

func TestCompleteServerErrorIsTransient(t *testing.T) {
	server := completionServer(t, http.StatusInternalServerError, "boom")
	client := NewCompletionClient(models.Provider{BaseURL: server.URL, APIKey: "sk-real", Model: "m"})

	_, err := client.Complete(context.Background(), chatMessages("hello"))
	if err == nil {
		t.Fatal("expected error for 500")
	}
	for _, sentinel := range []error{ErrMissingAPIKey, ErrQuotaExceeded, ErrMalformedResponse, ErrRateLimited} {
		if errors.Is(err, sentinel) {
			t.Errorf("500 must be a plain transient error, matched %v", sentinel)
		}
	}
}

func TestCompleteMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>gateway error</html>"},
		{"no choices", `{"choices": []}`},
		{"empty content", `{"choices": [{"message": {"content": "  "}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := completionServer(t, http.StatusOK, tt.body)
			client := NewCompletionClient(models.Provider{BaseURL: server.URL, APIKey: "sk-real", Model: "m"})

			_, err := client.Complete(context.Background(), chatMessages("hello"))
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestCompleteReturnsContent(t *testing.T) {
	server := completionServer(t, http.StatusOK, `{"choices": [{"message": {"content": "hello back"}}]}`)
	client := NewCompletionClient(models.Provider{BaseURL: server.URL, APIKey: "sk-real", Model: "m"})

	content, err := client.Complete(context.Background(), chatMessages("hello"))
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if content != "hello back" {
		t.Errorf("expected %q, got %q", "hello back", content)
	}
}

func TestCompleteStructuredSendsSchema(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"choices": [{"message": {"content": "{}"}}]}`))
	}))
	t.Cleanup(server.Close)

	client := NewCompletionClient(models.Provider{BaseURL: server.URL, APIKey: "sk-real", Model: "m"})
	_, err := client.CompleteStructured(context.Background(), chatMessages("hi"), "test_schema", map[string]interface{}{"type": "object"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	format, ok := captured["response_format"].(map[string]interface{})
	if !ok {
		t.Fatal("request body missing response_format")
	}
	if format["type"] != "json_schema" {
		t.Errorf("expected json_schema response format, got %v", format["type"])
	}
	schema, ok := format["json_schema"].(map[string]interface{})
	if !ok {
		t.Fatal("response_format missing json_schema block")
	}
	if schema["name"] != "test_schema" {
		t.Errorf("expected schema name test_schema, got %v", schema["name"])
	}
	if schema["strict"] != true {
		t.Error("schema must be strict")
	}
}

func TestUpdateProviderSwapsAtomically(t *testing.T) {
	client := NewCompletionClient(models.Provider{Name: "first", Model: "a"})
	client.UpdateProvider(models.Provider{Name: "second", Model: "b"})

	got := client.Provider()
	if got.Name != "second" || got.Model != "b" {
		t.Errorf("provider not swapped: %+v", got)
	}
}
