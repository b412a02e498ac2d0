package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"companion/internal/models"
)

// RequestTimeout bounds a single completion-provider round trip.
// Expiry surfaces as a transient failure, not a fatal one.
const RequestTimeout = 60 * time.Second

// Placeholder credentials shipped in example configs. Treated the same
// as a missing key.
var placeholderKeys = map[string]struct{}{
	"":                {},
	"your-api-key":    {},
	"sk-your-api-key": {},
	"changeme":        {},
	"YOUR_API_KEY":    {},
	"<your-api-key>":  {},
}

// CompletionClient calls an OpenAI-compatible chat completions API.
// The provider can be swapped at runtime (providers.json hot reload).
type CompletionClient struct {
	mu       sync.RWMutex
	provider models.Provider
	client   *http.Client
}

// NewCompletionClient creates a client for the given provider.
func NewCompletionClient(provider models.Provider) *CompletionClient {
	return &CompletionClient{
		provider: provider,
		client:   &http.Client{Timeout: RequestTimeout},
	}
}

// UpdateProvider swaps the active provider.
func (c *CompletionClient) UpdateProvider(provider models.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
	log.Printf("🔄 [COMPLETION] Provider updated: %s (%s)", provider.Name, provider.Model)
}

// Provider returns the currently active provider.
func (c *CompletionClient) Provider() models.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider
}

// Complete sends role-tagged messages to the provider and returns the
// assistant message content. Errors are classified per kind: missing
// credential, quota, malformed response, or transient.
func (c *CompletionClient) Complete(ctx context.Context, messages []map[string]interface{}) (string, error) {
	return c.complete(ctx, messages, nil)
}

// CompleteStructured is Complete with an attached JSON-schema response
// format for models that support structured output.
func (c *CompletionClient) CompleteStructured(ctx context.Context, messages []map[string]interface{}, schemaName string, schema map[string]interface{}) (string, error) {
	responseFormat := map[string]interface{}{
		"type": "json_schema",
		"json_schema": map[string]interface{}{
			"name":   schemaName,
			"strict": true,
			"schema": schema,
		},
	}
	return c.complete(ctx, messages, responseFormat)
}

func (c *CompletionClient) complete(ctx context.Context, messages []map[string]interface{}, responseFormat map[string]interface{}) (string, error) {
	provider := c.Provider()

	if _, placeholder := placeholderKeys[strings.TrimSpace(provider.APIKey)]; placeholder {
		return "", ErrMissingAPIKey
	}

	requestBody := map[string]interface{}{
		"model":       provider.Model,
		"messages":    messages,
		"stream":      false,
		"temperature": 0.3,
	}
	if responseFormat != nil {
		requestBody["response_format"] = responseFormat
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", provider.BaseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired {
			return "", fmt.Errorf("API status %d: %w", resp.StatusCode, ErrQuotaExceeded)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fmt.Errorf("API status %d: %w", resp.StatusCode, ErrMissingAPIKey)
		}
		log.Printf("⚠️ [COMPLETION] API error (status %d): %s", resp.StatusCode, truncateForLog(string(body)))
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncateForLog(string(body)))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse API response: %w", ErrMalformedResponse)
	}

	if len(apiResponse.Choices) == 0 || strings.TrimSpace(apiResponse.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion: %w", ErrMalformedResponse)
	}

	return apiResponse.Choices[0].Message.Content, nil
}

func truncateForLog(s string) string {
	const max = 300
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
