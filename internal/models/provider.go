package models

// Provider represents an AI completion provider (OpenAI-compatible API).
type Provider struct {
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key,omitempty"` // Omit from responses for security
	Model        string `json:"model"`
	Enabled      bool   `json:"enabled"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ProvidersConfig is the on-disk providers document (providers.json).
type ProvidersConfig struct {
	Providers []Provider `json:"providers"`
}

// Active returns the first enabled provider, or false if none is usable.
func (c *ProvidersConfig) Active() (Provider, bool) {
	for _, p := range c.Providers {
		if p.Enabled {
			return p, true
		}
	}
	return Provider{}, false
}

// ParsedSummary is the strict parse result of a summarization response.
// Summary is mandatory; the structured fields are an additive
// enhancement some models return alongside the prose.
type ParsedSummary struct {
	Summary         string   `json:"summary"`
	KeyTopics       []string `json:"key_topics,omitempty"`
	ImportantFacts  []string `json:"important_facts,omitempty"`
	UserPreferences []string `json:"user_preferences,omitempty"`
	Goals           []string `json:"goals,omitempty"`
	RecurringThemes []string `json:"recurring_themes,omitempty"`
}
