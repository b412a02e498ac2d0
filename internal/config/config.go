package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"companion/internal/models"
)

// Config holds all application configuration
type Config struct {
	Port    string
	DataDir string

	// Completion provider (env fallback when no providers file is used)
	ProvidersFile   string
	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderModel   string

	// Memory management
	MemoryPreset     string
	PriorityKeywords []string

	// Summarization trigger thresholds
	SummarizeInitialThreshold int
	SummarizeUpdateThreshold  int
	SummarizeInterval         time.Duration
	SummarizeMinMessages      int
	SummarizeDebounce         time.Duration
	SummarizationsPerHour     int

	// Consolidation schedule override (standard 5-field cron expression)
	ConsolidationCron string

	Environment string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:    getEnv("PORT", "3001"),
		DataDir: getEnv("DATA_DIR", "./data"),

		ProvidersFile:   getEnv("PROVIDERS_FILE", ""),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.openai.com/v1"),
		ProviderAPIKey:  getEnv("PROVIDER_API_KEY", ""),
		ProviderModel:   getEnv("PROVIDER_MODEL", "gpt-4o-mini"),

		MemoryPreset:     getEnv("MEMORY_PRESET", "standard"),
		PriorityKeywords: getListEnv("PRIORITY_KEYWORDS"),

		SummarizeInitialThreshold: getIntEnv("SUMMARIZE_INITIAL_THRESHOLD", 10),
		SummarizeUpdateThreshold:  getIntEnv("SUMMARIZE_UPDATE_THRESHOLD", 20),
		SummarizeInterval:         getDurationEnv("SUMMARIZE_INTERVAL", 30*time.Minute),
		SummarizeMinMessages:      getIntEnv("SUMMARIZE_MIN_MESSAGES", 10),
		SummarizeDebounce:         getDurationEnv("SUMMARIZE_DEBOUNCE", 5*time.Second),
		SummarizationsPerHour:     getIntEnv("SUMMARIZATIONS_PER_HOUR", 20),

		ConsolidationCron: getEnv("CONSOLIDATION_CRON", ""),

		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

// MemoryConfig resolves the configured preset and applies overrides.
func (c *Config) MemoryConfig() models.MemoryConfig {
	cfg := models.MemoryConfigPreset(c.MemoryPreset)
	if len(c.PriorityKeywords) > 0 {
		cfg = cfg.WithPriorityKeywords(c.PriorityKeywords)
	}
	return cfg
}

// LoadProviders loads providers configuration from JSON file
func LoadProviders(filePath string) (*models.ProvidersConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var config models.ProvidersConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse providers JSON: %w", err)
	}

	return &config, nil
}

// Provider resolves the active completion provider: the providers file
// wins when present, env vars otherwise.
func (c *Config) Provider() models.Provider {
	if c.ProvidersFile != "" {
		if providers, err := LoadProviders(c.ProvidersFile); err == nil {
			if p, ok := providers.Active(); ok {
				return p
			}
		}
	}
	return models.Provider{
		Name:    "default",
		BaseURL: c.ProviderBaseURL,
		APIKey:  c.ProviderAPIKey,
		Model:   c.ProviderModel,
		Enabled: true,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
