package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the image generation backend.
// It is built once at startup by LoadConfig and treated as immutable
// afterwards; components receive it by pointer and never mutate it.
type Config struct {
	// API Keys (each optional - a provider is only usable when its key is set)
	OpenAIAPIKey    string
	StabilityAPIKey string

	// Provider defaults
	DefaultProvider string // "openai" or "stability"
	DefaultModel    string // Provider model identifier (e.g., "dall-e-3")
	DefaultSize     string // Requested image size (e.g., "1024x1024")
	DefaultQuality  string // Provider quality knob ("standard", "hd", ...)
	DefaultStyle    string // Provider style knob ("vivid", "natural", ...)

	// Prompt configuration
	TemplatesPath   string // Optional YAML file with named prompt templates
	DefaultTemplate string // Template used when the caller names none

	// Cache configuration
	CacheDir      string        // Directory holding generated images
	CacheTTL      time.Duration // Retention window for unused entries
	CacheDisabled bool          // Skip cache lookups and inserts entirely

	// History database (SQLite)
	HistoryDBPath  string // Empty disables history recording
	MigrationsPath string // golang-migrate source, e.g. "file://history/migrations"

	// Processing configuration
	MaxConcurrent        int           // Worker pool size for batch generation
	MaxRetries           int           // Retry attempts for transient provider errors
	RetryDelay           time.Duration // Delay between retries
	ProviderTimeout      time.Duration // Per provider call; exceeded -> NetworkError
	AllowSelfSignedCerts bool
}

// Helper function to get environment variable with default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to parse integer environment variable with default value
func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. No key is strictly required: a provider without an API key simply
// fails its requests with a MissingApiKey error, and an empty HISTORY_DB_PATH
// disables history recording.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		StabilityAPIKey: os.Getenv("STABILITY_API_KEY"),

		DefaultProvider: getEnvOrDefault("IMAGE_PROVIDER", "openai"),
		DefaultModel:    os.Getenv("IMAGE_MODEL"), // Empty -> provider picks its default
		DefaultSize:     getEnvOrDefault("IMAGE_SIZE", "1024x1024"),
		DefaultQuality:  getEnvOrDefault("IMAGE_QUALITY", "standard"),
		DefaultStyle:    os.Getenv("IMAGE_STYLE"),

		TemplatesPath:   os.Getenv("PROMPT_TEMPLATES_PATH"),
		DefaultTemplate: getEnvOrDefault("PROMPT_TEMPLATE", "worship"),

		CacheDir:      getEnvOrDefault("IMAGE_CACHE_DIR", "./image-cache"),
		CacheDisabled: getEnvOrDefault("IMAGE_CACHE_DISABLED", "false") == "true",

		HistoryDBPath:  os.Getenv("HISTORY_DB_PATH"),
		MigrationsPath: getEnvOrDefault("HISTORY_MIGRATIONS_PATH", "file://history/migrations"),

		AllowSelfSignedCerts: getEnvOrDefault("ALLOW_SELF_SIGNED_CERTS", "false") == "true",
	}

	// Cache retention defaults to 30 days; entries untouched for longer are
	// evicted at index build time.
	cacheTTLDays := parseIntEnv("IMAGE_CACHE_TTL_DAYS", 30)
	if cacheTTLDays < 0 {
		return nil, fmt.Errorf("core: IMAGE_CACHE_TTL_DAYS must not be negative, got %d", cacheTTLDays)
	}
	cfg.CacheTTL = time.Duration(cacheTTLDays) * 24 * time.Hour

	// 3 concurrent generations balances throughput against provider rate limits
	cfg.MaxConcurrent = parseIntEnv("MAX_CONCURRENT", 3)
	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("core: MAX_CONCURRENT must be at least 1, got %d", cfg.MaxConcurrent)
	}

	cfg.MaxRetries = parseIntEnv("MAX_RETRIES", 2)
	cfg.RetryDelay = time.Duration(parseIntEnv("RETRY_DELAY", 1)) * time.Second

	// 60s accommodates slow diffusion backends while preventing silent hangs
	cfg.ProviderTimeout = time.Duration(parseIntEnv("PROVIDER_TIMEOUT", 60)) * time.Second
	if cfg.ProviderTimeout < 5*time.Second {
		return nil, fmt.Errorf("core: PROVIDER_TIMEOUT must be at least 5 seconds, got %s", cfg.ProviderTimeout)
	}

	return cfg, nil
}

// GetHTTPClient returns an HTTP client configured with TLS settings based on
// AllowSelfSignedCerts. This should be used for all requests to provider APIs
// so the TLS configuration is respected consistently.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg != nil && cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

// GetDefaultHTTPClient returns an HTTP client with a 30s timeout configured
// with the TLS settings from cfg.
func GetDefaultHTTPClient(cfg *Config) *http.Client {
	return GetHTTPClient(cfg, 30*time.Second)
}

// APIKeyFor returns the configured API key for the named provider, or an
// empty string if the provider is unknown or has no key configured.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "stability":
		return c.StabilityAPIKey
	default:
		return ""
	}
}
