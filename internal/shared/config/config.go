package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the router
type Config struct {
	// Server
	Port string
	Env  string

	// Database (postgres://... or sqlite://path)
	DatabaseURL string

	// Redis (optional)
	RedisURL string

	// Provider API Keys
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Provider endpoints (empty means the public API)
	OpenAIBaseURL    string
	AnthropicBaseURL string

	// Tier to model mapping
	CheapModel    string
	BalancedModel string
	CapableModel  string

	// Routing
	RoutingCacheTTL    time.Duration
	RoutingCatalogFile string

	// Budget
	BudgetTimezone *time.Location

	// Rate Limiting
	DefaultRateLimit int

	// Caching
	CacheTTLSeconds int
	CacheEnabled    bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		AnthropicBaseURL:   getEnv("ANTHROPIC_BASE_URL", ""),
		CheapModel:         getEnv("TIER_CHEAP_MODEL", "claude-3-5-haiku-20241022"),
		BalancedModel:      getEnv("TIER_BALANCED_MODEL", "claude-sonnet-4-20250514"),
		CapableModel:       getEnv("TIER_CAPABLE_MODEL", "claude-opus-4-20250514"),
		RoutingCacheTTL:    time.Duration(getEnvInt("ROUTING_CACHE_TTL_SECONDS", 300)) * time.Second,
		RoutingCatalogFile: getEnv("ROUTING_CATALOG_FILE", ""),
		DefaultRateLimit:   getEnvInt("DEFAULT_RATE_LIMIT", 100),
		CacheTTLSeconds:    getEnvInt("CACHE_TTL_SECONDS", 3600),
		CacheEnabled:       getEnvBool("CACHE_ENABLED", true),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}

	loc, err := time.LoadLocation(getEnv("BUDGET_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid BUDGET_TIMEZONE: %w", err)
	}
	cfg.BudgetTimezone = loc

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// At least one provider API key is required
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("at least one provider API key is required (OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	}

	if cfg.RoutingCacheTTL <= 0 {
		return nil, fmt.Errorf("ROUTING_CACHE_TTL_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
