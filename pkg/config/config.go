// Package config holds the runtime configuration, loaded from the
// environment with sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the full runtime configuration.
type Config struct {
	// Port the HTTP API listens on.
	Port int

	// DataDir holds the per-session databases.
	DataDir string

	// Hostname used when composing session WebSocket URLs.
	Hostname string

	// AnthropicAPIKey authenticates LLM requests.
	AnthropicAPIKey string

	// DefaultModel is the model identifier used when a request does not
	// specify one.
	DefaultModel string

	// MaxTokens is the default completion cap.
	MaxTokens int

	// SandboxBaseURL is the sandbox service endpoint.
	SandboxBaseURL string

	// SandboxToken authenticates sandbox requests.
	SandboxToken string

	// GitHubAPIURL overrides the GitHub API base (tests, GHE).
	GitHubAPIURL string

	// GitHubTokenVar names the environment variable holding the export token.
	GitHubTokenVar string

	// CloudflareAccountIDVar and CloudflareAPITokenVar name the environment
	// variables holding the cloud deployment credentials.
	CloudflareAccountIDVar string
	CloudflareAPITokenVar  string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is "json" or "text".
	LogFormat string
}

// Load reads configuration from the environment. Call after godotenv has
// populated it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnvInt("PORT", 8080),
		DataDir:         getEnv("DATA_DIR", "./data"),
		Hostname:        getEnv("HOSTNAME", "localhost:8080"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		DefaultModel:    getEnv("DEFAULT_MODEL", "claude-sonnet-4-5"),
		MaxTokens:       getEnvInt("MAX_TOKENS", 8192),
		SandboxBaseURL:  getEnv("SANDBOX_BASE_URL", "http://localhost:8787"),
		SandboxToken:    os.Getenv("SANDBOX_TOKEN"),
		GitHubAPIURL:    os.Getenv("GITHUB_API_URL"),
		GitHubTokenVar:  getEnv("GITHUB_TOKEN_VAR", "GITHUB_TOKEN"),

		CloudflareAccountIDVar: getEnv("CLOUDFLARE_ACCOUNT_ID_VAR", "CLOUDFLARE_ACCOUNT_ID"),
		CloudflareAPITokenVar:  getEnv("CLOUDFLARE_API_TOKEN_VAR", "CLOUDFLARE_API_TOKEN"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.SandboxBaseURL == "" {
		return fmt.Errorf("SANDBOX_BASE_URL is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
