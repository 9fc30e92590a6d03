// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	GRPCPort         string
	FrontendURL      string
	DBPath           string
	ExportDir        string
	CatalogPath      string
	SessionTTL       time.Duration
	ArchiveRetention time.Duration

	DefaultAttemptLimit     int
	DefaultDetailsThreshold float64

	Models          ModelConfig
	ConversationLog ConversationLogConfig
	RateLimit       RateLimitConfig
}

// ModelConfig selects the generation providers and their credentials.
type ModelConfig struct {
	TextProvider  string
	ImageProvider string

	GeminiAPIKey        string
	GeminiPromptModel   string
	GeminiDescribeModel string
	GeminiDetailsModel  string

	AnthropicAPIKey string
	AnthropicModel  string

	HFToken      string
	HFImageModel string

	OpenAIAPIKey     string
	OpenAIImageModel string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled      bool
	Dir          string
	QueueSize    int
	MaxOpenFiles int
}

// RateLimitConfig bounds practice requests per learner.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		GRPCPort:         getEnv("GRPC_PORT", "9090"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/viso.db"),
		ExportDir:        getEnv("EXPORT_DIR", "./data/exports"),
		CatalogPath:      getEnv("CATALOG_PATH", ""),
		SessionTTL:       time.Duration(getEnvInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
		ArchiveRetention: time.Duration(getEnvInt("ARCHIVE_RETENTION_DAYS", 0)) * 24 * time.Hour,

		DefaultAttemptLimit:     getEnvInt("DEFAULT_ATTEMPT_LIMIT", 3),
		DefaultDetailsThreshold: getEnvFloat("DEFAULT_DETAILS_THRESHOLD", 0.7),

		Models: ModelConfig{
			TextProvider:        strings.ToLower(getEnv("TEXT_PROVIDER", "gemini")),
			ImageProvider:       strings.ToLower(getEnv("IMAGE_PROVIDER", "huggingface")),
			GeminiAPIKey:        getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
			GeminiPromptModel:   getEnv("GEMINI_PROMPT_MODEL", "gemini-2.0-flash"),
			GeminiDescribeModel: getEnv("GEMINI_DESCRIBE_MODEL", "gemini-2.0-flash"),
			GeminiDetailsModel:  getEnv("GEMINI_DETAILS_MODEL", "gemini-2.0-flash"),
			AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:      getEnv("ANTHROPIC_MODEL", ""),
			HFToken:             getEnv("HF_TOKEN", ""),
			HFImageModel:        getEnv("HF_IMAGE_MODEL", ""),
			OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
			OpenAIImageModel:    getEnv("OPENAI_IMAGE_MODEL", ""),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:      getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:          getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize:    queueSize,
			MaxOpenFiles: getEnvInt("CONVERSATION_LOG_MAX_OPEN_FILES", 64),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ExportDir == "" {
		return fmt.Errorf("EXPORT_DIR cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be > 0")
	}
	if c.DefaultAttemptLimit <= 0 {
		return fmt.Errorf("DEFAULT_ATTEMPT_LIMIT must be > 0")
	}
	if c.DefaultDetailsThreshold <= 0 {
		return fmt.Errorf("DEFAULT_DETAILS_THRESHOLD must be > 0")
	}
	switch c.Models.TextProvider {
	case "gemini", "anthropic":
	default:
		return fmt.Errorf("TEXT_PROVIDER must be gemini or anthropic, got %q", c.Models.TextProvider)
	}
	switch c.Models.ImageProvider {
	case "huggingface", "openai":
	default:
		return fmt.Errorf("IMAGE_PROVIDER must be huggingface or openai, got %q", c.Models.ImageProvider)
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be >= 0")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be > 0")
	}
	return nil
}

// MissingCredentials lists the API keys the selected providers need but
// that are not set. The server still starts; generation calls will fail.
func (c *Config) MissingCredentials() []string {
	var missing []string
	switch c.Models.TextProvider {
	case "gemini":
		if c.Models.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case "anthropic":
		if c.Models.AnthropicAPIKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	}
	switch c.Models.ImageProvider {
	case "huggingface":
		if c.Models.HFToken == "" {
			missing = append(missing, "HF_TOKEN")
		}
	case "openai":
		if c.Models.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	}
	return missing
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}
