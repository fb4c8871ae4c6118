package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type SlackConfig struct {
	SigningSecret string
	BotToken      string
	BotUserID     string
}

// IsConfigured returns true if all required Slack configuration is present
func (c SlackConfig) IsConfigured() bool {
	return c.SigningSecret != "" &&
		c.BotToken != ""
	// Note: BotUserID is optional, it is resolved via auth.test at startup
}

type DiscordConfig struct {
	PublicKey     string
	BotToken      string
	ApplicationID string
	CommandName   string
}

// IsConfigured returns true if all required Discord configuration is present
func (c DiscordConfig) IsConfigured() bool {
	return c.PublicKey != "" &&
		c.BotToken != "" &&
		c.ApplicationID != ""
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// IsConfigured returns true if all required OpenAI configuration is present
func (c OpenAIConfig) IsConfigured() bool {
	return c.APIKey != ""
	// Note: BaseURL is optional, for OpenAI-compatible backends
}

type AnthropicConfig struct {
	APIKey string
}

// IsConfigured returns true if all required Anthropic configuration is present
func (c AnthropicConfig) IsConfigured() bool {
	return c.APIKey != ""
}

type CompletionConfig struct {
	Model         string
	MaxTokens     int
	SystemPrompt  string
	Timeout       time.Duration
	MaxAttempts   int
	MaxConcurrent int
}

// UsesAnthropicBackend reports whether the configured model is served
// by the Anthropic backend rather than the OpenAI-compatible one
func (c CompletionConfig) UsesAnthropicBackend() bool {
	return strings.HasPrefix(c.Model, "claude")
}

type DedupConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

type DispatchConfig struct {
	MaxAttempts           int
	FailureRepliesEnabled bool
}

type AppConfig struct {
	// Core configuration
	DatabaseURL          string // Optional: empty runs the in-memory dedup store
	DatabaseSchema       string
	Port                 string // Optional with default "8080"
	CORSAllowedOrigins   string // Optional with default "*"
	Environment          string
	StatusAuthToken      string
	ErrorAlertWebhookURL string
	ServerLogsURL        string

	// Platform and backend configurations (grouped)
	SlackConfig     SlackConfig
	DiscordConfig   DiscordConfig
	OpenAIConfig    OpenAIConfig
	AnthropicConfig AnthropicConfig

	// Pipeline configurations
	CompletionConfig CompletionConfig
	DedupConfig      DedupConfig
	DispatchConfig   DispatchConfig
}

func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️ Could not load .env file, continuing with system env vars")
	}

	config := &AppConfig{
		// Core configuration
		DatabaseURL:          os.Getenv("DB_URL"),
		DatabaseSchema:       getEnvWithDefault("DB_SCHEMA", "public"),
		Port:                 getEnvWithDefault("PORT", "8080"),
		CORSAllowedOrigins:   getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
		Environment:          getEnvWithDefault("ENVIRONMENT", "dev"),
		StatusAuthToken:      os.Getenv("STATUS_AUTH_TOKEN"),
		ErrorAlertWebhookURL: os.Getenv("ERROR_ALERT_WEBHOOK_URL"),
		ServerLogsURL:        os.Getenv("SERVER_LOGS_URL"),

		// Slack configuration (optional)
		SlackConfig: SlackConfig{
			SigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
			BotToken:      os.Getenv("SLACK_BOT_TOKEN"),
			BotUserID:     os.Getenv("SLACK_BOT_USER_ID"),
		},

		// Discord configuration (optional)
		DiscordConfig: DiscordConfig{
			PublicKey:     os.Getenv("DISCORD_PUBLIC_KEY"),
			BotToken:      os.Getenv("DISCORD_BOT_TOKEN"),
			ApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
			CommandName:   getEnvWithDefault("DISCORD_COMMAND_NAME", "ask"),
		},

		// OpenAI configuration (optional)
		OpenAIConfig: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},

		// Anthropic configuration (optional)
		AnthropicConfig: AnthropicConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
		},

		CompletionConfig: CompletionConfig{
			Model:        os.Getenv("COMPLETION_MODEL"),
			MaxTokens:    getEnvIntWithDefault("COMPLETION_MAX_TOKENS", 1024),
			SystemPrompt: os.Getenv("COMPLETION_SYSTEM_PROMPT"),
			// The default stays under the platform redelivery window
			// with margin for dispatch
			Timeout:       time.Duration(getEnvIntWithDefault("COMPLETION_TIMEOUT_SECONDS", 50)) * time.Second,
			MaxAttempts:   getEnvIntWithDefault("COMPLETION_MAX_ATTEMPTS", 3),
			MaxConcurrent: getEnvIntWithDefault("COMPLETION_MAX_CONCURRENT", 4),
		},

		DedupConfig: DedupConfig{
			Retention:     time.Duration(getEnvIntWithDefault("DEDUP_RETENTION_MINUTES", 60)) * time.Minute,
			SweepInterval: time.Duration(getEnvIntWithDefault("DEDUP_SWEEP_INTERVAL_MINUTES", 5)) * time.Minute,
		},

		DispatchConfig: DispatchConfig{
			MaxAttempts:           getEnvIntWithDefault("DISPATCH_MAX_ATTEMPTS", 3),
			FailureRepliesEnabled: getEnvBoolWithDefault("DISPATCH_FAILURE_REPLIES", true),
		},
	}

	// Log which platforms are configured
	if config.SlackConfig.IsConfigured() {
		log.Printf("✅ Slack platform configured")
	} else {
		log.Printf("⚠️ Slack platform not configured - Slack events will be disabled")
	}

	if config.DiscordConfig.IsConfigured() {
		log.Printf("✅ Discord platform configured")
	} else {
		log.Printf("⚠️ Discord platform not configured - Discord interactions will be disabled")
	}

	if !config.SlackConfig.IsConfigured() && !config.DiscordConfig.IsConfigured() {
		return nil, fmt.Errorf("at least one chat platform must be configured (Slack or Discord)")
	}

	if config.OpenAIConfig.IsConfigured() {
		log.Printf("✅ OpenAI backend configured")
	}
	if config.AnthropicConfig.IsConfigured() {
		log.Printf("✅ Anthropic backend configured")
	}
	if !config.OpenAIConfig.IsConfigured() && !config.AnthropicConfig.IsConfigured() {
		return nil, fmt.Errorf("at least one completion backend must be configured (OpenAI or Anthropic)")
	}

	if config.CompletionConfig.Model == "" {
		if config.OpenAIConfig.IsConfigured() {
			config.CompletionConfig.Model = "gpt-4o-mini"
		} else {
			config.CompletionConfig.Model = "claude-3-5-haiku-latest"
		}
		log.Printf("📋 COMPLETION_MODEL not set, defaulting to %s", config.CompletionConfig.Model)
	}

	if config.CompletionConfig.UsesAnthropicBackend() && !config.AnthropicConfig.IsConfigured() {
		return nil, fmt.Errorf("completion model %q requires the Anthropic backend to be configured", config.CompletionConfig.Model)
	}
	if !config.CompletionConfig.UsesAnthropicBackend() && !config.OpenAIConfig.IsConfigured() {
		return nil, fmt.Errorf("completion model %q requires the OpenAI backend to be configured", config.CompletionConfig.Model)
	}

	if config.DatabaseURL == "" {
		log.Printf("⚠️ DB_URL not set - dedup records will be kept in memory only")
	}

	return config, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		log.Printf("⚠️ Invalid value for %s: %q - using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("⚠️ Invalid value for %s: %q - using default %t", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
