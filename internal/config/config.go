package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is process-wide startup configuration, read once in cmd/server and
// cmd/migrate. Node-level credentials (per-workflow API keys, SMTP
// passwords) are a separate concern — see internal/credentials — and never
// live here.
type Config struct {
	DatabaseURL string
	Port        string
	Environment string

	// Resource pools (§5): bounded concurrency per pool name. AIConcurrentLimit
	// sizes both the llm and ai pools, matching pool.New's signature.
	StandardPoolSize  int
	AIConcurrentLimit int

	DefaultNodeTimeout     time.Duration
	DefaultWorkflowTimeout time.Duration
	SleepPollInterval      time.Duration

	OpenAIAPIKey string

	MailgunDomain string
	MailgunAPIKey string
	SESRegion     string
	EmailDefaultProvider string

	WebhookBaseURL string

	// CredentialEncryptionKey is the raw AES key (16/24/32 bytes) used by
	// internal/credentials to decrypt stored integration secrets.
	CredentialEncryptionKey string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        getEnvOrDefault("PORT", "3000"),
		Environment: getEnvOrDefault("NODE_ENV", "development"),

		StandardPoolSize:  getEnvIntOrDefault("STANDARD_POOL_SIZE", 20),
		AIConcurrentLimit: getEnvIntOrDefault("AI_CONCURRENT_LIMIT", 4),

		DefaultNodeTimeout:     getEnvDurationOrDefault("NODE_TIMEOUT_SECONDS", 30*time.Second),
		DefaultWorkflowTimeout: getEnvDurationOrDefault("WORKFLOW_TIMEOUT_SECONDS", 30*time.Minute),
		SleepPollInterval:      getEnvDurationOrDefault("SLEEP_POLL_INTERVAL_SECONDS", 5*time.Second),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),

		MailgunDomain:        os.Getenv("MAILGUN_DOMAIN"),
		MailgunAPIKey:        os.Getenv("MAILGUN_API_KEY"),
		SESRegion:            getEnvOrDefault("SES_REGION", "us-east-1"),
		EmailDefaultProvider: getEnvOrDefault("EMAIL_DEFAULT_PROVIDER", "mailgun"),

		WebhookBaseURL: os.Getenv("WEBHOOK_BASE_URL"),

		CredentialEncryptionKey: os.Getenv("CREDENTIAL_ENCRYPTION_KEY"),
	}

	// Validate required config
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(secondsKey string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(secondsKey); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
