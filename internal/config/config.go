// Package config reads server configuration from the environment once at
// startup. Every value has a default suitable for local development.
package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// DBPath is the sqlite database file path.
	DBPath string
	// SessionKey seals API keys at rest. Must be 16, 24 or 32 bytes.
	SessionKey string
	// ForceDummyProvider disables the GitHub-backed data provider even for
	// users with a configured access token.
	ForceDummyProvider bool
	// AnthropicAPIKey and OpenAIAPIKey are server-level fallbacks used when
	// a user has no API key row for the provider.
	AnthropicAPIKey string
	OpenAIAPIKey    string
	// Workers is the background job worker count.
	Workers int
	// QueueSize bounds the background job backlog.
	QueueSize int
}

func Load() Config {
	cfg := Config{
		Addr:               getenv("PRPAL_ADDR", ":8080"),
		DBPath:             getenv("PRPAL_DB_PATH", "prpal.db"),
		SessionKey:         getenv("PRPAL_SESSION_KEY", "0123456789abcdef0123456789abcdef"),
		ForceDummyProvider: boolenv("PRPAL_FORCE_DUMMY_PROVIDER"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		Workers:            intenv("PRPAL_WORKERS", 2),
		QueueSize:          intenv("PRPAL_QUEUE_SIZE", 64),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolenv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func intenv(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
