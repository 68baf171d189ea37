package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client configuration.
type Config struct {
	// BackendURL is the base URL of the marketplace HTTP API.
	BackendURL string
	// WSURL is the websocket endpoint of the chat backend.
	WSURL string
	// Token is the bearer token used for both HTTP and websocket auth.
	Token string
	// CachePath is the sqlite file backing the local message store.
	// ":memory:" disables persistence across runs.
	CachePath string
	// SendTimeout is how long an optimistic entry waits for confirmation
	// before it is rolled back.
	SendTimeout time.Duration
	// ReconnectBackoff is the fixed delay between websocket reconnects.
	ReconnectBackoff time.Duration
}

// Load reads configuration from the environment, loading a .env file first
// if one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		BackendURL:       getEnv("BACKEND_URL", "http://localhost:8080"),
		WSURL:            getEnv("WS_URL", "ws://localhost:8080/ws"),
		Token:            os.Getenv("TOKEN"),
		CachePath:        getEnv("CACHE_PATH", "marketchat.db"),
		SendTimeout:      getEnvDuration("SEND_TIMEOUT", 10*time.Second),
		ReconnectBackoff: getEnvDuration("RECONNECT_BACKOFF", 5*time.Second),
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration returns an environment variable parsed as a duration or a
// default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
