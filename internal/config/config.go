package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the sync engine.
type Config struct {
	Env string

	// REST endpoints (history fetch, durability writes, token refresh).
	APIBaseURL string

	// Push channel endpoint.
	SocketURL string

	// Media normalization. Payloads that are local paths under UploadRoot
	// are rewritten to FileBaseURL + path when history is fetched.
	UploadRoot  string
	FileBaseURL string

	// Sticker provider URL prefix used by the kind resolver.
	StickerHost string

	// Reconnection policy for the push channel.
	ReconnectMaxRetries int
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration

	// How long an emit waits for a server acknowledgment before the
	// outbound entry is rolled back.
	AckTimeout time.Duration

	// Loopback listener for /metrics and /healthz.
	DebugAddr string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	return &Config{
		Env:                 getEnv("ENV", "development"),
		APIBaseURL:          getEnv("API_BASE_URL", "http://localhost:5000"),
		SocketURL:           getEnv("SOCKET_URL", "ws://localhost:5000/socket"),
		UploadRoot:          getEnv("UPLOAD_ROOT", "/uploads"),
		FileBaseURL:         getEnv("FILE_BASE_URL", "http://localhost:5000/uploads"),
		StickerHost:         getEnv("STICKER_HOST", "https://e-sticker.zadn.vn"),
		ReconnectMaxRetries: getInt("RECONNECT_MAX_RETRIES", 10),
		ReconnectBaseDelay:  getDuration("RECONNECT_BASE_DELAY", 500*time.Millisecond),
		ReconnectMaxDelay:   getDuration("RECONNECT_MAX_DELAY", 30*time.Second),
		AckTimeout:          getDuration("ACK_TIMEOUT", 10*time.Second),
		DebugAddr:           getEnv("DEBUG_ADDR", "127.0.0.1:9180"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
