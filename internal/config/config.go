package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          int
	ServerURL     string
	SessionCookie string
	DefaultModel  string
	PollInterval  time.Duration
	QueueHistory  int
	HTTPTimeout   time.Duration
	LogLevel      string
	DatabaseURL   string
	NatsURL       string
	NatsToken     string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real env vars win over it.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:          envInt("RAGDESK_PORT", 8760),
		ServerURL:     envStr("RAGDESK_SERVER_URL", "http://localhost:5000"),
		SessionCookie: envStr("RAGDESK_COOKIE", ""),
		DefaultModel:  envStr("RAGDESK_MODEL", ""),
		PollInterval:  envDuration("RAGDESK_POLL_INTERVAL", 5*time.Second),
		QueueHistory:  envInt("RAGDESK_QUEUE_HISTORY", 0),
		HTTPTimeout:   envDuration("RAGDESK_HTTP_TIMEOUT", 300*time.Second),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		NatsURL:       envStr("NATS_URL", ""),
		NatsToken:     envStr("NATS_TOKEN", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("750ms", "5s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
