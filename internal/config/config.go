package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	AdminUser     string
	AdminPassword string

	DatabaseURL string

	ListenAddr string

	// DataPath is the discovery root. Each immediate subdirectory is a
	// site and holds that site's export files.
	DataPath string

	// PollInterval is how often the scheduler rescans DataPath.
	PollInterval time.Duration

	// Workers is the number of concurrent file processors.
	Workers int

	QueueSize       int
	MaxDeliveries   int
	RedeliveryDelay time.Duration

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string
}

// Load reads configuration from environment variables and applies
// defaults for anything unset or unparsable.
func Load() *Config {
	return &Config{
		AdminUser:       getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:   getenv("APP_ADMIN_PASSWORD", "changeme"),
		DatabaseURL:     os.Getenv("APP_DATABASE_URL"),
		ListenAddr:      getenv("APP_LISTEN_ADDR", ":8080"),
		DataPath:        getenv("APP_DATA_PATH", "/opt/data"),
		PollInterval:    getenvDuration("APP_POLL_INTERVAL", 30*time.Minute),
		Workers:         getenvInt("APP_WORKERS", 12),
		QueueSize:       getenvInt("APP_QUEUE_SIZE", 256),
		MaxDeliveries:   getenvInt("APP_MAX_DELIVERIES", 5),
		RedeliveryDelay: getenvDuration("APP_REDELIVERY_DELAY", 30*time.Second),
		LogLevel:        getenv("APP_LOG_LEVEL", "info"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
