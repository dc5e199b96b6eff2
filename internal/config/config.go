package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Storage
	StorageType string // "sqlite", "postgres", "redis" or "memory"
	SQLitePath  string
	PostgresURL string
	RedisAddr   string
	RedisPrefix string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	// Analysis service
	AnalysisURL      string
	AnalysisToken    string
	AnalysisTimeout  time.Duration
	AnalysisMinDelay time.Duration

	// Events
	KafkaBroker string
	KafkaTopic  string

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	timeout, err := getDuration("ANALYSIS_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	minDelay, err := getDuration("ANALYSIS_MIN_DELAY", 0)
	if err != nil {
		return nil, err
	}

	return &Config{
		StorageType:      getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:       getEnv("SQLITE_PATH", "./audit.db"),
		PostgresURL:      getEnv("POSTGRES_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPrefix:      getEnv("REDIS_PREFIX", "content-audit:"),
		APIPort:          getEnv("API_PORT", "8080"),
		APIHost:          getEnv("API_HOST", "localhost"),
		APIEndpoint:      getEnv("API_ENDPOINT", "http://localhost:8080"),
		AnalysisURL:      getEnv("ANALYSIS_API_URL", "http://localhost:5000"),
		AnalysisToken:    getEnv("ANALYSIS_API_TOKEN", ""),
		AnalysisTimeout:  timeout,
		AnalysisMinDelay: minDelay,
		KafkaBroker:      getEnv("KAFKA_BROKER", ""),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "content-audit.items"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "invalid duration " + value}
	}
	return d, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.StorageType {
	case "sqlite", "postgres", "redis", "memory":
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres', 'redis' or 'memory'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.StorageType == "redis" && c.RedisAddr == "" {
		return &ConfigError{Field: "REDIS_ADDR", Message: "Redis address is required when STORAGE_TYPE is 'redis'"}
	}
	if c.AnalysisURL == "" {
		return &ConfigError{Field: "ANALYSIS_API_URL", Message: "analysis service URL is required"}
	}
	if c.AnalysisTimeout <= 0 {
		return &ConfigError{Field: "ANALYSIS_TIMEOUT", Message: "must be positive"}
	}
	if c.AnalysisMinDelay < 0 {
		return &ConfigError{Field: "ANALYSIS_MIN_DELAY", Message: "must not be negative"}
	}
	if c.KafkaBroker != "" && c.KafkaTopic == "" {
		return &ConfigError{Field: "KAFKA_TOPIC", Message: "topic is required when KAFKA_BROKER is set"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
