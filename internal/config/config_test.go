package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"STORAGE_TYPE", "ANALYSIS_TIMEOUT", "ANALYSIS_MIN_DELAY", "KAFKA_BROKER", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StorageType)
	assert.Equal(t, 2*time.Minute, cfg.AnalysisTimeout)
	assert.Equal(t, time.Duration(0), cfg.AnalysisMinDelay)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("ANALYSIS_TIMEOUT", "45s")
	t.Setenv("ANALYSIS_MIN_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.AnalysisTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.AnalysisMinDelay)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("ANALYSIS_TIMEOUT", "soon")

	_, err := Load()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "ANALYSIS_TIMEOUT", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StorageType:     "memory",
			AnalysisURL:     "http://analysis.test",
			AnalysisTimeout: time.Minute,
			KafkaTopic:      "items",
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown storage", func(c *Config) { c.StorageType = "mongo" }, "STORAGE_TYPE"},
		{"postgres without url", func(c *Config) { c.StorageType = "postgres" }, "POSTGRES_URL"},
		{"redis without addr", func(c *Config) { c.StorageType = "redis" }, "REDIS_ADDR"},
		{"no analysis url", func(c *Config) { c.AnalysisURL = "" }, "ANALYSIS_API_URL"},
		{"zero timeout", func(c *Config) { c.AnalysisTimeout = 0 }, "ANALYSIS_TIMEOUT"},
		{"negative delay", func(c *Config) { c.AnalysisMinDelay = -time.Second }, "ANALYSIS_MIN_DELAY"},
		{"broker without topic", func(c *Config) { c.KafkaBroker = "localhost:9092"; c.KafkaTopic = "" }, "KAFKA_TOPIC"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			var cfgErr *ConfigError
			require.True(t, errors.As(cfg.Validate(), &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
