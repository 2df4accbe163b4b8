// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DBURL             string        `mapstructure:"DB_URL"`
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	WebhookSecret     string        `mapstructure:"WEBHOOK_SECRET"`
	GithubToken       string        `mapstructure:"GITHUB_TOKEN"`
	BackfillInterval  time.Duration `mapstructure:"BACKFILL_INTERVAL"`
	BackfillSinceDate string        `mapstructure:"BACKFILL_SINCE_DATE"`
	BackfillSince     time.Time     `mapstructure:"-"`
}

// BackfillEnabled reports whether the historical commit backfiller should run.
// Without a GitHub token the service is webhook-only.
func (c *Config) BackfillEnabled() bool {
	return c.GithubToken != ""
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("BACKFILL_INTERVAL", "15m")
	viper.SetDefault("BACKFILL_SINCE_DATE", "2023-01-01T00:00:00Z")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse BackfillSinceDate
	parsedTime, err := time.Parse(time.RFC3339, cfg.BackfillSinceDate)
	if err != nil {
		return nil, errors.New("BACKFILL_SINCE_DATE must be in RFC3339 format (e.g. 2023-01-01T00:00:00Z)")
	}
	cfg.BackfillSince = parsedTime

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET is a required configuration field")
	}

	return &cfg, nil
}
