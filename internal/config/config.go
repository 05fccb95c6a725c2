package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds process-level settings read from the environment (or an
// optional cyclistic.env file). Job files describe what a run does; this
// describes how the process behaves while doing it.
type Config struct {
	Environment string        // development | production
	TrackingDB  string        // run-history SQLite path, "off" disables tracking
	HTTPTimeout time.Duration // per-request timeout for URL sources
}

// TrackingEnabled reports whether run history should be recorded.
func (c *Config) TrackingEnabled() bool {
	return c.TrackingDB != "" && !strings.EqualFold(c.TrackingDB, "off")
}

// Load reads process configuration from CYCLISTIC_* environment variables,
// falling back to a cyclistic.env file when present, then applies defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("cyclistic")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("CYCLISTIC_ENV"),
		TrackingDB:  v.GetString("CYCLISTIC_TRACKING_DB"),
		HTTPTimeout: v.GetDuration("CYCLISTIC_HTTP_TIMEOUT"),
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TrackingDB == "" {
		cfg.TrackingDB = "cyclistic.db"
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("CYCLISTIC_ENV must be development or production, got %q", cfg.Environment)
	}
	if cfg.HTTPTimeout < 0 {
		return fmt.Errorf("CYCLISTIC_HTTP_TIMEOUT must be positive, got %s", cfg.HTTPTimeout)
	}
	return nil
}
