package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the maintenance analytics configuration
type Config struct {
	// Storage
	DatabasePath string `yaml:"database_path" json:"database_path"`

	// Text normalization
	ClusterThreshold float64 `yaml:"cluster_threshold" json:"cluster_threshold"`

	// Prediction horizons
	ForecastDays   int `yaml:"forecast_days" json:"forecast_days"`
	ForecastMonths int `yaml:"forecast_months" json:"forecast_months"`

	// Logging
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`

	// Metrics
	MetricsListener bool `yaml:"metrics_listener" json:"metrics_listener"`
	MetricsPort     int  `yaml:"metrics_port" json:"metrics_port"`
}

// Load reads configuration from a YAML file. A missing path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	c.DatabasePath = "data/maintenance.db"
	c.ClusterThreshold = 0.75
	c.ForecastDays = 90
	c.ForecastMonths = 3
	c.LogLevel = "info"
	c.MetricsListener = false
	c.MetricsPort = 9101
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.ClusterThreshold <= 0 || c.ClusterThreshold > 1 {
		return fmt.Errorf("cluster_threshold must be in (0,1], got %f", c.ClusterThreshold)
	}
	if c.ForecastDays < 1 {
		return fmt.Errorf("forecast_days must be at least 1, got %d", c.ForecastDays)
	}
	if c.ForecastMonths < 1 {
		return fmt.Errorf("forecast_months must be at least 1, got %d", c.ForecastMonths)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be a valid port, got %d", c.MetricsPort)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
