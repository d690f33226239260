package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Audit   AuditConfig   `yaml:"audit"`
	Pricing PricingConfig `yaml:"pricing"`
	Output  OutputConfig  `yaml:"output"`
}

// AuditConfig represents audit pipeline settings
type AuditConfig struct {
	RetentionDays      int `yaml:"retention_days"`
	ConcurrencyLimit   int `yaml:"concurrency_limit"`
	MaxAttempts        int `yaml:"max_attempts"`
	RetryDelaySeconds  int `yaml:"retry_delay_seconds"`
	CredentialRenewMin int `yaml:"credential_renew_minutes"`
	TimeoutMinutes     int `yaml:"timeout_minutes"`
}

// PricingConfig holds injected storage rates. Rates are configuration,
// not derived from any pricing API.
type PricingConfig struct {
	CostPerGBMonth float64 `yaml:"cost_per_gb_month"`
	Currency       string  `yaml:"currency"`
}

// OutputConfig represents report and progress file locations
type OutputConfig struct {
	Directory string `yaml:"directory"`
	TopN      int    `yaml:"top_n"`
}

// Concurrency bounds. The remote API enforces its own undocumented rate
// limits; past the recommended ceiling requests start timing out in
// cascades rather than failing cleanly.
const (
	MinConcurrency         = 1
	MaxConcurrency         = 15
	RecommendedConcurrency = 10
)

// NewDefault returns a Config populated with default values
func NewDefault() *Config {
	return &Config{
		Audit: AuditConfig{
			RetentionDays:      90,
			ConcurrencyLimit:   5,
			MaxAttempts:        3,
			RetryDelaySeconds:  5,
			CredentialRenewMin: 5,
			TimeoutMinutes:     0, // disabled
		},
		Pricing: PricingConfig{
			CostPerGBMonth: 0.0184, // hot-tier object storage, USD
			Currency:       "USD",
		},
		Output: OutputConfig{
			Directory: "./blobaudit-reports",
			TopN:      5,
		},
	}
}

// Load reads a YAML configuration file, applying defaults for any
// fields the file leaves unset.
func Load(path string) (*Config, error) {
	cfg := NewDefault()

	expanded, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", expanded, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", expanded, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must be >= 0, got %d", c.Audit.RetentionDays)
	}
	if c.Audit.ConcurrencyLimit < MinConcurrency || c.Audit.ConcurrencyLimit > MaxConcurrency {
		return fmt.Errorf("audit.concurrency_limit must be between %d and %d, got %d",
			MinConcurrency, MaxConcurrency, c.Audit.ConcurrencyLimit)
	}
	if c.Audit.MaxAttempts < 1 {
		return fmt.Errorf("audit.max_attempts must be >= 1, got %d", c.Audit.MaxAttempts)
	}
	if c.Audit.RetryDelaySeconds < 0 {
		return fmt.Errorf("audit.retry_delay_seconds must be >= 0, got %d", c.Audit.RetryDelaySeconds)
	}
	if c.Audit.TimeoutMinutes < 0 {
		return fmt.Errorf("audit.timeout_minutes must be >= 0, got %d", c.Audit.TimeoutMinutes)
	}
	if c.Pricing.CostPerGBMonth < 0 {
		return fmt.Errorf("pricing.cost_per_gb_month must be >= 0, got %f", c.Pricing.CostPerGBMonth)
	}
	if c.Output.TopN < 1 {
		return fmt.Errorf("output.top_n must be >= 1, got %d", c.Output.TopN)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("error resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
