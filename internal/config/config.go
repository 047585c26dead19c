package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AppConfig represents the complete application configuration.
type AppConfig struct {
	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Annotation provider configuration
	Provider ProviderConfig `json:"provider"`

	// Engine configuration
	Engine EngineConfig `json:"engine"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Threshold overrides applied on top of the documented defaults
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

// StorageConfig configures the dataset storage backend.
type StorageConfig struct {
	Type        string `json:"type" env:"FUTQ_STORAGE_TYPE"`  // "memory", "duckdb"
	DatabaseURL string `json:"database_url" env:"FUTQ_DATABASE_URL"` // DuckDB path or ":memory:"
}

// ProviderConfig configures the annotation provider boundary.
type ProviderConfig struct {
	Type          string  `json:"type" env:"FUTQ_PROVIDER_TYPE"` // "openai", "mock"
	APIKey        string  `json:"api_key" env:"FUTQ_OPENAI_API_KEY"`
	Model         string  `json:"model" env:"FUTQ_OPENAI_MODEL"`
	BatchSize     int     `json:"batch_size" env:"FUTQ_PROVIDER_BATCH_SIZE"`
	MaxRetries    int     `json:"max_retries" env:"FUTQ_PROVIDER_MAX_RETRIES"`
	RatePerSecond float64 `json:"rate_per_second" env:"FUTQ_PROVIDER_RATE"`
	ContextDays   int     `json:"context_days" env:"FUTQ_PROVIDER_CONTEXT_DAYS"`
}

// EngineConfig configures rule evaluation.
type EngineConfig struct {
	WorkerCount int  `json:"worker_count" env:"FUTQ_WORKER_COUNT"`
	Parallel    bool `json:"parallel" env:"FUTQ_PARALLEL"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `json:"level" env:"FUTQ_LOG_LEVEL"`   // debug, info, warn, error
	Format string `json:"format" env:"FUTQ_LOG_FORMAT"` // json, text
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Storage: StorageConfig{
			Type:        "memory",
			DatabaseURL: "futq.db",
		},
		Provider: ProviderConfig{
			Type:          "mock",
			Model:         "gpt-4o",
			BatchSize:     50,
			MaxRetries:    3,
			RatePerSecond: 5,
			ContextDays:   7,
		},
		Engine: EngineConfig{
			WorkerCount: 4,
			Parallel:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration with priority order: environment variables,
// then the configuration file, then defaults.
func LoadConfig(path string) (*AppConfig, error) {
	config := DefaultConfig()

	if path != "" {
		if err := loadFromFile(config, path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a JSON file. A missing file is not an
// error; defaults apply.
func loadFromFile(config *AppConfig, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv overrides configuration from FUTQ_* environment variables.
func loadFromEnv(config *AppConfig) {
	if val := os.Getenv("FUTQ_STORAGE_TYPE"); val != "" {
		config.Storage.Type = val
	}
	if val := os.Getenv("FUTQ_DATABASE_URL"); val != "" {
		config.Storage.DatabaseURL = val
	}
	if val := os.Getenv("FUTQ_PROVIDER_TYPE"); val != "" {
		config.Provider.Type = val
	}
	if val := os.Getenv("FUTQ_OPENAI_API_KEY"); val != "" {
		config.Provider.APIKey = val
	}
	if val := os.Getenv("FUTQ_OPENAI_MODEL"); val != "" {
		config.Provider.Model = val
	}
	if val := os.Getenv("FUTQ_PROVIDER_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Provider.BatchSize = n
		}
	}
	if val := os.Getenv("FUTQ_PROVIDER_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Provider.MaxRetries = n
		}
	}
	if val := os.Getenv("FUTQ_PROVIDER_RATE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			config.Provider.RatePerSecond = f
		}
	}
	if val := os.Getenv("FUTQ_WORKER_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Engine.WorkerCount = n
		}
	}
	if val := os.Getenv("FUTQ_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("FUTQ_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
}

// Validate checks the configuration for consistency and required fields.
func (c *AppConfig) Validate() error {
	var errs []string

	switch c.Storage.Type {
	case "memory", "duckdb":
	default:
		errs = append(errs, fmt.Sprintf("storage.type must be memory or duckdb, got %q", c.Storage.Type))
	}
	if c.Storage.Type == "duckdb" && c.Storage.DatabaseURL == "" {
		errs = append(errs, "storage.database_url is required for DuckDB storage")
	}

	switch c.Provider.Type {
	case "openai", "mock":
	default:
		errs = append(errs, fmt.Sprintf("provider.type must be openai or mock, got %q", c.Provider.Type))
	}
	if c.Provider.BatchSize <= 0 {
		errs = append(errs, "provider.batch_size must be greater than 0")
	}
	if c.Provider.MaxRetries < 0 {
		errs = append(errs, "provider.max_retries must not be negative")
	}
	if c.Provider.RatePerSecond <= 0 {
		errs = append(errs, "provider.rate_per_second must be greater than 0")
	}

	if c.Engine.WorkerCount <= 0 {
		errs = append(errs, "engine.worker_count must be greater than 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ApplyThresholds writes the config file's threshold overrides into a
// threshold store. Unknown names fail with ConfigKeyError so typos surface at
// startup instead of silently leaving a default in place.
func (c *AppConfig) ApplyThresholds(t *Thresholds) error {
	for name, value := range c.Thresholds {
		if err := t.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// String returns a string representation with sensitive data redacted.
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Provider.APIKey != "" {
		sanitized.Provider.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
