// Package config loads the pipeline configuration from a YAML file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted after the file is read. Secrets never
// live in the YAML file.
const (
	EnvAPIKey      = "CALLSYNC_API_KEY"
	EnvDatabaseDSN = "CALLSYNC_DATABASE_DSN"
)

// API configures the voice-AI calls endpoint.
type API struct {
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"-"`
	PageLimit int    `yaml:"page_limit"`
}

// Storage configures the recordings bucket.
type Storage struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Database configures the relational table the rows are upserted into.
type Database struct {
	DSN       string `yaml:"-"`
	Table     string `yaml:"table"`
	BatchSize int    `yaml:"batch_size"`
}

// Upload configures the parallel recording upload stage.
type Upload struct {
	MaxRetries           int     `yaml:"max_retries"`
	BackoffBaseSeconds   float64 `yaml:"backoff_base_seconds"`
	MaxWorkers           int     `yaml:"max_workers"`
	SignedURLExpiryHours int     `yaml:"signed_url_expiry_hours"`
}

// BackoffBase returns the backoff base as a duration.
func (u Upload) BackoffBase() time.Duration {
	return time.Duration(u.BackoffBaseSeconds * float64(time.Second))
}

// SignedURLTTL returns the signed URL lifetime as a duration.
func (u Upload) SignedURLTTL() time.Duration {
	return time.Duration(u.SignedURLExpiryHours) * time.Hour
}

// Artifacts configures the side files written per run.
type Artifacts struct {
	FailedCSV  string `yaml:"failed_csv"`
	DatasetCSV string `yaml:"dataset_csv"`
}

// Config is the full process-wide configuration.
type Config struct {
	API       API       `yaml:"api"`
	Storage   Storage   `yaml:"storage"`
	Database  Database  `yaml:"database"`
	Upload    Upload    `yaml:"upload"`
	Artifacts Artifacts `yaml:"artifacts"`
}

// Default returns a Config populated with the stock defaults.
func Default() *Config {
	return &Config{
		API: API{
			BaseURL:   "https://api.vapi.ai/v2/call",
			PageLimit: 1000,
		},
		Storage: Storage{
			Bucket: "ai-call-recordings",
		},
		Database: Database{
			Table:     "ai_calls",
			BatchSize: 1000,
		},
		Upload: Upload{
			MaxRetries:           5,
			BackoffBaseSeconds:   3,
			MaxWorkers:           4,
			SignedURLExpiryHours: 24 * 7,
		},
		Artifacts: Artifacts{
			FailedCSV:  "failed_uploads.csv",
			DatasetCSV: "calls_with_recordings.csv",
		},
	}
}

// Load reads the YAML file at path (optional), layers it over the defaults,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		cfg.Database.DSN = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.PageLimit < 1 {
		return fmt.Errorf("api.page_limit must be >= 1, got %d", c.API.PageLimit)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Database.Table == "" {
		return fmt.Errorf("database.table is required")
	}
	if c.Database.BatchSize < 1 {
		return fmt.Errorf("database.batch_size must be >= 1, got %d", c.Database.BatchSize)
	}
	if c.Upload.MaxRetries < 1 {
		return fmt.Errorf("upload.max_retries must be >= 1, got %d", c.Upload.MaxRetries)
	}
	if c.Upload.BackoffBaseSeconds < 0 {
		return fmt.Errorf("upload.backoff_base_seconds must be >= 0, got %g", c.Upload.BackoffBaseSeconds)
	}
	if c.Upload.MaxWorkers < 1 {
		return fmt.Errorf("upload.max_workers must be >= 1, got %d", c.Upload.MaxWorkers)
	}
	if c.Upload.SignedURLExpiryHours < 1 {
		return fmt.Errorf("upload.signed_url_expiry_hours must be >= 1, got %d", c.Upload.SignedURLExpiryHours)
	}
	if c.Artifacts.FailedCSV == "" {
		return fmt.Errorf("artifacts.failed_csv is required")
	}
	return nil
}
