package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/dataloom-ai/dataloom-engine/pkg/apperrors"
)

// Config holds all configuration for dataloom-engine.
// Configuration comes from YAML (config.yaml) or environment variables;
// environment variables override YAML values. Secrets (passwords, keys)
// must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	LLM        LLMConfig        `yaml:"llm"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Blob       BlobConfig       `yaml:"blob"`
	Generation GenerationConfig `yaml:"generation"`
	Deployment DeploymentConfig `yaml:"deployment"`
}

// LLMConfig holds text-generation settings. Entirely optional: when no
// endpoint or key is configured every inference stage runs on its
// deterministic fallback.
type LLMConfig struct {
	// Provider selects the client implementation: "openai" for any
	// OpenAI-compatible endpoint, "anthropic" for the Anthropic API.
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`
}

// IsAvailable returns true if a text-generation client can be built.
func (c *LLMConfig) IsAvailable() bool {
	if c.Provider == "anthropic" {
		return c.APIKey != "" && c.Model != ""
	}
	return c.Endpoint != "" && c.Model != ""
}

// CatalogConfig holds the destination relational catalog connection.
type CatalogConfig struct {
	Driver   string `yaml:"driver" env:"CATALOG_DRIVER" env-default:"sqlserver"`
	Host     string `yaml:"host" env:"CATALOG_HOST" env-default:""`
	Port     int    `yaml:"port" env:"CATALOG_PORT" env-default:"1433"`
	User     string `yaml:"user" env:"CATALOG_USER" env-default:""`
	Password string `yaml:"-" env:"CATALOG_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"CATALOG_DATABASE" env-default:""`
}

// IsConfigured returns true when a catalog connection is specified.
func (c *CatalogConfig) IsConfigured() bool {
	return c.Host != "" && c.Database != ""
}

// ConnectionString builds the driver DSN. Never log the result without
// sanitizing it first.
func (c *CatalogConfig) ConnectionString() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
			c.User, c.Password, c.Host, c.Port, c.Database)
	}
	return fmt.Sprintf("server=%s;port=%d;user id=%s;password=%s;database=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// BlobConfig holds the source CSV object store connection.
type BlobConfig struct {
	Endpoint  string `yaml:"endpoint" env:"BLOB_ENDPOINT" env-default:""`
	AccessKey string `yaml:"-" env:"BLOB_ACCESS_KEY"` // Secret - not in YAML
	SecretKey string `yaml:"-" env:"BLOB_SECRET_KEY"` // Secret - not in YAML
	Bucket    string `yaml:"bucket" env:"BLOB_BUCKET" env-default:""`
	UseSSL    bool   `yaml:"use_ssl" env:"BLOB_USE_SSL" env-default:"true"`
}

// IsConfigured returns true when an object store is specified.
func (c *BlobConfig) IsConfigured() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// GenerationConfig bounds one generation run.
type GenerationConfig struct {
	// MaxAttempts caps the regeneration loop. Small constant so the
	// loop always terminates with bounded external-service cost.
	MaxAttempts int `yaml:"max_attempts" env:"GENERATION_MAX_ATTEMPTS" env-default:"2"`

	// SampleValues is how many representative values each column
	// profile carries.
	SampleValues int `yaml:"sample_values" env:"GENERATION_SAMPLE_VALUES" env-default:"10"`

	// OutputDir is where the emitted script and manifest land.
	OutputDir string `yaml:"output_dir" env:"GENERATION_OUTPUT_DIR" env-default:"out"`
}

// DeploymentConfig holds the orchestration-service deployment target.
type DeploymentConfig struct {
	Endpoint     string `yaml:"endpoint" env:"DEPLOY_ENDPOINT" env-default:""`
	PollSeconds  int    `yaml:"poll_seconds" env:"DEPLOY_POLL_SECONDS" env-default:"10"`
	TimeoutMins  int    `yaml:"timeout_minutes" env:"DEPLOY_TIMEOUT_MINUTES" env-default:"30"`
	AutoDeploy   bool   `yaml:"auto_deploy" env:"DEPLOY_AUTO" env-default:"false"`
	FactoryToken string `yaml:"-" env:"DEPLOY_TOKEN"` // Secret - not in YAML
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces startup invariants. A missing text-generation
// service is never an error; the fallback paths carry those stages.
// Mandatory destination and storage settings must be complete if
// present at all.
func (c *Config) Validate() error {
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("%w: generation.max_attempts must be at least 1", apperrors.ErrConfiguration)
	}
	if c.Catalog.Host != "" && c.Catalog.Database == "" {
		return fmt.Errorf("%w: catalog.database is required when catalog.host is set", apperrors.ErrConfiguration)
	}
	if c.Catalog.Driver != "sqlserver" && c.Catalog.Driver != "postgres" {
		return fmt.Errorf("%w: catalog.driver must be sqlserver or postgres", apperrors.ErrConfiguration)
	}
	if c.Blob.Endpoint != "" && (c.Blob.AccessKey == "" || c.Blob.SecretKey == "") {
		return fmt.Errorf("%w: BLOB_ACCESS_KEY and BLOB_SECRET_KEY are required when blob.endpoint is set", apperrors.ErrConfiguration)
	}
	if c.Blob.Endpoint != "" && c.Blob.Bucket == "" {
		return fmt.Errorf("%w: blob.bucket is required when blob.endpoint is set", apperrors.ErrConfiguration)
	}
	return nil
}
