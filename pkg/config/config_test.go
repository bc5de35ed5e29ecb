package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/dataloom-ai/dataloom-engine/pkg/apperrors"
)

func validConfig() *Config {
	return &Config{
		Catalog:    CatalogConfig{Driver: "sqlserver"},
		Generation: GenerationConfig{MaxAttempts: 2, SampleValues: 10},
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MaxAttempts(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.MaxAttempts = 0

	err := cfg.Validate()
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidate_CatalogRequiresDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.Catalog.Host = "db.example.com"

	err := cfg.Validate()
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidate_BlobRequiresKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Blob.Endpoint = "blob.example.com"
	cfg.Blob.Bucket = "uploads"

	err := cfg.Validate()
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	cfg.Blob.AccessKey = "access"
	cfg.Blob.SecretKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Catalog.Driver = "oracle"

	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLLMConfig_IsAvailable(t *testing.T) {
	tests := []struct {
		name string
		cfg  LLMConfig
		want bool
	}{
		{name: "unconfigured", cfg: LLMConfig{Provider: "openai"}, want: false},
		{name: "openai complete", cfg: LLMConfig{Provider: "openai", Endpoint: "https://api.openai.com/v1", Model: "gpt-4o"}, want: true},
		{name: "openai missing model", cfg: LLMConfig{Provider: "openai", Endpoint: "https://api.openai.com/v1"}, want: false},
		{name: "anthropic complete", cfg: LLMConfig{Provider: "anthropic", APIKey: "k", Model: "claude-sonnet-4-20250514"}, want: true},
		{name: "anthropic missing key", cfg: LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-20250514"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IsAvailable(); got != tt.want {
				t.Errorf("IsAvailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCatalogConnectionString(t *testing.T) {
	cfg := CatalogConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "loader", Password: "pw", Database: "warehouse",
	}
	if got := cfg.ConnectionString(); !strings.HasPrefix(got, "postgres://loader:pw@db:5432/") {
		t.Errorf("unexpected postgres DSN: %q", got)
	}

	cfg.Driver = "sqlserver"
	cfg.Port = 1433
	got := cfg.ConnectionString()
	if !strings.Contains(got, "server=db") || !strings.Contains(got, "database=warehouse") {
		t.Errorf("unexpected sqlserver DSN: %q", got)
	}
}
