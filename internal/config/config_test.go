package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  address: ":7070"
gateways:
  fiserv:
    enabled: true
    api_base: "https://prod.api.fiservapps.com/ch/payments/v1"
    request_timeout: 20s
    circuit_breaker:
      failure_threshold: 2
      reset_timeout: 90s
    retry:
      max_attempts: 5
      initial_delay: 1s
      backoff_factor: 2.0
      jitter: 0.5
storage:
  backend: memory
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Gateways.Fiserv.CircuitBreaker.FailureThreshold != 2 {
		t.Errorf("fiserv threshold = %d", cfg.Gateways.Fiserv.CircuitBreaker.FailureThreshold)
	}
	if cfg.Gateways.Fiserv.CircuitBreaker.ResetTimeout.Duration != 90*time.Second {
		t.Errorf("fiserv reset timeout = %v", cfg.Gateways.Fiserv.CircuitBreaker.ResetTimeout.Duration)
	}
	if cfg.Gateways.Fiserv.Retry.MaxAttempts != 5 {
		t.Errorf("fiserv retry attempts = %d", cfg.Gateways.Fiserv.Retry.MaxAttempts)
	}
	// Untouched gateways keep defaults.
	if cfg.Gateways.Stripe.Retry.MaxAttempts != 3 {
		t.Errorf("stripe retry attempts = %d", cfg.Gateways.Stripe.Retry.MaxAttempts)
	}
}

func TestValidateRejectsBadGatewayWiring(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Gateways.Stripe.CircuitBreaker.FailureThreshold = 0 }},
		{"zero reset timeout", func(c *Config) { c.Gateways.Adyen.CircuitBreaker.ResetTimeout = Duration{} }},
		{"zero attempts", func(c *Config) { c.Gateways.Fiserv.Retry.MaxAttempts = 0 }},
		{"backoff below one", func(c *Config) { c.Gateways.Stripe.Retry.BackoffFactor = 0.5 }},
		{"jitter above one", func(c *Config) { c.Gateways.Stripe.Retry.Jitter = 1.5 }},
		{"zero request timeout", func(c *Config) { c.Gateways.Adyen.RequestTimeout = Duration{} }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "dynamo" }},
		{"mongo without uri", func(c *Config) { c.Storage.Backend = "mongodb"; c.Storage.MongoURI = "" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres"; c.Storage.PostgresDSN = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateSkipsDisabledGateways(t *testing.T) {
	cfg := defaultConfig()
	cfg.Gateways.Fiserv.Enabled = false
	cfg.Gateways.Fiserv.CircuitBreaker.FailureThreshold = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled gateway must not be validated: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REFUNDS_SERVER_ADDRESS", ":6060")
	t.Setenv("REFUNDS_BALANCE_URL", "http://balance.internal:8080")
	t.Setenv("REFUNDS_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":6060" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Collaborators.Balance.BaseURL != "http://balance.internal:8080" {
		t.Errorf("balance url = %q", cfg.Collaborators.Balance.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
credentials:
  cache_ttl: 90
  rotation_check_interval: 1h
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.CacheTTL.Duration != 90*time.Second {
		t.Errorf("bare number should parse as seconds, got %v", cfg.Credentials.CacheTTL.Duration)
	}
	if cfg.Credentials.RotationCheckInterval.Duration != time.Hour {
		t.Errorf("rotation interval = %v", cfg.Credentials.RotationCheckInterval.Duration)
	}
}
