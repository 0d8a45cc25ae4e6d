package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":9090",
			ReadTimeout:    Duration{Duration: 15 * time.Second},
			WriteTimeout:   Duration{Duration: 15 * time.Second},
			IdleTimeout:    Duration{Duration: 60 * time.Second},
			AdminRateLimit: 120,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Gateways: GatewaysConfig{
			Stripe: GatewayConfig{
				Enabled:        true,
				RequestTimeout: Duration{Duration: 10 * time.Second},
				CircuitBreaker: BreakerConfig{
					FailureThreshold: 5,
					FailureTimeout:   Duration{Duration: time.Minute},
					ResetTimeout:     Duration{Duration: 30 * time.Second},
				},
				Retry: RetryConfig{
					MaxAttempts:   3,
					InitialDelay:  Duration{Duration: 200 * time.Millisecond},
					BackoffFactor: 2.0,
					Jitter:        0.2,
				},
			},
			Adyen: GatewayConfig{
				Enabled:        true,
				APIBase:        "https://checkout-test.adyen.com/v70",
				RequestTimeout: Duration{Duration: 10 * time.Second},
				CircuitBreaker: BreakerConfig{
					FailureThreshold: 5,
					FailureTimeout:   Duration{Duration: time.Minute},
					ResetTimeout:     Duration{Duration: 30 * time.Second},
				},
				Retry: RetryConfig{
					MaxAttempts:   3,
					InitialDelay:  Duration{Duration: 200 * time.Millisecond},
					BackoffFactor: 2.0,
					Jitter:        0.2,
				},
			},
			// Fiserv has historically been the least reliable of the three:
			// trip earlier, cool down longer, and allow one extra attempt.
			Fiserv: GatewayConfig{
				Enabled:        true,
				APIBase:        "https://cert.api.fiservapps.com/ch/payments/v1",
				RequestTimeout: Duration{Duration: 15 * time.Second},
				CircuitBreaker: BreakerConfig{
					FailureThreshold: 3,
					FailureTimeout:   Duration{Duration: 2 * time.Minute},
					ResetTimeout:     Duration{Duration: time.Minute},
				},
				Retry: RetryConfig{
					MaxAttempts:   4,
					InitialDelay:  Duration{Duration: 500 * time.Millisecond},
					BackoffFactor: 2.0,
					Jitter:        0.3,
				},
			},
		},
		Credentials: CredentialsConfig{
			CacheTTL:              Duration{Duration: 5 * time.Minute},
			RotationCheckInterval: Duration{Duration: 15 * time.Minute},
			SecretPrefix:          "refunds/gateway-credentials",
		},
		Collaborators: CollaboratorsConfig{
			Balance:  CollaboratorConfig{Timeout: Duration{Duration: 5 * time.Second}},
			Payment:  CollaboratorConfig{Timeout: Duration{Duration: 5 * time.Second}},
			Approval: CollaboratorConfig{Timeout: Duration{Duration: 5 * time.Second}},
		},
		Storage: StorageConfig{
			Backend:          "memory",
			MongoDatabase:    "refunds",
			ConnectTimeout:   Duration{Duration: 10 * time.Second},
			OperationTimeout: Duration{Duration: 5 * time.Second},
		},
		Notifications: NotificationsConfig{
			Timeout:       Duration{Duration: 10 * time.Second},
			MaxAttempts:   5,
			InitialDelay:  Duration{Duration: time.Second},
			MaxDelay:      Duration{Duration: time.Minute},
			BackoffFactor: 2.0,
		},
		Refunds: RefundsConfig{
			ApprovalThreshold: 500_000, // 5,000.00 in minor units
		},
	}
}

// parseFile loads YAML configuration from disk on top of the defaults.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments override file settings.
// Secrets only ever arrive through the environment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REFUNDS_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("REFUNDS_ADMIN_API_KEY"); v != "" {
		c.Server.AdminAPIKey = v
	}
	if v := os.Getenv("REFUNDS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REFUNDS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("REFUNDS_ENVIRONMENT"); v != "" {
		c.Logging.Environment = v
	}
	if v := os.Getenv("REFUNDS_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("REFUNDS_MONGO_URI"); v != "" {
		c.Storage.MongoURI = v
	}
	if v := os.Getenv("REFUNDS_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("REFUNDS_NOTIFICATIONS_URL"); v != "" {
		c.Notifications.URL = v
	}
	if v := os.Getenv("REFUNDS_NOTIFICATIONS_SECRET"); v != "" {
		c.Notifications.Secret = v
	}
	if v := os.Getenv("REFUNDS_BALANCE_URL"); v != "" {
		c.Collaborators.Balance.BaseURL = v
	}
	if v := os.Getenv("REFUNDS_BALANCE_API_KEY"); v != "" {
		c.Collaborators.Balance.APIKey = v
	}
	if v := os.Getenv("REFUNDS_PAYMENT_URL"); v != "" {
		c.Collaborators.Payment.BaseURL = v
	}
	if v := os.Getenv("REFUNDS_PAYMENT_API_KEY"); v != "" {
		c.Collaborators.Payment.APIKey = v
	}
	if v := os.Getenv("REFUNDS_APPROVAL_URL"); v != "" {
		c.Collaborators.Approval.BaseURL = v
	}
	if v := os.Getenv("REFUNDS_APPROVAL_API_KEY"); v != "" {
		c.Collaborators.Approval.APIKey = v
	}
}
