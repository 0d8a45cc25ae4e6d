package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Gateways      GatewaysConfig      `yaml:"gateways"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Storage       StorageConfig       `yaml:"storage"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Refunds       RefundsConfig       `yaml:"refunds"`
}

// ServerConfig holds the admin/ops HTTP server configuration. The public
// refund API is served elsewhere; this process only exposes metrics and
// circuit breaker administration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminRateLimit     int      `yaml:"admin_rate_limit"`        // requests per minute, 0 disables
	AdminAPIKey        string   `yaml:"admin_api_key,omitempty"` // loaded from env, never from file
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"` // json | console
	Environment string `yaml:"environment"`
}

// GatewaysConfig holds per-gateway integration settings. Each supported
// gateway type gets its own resilience tuning; a flaky gateway gets a lower
// trip threshold and a longer cooldown than a reliable one.
type GatewaysConfig struct {
	Stripe GatewayConfig `yaml:"stripe"`
	Adyen  GatewayConfig `yaml:"adyen"`
	Fiserv GatewayConfig `yaml:"fiserv"`
}

// GatewayConfig configures one gateway integration.
type GatewayConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIBase        string        `yaml:"api_base"`
	RequestTimeout Duration      `yaml:"request_timeout"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig   `yaml:"retry"`
}

// BreakerConfig configures a single gateway circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	FailureTimeout   Duration `yaml:"failure_timeout"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
}

// RetryConfig configures the retry strategy for one gateway.
type RetryConfig struct {
	MaxAttempts   int      `yaml:"max_attempts"`
	InitialDelay  Duration `yaml:"initial_delay"`
	BackoffFactor float64  `yaml:"backoff_factor"`
	Jitter        float64  `yaml:"jitter"`
}

// CredentialsConfig controls the credential manager.
type CredentialsConfig struct {
	CacheTTL              Duration `yaml:"cache_ttl"`
	RotationCheckInterval Duration `yaml:"rotation_check_interval"`
	SecretPrefix          string   `yaml:"secret_prefix"`
}

// CollaboratorsConfig holds the RPC collaborator endpoints.
type CollaboratorsConfig struct {
	Balance  CollaboratorConfig `yaml:"balance"`
	Payment  CollaboratorConfig `yaml:"payment"`
	Approval CollaboratorConfig `yaml:"approval"`
}

// CollaboratorConfig configures one collaborator HTTP client.
type CollaboratorConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	APIKey  string   `yaml:"api_key,omitempty"` // loaded from env, never from file
}

// StorageConfig selects and configures the refund repository backend.
type StorageConfig struct {
	Backend          string             `yaml:"backend"` // memory | mongodb | postgres
	MongoURI         string             `yaml:"mongo_uri"`
	MongoDatabase    string             `yaml:"mongo_database"`
	PostgresDSN      string             `yaml:"postgres_dsn"`
	PostgresPool     PostgresPoolConfig `yaml:"postgres_pool"`
	ConnectTimeout   Duration           `yaml:"connect_timeout"`
	OperationTimeout Duration           `yaml:"operation_timeout"`
}

// PostgresPoolConfig tunes the shared connection pool.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default 25
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default 5m
}

// NotificationsConfig configures merchant webhook delivery for refund
// lifecycle events. An empty URL disables delivery.
type NotificationsConfig struct {
	URL           string   `yaml:"url"`
	Secret        string   `yaml:"secret,omitempty"` // loaded from env, never from file
	Timeout       Duration `yaml:"timeout"`
	MaxAttempts   int      `yaml:"max_attempts"`
	InitialDelay  Duration `yaml:"initial_delay"`
	MaxDelay      Duration `yaml:"max_delay"`
	BackoffFactor float64  `yaml:"backoff_factor"`
}

// RefundsConfig holds refund lifecycle tuning.
type RefundsConfig struct {
	// ApprovalThreshold is a fallback ceiling in smallest currency units;
	// amounts at or above it always go through approval even if the approval
	// oracle is unreachable.
	ApprovalThreshold int64 `yaml:"approval_threshold"`
}
