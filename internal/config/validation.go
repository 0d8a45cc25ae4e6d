package config

import (
	"database/sql"
	"fmt"
	"time"
)

// ApplyPostgresPoolSettings tunes the connection pool, falling back to
// sane defaults for unset values.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}

// Validate fails fast on misconfiguration. Missing resilience wiring for an
// enabled gateway is fatal here rather than at the first refund.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("config: server.address is required")
	}

	for name, gw := range map[string]GatewayConfig{
		"stripe": c.Gateways.Stripe,
		"adyen":  c.Gateways.Adyen,
		"fiserv": c.Gateways.Fiserv,
	} {
		if !gw.Enabled {
			continue
		}
		if err := gw.validate(name); err != nil {
			return err
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "mongodb":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("config: storage.mongo_uri is required for the mongodb backend")
		}
		if c.Storage.MongoDatabase == "" {
			return fmt.Errorf("config: storage.mongo_database is required for the mongodb backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Credentials.CacheTTL.Duration <= 0 {
		return fmt.Errorf("config: credentials.cache_ttl must be positive")
	}

	return nil
}

func (g GatewayConfig) validate(name string) error {
	if g.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("config: gateways.%s.circuit_breaker.failure_threshold must be >= 1", name)
	}
	if g.CircuitBreaker.ResetTimeout.Duration <= 0 {
		return fmt.Errorf("config: gateways.%s.circuit_breaker.reset_timeout must be positive", name)
	}
	if g.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: gateways.%s.retry.max_attempts must be >= 1", name)
	}
	if g.Retry.BackoffFactor < 1 {
		return fmt.Errorf("config: gateways.%s.retry.backoff_factor must be >= 1", name)
	}
	if g.Retry.Jitter < 0 || g.Retry.Jitter > 1 {
		return fmt.Errorf("config: gateways.%s.retry.jitter must be in [0, 1]", name)
	}
	if g.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("config: gateways.%s.request_timeout must be positive", name)
	}
	return nil
}
