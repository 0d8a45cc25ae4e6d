// Package storage provides the refund repository backends: in-memory for
// tests and local runs, MongoDB and PostgreSQL for production.
package storage

import (
	"fmt"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/refund"
)

// New builds the repository selected by cfg.Backend.
func New(cfg config.StorageConfig) (refund.Repository, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "mongodb":
		return NewMongoStore(cfg)
	case "postgres":
		return NewPostgresStore(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
