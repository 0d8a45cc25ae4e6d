package credentials

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/metrics"
)

// envelope is the on-store shape of an encrypted secret payload.
type envelope struct {
	KeyID      string `json:"keyId"`
	Ciphertext string `json:"ciphertext"`
}

type cacheEntry struct {
	creds     Credentials
	fetchedAt time.Time
}

// Manager resolves credentials through a TTL cache in front of the secret
// store. The cache is shared mutable state across every concurrent refund;
// all access goes through the RWMutex.
type Manager struct {
	store   SecretStore
	cipher  Cipher
	cfg     config.CredentialsConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	cache map[string]cacheEntry

	now func() time.Time
}

// NewManager creates a credential manager. cipher and collector may be nil.
func NewManager(store SecretStore, cipher Cipher, cfg config.CredentialsConfig, logger zerolog.Logger, collector *metrics.Metrics) *Manager {
	if cfg.CacheTTL.Duration <= 0 {
		cfg.CacheTTL = config.Duration{Duration: 5 * time.Minute}
	}
	return &Manager{
		store:   store,
		cipher:  cipher,
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (m *Manager) secretKey(merchantID, gateway string) string {
	return fmt.Sprintf("%s/%s/%s", m.cfg.SecretPrefix, merchantID, gateway)
}

// Resolve returns validated credentials for the (merchant, gateway) pair,
// serving from cache within the TTL.
func (m *Manager) Resolve(ctx context.Context, merchantID, gateway string) (Credentials, error) {
	key := m.secretKey(merchantID, gateway)

	// Fast path under read lock.
	now := m.now()
	m.mu.RLock()
	if entry, ok := m.cache[key]; ok && now.Sub(entry.fetchedAt) < m.cfg.CacheTTL.Duration {
		m.mu.RUnlock()
		if m.metrics != nil {
			m.metrics.CredentialCacheHits.WithLabelValues(gateway).Inc()
		}
		return entry.creds, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check after acquiring the write lock; another caller may have
	// fetched while we waited.
	now = m.now()
	if entry, ok := m.cache[key]; ok && now.Sub(entry.fetchedAt) < m.cfg.CacheTTL.Duration {
		if m.metrics != nil {
			m.metrics.CredentialCacheHits.WithLabelValues(gateway).Inc()
		}
		return entry.creds, nil
	}

	if m.metrics != nil {
		m.metrics.CredentialCacheMisses.WithLabelValues(gateway).Inc()
	}

	creds, err := m.fetch(ctx, key, merchantID, gateway)
	if err != nil {
		return Credentials{}, err
	}

	m.cache[key] = cacheEntry{creds: creds, fetchedAt: now}
	return creds, nil
}

// fetch loads and decodes the secret payload. Callers hold the write lock.
func (m *Manager) fetch(ctx context.Context, key, merchantID, gateway string) (Credentials, error) {
	payload, err := m.store.GetSecretJSON(ctx, key)
	if err != nil {
		return Credentials{}, fmt.Errorf("credentials: %w: %v",
			errors.NewBusinessError(errors.ErrCodeCredentialsNotFound,
				fmt.Sprintf("no credentials for merchant %s gateway %s", merchantID, gateway),
				"provision gateway credentials in the secret store"), err)
	}

	payload, err = m.maybeDecrypt(ctx, payload)
	if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return Credentials{}, fmt.Errorf("credentials: decode payload for %s: %w", key, err)
	}
	if creds.MerchantID == "" {
		creds.MerchantID = merchantID
	}
	if creds.Gateway == "" {
		creds.Gateway = gateway
	}

	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v",
			errors.NewBusinessError(errors.ErrCodeCredentialsInvalid,
				fmt.Sprintf("invalid credentials for merchant %s gateway %s", merchantID, gateway),
				"rotate or re-provision the gateway credentials"), err)
	}

	return creds, nil
}

// maybeDecrypt unwraps an encryption envelope when one is present.
func (m *Manager) maybeDecrypt(ctx context.Context, payload []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Ciphertext == "" {
		return payload, nil
	}
	if m.cipher == nil {
		return nil, fmt.Errorf("credentials: encrypted payload but no cipher configured")
	}
	raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode ciphertext: %w", err)
	}
	plain, err := m.cipher.Decrypt(ctx, raw, env.KeyID)
	if err != nil {
		return nil, fmt.Errorf("credentials: decrypt payload: %w", err)
	}
	return plain, nil
}

// Invalidate drops the cached entry for one (merchant, gateway) pair.
func (m *Manager) Invalidate(merchantID, gateway string) {
	key := m.secretKey(merchantID, gateway)
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
}

// ClearCache drops every cached credential.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]cacheEntry)
	m.mu.Unlock()
}

// Rotate writes a new credential payload to the store and invalidates the
// cache entry so the next resolution sees the new material.
func (m *Manager) Rotate(ctx context.Context, merchantID, gateway string, creds Credentials) error {
	creds.MerchantID = merchantID
	creds.Gateway = gateway
	creds.RotatedAt = m.now()
	if err := creds.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credentials: encode payload: %w", err)
	}

	key := m.secretKey(merchantID, gateway)
	if err := m.store.UpdateSecret(ctx, key, payload); err != nil {
		return fmt.Errorf("credentials: update secret %s: %w", key, err)
	}

	m.Invalidate(merchantID, gateway)
	if m.metrics != nil {
		m.metrics.CredentialRotationsTotal.Inc()
	}
	m.logger.Info().
		Str("merchant_id", merchantID).
		Str("gateway", gateway).
		Msg("credentials.rotated")
	return nil
}

// StartRotationLoop periodically evicts cached credentials whose embedded
// rotation timestamp has passed, forcing a re-fetch of rotated material.
// It runs until ctx is canceled.
func (m *Manager) StartRotationLoop(ctx context.Context) {
	interval := m.cfg.RotationCheckInterval.Duration
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictRotationDue()
			}
		}
	}()
}

func (m *Manager) evictRotationDue() {
	now := m.now()
	m.mu.Lock()
	for key, entry := range m.cache {
		if entry.creds.RotationDue(now) {
			delete(m.cache, key)
			m.logger.Info().Str("secret_key", key).Msg("credentials.rotation_due")
		}
	}
	m.mu.Unlock()
}
