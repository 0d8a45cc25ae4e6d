// Package credentials resolves, caches, and rotates per-merchant gateway
// credentials backed by an external secret store.
package credentials

import (
	"context"
	"fmt"
	"time"
)

// Credentials is the decoded secret payload for one (merchant, gateway) pair.
type Credentials struct {
	MerchantID      string     `json:"merchantId"`
	Gateway         string     `json:"gateway"`
	APIKey          string     `json:"apiKey"`
	APISecret       string     `json:"apiSecret,omitempty"`
	WebhookSecret   string     `json:"webhookSecret,omitempty"`
	MerchantAccount string     `json:"merchantAccount,omitempty"` // Adyen merchant account code
	RotatedAt       time.Time  `json:"rotatedAt"`
	RotateAfter     *time.Time `json:"rotateAfter,omitempty"` // when set and past, a rotation task is due
}

// Validate checks that the credential payload is usable for its gateway.
func (c Credentials) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("credentials: missing apiKey for merchant %s gateway %s", c.MerchantID, c.Gateway)
	}
	if c.Gateway == "adyen" && c.MerchantAccount == "" {
		return fmt.Errorf("credentials: adyen requires merchantAccount for merchant %s", c.MerchantID)
	}
	return nil
}

// RotationDue reports whether the embedded rotation timestamp has passed.
func (c Credentials) RotationDue(now time.Time) bool {
	return c.RotateAfter != nil && now.After(*c.RotateAfter)
}

// SecretStore is the external secrets-manager contract.
type SecretStore interface {
	GetSecretJSON(ctx context.Context, key string) ([]byte, error)
	UpdateSecret(ctx context.Context, key string, payload []byte) error
}

// Cipher is the encryption-key service contract for envelope-encrypted
// secret payloads.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte, keyID string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte, keyID string) ([]byte, error)
}
