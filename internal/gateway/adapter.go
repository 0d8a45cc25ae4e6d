package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/BrikPay/refunds-service/internal/credentials"
)

// Adapter translates standardized refund operations to one gateway's API.
// Each adapter owns its error-code mapping and amount-unit conversion.
type Adapter interface {
	Type() Type

	ProcessRefund(ctx context.Context, req RefundRequest, creds credentials.Credentials) (*RefundResponse, error)
	CheckRefundStatus(ctx context.Context, gatewayRefundID string, creds credentials.Credentials) (*RefundResponse, error)

	// Webhook handling is receiver-side: no circuit breaker, no retries.
	ValidateWebhookSignature(payload []byte, signature, secret string) bool
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}

// hmacSHA256Hex computes the hex-encoded HMAC-SHA256 of payload.
func hmacSHA256Hex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// validHMACHex compares an hex HMAC signature in constant time.
func validHMACHex(payload []byte, signature, secret string) bool {
	expected := hmacSHA256Hex(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
