package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/metrics"
)

// WebhookEmitter delivers refund events to a merchant-configured endpoint.
// Delivery runs in the background with exponential backoff; the refund
// lifecycle never waits on it. Payloads are signed with HMAC-SHA256 so the
// receiver can authenticate them.
type WebhookEmitter struct {
	cfg     config.NotificationsConfig
	client  *http.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewWebhookEmitter creates a webhook emitter. Returns nil when no URL is
// configured; MultiEmitter skips nil sinks.
func NewWebhookEmitter(cfg config.NotificationsConfig, logger zerolog.Logger, collector *metrics.Metrics) *WebhookEmitter {
	if cfg.URL == "" {
		return nil
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialDelay.Duration <= 0 {
		cfg.InitialDelay.Duration = time.Second
	}
	if cfg.MaxDelay.Duration <= 0 {
		cfg.MaxDelay.Duration = time.Minute
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}
	return &WebhookEmitter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: collector,
		now:     time.Now,
	}
}

// Emit serializes the event once and hands it to a background delivery
// goroutine. The payload, and so the signature, stays identical across
// retries so receivers can deduplicate.
func (e *WebhookEmitter) Emit(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", event.Type).Msg("webhook.serialize_failed")
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliverWithRetry(payload, event.Type, event.RefundID)
	}()
}

// Wait blocks until in-flight deliveries finish. Called on shutdown.
func (e *WebhookEmitter) Wait() {
	e.wg.Wait()
}

func (e *WebhookEmitter) deliverWithRetry(payload []byte, eventType, refundID string) {
	start := e.now()
	delay := e.cfg.InitialDelay.Duration
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err := e.send(payload)
		if err == nil {
			if e.metrics != nil {
				e.metrics.WebhookDeliveriesTotal.WithLabelValues(eventType, "success").Inc()
				e.metrics.WebhookDeliveryDuration.WithLabelValues(eventType).Observe(e.now().Sub(start).Seconds())
			}
			if attempt > 1 {
				e.logger.Info().
					Str("refund_id", refundID).
					Str("event_type", eventType).
					Int("attempt", attempt).
					Msg("webhook.delivered_after_retry")
			}
			return
		}

		lastErr = err
		e.logger.Warn().
			Err(err).
			Str("refund_id", refundID).
			Str("event_type", eventType).
			Int("attempt", attempt).
			Int("max_attempts", e.cfg.MaxAttempts).
			Dur("next_retry", delay).
			Msg("webhook.delivery_attempt_failed")

		if attempt < e.cfg.MaxAttempts {
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * e.cfg.BackoffFactor)
			if delay > e.cfg.MaxDelay.Duration {
				delay = e.cfg.MaxDelay.Duration
			}
		}
	}

	if e.metrics != nil {
		e.metrics.WebhookDeliveriesTotal.WithLabelValues(eventType, "failed").Inc()
		e.metrics.WebhookDeliveryDuration.WithLabelValues(eventType).Observe(e.now().Sub(start).Seconds())
	}
	e.logger.Error().
		Err(lastErr).
		Str("refund_id", refundID).
		Str("event_type", eventType).
		Msg("webhook.delivery_failed")
}

func (e *WebhookEmitter) send(payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, e.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if e.cfg.Secret != "" {
		ts := strconv.FormatInt(e.now().Unix(), 10)
		req.Header.Set("X-Refunds-Timestamp", ts)
		req.Header.Set("X-Refunds-Signature", signPayload(e.cfg.Secret, ts, payload))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, e.cfg.URL)
	}
	return nil
}

// signPayload computes hex(HMAC-SHA256(secret, timestamp + "." + body)).
// The timestamp in the signed material blocks replay of captured payloads.
func signPayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature is the receiver-side check matching signPayload.
func VerifyWebhookSignature(secret, timestamp, signature string, payload []byte) bool {
	expected := signPayload(secret, timestamp, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
