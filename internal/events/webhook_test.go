package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/config"
)

func notificationsConfig(url string) config.NotificationsConfig {
	return config.NotificationsConfig{
		URL:           url,
		Secret:        "whsec_test",
		Timeout:       config.Duration{Duration: 2 * time.Second},
		MaxAttempts:   3,
		InitialDelay:  config.Duration{Duration: time.Millisecond},
		MaxDelay:      config.Duration{Duration: 5 * time.Millisecond},
		BackoffFactor: 2.0,
	}
}

func sampleEvent() Event {
	return Event{
		Type:       TypeRefundStatusChanged,
		RefundID:   "ref_1",
		Status:     "COMPLETED",
		MerchantID: "merch_1",
		Amount:     2500,
		Currency:   "USD",
		OccurredAt: time.Now().UTC(),
	}
}

func TestWebhookDeliverySignedAndParsed(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewWebhookEmitter(notificationsConfig(srv.URL), zerolog.Nop(), nil)
	e.Emit(context.Background(), sampleEvent())
	e.Wait()

	select {
	case r := <-received:
		body := <-bodies
		ts := r.Header.Get("X-Refunds-Timestamp")
		sig := r.Header.Get("X-Refunds-Signature")
		if ts == "" || sig == "" {
			t.Fatal("signature headers missing")
		}
		if !VerifyWebhookSignature("whsec_test", ts, sig, body) {
			t.Fatal("signature does not verify")
		}
		if VerifyWebhookSignature("whsec_wrong", ts, sig, body) {
			t.Fatal("signature verified with the wrong secret")
		}

		var got Event
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if got.RefundID != "ref_1" || got.Type != TypeRefundStatusChanged {
			t.Fatalf("unexpected payload: %+v", got)
		}
	default:
		t.Fatal("webhook never arrived")
	}
}

func TestWebhookRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewWebhookEmitter(notificationsConfig(srv.URL), zerolog.Nop(), nil)
	e.Emit(context.Background(), sampleEvent())
	e.Wait()

	if calls.Load() != 3 {
		t.Fatalf("delivery attempts = %d, want 3", calls.Load())
	}
}

func TestWebhookGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewWebhookEmitter(notificationsConfig(srv.URL), zerolog.Nop(), nil)
	e.Emit(context.Background(), sampleEvent())
	e.Wait()

	if calls.Load() != 3 {
		t.Fatalf("delivery attempts = %d, want 3", calls.Load())
	}
}

func TestWebhookEmitterDisabledWithoutURL(t *testing.T) {
	if e := NewWebhookEmitter(config.NotificationsConfig{}, zerolog.Nop(), nil); e != nil {
		t.Fatal("expected nil emitter when no URL is configured")
	}
}
