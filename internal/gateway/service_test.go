package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/circuitbreaker"
	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/credentials"
	"github.com/BrikPay/refunds-service/internal/errors"
)

type fakeAdapter struct {
	typ          Type
	processCalls int64
	statusCalls  int64
	process      func(RefundRequest, credentials.Credentials) (*RefundResponse, error)
	status       func(string, credentials.Credentials) (*RefundResponse, error)
}

func (f *fakeAdapter) Type() Type { return f.typ }

func (f *fakeAdapter) ProcessRefund(ctx context.Context, req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
	atomic.AddInt64(&f.processCalls, 1)
	return f.process(req, creds)
}

func (f *fakeAdapter) CheckRefundStatus(ctx context.Context, gatewayRefundID string, creds credentials.Credentials) (*RefundResponse, error) {
	atomic.AddInt64(&f.statusCalls, 1)
	if f.status == nil {
		return &RefundResponse{Success: true, Status: RefundStatusCompleted}, nil
	}
	return f.status(gatewayRefundID, creds)
}

func (f *fakeAdapter) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	return signature == "valid"
}

func (f *fakeAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	return &WebhookEvent{EventType: "refund.completed", GatewayType: f.typ}, nil
}

type staticSecretStore struct{}

func (staticSecretStore) GetSecretJSON(ctx context.Context, key string) ([]byte, error) {
	return json.Marshal(credentials.Credentials{
		MerchantID:    "merch_1",
		Gateway:       "stripe",
		APIKey:        "sk_test_123",
		WebhookSecret: "whsec_123",
	})
}

func (staticSecretStore) UpdateSecret(ctx context.Context, key string, payload []byte) error {
	return nil
}

func testGatewaysConfig(maxAttempts, threshold int) config.GatewaysConfig {
	gw := config.GatewayConfig{
		Enabled:        true,
		RequestTimeout: config.Duration{Duration: 5 * time.Second},
		CircuitBreaker: config.BreakerConfig{
			FailureThreshold: threshold,
			FailureTimeout:   config.Duration{Duration: time.Minute},
			ResetTimeout:     config.Duration{Duration: time.Hour},
		},
		Retry: config.RetryConfig{
			MaxAttempts:   maxAttempts,
			InitialDelay:  config.Duration{Duration: time.Millisecond},
			BackoffFactor: 2,
			Jitter:        0,
		},
	}
	return config.GatewaysConfig{Stripe: gw, Adyen: gw, Fiserv: gw}
}

func newTestService(t *testing.T, adapter *fakeAdapter, maxAttempts, threshold int) *Service {
	t.Helper()
	credsMgr := credentials.NewManager(staticSecretStore{}, nil, config.CredentialsConfig{
		CacheTTL:     config.Duration{Duration: time.Minute},
		SecretPrefix: "brik/refunds",
	}, zerolog.Nop(), nil)
	return NewService(map[Type]Adapter{adapter.typ: adapter}, testGatewaysConfig(maxAttempts, threshold), credsMgr, zerolog.Nop(), nil)
}

func testRefundRequest() RefundRequest {
	return RefundRequest{
		MerchantID:           "merch_1",
		TransactionID:        "txn_1",
		RefundID:             "ref_1",
		GatewayType:          TypeStripe,
		GatewayTransactionID: "pi_123",
		Amount:               2500,
		Currency:             "USD",
	}
}

func TestProcessRefundSuccess(t *testing.T) {
	adapter := &fakeAdapter{
		typ: TypeStripe,
		process: func(req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
			if creds.APIKey != "sk_test_123" {
				t.Errorf("adapter received unexpected api key %q", creds.APIKey)
			}
			return &RefundResponse{Success: true, GatewayRefundID: "re_1", Status: RefundStatusCompleted}, nil
		},
	}
	svc := newTestService(t, adapter, 3, 5)

	resp, err := svc.ProcessRefund(context.Background(), testRefundRequest())
	if err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	if !resp.Success || resp.GatewayRefundID != "re_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if n := atomic.LoadInt64(&adapter.processCalls); n != 1 {
		t.Fatalf("adapter called %d times, want 1", n)
	}
}

func TestProcessRefundUnsupportedGateway(t *testing.T) {
	adapter := &fakeAdapter{typ: TypeStripe}
	svc := newTestService(t, adapter, 1, 5)

	req := testRefundRequest()
	req.GatewayType = Type("SQUARE")
	_, err := svc.ProcessRefund(context.Background(), req)
	if errors.CodeOf(err) != errors.ErrCodeUnsupportedGateway {
		t.Fatalf("want unsupported_gateway, got %v", err)
	}
	if atomic.LoadInt64(&adapter.processCalls) != 0 {
		t.Fatal("adapter must not be invoked for an unsupported gateway")
	}
}

func TestProcessRefundRetriesTransientThenSucceeds(t *testing.T) {
	var calls int64
	adapter := &fakeAdapter{typ: TypeStripe}
	adapter.process = func(req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
		if atomic.AddInt64(&calls, 1) < 3 {
			return nil, errors.NewGatewayError(errors.ErrCodeGatewayTimeout, "stripe", "request timed out")
		}
		return &RefundResponse{Success: true, Status: RefundStatusCompleted}, nil
	}
	svc := newTestService(t, adapter, 3, 10)

	resp, err := svc.ProcessRefund(context.Background(), testRefundRequest())
	if err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	if !resp.Success {
		t.Fatalf("unexpected response %+v", resp)
	}
	if n := atomic.LoadInt64(&calls); n != 3 {
		t.Fatalf("adapter called %d times, want 3", n)
	}
}

func TestProcessRefundDoesNotRetryValidationErrors(t *testing.T) {
	adapter := &fakeAdapter{typ: TypeStripe}
	adapter.process = func(req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
		return nil, &errors.GatewayError{
			Code:        errors.ErrCodeGatewayValidation,
			Gateway:     "stripe",
			Message:     "amount exceeds charge",
			GatewayCode: "amount_too_large",
		}
	}
	svc := newTestService(t, adapter, 4, 10)

	_, err := svc.ProcessRefund(context.Background(), testRefundRequest())
	if errors.CodeOf(err) != errors.ErrCodeGatewayValidation {
		t.Fatalf("want gateway_validation, got %v", err)
	}
	if n := atomic.LoadInt64(&adapter.processCalls); n != 1 {
		t.Fatalf("adapter called %d times, want 1 (no retries)", n)
	}
}

// Three timeouts with a threshold of three must open the circuit; the next
// call is refused before it ever reaches the adapter, and circuit_open is
// never retried.
func TestProcessRefundCircuitTripsAndBlocks(t *testing.T) {
	adapter := &fakeAdapter{typ: TypeStripe}
	adapter.process = func(req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
		return nil, errors.NewGatewayError(errors.ErrCodeGatewayTimeout, "stripe", "request timed out")
	}
	svc := newTestService(t, adapter, 1, 3)

	for i := 0; i < 3; i++ {
		if _, err := svc.ProcessRefund(context.Background(), testRefundRequest()); err == nil {
			t.Fatalf("call %d: expected failure", i+1)
		}
	}
	if st, _ := svc.GetCircuitStatus(TypeStripe); st.State != circuitbreaker.StateOpen {
		t.Fatalf("circuit state = %s, want OPEN", st.State)
	}

	before := atomic.LoadInt64(&adapter.processCalls)
	_, err := svc.ProcessRefund(context.Background(), testRefundRequest())
	if errors.CodeOf(err) != errors.ErrCodeCircuitOpen {
		t.Fatalf("want circuit_open, got %v", err)
	}
	ge, ok := errors.AsGateway(err)
	if !ok || ge.Retryable {
		t.Fatalf("circuit_open must be a non-retryable gateway error, got %+v", ge)
	}
	if after := atomic.LoadInt64(&adapter.processCalls); after != before {
		t.Fatalf("adapter invoked while the circuit was open (%d -> %d calls)", before, after)
	}
}

func TestCircuitOpenShortCircuitsRetries(t *testing.T) {
	adapter := &fakeAdapter{typ: TypeStripe}
	adapter.process = func(req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
		return nil, errors.NewGatewayError(errors.ErrCodeGatewayConnection, "stripe", "connection refused")
	}
	// Threshold 1: the first failed attempt opens the circuit. With 5
	// retry attempts configured, the remaining attempts must all be
	// refused without reaching the adapter.
	svc := newTestService(t, adapter, 5, 1)

	_, err := svc.ProcessRefund(context.Background(), testRefundRequest())
	if errors.CodeOf(err) != errors.ErrCodeCircuitOpen {
		t.Fatalf("want circuit_open after the breaker trips mid-retry, got %v", err)
	}
	if n := atomic.LoadInt64(&adapter.processCalls); n != 1 {
		t.Fatalf("adapter called %d times, want 1", n)
	}
}

func TestResetCircuitBreakerRestoresTraffic(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	adapter := &fakeAdapter{typ: TypeStripe}
	adapter.process = func(req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
		if failing.Load() {
			return nil, errors.NewGatewayError(errors.ErrCodeGatewayServerError, "stripe", "internal error")
		}
		return &RefundResponse{Success: true, Status: RefundStatusCompleted}, nil
	}
	svc := newTestService(t, adapter, 1, 2)

	for i := 0; i < 2; i++ {
		svc.ProcessRefund(context.Background(), testRefundRequest())
	}
	if st, _ := svc.GetCircuitStatus(TypeStripe); st.State != circuitbreaker.StateOpen {
		t.Fatalf("circuit state = %s, want OPEN", st.State)
	}

	failing.Store(false)
	if err := svc.ResetCircuitBreaker(TypeStripe); err != nil {
		t.Fatalf("ResetCircuitBreaker: %v", err)
	}
	resp, err := svc.ProcessRefund(context.Background(), testRefundRequest())
	if err != nil || !resp.Success {
		t.Fatalf("call after reset: resp=%+v err=%v", resp, err)
	}
}

func TestCheckRefundStatusGoesThroughResilience(t *testing.T) {
	adapter := &fakeAdapter{typ: TypeStripe}
	svc := newTestService(t, adapter, 2, 5)

	resp, err := svc.CheckRefundStatus(context.Background(), "re_1", "merch_1", TypeStripe)
	if err != nil {
		t.Fatalf("CheckRefundStatus: %v", err)
	}
	if resp.Status != RefundStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", resp.Status)
	}
	if atomic.LoadInt64(&adapter.statusCalls) != 1 {
		t.Fatal("expected exactly one status call")
	}
}

func TestValidateWebhookSignatureUsesMerchantSecret(t *testing.T) {
	adapter := &fakeAdapter{typ: TypeStripe}
	svc := newTestService(t, adapter, 1, 5)

	ok, err := svc.ValidateWebhookSignature(context.Background(), TypeStripe, "merch_1", []byte(`{}`), "valid")
	if err != nil || !ok {
		t.Fatalf("valid signature rejected: ok=%v err=%v", ok, err)
	}
	ok, err = svc.ValidateWebhookSignature(context.Background(), TypeStripe, "merch_1", []byte(`{}`), "forged")
	if err != nil || ok {
		t.Fatalf("forged signature accepted: ok=%v err=%v", ok, err)
	}
}
