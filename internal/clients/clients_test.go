package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/errors"
)

func collaboratorConfig(baseURL string) config.CollaboratorConfig {
	return config.CollaboratorConfig{
		BaseURL: baseURL,
		Timeout: config.Duration{Duration: 5 * time.Second},
		APIKey:  "internal_key",
	}
}

func TestGetTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "internal_key" {
			t.Errorf("X-API-Key = %q", got)
		}
		if r.URL.Path != "/v1/transactions/txn_1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Transaction{
			ID:             "txn_1",
			MerchantID:     "merch_1",
			Amount:         10000,
			Currency:       "USD",
			Status:         "SETTLED",
			RefundedAmount: 2500,
			PaymentMethod:  PaymentMethod{Type: PaymentMethodCard, Last4: "4242"},
		})
	}))
	defer srv.Close()

	client := NewPaymentClient(collaboratorConfig(srv.URL), NewBreakerManager(), nil)
	txn, err := client.GetTransaction(context.Background(), "txn_1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if txn.RefundableAmount() != 7500 {
		t.Errorf("RefundableAmount = %d, want 7500", txn.RefundableAmount())
	}
	if !client.IsRefundable(txn) {
		t.Error("settled transaction with remaining amount must be refundable")
	}
}

func TestGetTransactionNotFoundIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"not_found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewPaymentClient(collaboratorConfig(srv.URL), NewBreakerManager(), nil)
	txn, err := client.GetTransaction(context.Background(), "txn_missing")
	if txn != nil {
		t.Fatal("missing transaction must return nil")
	}
	if errors.CodeOf(err) != errors.ErrCodeTransactionNotFound {
		t.Fatalf("want transaction_not_found, got %v", err)
	}
}

func TestBalanceApplySendsIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewBalanceClient(collaboratorConfig(srv.URL), NewBreakerManager(), nil)
	err := client.Apply(context.Background(), Adjustment{
		AccountID:      "cust_1",
		Amount:         2500,
		Currency:       "USD",
		Operation:      "credit",
		ReferenceID:    "ref_1",
		IdempotencyKey: "abc123",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if gotKey != "abc123" {
		t.Errorf("Idempotency-Key = %q", gotKey)
	}
}

func TestBalanceApplyInsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"code": "insufficient_balance", "message": "available 100"})
	}))
	defer srv.Close()

	client := NewBalanceClient(collaboratorConfig(srv.URL), NewBreakerManager(), nil)
	err := client.Apply(context.Background(), Adjustment{AccountID: "merch_1", Amount: 999999, Currency: "USD", Operation: "debit"})
	if errors.CodeOf(err) != errors.ErrCodeInsufficientBalance {
		t.Fatalf("want insufficient_balance, got %v", err)
	}
	be, ok := errors.AsBusiness(err)
	if !ok || be.Remediation == "" {
		t.Fatalf("want a business error with remediation, got %v", err)
	}
}

func TestHasSufficientBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Balance{AccountID: "merch_1", Currency: "USD", Available: 5000})
	}))
	defer srv.Close()

	client := NewBalanceClient(collaboratorConfig(srv.URL), NewBreakerManager(), nil)
	ok, err := client.HasSufficientBalance(context.Background(), "merch_1", "USD", 2500)
	if err != nil || !ok {
		t.Fatalf("HasSufficientBalance(2500) = %v, %v", ok, err)
	}
	ok, err = client.HasSufficientBalance(context.Background(), "merch_1", "USD", 10000)
	if err != nil || ok {
		t.Fatalf("HasSufficientBalance(10000) = %v, %v", ok, err)
	}
}

func TestApprovalDecisionPendingIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewApprovalClient(collaboratorConfig(srv.URL), NewBreakerManager(), nil)
	_, err := client.GetDecision(context.Background(), "ref_1")
	if errors.CodeOf(err) != errors.ErrCodeApprovalPending {
		t.Fatalf("want approval_pending, got %v", err)
	}
}

func TestApprovalRequiresApproval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		resp := map[string]any{"requiresApproval": false}
		if body["amount"].(float64) >= 500000 {
			resp["requiresApproval"] = true
			resp["matchedRules"] = []string{"amount_over_threshold"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewApprovalClient(collaboratorConfig(srv.URL), NewBreakerManager(), nil)
	check, err := client.RequiresApproval(context.Background(), "merch_1", 600000, "USD")
	if err != nil || !check.RequiresApproval {
		t.Fatalf("RequiresApproval(600000) = %+v, %v", check, err)
	}
	if len(check.MatchedRules) != 1 || check.MatchedRules[0] != "amount_over_threshold" {
		t.Fatalf("matched rules = %v, want the triggering rule", check.MatchedRules)
	}
	check, err = client.RequiresApproval(context.Background(), "merch_1", 100, "USD")
	if err != nil || check.RequiresApproval {
		t.Fatalf("RequiresApproval(100) = %+v, %v", check, err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breakers := NewBreakerManager()
	client := NewBalanceClient(collaboratorConfig(srv.URL), breakers, nil)
	for i := 0; i < 5; i++ {
		client.GetBalance(context.Background(), "merch_1", "USD")
	}
	if got := breakers.State(ServiceBalance); got != "open" {
		t.Fatalf("breaker state = %q, want open", got)
	}
}
