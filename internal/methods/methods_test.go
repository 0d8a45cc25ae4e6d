package methods

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/clients"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/gateway"
)

type fakeGateway struct {
	calls   int
	lastReq gateway.RefundRequest
	resp    *gateway.RefundResponse
	err     error
}

func (f *fakeGateway) ProcessRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &gateway.RefundResponse{Success: true, GatewayRefundID: "re_1", Status: gateway.RefundStatusCompleted}, nil
}

type fakeBalances struct {
	available   int64
	adjustments []clients.Adjustment
	applyErr    error
}

func (f *fakeBalances) HasSufficientBalance(ctx context.Context, accountID, currency string, amount int64) (bool, error) {
	return f.available >= amount, nil
}

func (f *fakeBalances) Apply(ctx context.Context, adj clients.Adjustment) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.adjustments = append(f.adjustments, adj)
	return nil
}

func cardTransaction() *clients.Transaction {
	return &clients.Transaction{
		ID:                   "txn_1",
		MerchantID:           "merch_1",
		CustomerID:           "cust_1",
		Amount:               10000,
		Currency:             "USD",
		Status:               "SETTLED",
		GatewayType:          "stripe",
		GatewayTransactionID: "pi_123",
		PaymentMethod:        clients.PaymentMethod{Type: clients.PaymentMethodCard, Last4: "4242"},
	}
}

func methodRequest(txn *clients.Transaction, amount int64) Request {
	return Request{
		RefundID:    "ref_1",
		MerchantID:  "merch_1",
		Amount:      amount,
		Currency:    "USD",
		Reason:      "requested_by_customer",
		Transaction: txn,
	}
}

func TestAmountInvariantAcrossHandlers(t *testing.T) {
	gw := &fakeGateway{}
	bal := &fakeBalances{available: 1 << 40}
	handlers := []Handler{
		NewOriginalPaymentHandler(gw, zerolog.Nop()),
		NewBalanceHandler(bal, zerolog.Nop()),
		NewBankTransferHandler(gw, bal, zerolog.Nop()),
		NewWalletHandler(gw, zerolog.Nop()),
	}

	for _, h := range handlers {
		txn := cardTransaction()
		txn.PaymentMethod.BankAccountID = "ba_1"
		txn.PaymentMethod.BankAccountVerified = true
		txn.PaymentMethod.WalletToken = "tok_1"

		if err := h.ValidateRefund(context.Background(), methodRequest(txn, 0)); errors.CodeOf(err) != errors.ErrCodeInvalidAmount {
			t.Errorf("%s: zero amount: got %v", h.Method(), err)
		}
		if err := h.ValidateRefund(context.Background(), methodRequest(txn, -5)); errors.CodeOf(err) != errors.ErrCodeInvalidAmount {
			t.Errorf("%s: negative amount: got %v", h.Method(), err)
		}
		if err := h.ValidateRefund(context.Background(), methodRequest(txn, 10001)); errors.CodeOf(err) != errors.ErrCodeAmountExceedsTransaction {
			t.Errorf("%s: excessive amount: got %v", h.Method(), err)
		}
	}
}

func TestAmountInvariantCountsPriorRefunds(t *testing.T) {
	gw := &fakeGateway{}
	h := NewOriginalPaymentHandler(gw, zerolog.Nop())
	txn := cardTransaction()
	txn.RefundedAmount = 9500

	if err := h.ValidateRefund(context.Background(), methodRequest(txn, 501)); errors.CodeOf(err) != errors.ErrCodeAmountExceedsTransaction {
		t.Fatalf("partial refund beyond remainder: got %v", err)
	}
	if err := h.ValidateRefund(context.Background(), methodRequest(txn, 500)); err != nil {
		t.Fatalf("refund of exact remainder rejected: %v", err)
	}
}

func TestOriginalPaymentRejectsUnsettledTransaction(t *testing.T) {
	h := NewOriginalPaymentHandler(&fakeGateway{}, zerolog.Nop())
	txn := cardTransaction()
	txn.Status = "DISPUTED"
	err := h.ValidateRefund(context.Background(), methodRequest(txn, 100))
	if errors.CodeOf(err) != errors.ErrCodeTransactionNotRefundable {
		t.Fatalf("got %v", err)
	}
}

func TestOriginalPaymentGatewayFailureBecomesResult(t *testing.T) {
	gw := &fakeGateway{err: errors.NewCircuitOpenError("stripe")}
	h := NewOriginalPaymentHandler(gw, zerolog.Nop())

	result, err := h.ProcessRefund(context.Background(), methodRequest(cardTransaction(), 100))
	if err != nil {
		t.Fatalf("gateway failures must become results, got error %v", err)
	}
	if result.Success || result.RecommendedAction != ActionRetryLater {
		t.Fatalf("result = %+v, want failed with RETRY_LATER", result)
	}
}

func TestOriginalPaymentAttachesCardMetadata(t *testing.T) {
	gw := &fakeGateway{}
	h := NewOriginalPaymentHandler(gw, zerolog.Nop())

	req := methodRequest(cardTransaction(), 100)
	req.Metadata = map[string]string{"order_id": "ord_7"}
	if _, err := h.ProcessRefund(context.Background(), req); err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}

	md := gw.lastReq.Metadata
	if md["card_last4"] != "4242" || md["instrument_type"] != string(clients.PaymentMethodCard) {
		t.Errorf("metadata = %v, want instrument context attached", md)
	}
	if md["order_id"] != "ord_7" {
		t.Errorf("metadata = %v, caller metadata must survive the merge", md)
	}
}

func TestGatewayDeclaredFailureCarriesError(t *testing.T) {
	tests := []struct {
		name     string
		resp     *gateway.RefundResponse
		wantCode errors.ErrorCode
	}{
		{
			name:     "classified failure",
			resp:     &gateway.RefundResponse{Success: false, Status: gateway.RefundStatusFailed, ErrorCode: string(errors.ErrCodeGatewayValidation), ErrorMessage: "refund failed: expired_or_canceled_card"},
			wantCode: errors.ErrCodeGatewayValidation,
		},
		{
			name:     "sparse failure",
			resp:     &gateway.RefundResponse{Success: false, Status: gateway.RefundStatusFailed},
			wantCode: errors.ErrCodeGatewayServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{resp: tt.resp}
			h := NewOriginalPaymentHandler(gw, zerolog.Nop())

			result, err := h.ProcessRefund(context.Background(), methodRequest(cardTransaction(), 100))
			if err != nil {
				t.Fatalf("ProcessRefund: %v", err)
			}
			if result.Success {
				t.Fatal("gateway declared the refund failed")
			}
			if result.Err == nil {
				t.Fatal("failed result must carry an error")
			}
			if errors.CodeOf(result.Err) != tt.wantCode {
				t.Errorf("code = %s, want %s", errors.CodeOf(result.Err), tt.wantCode)
			}
			if result.RecommendedAction == "" {
				t.Error("failed result must carry a recommended action")
			}
		})
	}
}

func TestBalanceRefundMovesBothLegsIdempotently(t *testing.T) {
	bal := &fakeBalances{available: 50000}
	h := NewBalanceHandler(bal, zerolog.Nop())
	req := methodRequest(cardTransaction(), 2500)

	if err := h.ValidateRefund(context.Background(), req); err != nil {
		t.Fatalf("ValidateRefund: %v", err)
	}
	result, err := h.ProcessRefund(context.Background(), req)
	if err != nil || !result.Success {
		t.Fatalf("ProcessRefund: result=%+v err=%v", result, err)
	}
	if result.Status != gateway.RefundStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", result.Status)
	}

	if len(bal.adjustments) != 2 {
		t.Fatalf("got %d adjustments, want debit + credit", len(bal.adjustments))
	}
	debit, credit := bal.adjustments[0], bal.adjustments[1]
	if debit.Operation != "debit" || debit.AccountID != "merch_1" {
		t.Errorf("first leg = %+v, want merchant debit", debit)
	}
	if credit.Operation != "credit" || credit.AccountID != "cust_1" {
		t.Errorf("second leg = %+v, want customer credit", credit)
	}
	if debit.IdempotencyKey == "" || debit.IdempotencyKey == credit.IdempotencyKey {
		t.Error("both legs need distinct, non-empty idempotency keys")
	}
	if debit.IdempotencyKey != idempotencyKey("merch_1", 2500, "USD", "debit", "ref_1") {
		t.Error("idempotency key must be derived from the refund identity")
	}
}

func TestBalanceRefundInsufficientFunds(t *testing.T) {
	bal := &fakeBalances{available: 100}
	h := NewBalanceHandler(bal, zerolog.Nop())

	err := h.ValidateRefund(context.Background(), methodRequest(cardTransaction(), 2500))
	if errors.CodeOf(err) != errors.ErrCodeInsufficientBalance {
		t.Fatalf("got %v", err)
	}
	if len(bal.adjustments) != 0 {
		t.Fatal("no money may move when validation fails")
	}
}

func TestBankTransferRequiresVerifiedAccount(t *testing.T) {
	h := NewBankTransferHandler(&fakeGateway{}, &fakeBalances{available: 1 << 30}, zerolog.Nop())

	txn := cardTransaction()
	err := h.ValidateRefund(context.Background(), methodRequest(txn, 100))
	if errors.CodeOf(err) != errors.ErrCodeBankAccountNotFound {
		t.Fatalf("no account: got %v", err)
	}

	txn.PaymentMethod.BankAccountID = "ba_1"
	err = h.ValidateRefund(context.Background(), methodRequest(txn, 100))
	if errors.CodeOf(err) != errors.ErrCodeBankAccountUnverified {
		t.Fatalf("unverified account: got %v", err)
	}
	if ClassifyFailure(err) != ActionContactCustomer {
		t.Fatalf("unverified account should recommend contacting the customer")
	}

	txn.PaymentMethod.BankAccountVerified = true
	if err := h.ValidateRefund(context.Background(), methodRequest(txn, 100)); err != nil {
		t.Fatalf("verified account rejected: %v", err)
	}
}

func TestBankTransferRoutesPayoutThroughGateway(t *testing.T) {
	gw := &fakeGateway{resp: &gateway.RefundResponse{
		Success:         true,
		GatewayRefundID: "po_99",
		Status:          gateway.RefundStatusPending,
	}}
	bal := &fakeBalances{available: 1 << 30}
	h := NewBankTransferHandler(gw, bal, zerolog.Nop())
	txn := cardTransaction()
	txn.PaymentMethod.BankAccountID = "ba_1"
	txn.PaymentMethod.BankAccountVerified = true

	result, err := h.ProcessRefund(context.Background(), methodRequest(txn, 100))
	if err != nil || !result.Success {
		t.Fatalf("result=%+v err=%v", result, err)
	}
	if result.Status != gateway.RefundStatusPending || result.EstimatedSettlementDate == nil {
		t.Fatalf("wire refunds must report pending with a settlement estimate, got %+v", result)
	}
	if result.GatewayReference != "po_99" {
		t.Errorf("gateway reference = %q, want the gateway payout ID", result.GatewayReference)
	}

	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want the payout instruction", gw.calls)
	}
	if gw.lastReq.Metadata["payout_method"] != "bank_transfer" || gw.lastReq.Metadata["bank_account_id"] != "ba_1" {
		t.Errorf("payout metadata = %v, want bank transfer details", gw.lastReq.Metadata)
	}
	if len(bal.adjustments) != 1 || bal.adjustments[0].Operation != "debit" {
		t.Fatalf("adjustments = %+v, want exactly the float debit", bal.adjustments)
	}
}

func TestBankTransferRecreditsFloatWhenPayoutRejected(t *testing.T) {
	gw := &fakeGateway{err: errors.NewGatewayError(errors.ErrCodeGatewayServerError, "fiserv", "payout API down")}
	bal := &fakeBalances{available: 1 << 30}
	h := NewBankTransferHandler(gw, bal, zerolog.Nop())
	txn := cardTransaction()
	txn.PaymentMethod.BankAccountID = "ba_1"
	txn.PaymentMethod.BankAccountVerified = true

	result, err := h.ProcessRefund(context.Background(), methodRequest(txn, 100))
	if err != nil {
		t.Fatalf("gateway failures must become results, got error %v", err)
	}
	if result.Success || result.Err == nil {
		t.Fatalf("result = %+v, want a failed result carrying the error", result)
	}

	if len(bal.adjustments) != 2 {
		t.Fatalf("adjustments = %+v, want debit then compensating credit", bal.adjustments)
	}
	debit, credit := bal.adjustments[0], bal.adjustments[1]
	if debit.Operation != "debit" || credit.Operation != "credit" {
		t.Fatalf("operations = %s, %s; want debit then credit", debit.Operation, credit.Operation)
	}
	if credit.AccountID != "merch_1" || credit.Amount != 100 {
		t.Errorf("compensation = %+v, want the full amount back to the merchant", credit)
	}
}

func TestWalletTokenChecks(t *testing.T) {
	h := NewWalletHandler(&fakeGateway{}, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	txn := cardTransaction()
	err := h.ValidateRefund(context.Background(), methodRequest(txn, 100))
	if errors.CodeOf(err) != errors.ErrCodeWalletTokenMissing {
		t.Fatalf("missing token: got %v", err)
	}

	expired := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	txn.PaymentMethod.WalletToken = "tok_1"
	txn.PaymentMethod.WalletTokenExpiresAt = &expired
	err = h.ValidateRefund(context.Background(), methodRequest(txn, 100))
	if errors.CodeOf(err) != errors.ErrCodeWalletTokenExpired {
		t.Fatalf("expired token: got %v", err)
	}

	valid := time.Date(2026, 8, 28, 13, 0, 0, 0, time.UTC)
	txn.PaymentMethod.WalletTokenExpiresAt = &valid
	if err := h.ValidateRefund(context.Background(), methodRequest(txn, 100)); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
}

func TestResolveMethodFollowsPaymentInstrument(t *testing.T) {
	gw := &fakeGateway{}
	bal := &fakeBalances{available: 1 << 30}
	svc := NewService(zerolog.Nop(), nil,
		NewOriginalPaymentHandler(gw, zerolog.Nop()),
		NewBalanceHandler(bal, zerolog.Nop()),
		NewBankTransferHandler(gw, bal, zerolog.Nop()),
		NewWalletHandler(gw, zerolog.Nop()),
	)

	tests := []struct {
		pmType clients.PaymentMethodType
		want   RefundMethod
	}{
		{clients.PaymentMethodCard, MethodOriginalPayment},
		{clients.PaymentMethodBalance, MethodBalance},
		{clients.PaymentMethodBankTransfer, MethodBankTransfer},
		{clients.PaymentMethodWallet, MethodWallet},
	}
	for _, tt := range tests {
		txn := cardTransaction()
		txn.PaymentMethod.Type = tt.pmType
		got, err := svc.ResolveMethod("", txn)
		if err != nil || got != tt.want {
			t.Errorf("ResolveMethod(%s) = %s, %v; want %s", tt.pmType, got, err, tt.want)
		}
	}

	// Explicit request overrides the instrument.
	got, err := svc.ResolveMethod(MethodBalance, cardTransaction())
	if err != nil || got != MethodBalance {
		t.Errorf("explicit method: got %s, %v", got, err)
	}

	// Unknown instrument with no explicit method is a typed error.
	txn := cardTransaction()
	txn.PaymentMethod.Type = "CRYPTO"
	if _, err := svc.ResolveMethod("", txn); errors.CodeOf(err) != errors.ErrCodeUnsupportedPaymentMethod {
		t.Errorf("unknown instrument: got %v", err)
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		err  error
		want RecommendedAction
	}{
		{errors.NewGatewayError(errors.ErrCodeGatewayTimeout, "stripe", "timeout"), ActionRetry},
		{errors.NewCircuitOpenError("stripe"), ActionRetryLater},
		{errors.NewBusinessError(errors.ErrCodeInsufficientBalance, "no funds", ""), ActionMerchantReview},
		{errors.NewBusinessError(errors.ErrCodeWalletTokenExpired, "expired", ""), ActionContactCustomer},
		{errors.NewBusinessError(errors.ErrCodeBankAccountUnverified, "unverified", ""), ActionContactCustomer},
		{errors.NewValidationError(errors.ErrCodeInvalidAmount, "amount", "negative"), ActionMerchantReview},
	}
	for _, tt := range tests {
		if got := ClassifyFailure(tt.err); got != tt.want {
			t.Errorf("ClassifyFailure(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
