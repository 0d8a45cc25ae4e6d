package clients

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/metrics"
)

// PaymentMethodType classifies how the original transaction was paid.
type PaymentMethodType string

const (
	PaymentMethodCard         PaymentMethodType = "CARD"
	PaymentMethodBalance      PaymentMethodType = "BALANCE"
	PaymentMethodBankTransfer PaymentMethodType = "BANK_TRANSFER"
	PaymentMethodWallet       PaymentMethodType = "WALLET"
)

// PaymentMethod describes the instrument behind a transaction.
type PaymentMethod struct {
	Type  PaymentMethodType `json:"type"`
	Last4 string            `json:"last4,omitempty"`

	// Bank transfer fields.
	BankAccountID       string `json:"bankAccountId,omitempty"`
	BankAccountVerified bool   `json:"bankAccountVerified,omitempty"`

	// Wallet fields.
	WalletProvider       string     `json:"walletProvider,omitempty"`
	WalletToken          string     `json:"walletToken,omitempty"`
	WalletTokenExpiresAt *time.Time `json:"walletTokenExpiresAt,omitempty"`
}

// Transaction is the payment service's view of an original payment.
type Transaction struct {
	ID                   string        `json:"id"`
	MerchantID           string        `json:"merchantId"`
	CustomerID           string        `json:"customerId"`
	Amount               int64         `json:"amount"` // smallest currency unit
	Currency             string        `json:"currency"`
	Status               string        `json:"status"` // SETTLED | PENDING | DISPUTED | REVERSED
	PaymentMethod        PaymentMethod `json:"paymentMethod"`
	GatewayType          string        `json:"gatewayType,omitempty"`
	GatewayTransactionID string        `json:"gatewayTransactionId,omitempty"`
	RefundedAmount       int64         `json:"refundedAmount"`
	CreatedAt            time.Time     `json:"createdAt"`
}

// RefundableAmount returns how much of the transaction can still be refunded.
func (t *Transaction) RefundableAmount() int64 {
	remaining := t.Amount - t.RefundedAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PaymentClient talks to the payment service.
type PaymentClient struct {
	http *httpClient
}

// NewPaymentClient creates a payment service client.
func NewPaymentClient(cfg config.CollaboratorConfig, breakers *BreakerManager, collector *metrics.Metrics) *PaymentClient {
	return &PaymentClient{http: newHTTPClient(cfg, ServicePayment, breakers, collector)}
}

// GetTransaction fetches a transaction by ID. A missing transaction is a
// typed business error, never a panic or a nil dereference downstream.
func (c *PaymentClient) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	var txn Transaction
	err := c.http.doJSON(ctx, http.MethodGet, "/v1/transactions/"+transactionID, nil, nil, &txn)
	if err != nil {
		var se *statusError
		if stderrors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, errors.NewBusinessError(errors.ErrCodeTransactionNotFound,
				"transaction "+transactionID+" not found",
				"verify the transaction ID with the merchant")
		}
		return nil, err
	}
	return &txn, nil
}

// IsRefundable reports whether the transaction is in a refundable state.
func (c *PaymentClient) IsRefundable(txn *Transaction) bool {
	return txn.Status == "SETTLED" && txn.RefundableAmount() > 0
}

// RecordRefund tells the payment service a refund completed against the
// transaction, so its refunded total stays accurate.
func (c *PaymentClient) RecordRefund(ctx context.Context, transactionID, refundID string, amount int64) error {
	body := map[string]any{
		"refundId": refundID,
		"amount":   amount,
	}
	return c.http.doJSON(ctx, http.MethodPost, "/v1/transactions/"+transactionID+"/refunds", nil, body, nil)
}
