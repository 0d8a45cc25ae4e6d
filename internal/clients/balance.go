package clients

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/metrics"
)

// Balance is the balance service's view of one account in one currency.
type Balance struct {
	AccountID string `json:"accountId"`
	Currency  string `json:"currency"`
	Available int64  `json:"available"` // smallest currency unit
}

// Adjustment is a signed balance movement. Credits refund customers;
// debits draw down the merchant's refund float.
type Adjustment struct {
	AccountID      string `json:"accountId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Operation      string `json:"operation"` // credit | debit
	ReferenceID    string `json:"referenceId"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"-"`
}

// BalanceClient talks to the balance service.
type BalanceClient struct {
	http *httpClient
}

// NewBalanceClient creates a balance service client.
func NewBalanceClient(cfg config.CollaboratorConfig, breakers *BreakerManager, collector *metrics.Metrics) *BalanceClient {
	return &BalanceClient{http: newHTTPClient(cfg, ServiceBalance, breakers, collector)}
}

// GetBalance fetches the available balance for an account and currency.
func (c *BalanceClient) GetBalance(ctx context.Context, accountID, currency string) (*Balance, error) {
	var bal Balance
	err := c.http.doJSON(ctx, http.MethodGet, "/v1/balances/"+accountID+"?currency="+currency, nil, nil, &bal)
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

// HasSufficientBalance reports whether the account can cover amount.
func (c *BalanceClient) HasSufficientBalance(ctx context.Context, accountID, currency string, amount int64) (bool, error) {
	bal, err := c.GetBalance(ctx, accountID, currency)
	if err != nil {
		return false, err
	}
	return bal.Available >= amount, nil
}

// Apply posts an adjustment. The idempotency key makes retried refund
// attempts safe: the balance service deduplicates on it, so a refund is
// never credited twice.
func (c *BalanceClient) Apply(ctx context.Context, adj Adjustment) error {
	headers := map[string]string{}
	if adj.IdempotencyKey != "" {
		headers["Idempotency-Key"] = adj.IdempotencyKey
	}
	err := c.http.doJSON(ctx, http.MethodPost, "/v1/balances/"+adj.AccountID+"/adjustments", headers, adj, nil)
	if err != nil {
		var se *statusError
		if stderrors.As(err, &se) {
			body := se.decoded()
			if se.StatusCode == http.StatusUnprocessableEntity || body.Code == "insufficient_balance" {
				return errors.NewBusinessError(errors.ErrCodeInsufficientBalance,
					"account "+adj.AccountID+" cannot cover the adjustment",
					"top up the account or choose another refund method")
			}
		}
		return err
	}
	return nil
}
