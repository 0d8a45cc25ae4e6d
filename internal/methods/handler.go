// Package methods implements the per-payment-method refund handlers and
// the dispatch service that routes a refund to the right one.
package methods

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/BrikPay/refunds-service/internal/clients"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/gateway"
)

// RefundMethod is how the money goes back to the customer.
type RefundMethod string

const (
	MethodOriginalPayment RefundMethod = "ORIGINAL_PAYMENT"
	MethodBalance         RefundMethod = "BALANCE"
	MethodBankTransfer    RefundMethod = "BANK_TRANSFER"
	MethodWallet          RefundMethod = "WALLET"
)

// RecommendedAction tells the caller what to do after a failed refund.
type RecommendedAction string

const (
	ActionRetry           RecommendedAction = "RETRY"
	ActionRetryLater      RecommendedAction = "RETRY_LATER"
	ActionContactCustomer RecommendedAction = "CONTACT_CUSTOMER_FOR_ALTERNATE_PAYMENT"
	ActionMerchantReview  RecommendedAction = "MERCHANT_ACTION_REQUIRED"
)

// Capabilities describes what one refund method can and cannot do.
type Capabilities struct {
	Method             RefundMethod  `json:"method"`
	SupportsPartial    bool          `json:"supportsPartial"`
	RequiresGateway    bool          `json:"requiresGateway"`
	SettlementEstimate time.Duration `json:"settlementEstimate"`
}

// Request carries everything a handler needs to refund one payment.
type Request struct {
	RefundID    string
	MerchantID  string
	Amount      int64 // smallest currency unit
	Currency    string
	Reason      string
	Transaction *clients.Transaction

	// BankAccountID overrides the transaction's instrument for
	// bank-transfer refunds.
	BankAccountID string

	Metadata map[string]string
}

// Result is the standardized handler outcome. A failed result carries the
// classified error and a recommended next step; handlers return errors only
// for infrastructure faults that never reached the refund rails.
type Result struct {
	Success                 bool
	Method                  RefundMethod
	Status                  gateway.RefundStatus
	GatewayReference        string
	EstimatedSettlementDate *time.Time
	Err                     error
	RecommendedAction       RecommendedAction
}

// Handler refunds payments made with one payment method.
type Handler interface {
	Method() RefundMethod
	Capabilities() Capabilities

	// ValidateRefund checks the refund is possible before any money moves.
	ValidateRefund(ctx context.Context, req Request) error

	// ProcessRefund moves the money. It must only be called after
	// ValidateRefund has passed.
	ProcessRefund(ctx context.Context, req Request) (*Result, error)
}

// validateAmount enforces the cross-handler amount invariant: positive and
// never more than what remains refundable on the transaction.
func validateAmount(req Request) error {
	if req.Amount <= 0 {
		return errors.NewValidationError(errors.ErrCodeInvalidAmount, "amount",
			"refund amount must be positive")
	}
	if req.Transaction == nil {
		return errors.NewBusinessError(errors.ErrCodeTransactionNotFound,
			"refund "+req.RefundID+" has no transaction attached",
			"verify the transaction ID")
	}
	if req.Amount > req.Transaction.RefundableAmount() {
		return errors.NewValidationError(errors.ErrCodeAmountExceedsTransaction, "amount",
			fmt.Sprintf("refund amount %d exceeds refundable amount %d", req.Amount, req.Transaction.RefundableAmount()))
	}
	if req.Currency != req.Transaction.Currency {
		return errors.NewValidationError(errors.ErrCodeInvalidCurrency, "currency",
			fmt.Sprintf("refund currency %s does not match transaction currency %s", req.Currency, req.Transaction.Currency))
	}
	return nil
}

// ClassifyFailure maps a refund error to the action the merchant should take.
func ClassifyFailure(err error) RecommendedAction {
	switch {
	case errors.CodeOf(err) == errors.ErrCodeCircuitOpen:
		return ActionRetryLater
	case errors.Retryable(err):
		return ActionRetry
	case errors.CodeOf(err) == errors.ErrCodeInsufficientBalance:
		return ActionMerchantReview
	}
	if _, ok := errors.AsValidation(err); ok {
		return ActionMerchantReview
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeBankAccountNotFound,
		errors.ErrCodeBankAccountUnverified,
		errors.ErrCodeWalletTokenExpired,
		errors.ErrCodeWalletTokenMissing:
		return ActionContactCustomer
	}
	return ActionMerchantReview
}

// gatewayResult converts a gateway response into the handler result. A
// response the gateway declared failed always yields a result carrying a
// classified error, even when the adapter left the error fields sparse.
func gatewayResult(method RefundMethod, gatewayName string, resp *gateway.RefundResponse) *Result {
	if !resp.Success {
		code := errors.ErrorCode(resp.ErrorCode)
		if code == "" {
			code = errors.ErrCodeGatewayServerError
		}
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "gateway reported the refund as failed"
		}
		ge := &errors.GatewayError{
			Code:        code,
			Gateway:     gatewayName,
			Message:     msg,
			GatewayCode: resp.GatewayResponseCode,
			Retryable:   code.IsRetryable(),
		}
		result := failedResult(method, ge)
		result.GatewayReference = resp.GatewayRefundID
		return result
	}
	return &Result{
		Success:                 true,
		Method:                  method,
		Status:                  resp.Status,
		GatewayReference:        resp.GatewayRefundID,
		EstimatedSettlementDate: resp.EstimatedSettlementDate,
	}
}

// failedResult builds the standard failure result for a handler.
func failedResult(method RefundMethod, err error) *Result {
	return &Result{
		Success:           false,
		Method:            method,
		Status:            gateway.RefundStatusFailed,
		Err:               err,
		RecommendedAction: ClassifyFailure(err),
	}
}

// idempotencyKey derives the deduplication key for a balance movement.
// Retrying the same logical refund always produces the same key.
func idempotencyKey(merchantID string, amount int64, currency, operation, referenceID string) string {
	sum := sha256.Sum256([]byte(
		merchantID + "|" + strconv.FormatInt(amount, 10) + "|" + currency + "|" + operation + "|" + referenceID,
	))
	return hex.EncodeToString(sum[:])
}
