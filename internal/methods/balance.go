package methods

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/clients"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/gateway"
)

// BalanceAPI is the slice of the balance client handlers use.
type BalanceAPI interface {
	HasSufficientBalance(ctx context.Context, accountID, currency string, amount int64) (bool, error)
	Apply(ctx context.Context, adj clients.Adjustment) error
}

// BalanceHandler refunds to the customer's stored balance: debit the
// merchant's refund float, credit the customer. Both movements carry
// idempotency keys, so a retried refund never moves money twice.
type BalanceHandler struct {
	balances BalanceAPI
	logger   zerolog.Logger
}

// NewBalanceHandler creates the balance handler.
func NewBalanceHandler(balances BalanceAPI, logger zerolog.Logger) *BalanceHandler {
	return &BalanceHandler{balances: balances, logger: logger}
}

func (h *BalanceHandler) Method() RefundMethod { return MethodBalance }

func (h *BalanceHandler) Capabilities() Capabilities {
	return Capabilities{
		Method:             MethodBalance,
		SupportsPartial:    true,
		RequiresGateway:    false,
		SettlementEstimate: 0, // instant
	}
}

func (h *BalanceHandler) ValidateRefund(ctx context.Context, req Request) error {
	if err := validateAmount(req); err != nil {
		return err
	}
	if req.Transaction.CustomerID == "" {
		return errors.NewBusinessError(errors.ErrCodeInvalidRefundMethod,
			"transaction "+req.Transaction.ID+" has no customer account for a balance refund",
			"use the original payment method instead")
	}
	ok, err := h.balances.HasSufficientBalance(ctx, req.MerchantID, req.Currency, req.Amount)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewBusinessError(errors.ErrCodeInsufficientBalance,
			"merchant "+req.MerchantID+" cannot cover the refund",
			"top up the merchant balance or choose another refund method")
	}
	return nil
}

func (h *BalanceHandler) ProcessRefund(ctx context.Context, req Request) (*Result, error) {
	debit := clients.Adjustment{
		AccountID:      req.MerchantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Operation:      "debit",
		ReferenceID:    req.RefundID,
		Reason:         req.Reason,
		IdempotencyKey: idempotencyKey(req.MerchantID, req.Amount, req.Currency, "debit", req.RefundID),
	}
	if err := h.balances.Apply(ctx, debit); err != nil {
		h.logger.Warn().Err(err).Str("refund_id", req.RefundID).Msg("refund.balance_debit_failed")
		return failedResult(MethodBalance, err), nil
	}

	credit := clients.Adjustment{
		AccountID:      req.Transaction.CustomerID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Operation:      "credit",
		ReferenceID:    req.RefundID,
		Reason:         req.Reason,
		IdempotencyKey: idempotencyKey(req.MerchantID, req.Amount, req.Currency, "credit", req.RefundID),
	}
	if err := h.balances.Apply(ctx, credit); err != nil {
		// The debit landed but the credit did not. The idempotent debit
		// key lets a retry reconcile without double-charging.
		h.logger.Error().Err(err).Str("refund_id", req.RefundID).Msg("refund.balance_credit_failed")
		return failedResult(MethodBalance, err), nil
	}

	now := time.Now().UTC()
	return &Result{
		Success:                 true,
		Method:                  MethodBalance,
		Status:                  gateway.RefundStatusCompleted,
		GatewayReference:        "bal_" + req.RefundID,
		EstimatedSettlementDate: &now, // balance credits are instant
	}, nil
}
