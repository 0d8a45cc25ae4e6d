package methods

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/clients"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/gateway"
)

// BankTransferHandler refunds by wire to the customer's verified bank
// account. The merchant float funds the payout, which is then instructed
// through the transaction's gateway; the wire settles in days, so the
// result is pending until the gateway's settlement webhook lands.
type BankTransferHandler struct {
	gateways GatewayProcessor
	balances BalanceAPI
	logger   zerolog.Logger
}

// NewBankTransferHandler creates the bank-transfer handler.
func NewBankTransferHandler(gateways GatewayProcessor, balances BalanceAPI, logger zerolog.Logger) *BankTransferHandler {
	return &BankTransferHandler{gateways: gateways, balances: balances, logger: logger}
}

func (h *BankTransferHandler) Method() RefundMethod { return MethodBankTransfer }

func (h *BankTransferHandler) Capabilities() Capabilities {
	return Capabilities{
		Method:             MethodBankTransfer,
		SupportsPartial:    true,
		RequiresGateway:    true,
		SettlementEstimate: 3 * 24 * time.Hour,
	}
}

func (h *BankTransferHandler) ValidateRefund(ctx context.Context, req Request) error {
	if err := validateAmount(req); err != nil {
		return err
	}
	pm := req.Transaction.PaymentMethod
	accountID := req.BankAccountID
	if accountID == "" {
		accountID = pm.BankAccountID
	}
	if accountID == "" {
		return errors.NewBusinessError(errors.ErrCodeBankAccountNotFound,
			"refund "+req.RefundID+" has no bank account to pay out to",
			"ask the customer to register a bank account")
	}
	// Refund-level accounts arrive pre-resolved; the transaction's
	// stored instrument still needs its verification flag checked.
	if req.BankAccountID == "" && !pm.BankAccountVerified {
		return errors.NewBusinessError(errors.ErrCodeBankAccountUnverified,
			"bank account "+accountID+" has not completed verification",
			"ask the customer to finish bank account verification")
	}
	txn := req.Transaction
	if txn.GatewayType == "" || txn.GatewayTransactionID == "" {
		return errors.NewBusinessError(errors.ErrCodeTransactionNotRefundable,
			"transaction "+txn.ID+" has no gateway to route the payout through",
			"refund to balance instead")
	}
	if _, err := gateway.ParseType(txn.GatewayType); err != nil {
		return &errors.UnsupportedGatewayError{Gateway: txn.GatewayType}
	}
	return nil
}

func (h *BankTransferHandler) ProcessRefund(ctx context.Context, req Request) (*Result, error) {
	txn := req.Transaction
	gwType, err := gateway.ParseType(txn.GatewayType)
	if err != nil {
		return nil, &errors.UnsupportedGatewayError{Gateway: txn.GatewayType}
	}

	accountID := req.BankAccountID
	if accountID == "" {
		accountID = txn.PaymentMethod.BankAccountID
	}

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
		h.logger.Warn().Err(err).Str("refund_id", req.RefundID).Msg("refund.bank_transfer_debit_failed")
		return failedResult(MethodBankTransfer, err), nil
	}

	metadata := map[string]string{
		"payout_method":   "bank_transfer",
		"bank_account_id": accountID,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	resp, err := h.gateways.ProcessRefund(ctx, gateway.RefundRequest{
		MerchantID:           req.MerchantID,
		TransactionID:        txn.ID,
		RefundID:             req.RefundID,
		GatewayType:          gwType,
		GatewayTransactionID: txn.GatewayTransactionID,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Reason:               req.Reason,
		Metadata:             metadata,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("refund_id", req.RefundID).Msg("refund.bank_transfer_payout_failed")
		h.recreditFloat(ctx, req)
		return failedResult(MethodBankTransfer, err), nil
	}

	result := gatewayResult(MethodBankTransfer, gwType.String(), resp)
	if !result.Success {
		h.recreditFloat(ctx, req)
		return result, nil
	}
	if result.EstimatedSettlementDate == nil {
		settlement := time.Now().UTC().Add(h.Capabilities().SettlementEstimate)
		result.EstimatedSettlementDate = &settlement
	}
	return result, nil
}

// recreditFloat returns the debited amount to the merchant float after a
// payout the gateway never accepted.
func (h *BankTransferHandler) recreditFloat(ctx context.Context, req Request) {
	credit := clients.Adjustment{
		AccountID:      req.MerchantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Operation:      "credit",
		ReferenceID:    req.RefundID,
		Reason:         "bank transfer payout not accepted",
		IdempotencyKey: idempotencyKey(req.MerchantID, req.Amount, req.Currency, "credit", req.RefundID),
	}
	if err := h.balances.Apply(ctx, credit); err != nil {
		h.logger.Error().Err(err).Str("refund_id", req.RefundID).Msg("refund.bank_transfer_compensation_failed")
	}
}
