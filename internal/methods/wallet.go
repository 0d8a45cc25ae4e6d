package methods

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/gateway"
)

// WalletHandler refunds digital wallet payments. The refund routes back
// through the gateway that processed the wallet charge, but only while the
// wallet token the gateway needs is still valid.
type WalletHandler struct {
	gateways GatewayProcessor
	logger   zerolog.Logger
	now      func() time.Time
}

// NewWalletHandler creates the wallet handler.
func NewWalletHandler(gateways GatewayProcessor, logger zerolog.Logger) *WalletHandler {
	return &WalletHandler{gateways: gateways, logger: logger, now: time.Now}
}

func (h *WalletHandler) Method() RefundMethod { return MethodWallet }

func (h *WalletHandler) Capabilities() Capabilities {
	return Capabilities{
		Method:             MethodWallet,
		SupportsPartial:    true,
		RequiresGateway:    true,
		SettlementEstimate: 2 * 24 * time.Hour,
	}
}

func (h *WalletHandler) ValidateRefund(ctx context.Context, req Request) error {
	if err := validateAmount(req); err != nil {
		return err
	}
	pm := req.Transaction.PaymentMethod
	if pm.WalletToken == "" {
		return errors.NewBusinessError(errors.ErrCodeWalletTokenMissing,
			"transaction "+req.Transaction.ID+" has no wallet token",
			"ask the customer to re-authorize the wallet or refund to balance")
	}
	if pm.WalletTokenExpiresAt != nil && h.now().After(*pm.WalletTokenExpiresAt) {
		return errors.NewBusinessError(errors.ErrCodeWalletTokenExpired,
			"wallet token for transaction "+req.Transaction.ID+" expired",
			"ask the customer to re-authorize the wallet or refund to balance")
	}
	if _, err := gateway.ParseType(req.Transaction.GatewayType); err != nil {
		return &errors.UnsupportedGatewayError{Gateway: req.Transaction.GatewayType}
	}
	return nil
}

func (h *WalletHandler) ProcessRefund(ctx context.Context, req Request) (*Result, error) {
	txn := req.Transaction
	gwType, err := gateway.ParseType(txn.GatewayType)
	if err != nil {
		return nil, &errors.UnsupportedGatewayError{Gateway: txn.GatewayType}
	}

	metadata := map[string]string{"wallet_provider": txn.PaymentMethod.WalletProvider}
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
		h.logger.Warn().Err(err).Str("refund_id", req.RefundID).Msg("refund.wallet_failed")
		return failedResult(MethodWallet, err), nil
	}

	return gatewayResult(MethodWallet, gwType.String(), resp), nil
}
