package methods

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/gateway"
)

// GatewayProcessor is the slice of the gateway service handlers use.
type GatewayProcessor interface {
	ProcessRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResponse, error)
}

// OriginalPaymentHandler refunds back to the instrument that paid: the
// money retraces its path through the original payment gateway.
type OriginalPaymentHandler struct {
	gateways GatewayProcessor
	logger   zerolog.Logger
}

// NewOriginalPaymentHandler creates the original-payment handler.
func NewOriginalPaymentHandler(gateways GatewayProcessor, logger zerolog.Logger) *OriginalPaymentHandler {
	return &OriginalPaymentHandler{gateways: gateways, logger: logger}
}

func (h *OriginalPaymentHandler) Method() RefundMethod { return MethodOriginalPayment }

func (h *OriginalPaymentHandler) Capabilities() Capabilities {
	return Capabilities{
		Method:             MethodOriginalPayment,
		SupportsPartial:    true,
		RequiresGateway:    true,
		SettlementEstimate: 5 * 24 * time.Hour,
	}
}

func (h *OriginalPaymentHandler) ValidateRefund(ctx context.Context, req Request) error {
	if err := validateAmount(req); err != nil {
		return err
	}
	txn := req.Transaction
	if txn.Status != "SETTLED" {
		return errors.NewBusinessError(errors.ErrCodeTransactionNotRefundable,
			"transaction "+txn.ID+" is "+txn.Status+", only settled transactions can be refunded",
			"wait for settlement or cancel the payment instead")
	}
	if txn.GatewayType == "" || txn.GatewayTransactionID == "" {
		return errors.NewBusinessError(errors.ErrCodeTransactionNotRefundable,
			"transaction "+txn.ID+" has no gateway reference",
			"refund to balance instead")
	}
	if _, err := gateway.ParseType(txn.GatewayType); err != nil {
		return &errors.UnsupportedGatewayError{Gateway: txn.GatewayType}
	}
	return nil
}

func (h *OriginalPaymentHandler) ProcessRefund(ctx context.Context, req Request) (*Result, error) {
	txn := req.Transaction
	gwType, err := gateway.ParseType(txn.GatewayType)
	if err != nil {
		return nil, &errors.UnsupportedGatewayError{Gateway: txn.GatewayType}
	}

	metadata := map[string]string{"instrument_type": string(txn.PaymentMethod.Type)}
	if txn.PaymentMethod.Last4 != "" {
		metadata["card_last4"] = txn.PaymentMethod.Last4
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
		h.logger.Warn().Err(err).Str("refund_id", req.RefundID).Msg("refund.original_payment_failed")
		return failedResult(MethodOriginalPayment, err), nil
	}

	return gatewayResult(MethodOriginalPayment, gwType.String(), resp), nil
}
