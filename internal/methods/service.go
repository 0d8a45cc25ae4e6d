package methods

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/clients"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/metrics"
)

// Service routes refunds to the handler for their refund method.
type Service struct {
	handlers map[RefundMethod]Handler
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewService registers the given handlers for dispatch.
func NewService(logger zerolog.Logger, collector *metrics.Metrics, handlers ...Handler) *Service {
	byMethod := make(map[RefundMethod]Handler, len(handlers))
	for _, h := range handlers {
		byMethod[h.Method()] = h
	}
	return &Service{handlers: byMethod, logger: logger, metrics: collector}
}

// ResolveMethod picks the refund method: an explicit request wins,
// otherwise the method follows the original payment instrument.
func (s *Service) ResolveMethod(requested RefundMethod, txn *clients.Transaction) (RefundMethod, error) {
	if requested != "" {
		if _, ok := s.handlers[requested]; !ok {
			return "", errors.NewBusinessError(errors.ErrCodeInvalidRefundMethod,
				"refund method "+string(requested)+" is not available",
				"choose one of the supported refund methods")
		}
		return requested, nil
	}

	var derived RefundMethod
	switch txn.PaymentMethod.Type {
	case clients.PaymentMethodCard:
		derived = MethodOriginalPayment
	case clients.PaymentMethodBalance:
		derived = MethodBalance
	case clients.PaymentMethodBankTransfer:
		derived = MethodBankTransfer
	case clients.PaymentMethodWallet:
		derived = MethodWallet
	default:
		return "", errors.NewBusinessError(errors.ErrCodeUnsupportedPaymentMethod,
			"no refund handler for payment method "+string(txn.PaymentMethod.Type),
			"refund to balance instead")
	}
	if _, ok := s.handlers[derived]; !ok {
		return "", errors.NewBusinessError(errors.ErrCodeUnsupportedPaymentMethod,
			"refund method "+string(derived)+" is not enabled",
			"refund to balance instead")
	}
	return derived, nil
}

// Validate runs the method handler's pre-flight checks.
func (s *Service) Validate(ctx context.Context, method RefundMethod, req Request) error {
	handler, ok := s.handlers[method]
	if !ok {
		return errors.NewBusinessError(errors.ErrCodeInvalidRefundMethod,
			"refund method "+string(method)+" is not available",
			"choose one of the supported refund methods")
	}
	return handler.ValidateRefund(ctx, req)
}

// Process dispatches the refund to its handler and records the outcome.
func (s *Service) Process(ctx context.Context, method RefundMethod, req Request) (*Result, error) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, errors.NewBusinessError(errors.ErrCodeInvalidRefundMethod,
			"refund method "+string(method)+" is not available",
			"choose one of the supported refund methods")
	}

	result, err := handler.ProcessRefund(ctx, req)

	if s.metrics != nil {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case !result.Success:
			outcome = "failure"
		}
		s.metrics.HandlerResultsTotal.WithLabelValues(string(method), outcome).Inc()
	}
	return result, err
}

// Capabilities lists what every registered handler supports.
func (s *Service) Capabilities() []Capabilities {
	out := make([]Capabilities, 0, len(s.handlers))
	for _, method := range []RefundMethod{MethodOriginalPayment, MethodBalance, MethodBankTransfer, MethodWallet} {
		if h, ok := s.handlers[method]; ok {
			out = append(out, h.Capabilities())
		}
	}
	return out
}
