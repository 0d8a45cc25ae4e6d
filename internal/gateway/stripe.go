package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"
	stripeclient "github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/BrikPay/refunds-service/internal/credentials"
	"github.com/BrikPay/refunds-service/internal/errors"
)

// StripeAdapter drives refunds through the Stripe API via stripe-go.
// Stripe amounts are already in minor units, so conversion is the identity.
type StripeAdapter struct {
	// newClient is swapped in tests to avoid real API calls.
	newClient func(apiKey string) stripeRefundAPI
}

// stripeRefundAPI is the slice of the Stripe client the adapter uses.
type stripeRefundAPI interface {
	New(params *stripeapi.RefundParams) (*stripeapi.Refund, error)
	Get(id string, params *stripeapi.RefundParams) (*stripeapi.Refund, error)
}

// NewStripeAdapter creates the Stripe adapter.
func NewStripeAdapter() *StripeAdapter {
	return &StripeAdapter{
		newClient: func(apiKey string) stripeRefundAPI {
			sc := &stripeclient.API{}
			sc.Init(apiKey, nil)
			return sc.Refunds
		},
	}
}

// Type implements Adapter.
func (a *StripeAdapter) Type() Type { return TypeStripe }

// ProcessRefund implements Adapter.
func (a *StripeAdapter) ProcessRefund(ctx context.Context, req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(req.GatewayTransactionID),
		Amount:        stripeapi.Int64(req.Amount),
	}
	params.Context = ctx
	params.AddMetadata("refund_id", req.RefundID)
	params.AddMetadata("merchant_id", req.MerchantID)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	ref, err := a.newClient(creds.APIKey).New(params)
	if err != nil {
		return nil, a.mapError(err)
	}
	return a.toResponse(ref), nil
}

// CheckRefundStatus implements Adapter.
func (a *StripeAdapter) CheckRefundStatus(ctx context.Context, gatewayRefundID string, creds credentials.Credentials) (*RefundResponse, error) {
	params := &stripeapi.RefundParams{}
	params.Context = ctx

	ref, err := a.newClient(creds.APIKey).Get(gatewayRefundID, params)
	if err != nil {
		return nil, a.mapError(err)
	}
	return a.toResponse(ref), nil
}

// ValidateWebhookSignature implements Adapter using Stripe's signed-event
// scheme (t=...,v1=... header verified by stripe-go).
func (a *StripeAdapter) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	_, err := webhook.ConstructEvent(payload, signature, secret)
	return err == nil
}

// ParseWebhookEvent implements Adapter.
func (a *StripeAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event stripeapi.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("stripe: parse webhook payload: %w", err)
	}

	var ref stripeapi.Refund
	if err := json.Unmarshal(event.Data.Raw, &ref); err != nil {
		return nil, fmt.Errorf("stripe: parse refund object from event %s: %w", event.ID, err)
	}

	status := stripeRefundStatus(ref.Status)
	return &WebhookEvent{
		EventID:         event.ID,
		EventType:       standardEventType(status),
		GatewayType:     TypeStripe,
		GatewayRefundID: ref.ID,
		RefundID:        ref.Metadata["refund_id"],
		Status:          status,
		Amount:          ref.Amount,
		Currency:        string(ref.Currency),
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
		Raw:             payload,
	}, nil
}

func (a *StripeAdapter) toResponse(ref *stripeapi.Refund) *RefundResponse {
	status := stripeRefundStatus(ref.Status)
	processed := ref.Amount
	processingDate := time.Unix(ref.Created, 0).UTC()

	resp := &RefundResponse{
		Success:         status != RefundStatusFailed,
		GatewayRefundID: ref.ID,
		Status:          status,
		ProcessedAmount: &processed,
		ProcessingDate:  &processingDate,
	}
	if status == RefundStatusPending {
		// Card refunds settle in 5-10 business days.
		settlement := processingDate.Add(5 * 24 * time.Hour)
		resp.EstimatedSettlementDate = &settlement
	}
	if status == RefundStatusFailed {
		resp.ErrorCode = string(errors.ErrCodeGatewayValidation)
		resp.ErrorMessage = "stripe reported the refund as failed"
		if ref.FailureReason != "" {
			resp.ErrorMessage = "refund failed: " + string(ref.FailureReason)
			resp.GatewayResponseCode = string(ref.FailureReason)
		}
	}
	if raw, err := json.Marshal(ref); err == nil {
		resp.RawResponse = raw
	}
	return resp
}

func stripeRefundStatus(s stripeapi.RefundStatus) RefundStatus {
	switch s {
	case stripeapi.RefundStatusSucceeded:
		return RefundStatusCompleted
	case stripeapi.RefundStatusPending:
		return RefundStatusPending
	default:
		return RefundStatusFailed
	}
}

func standardEventType(status RefundStatus) string {
	switch status {
	case RefundStatusCompleted:
		return "refund.completed"
	case RefundStatusPending:
		return "refund.pending"
	default:
		return "refund.failed"
	}
}

// mapError translates stripe-go errors into the standard taxonomy.
func (a *StripeAdapter) mapError(err error) error {
	gw := TypeStripe.String()

	var se *stripeapi.Error
	if stderrors.As(err, &se) {
		ge := &errors.GatewayError{
			Gateway:     gw,
			Message:     se.Msg,
			GatewayCode: string(se.Code),
			Err:         err,
		}
		switch {
		case se.HTTPStatusCode == 401 || se.HTTPStatusCode == 403:
			ge.Code = errors.ErrCodeGatewayAuthentication
		case se.HTTPStatusCode == 429:
			ge.Code = errors.ErrCodeGatewayRateLimited
		case se.HTTPStatusCode >= 500:
			ge.Code = errors.ErrCodeGatewayServerError
		case se.Type == stripeapi.ErrorTypeCard || se.Type == stripeapi.ErrorTypeInvalidRequest:
			ge.Code = errors.ErrCodeGatewayValidation
		default:
			ge.Code = errors.ErrCodeGatewayServerError
		}
		ge.Retryable = ge.Code.IsRetryable()
		return ge
	}

	return transportError(TypeStripe, err)
}

// transportError classifies non-API transport failures shared by adapters.
func transportError(t Type, err error) error {
	gw := t.String()
	var ne net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		ge := errors.NewGatewayError(errors.ErrCodeGatewayTimeout, gw, "request deadline exceeded")
		ge.Err = err
		return ge
	case stderrors.As(err, &ne) && ne.Timeout():
		ge := errors.NewGatewayError(errors.ErrCodeGatewayTimeout, gw, err.Error())
		ge.Err = err
		return ge
	default:
		ge := errors.NewGatewayError(errors.ErrCodeGatewayConnection, gw, err.Error())
		ge.Err = err
		return ge
	}
}
