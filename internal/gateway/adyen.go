package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BrikPay/refunds-service/internal/credentials"
	"github.com/BrikPay/refunds-service/internal/errors"
)

// AdyenAdapter drives refunds through the Adyen Checkout API. Adyen refunds
// are asynchronous: the API acknowledges with "received" and the outcome
// arrives later as a webhook notification. Adyen amounts are minor units.
type AdyenAdapter struct {
	baseURL string
	client  *http.Client
}

// NewAdyenAdapter creates the Adyen adapter.
func NewAdyenAdapter(baseURL string, timeout time.Duration) *AdyenAdapter {
	return &AdyenAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Type implements Adapter.
func (a *AdyenAdapter) Type() Type { return TypeAdyen }

type adyenRefundRequest struct {
	MerchantAccount string            `json:"merchantAccount"`
	Amount          adyenAmount       `json:"amount"`
	Reference       string            `json:"reference"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type adyenAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type adyenRefundResponse struct {
	PSPReference string      `json:"pspReference"`
	Status       string      `json:"status"`
	Amount       adyenAmount `json:"amount"`
	Reference    string      `json:"reference"`
}

type adyenErrorResponse struct {
	Status    int    `json:"status"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	ErrorType string `json:"errorType"`
}

// ProcessRefund implements Adapter.
func (a *AdyenAdapter) ProcessRefund(ctx context.Context, req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
	body := adyenRefundRequest{
		MerchantAccount: creds.MerchantAccount,
		Amount:          adyenAmount{Currency: req.Currency, Value: req.Amount},
		Reference:       req.RefundID,
		Metadata:        req.Metadata,
	}
	url := fmt.Sprintf("%s/payments/%s/refunds", a.baseURL, req.GatewayTransactionID)

	raw, err := a.post(ctx, url, creds.APIKey, body)
	if err != nil {
		return nil, err
	}

	var resp adyenRefundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("adyen: decode refund response: %w", err)
	}

	processed := resp.Amount.Value
	now := time.Now().UTC()
	settlement := now.Add(2 * 24 * time.Hour)
	return &RefundResponse{
		Success:                 true,
		GatewayRefundID:         resp.PSPReference,
		Status:                  RefundStatusPending, // outcome arrives via webhook
		ProcessedAmount:         &processed,
		ProcessingDate:          &now,
		EstimatedSettlementDate: &settlement,
		GatewayResponseCode:     resp.Status,
		RawResponse:             raw,
	}, nil
}

// CheckRefundStatus implements Adapter.
func (a *AdyenAdapter) CheckRefundStatus(ctx context.Context, gatewayRefundID string, creds credentials.Credentials) (*RefundResponse, error) {
	url := fmt.Sprintf("%s/refunds/%s", a.baseURL, gatewayRefundID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("adyen: build request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", creds.APIKey)

	raw, err := a.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp adyenRefundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("adyen: decode status response: %w", err)
	}

	status := RefundStatusPending
	switch resp.Status {
	case "completed", "succeeded":
		status = RefundStatusCompleted
	case "failed", "refused":
		status = RefundStatusFailed
	}
	processed := resp.Amount.Value
	out := &RefundResponse{
		Success:             status != RefundStatusFailed,
		GatewayRefundID:     resp.PSPReference,
		Status:              status,
		ProcessedAmount:     &processed,
		GatewayResponseCode: resp.Status,
		RawResponse:         raw,
	}
	if status == RefundStatusFailed {
		out.ErrorCode = string(errors.ErrCodeGatewayValidation)
		out.ErrorMessage = "adyen reported the refund as " + resp.Status
	}
	return out, nil
}

// ValidateWebhookSignature implements Adapter. Adyen signs notifications
// with base64-encoded HMAC-SHA256.
func (a *AdyenAdapter) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type adyenNotification struct {
	PSPReference        string      `json:"pspReference"`
	MerchantReference   string      `json:"merchantReference"`
	EventCode           string      `json:"eventCode"` // REFUND
	Success             string      `json:"success"`   // "true" | "false"
	Amount              adyenAmount `json:"amount"`
	EventDate           time.Time   `json:"eventDate"`
	OriginalReference   string      `json:"originalReference"`
	NotificationItemsID string      `json:"notificationItemsId"`
}

// ParseWebhookEvent implements Adapter.
func (a *AdyenAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var n adyenNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("adyen: parse notification: %w", err)
	}
	if n.EventCode != "REFUND" {
		return nil, fmt.Errorf("adyen: unexpected event code %q", n.EventCode)
	}

	status := RefundStatusFailed
	if n.Success == "true" {
		status = RefundStatusCompleted
	}
	return &WebhookEvent{
		EventID:         n.PSPReference,
		EventType:       standardEventType(status),
		GatewayType:     TypeAdyen,
		GatewayRefundID: n.PSPReference,
		RefundID:        n.MerchantReference,
		Status:          status,
		Amount:          n.Amount.Value,
		Currency:        n.Amount.Currency,
		OccurredAt:      n.EventDate,
		Raw:             payload,
	}, nil
}

func (a *AdyenAdapter) post(ctx context.Context, url, apiKey string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("adyen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("adyen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", apiKey)
	return a.do(httpReq)
}

func (a *AdyenAdapter) do(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, transportError(TypeAdyen, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(TypeAdyen, err)
	}
	if resp.StatusCode >= 400 {
		return nil, a.mapError(resp.StatusCode, raw)
	}
	return raw, nil
}

// mapError translates Adyen HTTP failures into the standard taxonomy.
func (a *AdyenAdapter) mapError(status int, raw []byte) error {
	var body adyenErrorResponse
	_ = json.Unmarshal(raw, &body)

	msg := body.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}

	ge := &errors.GatewayError{
		Gateway:     TypeAdyen.String(),
		Message:     msg,
		GatewayCode: body.ErrorCode,
	}
	switch {
	case status == 401 || status == 403:
		ge.Code = errors.ErrCodeGatewayAuthentication
	case status == 429:
		ge.Code = errors.ErrCodeGatewayRateLimited
	case status == 422 || status == 400 || status == 404:
		ge.Code = errors.ErrCodeGatewayValidation
	case status >= 500:
		ge.Code = errors.ErrCodeGatewayServerError
	default:
		ge.Code = errors.ErrCodeGatewayServerError
	}
	ge.Retryable = ge.Code.IsRetryable()
	return ge
}
