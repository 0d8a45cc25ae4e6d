package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/BrikPay/refunds-service/internal/credentials"
	"github.com/BrikPay/refunds-service/internal/errors"
)

// FiservAdapter drives refunds through a Fiserv-style payments API. Unlike
// Stripe and Adyen, Fiserv speaks decimal amount strings, so the adapter
// converts minor units to decimals and back; the conversion is exact in both
// directions.
type FiservAdapter struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewFiservAdapter creates the Fiserv adapter.
func NewFiservAdapter(baseURL string, timeout time.Duration) *FiservAdapter {
	return &FiservAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// Type implements Adapter.
func (a *FiservAdapter) Type() Type { return TypeFiserv }

type fiservAmount struct {
	Total    string `json:"total"` // decimal string, e.g. "10.50"
	Currency string `json:"currency"`
}

type fiservRefundRequest struct {
	RequestType     string            `json:"requestType"`
	MerchantOrderID string            `json:"merchantOrderId"`
	ReferencedOrder string            `json:"referencedOrder"`
	Amount          fiservAmount      `json:"transactionAmount"`
	Comments        string            `json:"comments,omitempty"`
	AdditionalData  map[string]string `json:"additionalData,omitempty"`
}

type fiservRefundResponse struct {
	IPGTransactionID  string       `json:"ipgTransactionId"`
	TransactionStatus string       `json:"transactionStatus"` // APPROVED | WAITING | DECLINED
	TransactionResult string       `json:"transactionResult"`
	ApprovedAmount    fiservAmount `json:"approvedAmount"`
	TransactionTime   int64        `json:"transactionTime"`
	Error             *fiservError `json:"error,omitempty"`
}

type fiservError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProcessRefund implements Adapter.
func (a *FiservAdapter) ProcessRefund(ctx context.Context, req RefundRequest, creds credentials.Credentials) (*RefundResponse, error) {
	body := fiservRefundRequest{
		RequestType:     "ReturnTransaction",
		MerchantOrderID: req.RefundID,
		ReferencedOrder: req.GatewayTransactionID,
		Amount: fiservAmount{
			Total:    minorToDecimal(req.Amount, req.Currency),
			Currency: req.Currency,
		},
		Comments:       req.Reason,
		AdditionalData: req.Metadata,
	}

	raw, err := a.post(ctx, a.baseURL+"/payments", creds, body)
	if err != nil {
		return nil, err
	}
	return a.toResponse(raw, req.Currency)
}

// CheckRefundStatus implements Adapter.
func (a *FiservAdapter) CheckRefundStatus(ctx context.Context, gatewayRefundID string, creds credentials.Credentials) (*RefundResponse, error) {
	url := fmt.Sprintf("%s/payments/%s", a.baseURL, gatewayRefundID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fiserv: build request: %w", err)
	}
	a.sign(httpReq, creds, nil)

	raw, err := a.do(httpReq)
	if err != nil {
		return nil, err
	}
	// Currency comes back in the response; pass empty and let the response
	// amount drive conversion.
	return a.toResponse(raw, "")
}

// ValidateWebhookSignature implements Adapter using hex HMAC-SHA256.
func (a *FiservAdapter) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	return validHMACHex(payload, signature, secret)
}

type fiservWebhookPayload struct {
	EventID           string       `json:"eventId"`
	EventType         string       `json:"eventType"`
	IPGTransactionID  string       `json:"ipgTransactionId"`
	MerchantOrderID   string       `json:"merchantOrderId"`
	TransactionStatus string       `json:"transactionStatus"`
	Amount            fiservAmount `json:"transactionAmount"`
	TransactionTime   int64        `json:"transactionTime"`
}

// ParseWebhookEvent implements Adapter.
func (a *FiservAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var p fiservWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("fiserv: parse webhook payload: %w", err)
	}

	status := fiservStatus(p.TransactionStatus)
	amount := int64(0)
	if p.Amount.Total != "" {
		v, err := decimalToMinor(p.Amount.Total, p.Amount.Currency)
		if err != nil {
			return nil, err
		}
		amount = v
	}

	return &WebhookEvent{
		EventID:         p.EventID,
		EventType:       standardEventType(status),
		GatewayType:     TypeFiserv,
		GatewayRefundID: p.IPGTransactionID,
		RefundID:        p.MerchantOrderID,
		Status:          status,
		Amount:          amount,
		Currency:        p.Amount.Currency,
		OccurredAt:      time.UnixMilli(p.TransactionTime).UTC(),
		Raw:             payload,
	}, nil
}

func (a *FiservAdapter) toResponse(raw []byte, fallbackCurrency string) (*RefundResponse, error) {
	var resp fiservRefundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("fiserv: decode response: %w", err)
	}

	currency := resp.ApprovedAmount.Currency
	if currency == "" {
		currency = fallbackCurrency
	}

	status := fiservStatus(resp.TransactionStatus)
	out := &RefundResponse{
		Success:             status != RefundStatusFailed,
		GatewayRefundID:     resp.IPGTransactionID,
		Status:              status,
		GatewayResponseCode: resp.TransactionResult,
		RawResponse:         raw,
	}
	if resp.ApprovedAmount.Total != "" {
		processed, err := decimalToMinor(resp.ApprovedAmount.Total, currency)
		if err != nil {
			return nil, err
		}
		out.ProcessedAmount = &processed
	}
	if resp.TransactionTime > 0 {
		processing := time.UnixMilli(resp.TransactionTime).UTC()
		out.ProcessingDate = &processing
	}
	if status == RefundStatusFailed {
		out.ErrorCode = string(errors.ErrCodeGatewayValidation)
		if resp.Error != nil {
			out.ErrorMessage = resp.Error.Message
			out.GatewayResponseCode = resp.Error.Code
		}
	}
	return out, nil
}

func fiservStatus(s string) RefundStatus {
	switch s {
	case "APPROVED":
		return RefundStatusCompleted
	case "WAITING", "PENDING":
		return RefundStatusPending
	default:
		return RefundStatusFailed
	}
}

// sign attaches Fiserv's Api-Key / Timestamp / Message-Signature headers.
// The signature is base64 HMAC-SHA256 over apiKey + clientRequestId +
// timestamp + body, keyed by the API secret.
func (a *FiservAdapter) sign(req *http.Request, creds credentials.Credentials, body []byte) {
	clientRequestID := randomRequestID()
	ts := strconv.FormatInt(a.now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, []byte(creds.APISecret))
	mac.Write([]byte(creds.APIKey))
	mac.Write([]byte(clientRequestID))
	mac.Write([]byte(ts))
	mac.Write(body)

	req.Header.Set("Api-Key", creds.APIKey)
	req.Header.Set("Client-Request-Id", clientRequestID)
	req.Header.Set("Timestamp", ts)
	req.Header.Set("Message-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func randomRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

func (a *FiservAdapter) post(ctx context.Context, url string, creds credentials.Credentials, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("fiserv: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("fiserv: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.sign(httpReq, creds, payload)
	return a.do(httpReq)
}

func (a *FiservAdapter) do(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, transportError(TypeFiserv, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(TypeFiserv, err)
	}
	if resp.StatusCode >= 400 {
		return nil, a.mapError(resp.StatusCode, raw)
	}
	return raw, nil
}

// mapError translates Fiserv HTTP failures into the standard taxonomy.
func (a *FiservAdapter) mapError(status int, raw []byte) error {
	var body fiservRefundResponse
	_ = json.Unmarshal(raw, &body)

	ge := &errors.GatewayError{
		Gateway: TypeFiserv.String(),
		Message: fmt.Sprintf("HTTP %d", status),
	}
	if body.Error != nil {
		ge.Message = body.Error.Message
		ge.GatewayCode = body.Error.Code
	}
	switch {
	case status == 401 || status == 403:
		ge.Code = errors.ErrCodeGatewayAuthentication
	case status == 429:
		ge.Code = errors.ErrCodeGatewayRateLimited
	case status >= 500:
		ge.Code = errors.ErrCodeGatewayServerError
	case status >= 400:
		ge.Code = errors.ErrCodeGatewayValidation
	}
	ge.Retryable = ge.Code.IsRetryable()
	return ge
}
