// Package gateway integrates the refund engine with third-party payment
// processors. Each supported gateway has an adapter translating the
// standardized refund request/response to its API, and the integration
// service wraps every adapter call in a circuit breaker and retry strategy.
package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type identifies a supported payment gateway.
type Type string

const (
	TypeStripe Type = "STRIPE"
	TypeAdyen  Type = "ADYEN"
	TypeFiserv Type = "FISERV"
)

// AllTypes lists every supported gateway type.
func AllTypes() []Type {
	return []Type{TypeStripe, TypeAdyen, TypeFiserv}
}

// ParseType normalizes a gateway type string.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToUpper(s)) {
	case TypeStripe:
		return TypeStripe, nil
	case TypeAdyen:
		return TypeAdyen, nil
	case TypeFiserv:
		return TypeFiserv, nil
	default:
		return "", fmt.Errorf("gateway: unknown type %q", s)
	}
}

// String returns the lower-case name used in logs, metrics, and secret keys.
func (t Type) String() string {
	return strings.ToLower(string(t))
}

// RefundStatus is the standardized cross-gateway refund status.
type RefundStatus string

const (
	RefundStatusCompleted RefundStatus = "COMPLETED"
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// RefundRequest is the standardized outbound refund request.
type RefundRequest struct {
	MerchantID           string            `json:"merchantId"`
	TransactionID        string            `json:"transactionId"`
	RefundID             string            `json:"refundId"`
	GatewayType          Type              `json:"gatewayType"`
	GatewayTransactionID string            `json:"gatewayTransactionId"`
	Amount               int64             `json:"amount"` // smallest currency unit
	Currency             string            `json:"currency"`
	Reason               string            `json:"reason,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// RefundResponse is the standardized gateway refund outcome.
// Success implies GatewayRefundID is set; failure implies ErrorCode is set.
type RefundResponse struct {
	Success                 bool            `json:"success"`
	GatewayRefundID         string          `json:"gatewayRefundId,omitempty"`
	Status                  RefundStatus    `json:"status"`
	ProcessedAmount         *int64          `json:"processedAmount,omitempty"`
	ProcessingDate          *time.Time      `json:"processingDate,omitempty"`
	EstimatedSettlementDate *time.Time      `json:"estimatedSettlementDate,omitempty"`
	ErrorCode               string          `json:"errorCode,omitempty"`
	ErrorMessage            string          `json:"errorMessage,omitempty"`
	GatewayResponseCode     string          `json:"gatewayResponseCode,omitempty"`
	Retryable               bool            `json:"retryable"`
	RawResponse             json.RawMessage `json:"rawResponse,omitempty"`
}

// WebhookEvent is the standardized shape of a parsed gateway webhook.
type WebhookEvent struct {
	EventID         string          `json:"eventId"`
	EventType       string          `json:"eventType"` // refund.completed | refund.pending | refund.failed
	GatewayType     Type            `json:"gatewayType"`
	GatewayRefundID string          `json:"gatewayRefundId"`
	RefundID        string          `json:"refundId,omitempty"` // our ID, when the gateway echoes metadata
	Status          RefundStatus    `json:"status"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	OccurredAt      time.Time       `json:"occurredAt"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// currencyExponents maps ISO 4217 codes with non-default minor-unit
// exponents. Everything else uses 2.
var currencyExponents = map[string]int{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "MGA": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0,
	"VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// currencyExponent returns the minor-unit exponent for an ISO 4217 code.
func currencyExponent(currency string) int {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// minorToDecimal formats a minor-unit amount as the exact decimal string the
// gateway expects, e.g. 1050 USD -> "10.50", 1050 JPY -> "1050".
func minorToDecimal(amount int64, currency string) string {
	exp := currencyExponent(currency)
	if exp == 0 {
		return strconv.FormatInt(amount, 10)
	}
	negative := amount < 0
	if negative {
		amount = -amount
	}
	pow := int64(1)
	for i := 0; i < exp; i++ {
		pow *= 10
	}
	whole := amount / pow
	frac := amount % pow
	s := fmt.Sprintf("%d.%0*d", whole, exp, frac)
	if negative {
		s = "-" + s
	}
	return s
}

// decimalToMinor parses a gateway decimal amount back into minor units.
// The conversion must be exact: fractional digits beyond the currency
// exponent are an error, never rounded.
func decimalToMinor(s, currency string) (int64, error) {
	exp := currencyExponent(currency)
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("gateway: empty amount")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > exp {
		if strings.Trim(frac[exp:], "0") != "" {
			return 0, fmt.Errorf("gateway: amount %q has more precision than %s allows", s, currency)
		}
		frac = frac[:exp]
	}
	for len(frac) < exp {
		frac += "0"
	}

	combined := whole + frac
	value, err := strconv.ParseInt(combined, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gateway: parse amount %q: %w", s, err)
	}
	if negative {
		value = -value
	}
	return value, nil
}
