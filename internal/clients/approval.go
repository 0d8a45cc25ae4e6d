package clients

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/metrics"
)

// ApprovalDecision is the outcome of a manual refund review.
type ApprovalDecision struct {
	RefundID   string    `json:"refundId"`
	Approved   bool      `json:"approved"`
	ReviewerID string    `json:"reviewerId"`
	Comment    string    `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decidedAt"`
}

// ApprovalCheck is the rule engine's verdict on a refund, with the rules
// that flagged it for review.
type ApprovalCheck struct {
	RequiresApproval bool     `json:"requiresApproval"`
	MatchedRules     []string `json:"matchedRules,omitempty"`
}

// ApprovalClient talks to the approval service, which queues large
// refunds for manual review.
type ApprovalClient struct {
	http *httpClient
}

// NewApprovalClient creates an approval service client.
func NewApprovalClient(cfg config.CollaboratorConfig, breakers *BreakerManager, collector *metrics.Metrics) *ApprovalClient {
	return &ApprovalClient{http: newHTTPClient(cfg, ServiceApproval, breakers, collector)}
}

// RequiresApproval asks whether a refund of this size needs manual review.
// Merchant-level policy may set a lower threshold than the global default.
func (c *ApprovalClient) RequiresApproval(ctx context.Context, merchantID string, amount int64, currency string) (ApprovalCheck, error) {
	var out ApprovalCheck
	body := map[string]any{
		"merchantId": merchantID,
		"amount":     amount,
		"currency":   currency,
	}
	if err := c.http.doJSON(ctx, http.MethodPost, "/v1/approvals/check", nil, body, &out); err != nil {
		return ApprovalCheck{}, err
	}
	return out, nil
}

// CreateRequest files a pending review for the refund.
func (c *ApprovalClient) CreateRequest(ctx context.Context, refundID, merchantID string, amount int64, currency, reason string) error {
	body := map[string]any{
		"refundId":   refundID,
		"merchantId": merchantID,
		"amount":     amount,
		"currency":   currency,
		"reason":     reason,
	}
	return c.http.doJSON(ctx, http.MethodPost, "/v1/approvals", nil, body, nil)
}

// GetDecision fetches the review outcome. While the review is still
// pending, this returns an approval_pending business error.
func (c *ApprovalClient) GetDecision(ctx context.Context, refundID string) (*ApprovalDecision, error) {
	var decision ApprovalDecision
	err := c.http.doJSON(ctx, http.MethodGet, "/v1/approvals/"+refundID, nil, nil, &decision)
	if err != nil {
		var se *statusError
		if stderrors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, errors.NewBusinessError(errors.ErrCodeApprovalPending,
				"refund "+refundID+" is awaiting manual review",
				"wait for the reviewer's decision")
		}
		return nil, err
	}
	return &decision, nil
}
