// Package refund holds the refund request entity and the manager that
// orchestrates its lifecycle from creation through settlement.
package refund

import (
	"context"
	"time"

	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/methods"
	"github.com/BrikPay/refunds-service/internal/state"
)

// StatusChange is one entry in a refund's append-only status history.
type StatusChange struct {
	Status    state.Status `json:"status" bson:"status"`
	Timestamp time.Time    `json:"timestamp" bson:"timestamp"`
	ChangedBy string       `json:"changedBy" bson:"changedBy"`
	Reason    string       `json:"reason,omitempty" bson:"reason,omitempty"`
}

// Refund is the central entity: one request to return money to a customer.
type Refund struct {
	ID            string `json:"refundRequestId" bson:"_id"`
	TransactionID string `json:"transactionId" bson:"transactionId"`
	MerchantID    string `json:"merchantId" bson:"merchantId"`
	CustomerID    string `json:"customerId,omitempty" bson:"customerId,omitempty"`

	Amount   int64  `json:"amount" bson:"amount"` // smallest currency unit
	Currency string `json:"currency" bson:"currency"`

	Method        methods.RefundMethod `json:"refundMethod" bson:"refundMethod"`
	ReasonCode    string               `json:"reasonCode,omitempty" bson:"reasonCode,omitempty"`
	Reason        string               `json:"reason,omitempty" bson:"reason,omitempty"`
	BankAccountID string               `json:"bankAccountId,omitempty" bson:"bankAccountId,omitempty"`

	Status        state.Status   `json:"status" bson:"status"`
	StatusHistory []StatusChange `json:"statusHistory" bson:"statusHistory"`

	GatewayReference string `json:"gatewayReference,omitempty" bson:"gatewayReference,omitempty"`
	ApprovalID       string `json:"approvalId,omitempty" bson:"approvalId,omitempty"`

	FailureCode    errors.ErrorCode `json:"failureCode,omitempty" bson:"failureCode,omitempty"`
	FailureMessage string           `json:"failureMessage,omitempty" bson:"failureMessage,omitempty"`
	AttemptCount   int              `json:"attemptCount" bson:"attemptCount"`

	RequiresApproval        bool       `json:"requiresApproval" bson:"requiresApproval"`
	EstimatedSettlementDate *time.Time `json:"estimatedSettlementDate,omitempty" bson:"estimatedSettlementDate,omitempty"`

	Metadata            map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	SupportingDocuments []string          `json:"supportingDocuments,omitempty" bson:"supportingDocuments,omitempty"`

	CreatedBy   string     `json:"createdBy" bson:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" bson:"updatedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty" bson:"submittedAt,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty" bson:"processedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// transitionTo moves the refund through the state machine and appends the
// change to the history. History length strictly increases on every
// accepted transition.
func (r *Refund) transitionTo(to state.Status, changedBy, reason string, at time.Time) error {
	next, err := state.ExecuteTransition(r.Status, to)
	if err != nil {
		return err
	}
	r.Status = next
	r.StatusHistory = append(r.StatusHistory, StatusChange{
		Status:    next,
		Timestamp: at,
		ChangedBy: changedBy,
		Reason:    reason,
	})
	r.UpdatedAt = at
	return nil
}

// Page bounds list and search results.
type Page struct {
	Offset int
	Limit  int
}

// Query filters refund searches.
type Query struct {
	MerchantID    string
	TransactionID string
	Status        state.Status
	Method        methods.RefundMethod
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Repository persists refunds. Implementations must preserve the
// append-only semantics of StatusHistory.
type Repository interface {
	Create(ctx context.Context, r *Refund) error
	Update(ctx context.Context, r *Refund) error
	FindByID(ctx context.Context, id string) (*Refund, error)
	FindByMerchant(ctx context.Context, merchantID string, page Page) ([]*Refund, error)
	Search(ctx context.Context, q Query, page Page) ([]*Refund, error)
}

// NotFoundError marks a refund ID the repository does not know.
func NotFoundError(id string) error {
	return errors.NewBusinessError(errors.ErrCodeRefundNotFound,
		"refund "+id+" not found", "verify the refund ID")
}
