package refund

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/clients"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/events"
	"github.com/BrikPay/refunds-service/internal/gateway"
	"github.com/BrikPay/refunds-service/internal/metrics"
	"github.com/BrikPay/refunds-service/internal/methods"
	"github.com/BrikPay/refunds-service/internal/state"
)

// TransactionSource is the slice of the payment client the manager uses.
type TransactionSource interface {
	GetTransaction(ctx context.Context, transactionID string) (*clients.Transaction, error)
	RecordRefund(ctx context.Context, transactionID, refundID string, amount int64) error
}

// ApprovalOracle decides whether a refund needs manual review and files
// the review request. The check names the rules that matched, so the
// refund's audit trail records why a review was required.
type ApprovalOracle interface {
	RequiresApproval(ctx context.Context, merchantID string, amount int64, currency string) (clients.ApprovalCheck, error)
	CreateRequest(ctx context.Context, refundID, merchantID string, amount int64, currency, reason string) error
}

// MethodDispatcher routes refunds to their payment-method handler.
type MethodDispatcher interface {
	ResolveMethod(requested methods.RefundMethod, txn *clients.Transaction) (methods.RefundMethod, error)
	Validate(ctx context.Context, method methods.RefundMethod, req methods.Request) error
	Process(ctx context.Context, method methods.RefundMethod, req methods.Request) (*methods.Result, error)
}

// Manager orchestrates the refund lifecycle: create, submit, approve,
// process, and settle. All status mutations for one refund are serialized
// through a per-ID lock.
type Manager struct {
	repo        Repository
	payments    TransactionSource
	approvals   ApprovalOracle
	dispatcher  MethodDispatcher
	emitter     events.Emitter
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	locks       *keyedLocks
	maxAttempts int
	now         func() time.Time
}

// NewManager wires the refund lifecycle orchestrator. maxAttempts caps
// gateway redeliveries for one refund before it fails permanently.
func NewManager(repo Repository, payments TransactionSource, approvals ApprovalOracle, dispatcher MethodDispatcher, emitter events.Emitter, logger zerolog.Logger, collector *metrics.Metrics, maxAttempts int) *Manager {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Manager{
		repo:        repo,
		payments:    payments,
		approvals:   approvals,
		dispatcher:  dispatcher,
		emitter:     emitter,
		logger:      logger,
		metrics:     collector,
		locks:       newKeyedLocks(),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func newRefundID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "ref_" + hex.EncodeToString([]byte(time.Now().String()))[:24]
	}
	return "ref_" + hex.EncodeToString(b)
}

// Create validates the input against the transaction and stores a DRAFT
// refund. No money moves and no gateway is contacted.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Refund, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	txn, err := m.payments.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.MerchantID != in.MerchantID {
		return nil, errors.NewBusinessError(errors.ErrCodeTransactionNotFound,
			"transaction "+in.TransactionID+" does not belong to merchant "+in.MerchantID,
			"verify the transaction ID")
	}
	if in.Currency != txn.Currency {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidCurrency, "currency",
			"refund currency "+in.Currency+" does not match transaction currency "+txn.Currency)
	}
	if in.Amount > txn.RefundableAmount() {
		return nil, errors.NewValidationError(errors.ErrCodeAmountExceedsTransaction, "amount",
			"refund amount exceeds the transaction's refundable amount")
	}
	if txn.Status != "SETTLED" {
		return nil, errors.NewBusinessError(errors.ErrCodeTransactionNotRefundable,
			"transaction "+txn.ID+" is "+txn.Status+" and cannot be refunded",
			"wait for settlement or cancel the payment instead")
	}

	method, err := m.dispatcher.ResolveMethod(in.Method, txn)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	r := &Refund{
		ID:                  newRefundID(),
		TransactionID:       txn.ID,
		MerchantID:          in.MerchantID,
		CustomerID:          txn.CustomerID,
		Amount:              in.Amount,
		Currency:            in.Currency,
		Method:              method,
		ReasonCode:          in.ReasonCode,
		Reason:              in.Reason,
		BankAccountID:       in.BankAccountID,
		Status:              state.StatusDraft,
		Metadata:            in.Metadata,
		SupportingDocuments: in.SupportingDocuments,
		CreatedBy:           in.CreatedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
		StatusHistory: []StatusChange{{
			Status:    state.StatusDraft,
			Timestamp: now,
			ChangedBy: in.CreatedBy,
			Reason:    "refund request created",
		}},
	}

	if err := m.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	m.emit(ctx, events.TypeRefundCreated, r, "")
	m.logger.Info().
		Str("refund_id", r.ID).
		Str("transaction_id", r.TransactionID).
		Str("merchant_id", r.MerchantID).
		Int64("amount", r.Amount).
		Str("currency", r.Currency).
		Str("method", string(r.Method)).
		Msg("refund.created")
	return r, nil
}

// Submit moves a DRAFT refund toward processing. Method validation runs
// before any transition: a business rule violation (insufficient balance,
// unverified account) leaves the status untouched, while a stale-input
// validation failure records the SUBMITTED -> VALIDATION_FAILED path.
func (m *Manager) Submit(ctx context.Context, id, submittedBy string) (*Refund, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	r, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != state.StatusDraft {
		return nil, invalidLifecycleCall(r, state.StatusSubmitted)
	}

	txn, err := m.payments.GetTransaction(ctx, r.TransactionID)
	if err != nil {
		return nil, err
	}

	if err := m.dispatcher.Validate(ctx, r.Method, m.methodRequest(r, txn)); err != nil {
		if _, ok := errors.AsValidation(err); ok {
			// The request shape went stale since creation. Record the
			// failure through the machine rather than dropping it.
			now := m.now().UTC()
			prev := r.Status
			if terr := r.transitionTo(state.StatusSubmitted, submittedBy, "submitted", now); terr != nil {
				return nil, terr
			}
			if terr := r.transitionTo(state.StatusValidationFailed, "system", err.Error(), now); terr != nil {
				return nil, terr
			}
			r.FailureCode = errors.CodeOf(err)
			r.FailureMessage = err.Error()
			if uerr := m.repo.Update(ctx, r); uerr != nil {
				return nil, uerr
			}
			m.recordTransition(ctx, r, prev)
			return r, err
		}
		// Business errors leave the refund where it was.
		return nil, err
	}

	now := m.now().UTC()
	prev := r.Status
	if err := r.transitionTo(state.StatusSubmitted, submittedBy, "submitted", now); err != nil {
		return nil, err
	}
	r.SubmittedAt = &now

	check, err := m.approvals.RequiresApproval(ctx, r.MerchantID, r.Amount, r.Currency)
	if err != nil {
		return nil, err
	}
	r.RequiresApproval = check.RequiresApproval

	next, err := state.NextState(r.Status, state.Conditions{
		ValidationPassed: true,
		RequiresApproval: check.RequiresApproval,
	})
	if err != nil {
		return nil, err
	}
	reason := "validation passed"
	if next == state.StatusPendingApproval && len(check.MatchedRules) > 0 {
		reason = "flagged for review by rules: " + strings.Join(check.MatchedRules, ", ")
	}
	if err := r.transitionTo(next, "system", reason, now); err != nil {
		return nil, err
	}

	if next == state.StatusPendingApproval {
		if err := m.approvals.CreateRequest(ctx, r.ID, r.MerchantID, r.Amount, r.Currency, r.Reason); err != nil {
			return nil, err
		}
		r.ApprovalID = r.ID
	}

	if err := m.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	m.recordTransition(ctx, r, prev)
	return r, nil
}

// ApplyApprovalDecision records a reviewer's verdict on a refund waiting
// in PENDING_APPROVAL. Rejection is terminal; no gateway is ever called.
func (m *Manager) ApplyApprovalDecision(ctx context.Context, id string, approved bool, reviewerID, comment string) (*Refund, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	r, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != state.StatusPendingApproval {
		return nil, errors.NewBusinessError(errors.ErrCodeInvalidStateTransition,
			"refund "+id+" is "+string(r.Status)+", not awaiting approval",
			"check the refund status before deciding")
	}

	next, err := state.NextState(r.Status, state.Conditions{ApprovalGranted: &approved})
	if err != nil {
		return nil, err
	}

	prev := r.Status
	reason := "approved by reviewer"
	if !approved {
		reason = "rejected by reviewer"
		if comment != "" {
			reason += ": " + comment
		}
	}
	if err := r.transitionTo(next, reviewerID, reason, m.now().UTC()); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	m.recordTransition(ctx, r, prev)
	return r, nil
}

// Process runs the refund through its payment-method handler. Callable
// only from PROCESSING; the outcome drives COMPLETED, FAILED, or
// GATEWAY_PENDING.
func (m *Manager) Process(ctx context.Context, id string) (*Refund, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	r, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != state.StatusProcessing {
		return nil, errors.NewBusinessError(errors.ErrCodeInvalidStateTransition,
			"refund "+id+" is "+string(r.Status)+", not ready for processing",
			"submit the refund first")
	}

	txn, err := m.payments.GetTransaction(ctx, r.TransactionID)
	if err != nil {
		return nil, err
	}

	start := m.now()
	r.AttemptCount++
	result, err := m.dispatcher.Process(ctx, r.Method, m.methodRequest(r, txn))
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	prev := r.Status
	r.ProcessedAt = &now

	switch {
	case result.Success && result.Status == gateway.RefundStatusPending:
		// Gateway accepted; settlement confirmation arrives by webhook.
		r.GatewayReference = result.GatewayReference
		r.EstimatedSettlementDate = result.EstimatedSettlementDate
		next, derr := state.NextState(r.Status, state.Conditions{})
		if derr != nil {
			return nil, derr
		}
		if terr := r.transitionTo(next, "system", "gateway accepted, awaiting settlement", now); terr != nil {
			return nil, terr
		}

	case result.Success:
		r.GatewayReference = result.GatewayReference
		r.EstimatedSettlementDate = result.EstimatedSettlementDate
		succeeded := true
		next, derr := state.NextState(r.Status, state.Conditions{GatewaySuccess: &succeeded})
		if derr != nil {
			return nil, derr
		}
		if terr := r.transitionTo(next, "system", "refund completed", now); terr != nil {
			return nil, terr
		}
		r.CompletedAt = &now
		if rerr := m.payments.RecordRefund(ctx, r.TransactionID, r.ID, r.Amount); rerr != nil {
			// The refund itself succeeded; log the bookkeeping miss.
			m.logger.Error().Err(rerr).Str("refund_id", r.ID).Msg("refund.record_refund_failed")
		}

	default:
		succeeded := false
		next, derr := state.NextState(r.Status, state.Conditions{GatewaySuccess: &succeeded})
		if derr != nil {
			return nil, derr
		}
		reason := "refund failed"
		if result.Err != nil {
			r.FailureCode = errors.CodeOf(result.Err)
			r.FailureMessage = result.Err.Error()
			reason = result.Err.Error()
		}
		if r.Metadata == nil {
			r.Metadata = map[string]string{}
		}
		r.Metadata["recommendedAction"] = string(result.RecommendedAction)
		if terr := r.transitionTo(next, "system", reason, now); terr != nil {
			return nil, terr
		}
	}

	if err := m.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	m.recordTransition(ctx, r, prev)

	if m.metrics != nil {
		m.metrics.RefundsTotal.WithLabelValues(string(r.Method), string(r.Status)).Inc()
		m.metrics.RefundDuration.WithLabelValues(string(r.Method)).Observe(m.now().Sub(start).Seconds())
		if r.Status == state.StatusCompleted {
			m.metrics.RefundAmountTotal.WithLabelValues(string(r.Method), r.Currency).Add(float64(r.Amount))
		}
	}
	return r, nil
}

// SettleFromGateway applies an asynchronous gateway outcome to a refund
// waiting in GATEWAY_PENDING. Failures land in GATEWAY_ERROR and are then
// resolved by ResolveGatewayError.
func (m *Manager) SettleFromGateway(ctx context.Context, id string, succeeded bool, detail string) (*Refund, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	r, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != state.StatusGatewayPending {
		return nil, errors.NewBusinessError(errors.ErrCodeInvalidStateTransition,
			"refund "+id+" is "+string(r.Status)+", not awaiting gateway settlement",
			"check the refund status")
	}

	now := m.now().UTC()
	prev := r.Status
	next, err := state.NextState(r.Status, state.Conditions{GatewaySuccess: &succeeded})
	if err != nil {
		return nil, err
	}
	if err := r.transitionTo(next, "gateway", detail, now); err != nil {
		return nil, err
	}
	if next == state.StatusCompleted {
		r.CompletedAt = &now
		if rerr := m.payments.RecordRefund(ctx, r.TransactionID, r.ID, r.Amount); rerr != nil {
			m.logger.Error().Err(rerr).Str("refund_id", r.ID).Msg("refund.record_refund_failed")
		}
	}

	if err := m.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	m.recordTransition(ctx, r, prev)
	return r, nil
}

// ResolveGatewayError decides the fate of a refund in GATEWAY_ERROR:
// retryable errors re-enter GATEWAY_PENDING until the attempt cap,
// everything else fails permanently.
func (m *Manager) ResolveGatewayError(ctx context.Context, id string, retryable bool) (*Refund, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	r, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != state.StatusGatewayError {
		return nil, errors.NewBusinessError(errors.ErrCodeInvalidStateTransition,
			"refund "+id+" is "+string(r.Status)+", not in gateway error",
			"check the refund status")
	}

	r.AttemptCount++
	next, err := state.NextState(r.Status, state.Conditions{
		GatewayErrorRetryable: retryable,
		MaxRetriesExceeded:    r.AttemptCount >= m.maxAttempts,
	})
	if err != nil {
		return nil, err
	}

	prev := r.Status
	reason := "gateway error resolved: retrying"
	if next == state.StatusFailed {
		reason = "gateway error resolved: retries exhausted"
		if !retryable {
			reason = "gateway error resolved: not retryable"
		}
	}
	if err := r.transitionTo(next, "system", reason, m.now().UTC()); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	m.recordTransition(ctx, r, prev)
	return r, nil
}

// Cancel withdraws a refund that has not started moving money.
func (m *Manager) Cancel(ctx context.Context, id, canceledBy, reason string) (*Refund, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	r, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	prev := r.Status
	if err := r.transitionTo(state.StatusCanceled, canceledBy, reason, m.now().UTC()); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	m.recordTransition(ctx, r, prev)
	return r, nil
}

// Get fetches one refund.
func (m *Manager) Get(ctx context.Context, id string) (*Refund, error) {
	return m.repo.FindByID(ctx, id)
}

// ListByMerchant pages through a merchant's refunds.
func (m *Manager) ListByMerchant(ctx context.Context, merchantID string, page Page) ([]*Refund, error) {
	return m.repo.FindByMerchant(ctx, merchantID, page)
}

// Search filters refunds by the query criteria.
func (m *Manager) Search(ctx context.Context, q Query, page Page) ([]*Refund, error) {
	return m.repo.Search(ctx, q, page)
}

func (m *Manager) methodRequest(r *Refund, txn *clients.Transaction) methods.Request {
	return methods.Request{
		RefundID:      r.ID,
		MerchantID:    r.MerchantID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Reason:        r.Reason,
		Transaction:   txn,
		BankAccountID: r.BankAccountID,
		Metadata:      r.Metadata,
	}
}

func (m *Manager) emit(ctx context.Context, eventType string, r *Refund, previous state.Status) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(ctx, events.Event{
		Type:           eventType,
		RefundID:       r.ID,
		Status:         string(r.Status),
		PreviousStatus: string(previous),
		TransactionID:  r.TransactionID,
		MerchantID:     r.MerchantID,
		Amount:         r.Amount,
		Currency:       r.Currency,
		Reason:         r.Reason,
		OccurredAt:     m.now().UTC(),
	})
}

// recordTransition emits the status-changed event and transition metrics
// after a persisted status change.
func (m *Manager) recordTransition(ctx context.Context, r *Refund, previous state.Status) {
	m.emit(ctx, events.TypeRefundStatusChanged, r, previous)
	if m.metrics != nil {
		m.metrics.StateTransitionsTotal.WithLabelValues(string(previous), string(r.Status)).Inc()
	}
	m.logger.Info().
		Str("refund_id", r.ID).
		Str("from", string(previous)).
		Str("to", string(r.Status)).
		Msg("refund.status_changed")
}

func invalidLifecycleCall(r *Refund, attempted state.Status) error {
	return errors.NewBusinessError(errors.ErrCodeInvalidStateTransition,
		"refund "+r.ID+" is "+string(r.Status)+" and cannot move to "+string(attempted),
		"check the refund status")
}
