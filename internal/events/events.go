// Package events defines the refund lifecycle event contract consumed by
// notification handlers and downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event types emitted by the refund engine.
const (
	TypeRefundCreated       = "refund.created"
	TypeRefundStatusChanged = "refund.status_changed"
)

// Event is the payload for every refund lifecycle event.
type Event struct {
	Type           string    `json:"type"`
	RefundID       string    `json:"refundId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	TransactionID  string    `json:"transactionId"`
	MerchantID     string    `json:"merchantId"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Emitter publishes refund lifecycle events. Emission is best-effort; a
// failing consumer must never block or fail the refund itself.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// LogEmitter writes events to the structured log. It is the default sink
// and doubles as an audit trail.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, event Event) {
	e.logger.Info().
		Str("event_type", event.Type).
		Str("refund_id", event.RefundID).
		Str("status", event.Status).
		Str("previous_status", event.PreviousStatus).
		Str("transaction_id", event.TransactionID).
		Str("merchant_id", event.MerchantID).
		Int64("amount", event.Amount).
		Str("currency", event.Currency).
		Msg("refund.event")
}

// MultiEmitter fans one event out to several sinks.
type MultiEmitter struct {
	sinks []Emitter
}

// NewMultiEmitter combines emitters; nil sinks are skipped.
func NewMultiEmitter(sinks ...Emitter) *MultiEmitter {
	out := &MultiEmitter{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

func (e *MultiEmitter) Emit(ctx context.Context, event Event) {
	for _, s := range e.sinks {
		s.Emit(ctx, event)
	}
}
