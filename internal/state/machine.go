// Package state implements the refund lifecycle state machine. It is pure:
// no I/O, no clocks, no shared state. Callers own persistence and locking.
package state

import (
	"fmt"
)

// Status is a refund request lifecycle status.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusSubmitted        Status = "SUBMITTED"
	StatusValidationFailed Status = "VALIDATION_FAILED"
	StatusPendingApproval  Status = "PENDING_APPROVAL"
	StatusProcessing       Status = "PROCESSING"
	StatusGatewayPending   Status = "GATEWAY_PENDING"
	StatusGatewayError     Status = "GATEWAY_ERROR"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
	StatusRejected         Status = "REJECTED"
	StatusCanceled         Status = "CANCELED"
)

// transitions is the single source of truth for the status graph.
// Terminal statuses map to an empty set.
var transitions = map[Status][]Status{
	StatusDraft:            {StatusSubmitted, StatusCanceled},
	StatusSubmitted:        {StatusValidationFailed, StatusPendingApproval, StatusProcessing, StatusCanceled},
	StatusValidationFailed: {},
	StatusPendingApproval:  {StatusRejected, StatusProcessing, StatusCanceled},
	StatusProcessing:       {StatusGatewayPending, StatusCompleted, StatusFailed},
	StatusGatewayPending:   {StatusCompleted, StatusGatewayError},
	StatusGatewayError:     {StatusGatewayPending, StatusFailed},
	StatusCompleted:        {},
	StatusFailed:           {},
	StatusRejected:         {},
	StatusCanceled:         {},
}

// InvalidTransitionError reports a rejected status transition, carrying the
// transitions that would have been accepted.
type InvalidTransitionError struct {
	Current Status
	Next    Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	if _, known := transitions[e.Current]; !known {
		return fmt.Sprintf("state: unknown current status %q", e.Current)
	}
	return fmt.Sprintf("state: invalid transition %s -> %s (allowed: %v)", e.Current, e.Next, e.Allowed)
}

// ValidateTransition reports whether from -> to is an edge of the status
// graph. An unknown from status has no edges.
func ValidateTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ExecuteTransition returns the new status if the transition is legal.
// Identity transitions are no-ops and always succeed, terminal statuses
// included.
func ExecuteTransition(from, to Status) (Status, error) {
	if from == to {
		return to, nil
	}
	if !ValidateTransition(from, to) {
		return "", &InvalidTransitionError{Current: from, Next: to, Allowed: AvailableTransitions(from)}
	}
	return to, nil
}

// IsTerminal reports whether no outbound transitions exist for s.
// Unknown statuses are not terminal; they are invalid.
func IsTerminal(s Status) bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

// AvailableTransitions returns the statuses reachable from s in one step.
func AvailableTransitions(s Status) []Status {
	allowed, ok := transitions[s]
	if !ok {
		return []Status{}
	}
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// Conditions carries the signals NextState translates into a status.
// Pointer fields are tri-state: nil means "no signal yet".
type Conditions struct {
	RequiresApproval      bool
	ApprovalGranted       *bool
	ValidationPassed      bool
	GatewaySuccess        *bool
	GatewayErrorRetryable bool
	MaxRetriesExceeded    bool
}

// NextState derives the single correct next status from the current status
// and the given conditions, then re-validates the result against the graph.
// If the decision logic and the graph ever disagree the caller gets an error,
// not a silently broken invariant.
func NextState(current Status, c Conditions) (Status, error) {
	next, err := decide(current, c)
	if err != nil {
		return "", err
	}
	return ExecuteTransition(current, next)
}

func decide(current Status, c Conditions) (Status, error) {
	switch current {
	case StatusDraft:
		return StatusSubmitted, nil

	case StatusSubmitted:
		if !c.ValidationPassed {
			return StatusValidationFailed, nil
		}
		if c.RequiresApproval {
			return StatusPendingApproval, nil
		}
		return StatusProcessing, nil

	case StatusPendingApproval:
		// No decision yet: hold position, caller polls the approval oracle.
		if c.ApprovalGranted == nil {
			return StatusPendingApproval, nil
		}
		if *c.ApprovalGranted {
			return StatusProcessing, nil
		}
		return StatusRejected, nil

	case StatusProcessing:
		if c.GatewaySuccess == nil {
			// Gateway accepted the refund but settlement is asynchronous.
			return StatusGatewayPending, nil
		}
		if *c.GatewaySuccess {
			return StatusCompleted, nil
		}
		return StatusFailed, nil

	case StatusGatewayPending:
		if c.GatewaySuccess != nil && *c.GatewaySuccess {
			return StatusCompleted, nil
		}
		if c.GatewaySuccess != nil {
			return StatusGatewayError, nil
		}
		return StatusGatewayPending, nil

	case StatusGatewayError:
		// Exhausted retries win over retryability.
		if c.MaxRetriesExceeded {
			return StatusFailed, nil
		}
		if c.GatewayErrorRetryable {
			return StatusGatewayPending, nil
		}
		return StatusFailed, nil

	case StatusValidationFailed, StatusCompleted, StatusFailed, StatusRejected, StatusCanceled:
		return current, nil

	default:
		return "", &InvalidTransitionError{Current: current, Next: "", Allowed: nil}
	}
}
