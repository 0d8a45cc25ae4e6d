// Package circuitbreaker implements a per-gateway failure gate with
// CLOSED/OPEN/HALF_OPEN states. Unlike ratio-based breakers, the reopen
// probe here is decisive: one success closes the circuit, one failure
// reopens it, and exactly one caller is let through during the probe window.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config configures a single breaker.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures before tripping
	FailureTimeout   time.Duration // failures older than this no longer count toward the threshold
	ResetTimeout     time.Duration // how long the circuit stays open before probing
	HealthCheck      func() bool   // optional gate on the reopen probe

	// OnStateChange is invoked outside the lock on every state transition.
	OnStateChange func(name string, from, to State)
}

// OpenError is returned by Execute when the gate denies a call and no
// fallback is provided.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open", e.Name)
}

// Status is an observability snapshot of a breaker.
type Status struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failureCount"`
	LastFailureTime time.Time `json:"lastFailureTime"`
}

// Breaker tracks failures for one gateway. All state is mutex-guarded; the
// breaker is shared by every concurrent refund targeting its gateway.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time

	now func() time.Time // swapped in tests
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.cfg.Name }

// allow decides whether a call may proceed, transitioning OPEN -> HALF_OPEN
// when the reset timeout has elapsed. The transition happens before the probe
// runs, under the lock, so only the caller that performed it gets through.
func (b *Breaker) allow() (ok bool, transition func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, nil
	case StateHalfOpen:
		// A probe is already in flight.
		return false, nil
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) < b.cfg.ResetTimeout {
			return false, nil
		}
		if b.cfg.HealthCheck != nil && !b.cfg.HealthCheck() {
			return false, nil
		}
		from := b.state
		b.state = StateHalfOpen
		return true, b.notify(from, StateHalfOpen)
	default:
		return false, nil
	}
}

// RecordSuccess resets the failure count and, from HALF_OPEN, closes the
// circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failureCount = 0
	b.state = StateClosed
	notify := b.notify(from, StateClosed)
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// RecordFailure increments the failure count and updates the failure
// timestamp. Any failure while probing reopens immediately; in CLOSED the
// circuit trips once the threshold is crossed. Failures older than the
// failure timeout no longer count toward the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	now := b.now()

	if b.cfg.FailureTimeout > 0 && b.failureCount > 0 && now.Sub(b.lastFailureTime) > b.cfg.FailureTimeout {
		b.failureCount = 0
	}
	b.failureCount++
	b.lastFailureTime = now

	if b.state == StateHalfOpen || (b.state == StateClosed && b.failureCount >= b.cfg.FailureThreshold) {
		b.state = StateOpen
	}
	notify := b.notify(from, b.state)
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Execute runs op if the gate allows it, recording the outcome. When the
// gate denies the call, fallback is invoked if provided, otherwise an
// OpenError is returned. When op fails and a fallback is provided, the
// fallback result replaces the propagated error; the failure is still
// recorded against the breaker.
func Execute[T any](b *Breaker, op func() (T, error), fallback func() (T, error)) (T, error) {
	ok, notify := b.allow()
	if notify != nil {
		notify()
	}
	if !ok {
		if fallback != nil {
			return fallback()
		}
		var zero T
		return zero, &OpenError{Name: b.cfg.Name}
	}

	result, err := op()
	if err != nil {
		b.RecordFailure()
		if fallback != nil {
			return fallback()
		}
		var zero T
		return zero, err
	}
	b.RecordSuccess()
	return result, nil
}

// ForceOpen is an administrative override that opens the circuit.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	from := b.state
	b.state = StateOpen
	b.lastFailureTime = b.now()
	notify := b.notify(from, StateOpen)
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// ForceClose is an administrative override that closes the circuit and
// clears the failure count.
func (b *Breaker) ForceClose() {
	b.RecordSuccess()
}

// Reset restores the breaker to its initial state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	notify := b.notify(from, StateClosed)
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// GetStatus returns a snapshot for observability.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:            b.cfg.Name,
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}

// notify returns a deferred state-change callback, or nil if no transition
// happened. Must be called with the lock held; the callback must be invoked
// after releasing it.
func (b *Breaker) notify(from, to State) func() {
	if from == to || b.cfg.OnStateChange == nil {
		return nil
	}
	cb := b.cfg.OnStateChange
	name := b.cfg.Name
	return func() { cb(name, from, to) }
}
