package clients

import (
	"time"

	"github.com/sony/gobreaker"
)

// ServiceType identifies the internal collaborator services for circuit
// breaker isolation. Each service gets its own breaker so a failing
// collaborator cannot drag down calls to the healthy ones.
type ServiceType string

const (
	ServiceBalance  ServiceType = "balance_service"
	ServicePayment  ServiceType = "payment_service"
	ServiceApproval ServiceType = "approval_service"
)

// BreakerManager holds one gobreaker per collaborator service.
type BreakerManager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
}

// NewBreakerManager creates breakers with defaults tuned for in-cluster
// RPC: trip on 5 consecutive failures, probe again after 30s.
func NewBreakerManager() *BreakerManager {
	m := &BreakerManager{breakers: make(map[ServiceType]*gobreaker.CircuitBreaker)}
	for _, svc := range []ServiceType{ServiceBalance, ServicePayment, ServiceApproval} {
		m.breakers[svc] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(svc),
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return m
}

// Execute wraps a collaborator call with its circuit breaker.
func (m *BreakerManager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State returns the breaker state name for a service.
func (m *BreakerManager) State(service ServiceType) string {
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}
