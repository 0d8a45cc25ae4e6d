package gateway

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/circuitbreaker"
	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/credentials"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/metrics"
	"github.com/BrikPay/refunds-service/internal/retry"
)

// Service composes credential resolution, circuit breaking, and retries
// around the gateway adapters. It owns one breaker and one retry strategy
// per gateway type for the process lifetime.
type Service struct {
	adapters map[Type]Adapter
	breakers map[Type]*circuitbreaker.Breaker
	retries  map[Type]*retry.Strategy
	timeouts map[Type]time.Duration
	creds    *credentials.Manager
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// DefaultAdapters builds the production adapter set for enabled gateways.
func DefaultAdapters(cfg config.GatewaysConfig) map[Type]Adapter {
	adapters := make(map[Type]Adapter)
	if cfg.Stripe.Enabled {
		adapters[TypeStripe] = NewStripeAdapter()
	}
	if cfg.Adyen.Enabled {
		adapters[TypeAdyen] = NewAdyenAdapter(cfg.Adyen.APIBase, cfg.Adyen.RequestTimeout.Duration)
	}
	if cfg.Fiserv.Enabled {
		adapters[TypeFiserv] = NewFiservAdapter(cfg.Fiserv.APIBase, cfg.Fiserv.RequestTimeout.Duration)
	}
	return adapters
}

// NewService wires resilience around the given adapters. Every registered
// adapter gets its own breaker and retry strategy tuned from config.
func NewService(adapters map[Type]Adapter, cfg config.GatewaysConfig, credsMgr *credentials.Manager, logger zerolog.Logger, collector *metrics.Metrics) *Service {
	s := &Service{
		adapters: adapters,
		breakers: make(map[Type]*circuitbreaker.Breaker),
		retries:  make(map[Type]*retry.Strategy),
		timeouts: make(map[Type]time.Duration),
		creds:    credsMgr,
		logger:   logger,
		metrics:  collector,
	}

	perType := map[Type]config.GatewayConfig{
		TypeStripe: cfg.Stripe,
		TypeAdyen:  cfg.Adyen,
		TypeFiserv: cfg.Fiserv,
	}

	for t := range adapters {
		gwCfg := perType[t]
		name := t.String()

		s.breakers[t] = circuitbreaker.New(circuitbreaker.Config{
			Name:             name,
			FailureThreshold: gwCfg.CircuitBreaker.FailureThreshold,
			FailureTimeout:   gwCfg.CircuitBreaker.FailureTimeout.Duration,
			ResetTimeout:     gwCfg.CircuitBreaker.ResetTimeout.Duration,
			OnStateChange:    s.onCircuitStateChange,
		})

		s.retries[t] = retry.New(retry.Config{
			MaxAttempts:   gwCfg.Retry.MaxAttempts,
			InitialDelay:  gwCfg.Retry.InitialDelay.Duration,
			BackoffFactor: gwCfg.Retry.BackoffFactor,
			Jitter:        gwCfg.Retry.Jitter,
			RetryableErrors: []errors.ErrorCode{
				errors.ErrCodeGatewayTimeout,
				errors.ErrCodeGatewayConnection,
				errors.ErrCodeGatewayRateLimited,
				errors.ErrCodeGatewayServerError,
			},
		})

		s.timeouts[t] = gwCfg.RequestTimeout.Duration
	}

	return s
}

func (s *Service) onCircuitStateChange(name string, from, to circuitbreaker.State) {
	s.logger.Warn().
		Str("gateway", name).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("circuit.state_changed")
	if s.metrics != nil {
		s.metrics.CircuitState.WithLabelValues(name).Set(metrics.CircuitStateValue(string(to)))
		s.metrics.CircuitTransitionsTotal.WithLabelValues(name, string(to)).Inc()
	}
}

// ProcessRefund submits a refund to the gateway with full resilience
// composition: credentials, then retry wrapping the breaker wrapping the
// adapter. A refused (open-circuit) call surfaces as the distinguished
// circuit_open gateway error and is not retried.
func (s *Service) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	adapter, ok := s.adapters[req.GatewayType]
	if !ok {
		return nil, &errors.UnsupportedGatewayError{Gateway: string(req.GatewayType)}
	}

	creds, err := s.creds.Resolve(ctx, req.MerchantID, req.GatewayType.String())
	if err != nil {
		return nil, err
	}

	return s.callWithResilience(ctx, req.GatewayType, "process_refund", func(callCtx context.Context) (*RefundResponse, error) {
		return adapter.ProcessRefund(callCtx, req, creds)
	})
}

// CheckRefundStatus queries the gateway for the current refund outcome.
// Read-only, but it goes through the same resilience composition.
func (s *Service) CheckRefundStatus(ctx context.Context, gatewayRefundID, merchantID string, gatewayType Type) (*RefundResponse, error) {
	adapter, ok := s.adapters[gatewayType]
	if !ok {
		return nil, &errors.UnsupportedGatewayError{Gateway: string(gatewayType)}
	}

	creds, err := s.creds.Resolve(ctx, merchantID, gatewayType.String())
	if err != nil {
		return nil, err
	}

	return s.callWithResilience(ctx, gatewayType, "check_status", func(callCtx context.Context) (*RefundResponse, error) {
		return adapter.CheckRefundStatus(callCtx, gatewayRefundID, creds)
	})
}

// callWithResilience is the shared retry(breaker(adapter)) pipeline.
func (s *Service) callWithResilience(ctx context.Context, t Type, operation string, call func(context.Context) (*RefundResponse, error)) (*RefundResponse, error) {
	breaker := s.breakers[t]
	strategy := s.retries[t]
	name := t.String()
	start := time.Now()

	if s.metrics != nil {
		s.metrics.GatewayCallsTotal.WithLabelValues(name, operation).Inc()
	}

	op := func() (*RefundResponse, error) {
		resp, err := circuitbreaker.Execute(breaker, func() (*RefundResponse, error) {
			callCtx := ctx
			if timeout := s.timeouts[t]; timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return call(callCtx)
		}, nil)
		if err != nil {
			var oe *circuitbreaker.OpenError
			if stderrors.As(err, &oe) {
				return nil, errors.NewCircuitOpenError(name)
			}
			return nil, err
		}
		return resp, nil
	}

	onRetry := func(err error, attempt int, delay time.Duration) {
		if s.metrics != nil {
			s.metrics.GatewayRetriesTotal.WithLabelValues(name, operation).Inc()
		}
		s.logger.Warn().
			Err(err).
			Str("gateway", name).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("gateway.call_retry")
	}

	resp, err := retry.Execute(ctx, strategy, op, onRetry)

	if s.metrics != nil {
		s.metrics.GatewayCallDuration.WithLabelValues(name, operation).Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.GatewayCallFailedTotal.WithLabelValues(name, operation, string(errors.CodeOf(err))).Inc()
		} else {
			s.metrics.GatewayCallSuccessTotal.WithLabelValues(name, operation).Inc()
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ValidateWebhookSignature verifies an inbound webhook against the
// merchant's webhook secret. Receiver-side: no breaker, no retries.
func (s *Service) ValidateWebhookSignature(ctx context.Context, gatewayType Type, merchantID string, payload []byte, signature string) (bool, error) {
	adapter, ok := s.adapters[gatewayType]
	if !ok {
		return false, &errors.UnsupportedGatewayError{Gateway: string(gatewayType)}
	}
	creds, err := s.creds.Resolve(ctx, merchantID, gatewayType.String())
	if err != nil {
		return false, err
	}
	return adapter.ValidateWebhookSignature(payload, signature, creds.WebhookSecret), nil
}

// ParseWebhookEvent converts a raw gateway webhook into the standard shape.
func (s *Service) ParseWebhookEvent(gatewayType Type, payload []byte) (*WebhookEvent, error) {
	adapter, ok := s.adapters[gatewayType]
	if !ok {
		return nil, &errors.UnsupportedGatewayError{Gateway: string(gatewayType)}
	}
	return adapter.ParseWebhookEvent(payload)
}

// GetCircuitStatus returns the breaker snapshot for one gateway.
func (s *Service) GetCircuitStatus(gatewayType Type) (circuitbreaker.Status, error) {
	breaker, ok := s.breakers[gatewayType]
	if !ok {
		return circuitbreaker.Status{}, &errors.UnsupportedGatewayError{Gateway: string(gatewayType)}
	}
	return breaker.GetStatus(), nil
}

// CircuitStatuses returns snapshots for every registered gateway.
func (s *Service) CircuitStatuses() []circuitbreaker.Status {
	out := make([]circuitbreaker.Status, 0, len(s.breakers))
	for _, t := range AllTypes() {
		if b, ok := s.breakers[t]; ok {
			out = append(out, b.GetStatus())
		}
	}
	return out
}

// ResetCircuitBreaker is the administrative escape hatch for a stuck
// breaker.
func (s *Service) ResetCircuitBreaker(gatewayType Type) error {
	breaker, ok := s.breakers[gatewayType]
	if !ok {
		return &errors.UnsupportedGatewayError{Gateway: string(gatewayType)}
	}
	breaker.Reset()
	s.logger.Info().Str("gateway", gatewayType.String()).Msg("circuit.reset")
	return nil
}

// ForceCircuitOpen pins a gateway's breaker open, shedding all traffic to
// it until it is reset or forced closed.
func (s *Service) ForceCircuitOpen(gatewayType Type) error {
	breaker, ok := s.breakers[gatewayType]
	if !ok {
		return &errors.UnsupportedGatewayError{Gateway: string(gatewayType)}
	}
	breaker.ForceOpen()
	s.logger.Warn().Str("gateway", gatewayType.String()).Msg("circuit.force_open")
	return nil
}

// ForceCircuitClosed pins a gateway's breaker closed, letting traffic
// through regardless of recent failures.
func (s *Service) ForceCircuitClosed(gatewayType Type) error {
	breaker, ok := s.breakers[gatewayType]
	if !ok {
		return &errors.UnsupportedGatewayError{Gateway: string(gatewayType)}
	}
	breaker.ForceClose()
	s.logger.Warn().Str("gateway", gatewayType.String()).Msg("circuit.force_close")
	return nil
}

// MaxAttempts exposes the configured retry cap for a gateway, used by the
// state machine to decide when retries are exhausted.
func (s *Service) MaxAttempts(gatewayType Type) int {
	if strategy, ok := s.retries[gatewayType]; ok {
		return strategy.MaxAttempts()
	}
	return 1
}
