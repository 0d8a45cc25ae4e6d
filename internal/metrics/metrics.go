package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the refunds service.
type Metrics struct {
	// Refund lifecycle metrics
	RefundsTotal          *prometheus.CounterVec
	RefundAmountTotal     *prometheus.CounterVec
	RefundDuration        *prometheus.HistogramVec
	StateTransitionsTotal *prometheus.CounterVec

	// Gateway call metrics
	GatewayCallsTotal       *prometheus.CounterVec
	GatewayCallSuccessTotal *prometheus.CounterVec
	GatewayCallFailedTotal  *prometheus.CounterVec
	GatewayCallDuration     *prometheus.HistogramVec
	GatewayRetriesTotal     *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitState            *prometheus.GaugeVec
	CircuitTransitionsTotal *prometheus.CounterVec

	// Payment-method handler metrics
	HandlerResultsTotal *prometheus.CounterVec

	// Credential cache metrics
	CredentialCacheHits      *prometheus.CounterVec
	CredentialCacheMisses    *prometheus.CounterVec
	CredentialRotationsTotal prometheus.Counter

	// Collaborator RPC metrics
	CollaboratorCallsTotal   *prometheus.CounterVec
	CollaboratorCallDuration *prometheus.HistogramVec

	// Merchant webhook delivery metrics
	WebhookDeliveriesTotal  *prometheus.CounterVec
	WebhookDeliveryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		RefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_refunds_total",
				Help: "Total refund requests by method and terminal/current status",
			},
			[]string{"method", "status"},
		),
		RefundAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_refund_amount_total",
				Help: "Total refunded amount in smallest currency units",
			},
			[]string{"method", "currency"},
		),
		RefundDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brik_refund_duration_seconds",
				Help:    "Time from processRefundRequest start to outcome",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"method"},
		),
		StateTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_refund_state_transitions_total",
				Help: "Accepted refund status transitions",
			},
			[]string{"from", "to"},
		),

		GatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_gateway_calls_total",
				Help: "Gateway operation attempts",
			},
			[]string{"gateway", "operation"},
		),
		GatewayCallSuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_gateway_call_success_total",
				Help: "Gateway operations that completed successfully",
			},
			[]string{"gateway", "operation"},
		),
		GatewayCallFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_gateway_call_failed_total",
				Help: "Gateway operations that failed after retries",
			},
			[]string{"gateway", "operation", "code"},
		),
		GatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brik_gateway_call_duration_seconds",
				Help:    "Gateway operation duration including retries",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"gateway", "operation"},
		),
		GatewayRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_gateway_retries_total",
				Help: "Individual retry attempts against gateways",
			},
			[]string{"gateway", "operation"},
		),

		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "brik_circuit_breaker_state",
				Help: "Circuit breaker state per gateway (0=closed, 1=half-open, 2=open)",
			},
			[]string{"gateway"},
		),
		CircuitTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"gateway", "to"},
		),

		HandlerResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_handler_results_total",
				Help: "Payment-method handler outcomes",
			},
			[]string{"method", "outcome"},
		),

		CredentialCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_credential_cache_hits_total",
				Help: "Credential resolutions served from cache",
			},
			[]string{"gateway"},
		),
		CredentialCacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_credential_cache_misses_total",
				Help: "Credential resolutions that hit the secret store",
			},
			[]string{"gateway"},
		),
		CredentialRotationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "brik_credential_rotations_total",
				Help: "Completed credential rotations",
			},
		),

		CollaboratorCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_collaborator_calls_total",
				Help: "Calls to collaborator services (balance, payment, approval)",
			},
			[]string{"service", "outcome"},
		),
		CollaboratorCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brik_collaborator_call_duration_seconds",
				Help:    "Collaborator call duration",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"service"},
		),

		WebhookDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brik_webhook_deliveries_total",
				Help: "Merchant webhook delivery attempts by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		WebhookDeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brik_webhook_delivery_duration_seconds",
				Help:    "End-to-end webhook delivery time including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"event_type"},
		),
	}
}

// CircuitStateValue maps a breaker state name to its gauge value.
func CircuitStateValue(state string) float64 {
	switch state {
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	default:
		return 0
	}
}
