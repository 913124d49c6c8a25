package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	GatewayRequests  *prometheus.CounterVec
	GatewayLatency   *prometheus.HistogramVec
	PairingAttempts  *prometheus.CounterVec
	PollTicks        *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total gateway API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Latency distribution for gateway API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			PairingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairing_attempts_total",
				Help:      "Total pairing code fetches by outcome.",
			}, []string{"outcome"}),
			PollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_poll_ticks_total",
				Help:      "Total status poll ticks by outcome.",
			}, []string{"outcome"}),
			StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_state_transitions_total",
				Help:      "Total connection state machine transitions.",
			}, []string{"from", "to"}),
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total gateway webhook events received by type.",
			}, []string{"type"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.GatewayRequests,
			metricsInstance.GatewayLatency,
			metricsInstance.PairingAttempts,
			metricsInstance.PollTicks,
			metricsInstance.StateTransitions,
			metricsInstance.WebhookEvents,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
