// Package metrics holds the payment service's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestCounter counts HTTP requests by route and status
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_service_requests_total",
			Help: "Total number of requests to payment service",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestLatency observes HTTP request durations
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_service_request_duration_seconds",
			Help:    "Duration of payment service requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_received_total",
			Help: "Webhook deliveries by gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_transitions_total",
			Help: "Canonical status transitions written to payment records",
		},
		[]string{"from", "to"},
	)

	Completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_completions_total",
			Help: "Payment records that reached completed for the first time",
		},
		[]string{"gateway", "purpose"},
	)

	SideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_side_effect_failures_total",
			Help: "Side effects that failed after a completion",
		},
		[]string{"effect"},
	)

	RenewalResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_renewals_total",
			Help: "Renewal attempts by result",
		},
		[]string{"result"},
	)

	// GatewayCallDuration observes outbound provider API calls
	GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_call_duration_seconds",
			Help:    "Duration of outbound payment gateway calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"gateway", "operation", "result"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestLatency,
			WebhooksReceived,
			StatusTransitions,
			Completions,
			SideEffectFailures,
			RenewalResults,
			GatewayCallDuration,
		)
	})
}
