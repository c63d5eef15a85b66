package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks gateway traffic and callback reconciliation outcomes.
type PaymentMetrics struct {
	gatewayLatency *prometheus.HistogramVec
	callbacks      *prometheus.CounterVec
	deadLettered   *prometheus.CounterVec
}

// NewPaymentMetrics registers payment metrics on reg; a nil reg yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of payment gateway link creation calls.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"outcome"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "callbacks_total",
		Help:      "Gateway callbacks by channel and outcome.",
	}, []string{"channel", "outcome"})
	dead := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "notify_dead_lettered_total",
		Help:      "Gateway notifications recorded for replay.",
	}, []string{"reason"})
	reg.MustRegister(latency, callbacks, dead)
	return &PaymentMetrics{
		gatewayLatency: latency,
		callbacks:      callbacks,
		deadLettered:   dead,
	}
}

func (m *PaymentMetrics) ObserveGatewayRequest(outcome string, duration time.Duration) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

func (m *PaymentMetrics) IncCallback(channel, outcome string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) IncDeadLettered(reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(reason)).Inc()
}
