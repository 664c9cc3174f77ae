package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes recorded in metrics.
const (
	OutcomeProvisioned = "provisioned"
	OutcomeCancelled   = "cancelled"
	OutcomeIgnored     = "ignored"
	OutcomeDuplicate   = "duplicate"
	OutcomeInvalid     = "invalid"
	OutcomeFailed      = "failed"
)

// WebhookMetrics tracks webhook processing.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puzzle_webhooks_received_total",
			Help: "Webhook deliveries received, by provider.",
		}, []string{"provider"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puzzle_webhooks_processed_total",
			Help: "Webhook deliveries processed, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "puzzle_webhook_duration_seconds",
			Help:    "Webhook processing latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	reg.MustRegister(m.received, m.outcomes, m.duration)
	return m
}

func (m *WebhookMetrics) Received(provider string) {
	m.received.WithLabelValues(provider).Inc()
}

func (m *WebhookMetrics) Observe(provider, outcome string, elapsed time.Duration) {
	m.outcomes.WithLabelValues(provider, outcome).Inc()
	m.duration.WithLabelValues(provider).Observe(elapsed.Seconds())
}
