// Package metrics holds the prometheus collectors for webhook intake,
// integration event dispatch and the background job queue.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook outcomes.
const (
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeUnknownGateway   = "unknown_gateway"
	OutcomeError            = "error"
)

var (
	// WebhooksTotal counts webhook deliveries by provider, canonical type and outcome.
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Provider webhook deliveries by provider, canonical event type and outcome.",
	}, []string{"provider", "event_type", "outcome"})

	// WebhookDuration tracks verification plus reconciliation latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "billingsync",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Webhook handling duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// EventsDispatched counts integration events handed to consumers.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "events",
		Name:      "dispatched_total",
		Help:      "Integration events delivered to consumers by event name, consumer and outcome.",
	}, []string{"event", "consumer", "outcome"})

	// CheckoutSweeps counts sessions closed by the periodic sweep.
	CheckoutSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "checkout",
		Name:      "swept_total",
		Help:      "Checkout sessions closed by the sweep, by resulting status.",
	}, []string{"status"})

	// JobsTotal counts finished job attempts by type and outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "jobs",
		Name:      "attempts_total",
		Help:      "Background job attempts by job type and outcome (completed, retried, failed, recovered).",
	}, []string{"job_type", "outcome"})

	// JobQueueDepth is refreshed on a schedule from the redis lists.
	JobQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "billingsync",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Jobs waiting in each queue state.",
	}, []string{"state"})
)

// ObserveWebhook records one webhook delivery.
func ObserveWebhook(provider, eventType, outcome string, started time.Time) {
	if eventType == "" {
		eventType = "unknown"
	}
	WebhooksTotal.WithLabelValues(provider, eventType, outcome).Inc()
	WebhookDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}
