// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookBatchesTotal tracks accepted webhook batches.
	WebhookBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_batches_total",
			Help: "Webhook batches by outcome",
		},
		[]string{"outcome"},
	)

	// WebhookEventsTotal tracks per-event processing results.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook events by type and result",
		},
		[]string{"type", "result"},
	)

	// MessagesTotal tracks persisted conversation messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Persisted conversation messages",
		},
		[]string{"direction", "kind"},
	)

	// MirrorWritesTotal tracks realtime mirror write attempts.
	MirrorWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_writes_total",
			Help: "Realtime mirror writes by phase and result",
		},
		[]string{"phase", "result"},
	)

	// OutboundPushTotal tracks platform push deliveries.
	OutboundPushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_push_total",
			Help: "Platform push deliveries by result",
		},
		[]string{"result"},
	)

	// PollDuration tracks how long long-poll requests were held.
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "longpoll_duration_seconds",
			Help:    "Duration long-poll requests were held open",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 15, 20, 25, 30},
		},
	)

	// PollsActive tracks concurrently held long-poll requests.
	PollsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "longpoll_active",
			Help: "Long-poll requests currently held open",
		},
	)

	// FeedVersion mirrors the current change-feed version.
	FeedVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "change_feed_version",
			Help: "Current change feed version",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEvent records a webhook event result.
func RecordEvent(eventType string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordMirrorWrite records a mirror write attempt.
func RecordMirrorWrite(phase string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	MirrorWritesTotal.WithLabelValues(phase, result).Inc()
}
