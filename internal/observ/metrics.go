package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StreamConnectionsActive tracks open event streams (SSE and websocket).
	StreamConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of open event streams",
		},
		[]string{"transport"},
	)

	// NotificationsTotal counts publish outcomes per local handle:
	// delivered, dropped (buffer full) or no_listener.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification delivery outcomes",
		},
		[]string{"outcome"},
	)

	// BroadcastRecipientsTotal counts per-recipient broadcast outcomes.
	BroadcastRecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_recipients_total",
			Help: "Broadcast recipients by outcome",
		},
		[]string{"outcome"},
	)

	// WebhookEventsTotal counts inbound platform events by type.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events by type",
		},
		[]string{"type"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
