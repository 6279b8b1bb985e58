package torrent

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "linkarr",
			Name:      "active_sessions",
			Help:      "Number of downloads currently being monitored.",
		},
	)

	sessionTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkarr",
			Name:      "session_terminations_total",
			Help:      "Monitoring sessions that ended, by final state.",
		},
		[]string{"reason"},
	)

	filesMaterialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkarr",
			Name:      "files_materialized_total",
			Help:      "Files placed into the library, by method.",
		},
		[]string{"method"},
	)

	materializeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkarr",
			Name:      "materialize_failures_total",
			Help:      "Files that could not be placed into the library.",
		},
	)

	// TorrentAPILatency is observed by TorrentService implementations.
	TorrentAPILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "linkarr",
			Name:      "torrent_api_latency_seconds",
			Help:      "Latency of torrent client API calls.",
		},
		[]string{"op"},
	)

	TorrentAPIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkarr",
			Name:      "torrent_api_errors_total",
			Help:      "Errors returned by torrent client API calls.",
		},
		[]string{"op"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkarr",
			Name:      "webhook_events_total",
			Help:      "Webhook events received, by source application and event type.",
		},
		[]string{"source", "type"},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers the linkarr collectors into the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			activeSessions,
			sessionTerminations,
			filesMaterialized,
			materializeFailures,
			TorrentAPILatency,
			TorrentAPIErrors,
			WebhookEvents,
		)
	})
}
