// Package metrics exposes Prometheus instrumentation for the trading
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trader",
		Subsystem: "feed",
		Name:      "frames_received_total",
		Help:      "Raw websocket frames received across all connections.",
	})

	BookUpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trader",
		Subsystem: "book",
		Name:      "updates_applied_total",
		Help:      "Snapshots and deltas applied to the book store.",
	})

	SequenceGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trader",
		Subsystem: "feed",
		Name:      "sequence_gaps_total",
		Help:      "Detected sequence gaps that forced a REST resync.",
	})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trader",
		Subsystem: "feed",
		Name:      "decode_errors_total",
		Help:      "Frames dropped because they could not be decoded.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trader",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Websocket reconnect attempts.",
	})

	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trader",
		Subsystem: "exec",
		Name:      "orders_total",
		Help:      "Orders by terminal status.",
	}, []string{"status"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trader",
		Subsystem: "exec",
		Name:      "rejects_total",
		Help:      "Locally rejected click intents by reason.",
	}, []string{"reason"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trader",
		Subsystem: "bus",
		Name:      "active_sessions",
		Help:      "Attached dissemination sessions.",
	})

	StaleMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trader",
		Subsystem: "book",
		Name:      "stale_markets",
		Help:      "Markets currently flagged stale.",
	})

	Resyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trader",
		Subsystem: "book",
		Name:      "resyncs_total",
		Help:      "REST snapshot resyncs performed.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
