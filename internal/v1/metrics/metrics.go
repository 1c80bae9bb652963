package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat server.
//
// Naming convention: namespace_subsystem_name
// - namespace: fresh (application-level grouping)
// - subsystem: server, dispatch (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connected users, live rooms)
// - Counter: cumulative events (messages, envelopes, forced logouts)
// - Histogram: tick latency distribution

var (
	// ConnectedUsers tracks the current number of connected users.
	ConnectedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fresh",
		Subsystem: "server",
		Name:      "users_connected",
		Help:      "Current number of connected users",
	})

	// ActiveRooms tracks the current number of live rooms, lobby included.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fresh",
		Subsystem: "server",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// MessagesProcessed counts handled client messages by kind.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fresh",
		Subsystem: "dispatch",
		Name:      "messages_total",
		Help:      "Total client messages processed, by message kind",
	}, []string{"kind"})

	// EnvelopesDelivered counts envelopes routed to recipients.
	EnvelopesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fresh",
		Subsystem: "dispatch",
		Name:      "envelopes_total",
		Help:      "Total envelopes delivered to recipients",
	})

	// ForcedLogouts counts server-initiated disconnects by reason.
	ForcedLogouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fresh",
		Subsystem: "dispatch",
		Name:      "forced_logouts_total",
		Help:      "Total server-initiated disconnects, by reason",
	}, []string{"reason"})

	// TickDuration tracks how long each dispatcher pass takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fresh",
		Subsystem: "dispatch",
		Name:      "tick_seconds",
		Help:      "Time spent in one dispatcher pass over all rooms",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
	})
)

func IncUser() {
	ConnectedUsers.Inc()
}

func DecUser() {
	ConnectedUsers.Dec()
}
