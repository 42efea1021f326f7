package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Intent lifecycle metrics
	// ============================================
	IntentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_intents_created_total",
			Help: "Total number of intents created",
		},
		[]string{"operation"}, // deposit | withdraw
	)

	IntentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_intent_transitions_total",
			Help: "Total number of intent state machine transitions",
		},
		[]string{"to_status", "reason"},
	)

	IntentRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_intent_rejections_total",
			Help: "Total number of rejected intent operations",
		},
		[]string{"operation", "kind"}, // kind: validation | state | auth | replay
	)

	ExpiredPendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_expired_pending_intents",
		Help: "Pending intents whose deadline has lapsed and are eligible for compensation",
	})

	// ============================================
	// Transport metrics
	// ============================================
	TransportConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_transport_connection_status",
		Help: "Transport connection status (1=connected, 0=disconnected)",
	})

	TransportMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_transport_messages_published_total",
			Help: "Total number of cross-domain messages published",
		},
		[]string{"subject"},
	)

	TransportMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_transport_messages_received_total",
			Help: "Total number of cross-domain messages received",
		},
		[]string{"subject"},
	)

	TransportReplaysRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_transport_replays_rejected_total",
		Help: "Total number of replayed messages rejected",
	})

	TransportBatchesSealed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_transport_batches_sealed_total",
		Help: "Total number of committed message batches observed",
	})

	WitnessPollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_witness_polls_total",
		Help: "Total number of membership witness poll attempts",
	})

	WitnessPollTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_witness_poll_timeouts_total",
		Help: "Total number of membership witness polls that timed out",
	})

	// ============================================
	// WebSocket push metrics
	// ============================================
	WSActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_ws_active_connections",
		Help: "Number of active WebSocket connections",
	})

	WSMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_ws_messages_sent_total",
		Help: "Total number of WebSocket push messages sent",
	})

	// ============================================
	// Database metrics
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})
)
