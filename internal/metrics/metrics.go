// Package metrics provides Prometheus instrumentation for the realtime layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK           = "ok"
	OutcomeRejected     = "rejected"
	OutcomeError        = "error"
	OutcomeIgnored      = "ignored"
	DirectionOnline     = "online"
	DirectionOffline    = "offline"
	DirectionClamped    = "clamped"
	CloseReasonSlow     = "slow_consumer"
	CloseReasonPeer     = "peer"
	CloseReasonShutdown = "shutdown"
)

var (
	// ConnectionsActive tracks authenticated socket connections held by this process.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_connections_active",
			Help: "Number of authenticated socket connections",
		},
	)

	// ConnectionsClosed counts closed connections by reason.
	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_connections_closed_total",
			Help: "Closed socket connections by reason",
		},
		[]string{"reason"},
	)

	// HandshakeFailures counts rejected handshakes by failure code.
	HandshakeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_handshake_failures_total",
			Help: "Rejected socket handshakes by failure code",
		},
		[]string{"code"},
	)

	// InboundEvents counts client events by name and outcome.
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_inbound_events_total",
			Help: "Client to server events by name and outcome",
		},
		[]string{"event", "outcome"},
	)

	// InboundEventDuration tracks handler latency per event.
	InboundEventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_inbound_event_duration_seconds",
			Help:    "Client event handler duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"event"},
	)

	// OutboundFrames counts frames queued to connections by event name.
	OutboundFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_outbound_frames_total",
			Help: "Server to client frames queued by event name",
		},
		[]string{"event"},
	)

	// PresenceTransitions counts online/offline transitions and clamped decrements.
	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_presence_transitions_total",
			Help: "Presence transitions by direction",
		},
		[]string{"direction"},
	)

	// MessagesPersisted counts messages durably recorded.
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_messages_persisted_total",
			Help: "Messages persisted by the messaging coordinator",
		},
	)

	// NotificationsCreated counts notifications by type.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_notifications_created_total",
			Help: "Notifications created by type",
		},
		[]string{"type"},
	)
)
