package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// HubActiveRooms tracks the number of rooms with at least one member
	HubActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_rooms",
			Help: "Number of rooms with at least one member session",
		},
	)

	// HubConnectedSessions tracks the number of connected sessions
	HubConnectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_sessions",
			Help: "Number of connected WebSocket sessions",
		},
	)

	// HubEventsPublishedTotal tracks events published by room kind
	HubEventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_published_total",
			Help: "Total events published by room kind",
		},
		[]string{"room_kind"},
	)

	// HubEventsDeliveredTotal tracks events delivered to sessions
	HubEventsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_events_delivered_total",
			Help: "Total events enqueued for delivery to sessions",
		},
	)

	// HubSlowSessionsEvicted tracks sessions dropped for not keeping up
	HubSlowSessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_sessions_evicted_total",
			Help: "Total sessions disconnected because their send queue was full",
		},
	)

	// HubJoinRejectedTotal tracks joins rejected by the identity scope check
	HubJoinRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_join_rejected_total",
			Help: "Total room joins rejected because the room is outside the session scope",
		},
	)

	// HubStopTimeoutsTotal tracks forced hub shutdowns
	HubStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_stop_timeouts_total",
			Help: "Total hub stops that exceeded the graceful timeout",
		},
	)
)

// Scope Router Metrics
var (
	// RouterEventsDroppedTotal tracks events dropped for unknown kinds
	RouterEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_events_dropped_total",
			Help: "Total events dropped because their kind is not in the routing table",
		},
	)
)

// Subscriber Metrics
var (
	// SubscriberReconnectsTotal tracks reconnect attempts
	SubscriberReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriber_reconnects_total",
			Help: "Total subscriber reconnect attempts",
		},
	)

	// SubscriberEventsDroppedTotal tracks events dropped by a full dispatch queue
	SubscriberEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriber_events_dropped_total",
			Help: "Total received events dropped because the dispatch queue was full",
		},
	)
)

// Invalidation Metrics
var (
	// InvalidationKeysTotal tracks cache keys invalidated by event kind
	InvalidationKeysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_keys_total",
			Help: "Total cache keys invalidated by event kind",
		},
		[]string{"event_kind"},
	)

	// InvalidationUnknownKindTotal tracks unmapped event kinds
	InvalidationUnknownKindTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_unknown_kind_total",
			Help: "Total events ignored by the invalidation mapper for unknown kinds",
		},
	)
)

// Pull-Sync Metrics
var (
	// SyncRequestsTotal tracks sync requests by outcome
	SyncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_requests_total",
			Help: "Total pull-sync requests by status",
		},
		[]string{"status"},
	)

	// SyncRowsReturned tracks rows returned per table
	SyncRowsReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_returned_total",
			Help: "Total rows returned by pull-sync per table",
		},
		[]string{"table"},
	)

	// SyncTableFailuresTotal tracks isolated per-table query failures
	SyncTableFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_table_failures_total",
			Help: "Total per-table query failures skipped during pull-sync",
		},
		[]string{"table"},
	)

	// SyncDuration tracks end-to-end sync request duration
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Pull-sync request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
)

// Relay Metrics
var (
	// RelayMessagesReceived tracks pub/sub messages received by channel
	RelayMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Total pub/sub relay messages received by channel",
		},
		[]string{"channel"},
	)

	// RelayPublishFailures tracks relay publish errors
	RelayPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_publish_failures_total",
			Help: "Total failures publishing events to the relay channel",
		},
	)
)

// Auth Metrics
var (
	// AuthRejectionsTotal tracks rejected tokens by reason
	AuthRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rejections_total",
			Help: "Total rejected tokens by reason",
		},
		[]string{"reason"},
	)
)
