package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesCreated counts persisted notifications by code.
	MessagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treehole_messages_created_total",
			Help: "Total number of notification messages persisted",
		},
		[]string{"code"},
	)

	// RealtimePublish counts channel bus publishes by result (success|failure).
	RealtimePublish = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treehole_realtime_publish_total",
			Help: "Total number of realtime channel publishes",
		},
		[]string{"result"},
	)

	// PushRequests counts provider send attempts by service and result
	// (success|failure|provider_rejected|rejected).
	PushRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treehole_push_requests_total",
			Help: "Total number of push provider requests",
		},
		[]string{"service", "result"},
	)

	// PushTokensPruned counts device tokens removed after a provider reported them invalid.
	PushTokensPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treehole_push_tokens_pruned_total",
			Help: "Total number of device tokens pruned",
		},
		[]string{"service"},
	)

	// DispatchQueueDepth tracks pending notification events.
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treehole_dispatch_queue_depth",
			Help: "Number of notification events waiting for a dispatcher worker",
		},
	)

	// RealtimeConnections tracks open websocket connections.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treehole_realtime_connections",
			Help: "Number of open realtime websocket connections",
		},
	)

	// RegisteredTokens tracks registered device tokens per service.
	RegisteredTokens = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "treehole_push_tokens",
			Help: "Number of registered device tokens",
		},
		[]string{"service"},
	)

	// UnreadBacklog tracks the total number of unread messages.
	UnreadBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treehole_unread_messages",
			Help: "Number of unread notification messages",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treehole_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
