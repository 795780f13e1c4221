package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hookline/hookline/observability"
)

const (
	metricsNamespace = "hookline"
	metricsSubsystem = "relay"
)

// Rejection reasons for the channelOpensRejected metric.
const (
	rejectReasonNotUpgrade   = "not_upgrade"
	rejectReasonUnauthorized = "unauthorized"
	rejectReasonUpgradeError = "upgrade_error"
)

var (
	webhooksReceived = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "webhooks_received_total",
			Help:      "Total number of webhook callbacks received",
		},
	)

	channelOpensAccepted = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "channel_opens_accepted_total",
			Help:      "Total number of subscriber channels accepted",
		},
	)

	channelOpensRejected = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "channel_opens_rejected_total",
			Help:      "Total number of channel-open requests rejected",
		},
		[]string{"reason"},
	)

	messagesDelivered = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages written to subscriber channels",
		},
	)

	sendFailures = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "send_failures_total",
			Help:      "Total number of broadcast sends that failed and evicted a channel",
		},
	)

	broadcastLatency = observability.Factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "broadcast_latency_seconds",
			Help:      "Latency of handing one webhook to every registered channel queue",
			Buckets:   observability.LatencyBuckets,
		},
	)
)
