package subscriber

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hookline/hookline/observability"
)

const (
	metricsNamespace = "hookline"
	metricsSubsystem = "subscriber"
)

var (
	connectionState = observability.Factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=shutting_down)",
		},
	)

	reconnectsTotal = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts after a failed dial or lost channel",
		},
	)

	messagesReceived = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_received_total",
			Help:      "Total number of messages received on the channel",
		},
	)

	decodeFailures = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "decode_failures_total",
			Help:      "Total number of malformed messages dropped",
		},
	)
)
