package forward

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hookline/hookline/observability"
)

const (
	metricsNamespace = "hookline"
	metricsSubsystem = "forward"
)

// Outcome labels for the forwards metric.
const (
	outcomeOK     = "ok"
	outcomeNon2xx = "non_2xx"
	outcomeError  = "error"
)

var (
	forwards = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dispatches_total",
			Help:      "Total number of forward attempts by outcome",
		},
		[]string{"outcome"},
	)

	forwardLatency = observability.Factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of forward attempts that reached the target",
			Buckets:   observability.LatencyBuckets,
		},
	)
)
