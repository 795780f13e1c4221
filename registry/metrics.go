package registry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hookline/hookline/observability"
)

const (
	metricsNamespace = "hookline"
	metricsSubsystem = "registry"
)

var subscribersActive = observability.Factory.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "subscribers_active",
		Help:      "Number of currently registered subscriber channels",
	},
)
