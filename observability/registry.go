// Package observability provides the Prometheus registry shared by all
// hookline components and an HTTP server exposing metrics and pprof.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hookline/hookline/logging"
)

// Registry is the process-wide metrics registry. Each invocation runs a
// single role (relay or forward), so one registry serves both.
var Registry = newRegistry()

// Factory creates metrics registered against Registry. Per-package metrics.go
// files use this instead of the prometheus default registry.
var Factory = promauto.With(Registry)

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector())
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(logging.PanicRecoveriesTotal)
	return r
}

// LatencyBuckets provides sub-millisecond to multi-second measurement for
// broadcast and forward latencies.
// Buckets: 1ms, 2ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s, 30s
var LatencyBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
