package logging

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// PanicRecoveriesTotal tracks panic recoveries by component. It is created
// unregistered here and bound to the process registry by the observability
// package, which sits above logging in the import graph.
var PanicRecoveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Name:      "panic_recoveries_total",
		Help:      "Total number of panic recoveries by component",
	},
	[]string{"component"},
)

// RecoverGoRoutine wraps a goroutine with panic recovery and structured
// logging. Use this for all spawned goroutines so a panic in one channel or
// dispatch never takes down the process.
//
// The returned function takes a context parameter, allowing the context to be
// passed at the goroutine spawn site rather than captured in the closure:
//
//	go RecoverGoRoutine(logger, "channel_write_pump", func(ctx context.Context) {
//	    pump(ctx)
//	})(ctx)
func RecoverGoRoutine(logger Logger, component string, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				PanicRecoveriesTotal.WithLabelValues(component).Inc()

				logger.Error().
					Str(FieldComponent, component).
					Str("panic_value", fmt.Sprintf("%v", r)).
					Str("stack_trace", string(debug.Stack())).
					Msg("PANIC RECOVERED in goroutine")
			}
		}()

		fn(ctx)
	}
}
