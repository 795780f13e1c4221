package relay

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/hookline/hookline/logging"
)

// PanicRecoveryMiddleware prevents a panicking handler from crashing the
// server. The panicking request gets a 500; everything else is unaffected.
func PanicRecoveryMiddleware(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.PanicRecoveriesTotal.WithLabelValues(logging.ComponentRelayServer).Inc()

				logger.Error().
					Str(logging.FieldMethod, r.Method).
					Str(logging.FieldPath, r.URL.Path).
					Str("panic_value", fmt.Sprintf("%v", rec)).
					Str("stack_trace", string(debug.Stack())).
					Msg("PANIC RECOVERED in HTTP handler")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
