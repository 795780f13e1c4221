// Package relay implements the broadcast service: it accepts inbound webhook
// callbacks on any path, fans each one out verbatim to every registered
// subscriber channel, and upgrades authenticated requests on the reserved
// path suffix into new subscriber channels.
//
// Delivery is best-effort and memory-only. A callback arriving while zero
// subscribers are connected is acknowledged and dropped; a failed send to one
// channel evicts that channel without delaying the others.
package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hookline/hookline/envelope"
	"github.com/hookline/hookline/logging"
	"github.com/hookline/hookline/registry"
)

const (
	// readHeaderTimeout bounds request header parsing.
	readHeaderTimeout = 10 * time.Second

	// idleTimeout is how long idle keep-alive connections stay open.
	idleTimeout = 120 * time.Second

	// gracefulShutdownTimeout bounds server shutdown.
	gracefulShutdownTimeout = 30 * time.Second

	// broadcastWorkers caps concurrent per-channel send tasks.
	broadcastWorkers = 64
)

// upgrader upgrades channel-open requests. Subscribers connect from arbitrary
// networks, so origin checking is disabled.
var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Server is the relay broadcast service.
type Server struct {
	logger   logging.Logger
	config   Config
	registry *registry.Registry

	// sendPool isolates per-channel broadcast sends from each other.
	sendPool pond.Pool

	server   *http.Server
	cancelFn context.CancelFunc
	mu       sync.Mutex
	started  bool
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a relay server around the given registry. The registry is
// injected rather than ambient so tests can observe membership directly.
func NewServer(logger logging.Logger, config Config, reg *registry.Registry) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}

	return &Server{
		logger:   logging.ForComponent(logger, logging.ComponentRelayServer),
		config:   config,
		registry: reg,
		sendPool: pond.NewPool(broadcastWorkers),
	}, nil
}

// Handler returns the full HTTP handler, including routing and panic
// recovery. Exposed so tests can mount it on an httptest server.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth)
	router.PathPrefix("/").HandlerFunc(s.handleInbound)
	return PanicRecoveryMiddleware(s.logger, router)
}

// Start begins serving. The server shuts down gracefully when ctx is
// cancelled: every open subscriber channel receives a going-away close frame
// before the listener stops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("relay server is closed")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("relay server already started")
	}
	s.started = true
	ctx, s.cancelFn = context.WithCancel(ctx)
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().
			Str(logging.FieldListenAddr, s.config.ListenAddr).
			Str(logging.FieldPath, s.config.UpgradeSuffix).
			Msg("starting relay server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	return nil
}

// Stop triggers graceful shutdown and waits for the listener goroutine.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelFn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Server) shutdown() {
	// Close frames let subscribers distinguish relay shutdown from network
	// failure (they reconnect either way, but the log trail differs).
	for _, entry := range s.registry.Snapshot() {
		entry.Channel.Close(CloseGoingAway, "relay shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("error during server shutdown")
		}
	}

	s.sendPool.StopAndWait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"healthy","subscribers":%d}`, s.registry.Len())
}

// handleInbound splits the single endpoint into its two request classes by
// the reserved path suffix.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, s.config.UpgradeSuffix) {
		s.handleChannelOpen(w, r)
		return
	}
	s.handleWebhook(w, r)
}

// handleChannelOpen authenticates and upgrades a subscriber connection, then
// registers the resulting channel for broadcast.
func (s *Server) handleChannelOpen(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		channelOpensRejected.WithLabelValues(rejectReasonNotUpgrade).Inc()
		http.Error(w, "Upgrade Required", http.StatusUpgradeRequired)
		return
	}

	token := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) != 1 {
		channelOpensRejected.WithLabelValues(rejectReasonUnauthorized).Inc()
		s.logger.Warn().
			Str(logging.FieldRemoteAddr, r.RemoteAddr).
			Msg("channel-open rejected: bad token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an error response.
		channelOpensRejected.WithLabelValues(rejectReasonUpgradeError).Inc()
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	var handle registry.Handle
	ch := newChannel(s.logger, conn, func() { s.registry.Unregister(handle) })
	handle = s.registry.Register(ch)
	ch.start()

	channelOpensAccepted.Inc()
	s.logger.Info().
		Str(logging.FieldRemoteAddr, conn.RemoteAddr().String()).
		Int(logging.FieldSubscribers, s.registry.Len()).
		Msg("subscriber channel opened")
}

// handleWebhook captures the callback, broadcasts it, and acknowledges
// immediately. Zero subscribers is a valid, silent outcome.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	webhooksReceived.Inc()

	env, err := envelope.FromRequest(r)
	if err != nil {
		s.logger.Warn().Err(err).Str(logging.FieldPath, r.URL.Path).Msg("failed to read webhook body")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	payload, err := envelope.Encode(env)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode envelope")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.broadcast(payload)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusAccepted)
}

// broadcast hands the payload to every channel in a registry snapshot. Each
// send runs on its own worker so one slow or failed subscriber never blocks
// the rest; a failed send evicts the offending channel.
func (s *Server) broadcast(payload []byte) {
	start := time.Now()
	entries := s.registry.Snapshot()

	for _, entry := range entries {
		s.sendPool.Submit(func() {
			if err := entry.Channel.Send(context.Background(), payload); err != nil {
				sendFailures.Inc()
				s.logger.Warn().
					Err(err).
					Uint64(logging.FieldChannel, uint64(entry.Handle)).
					Msg("broadcast send failed - evicting channel")
				s.registry.Unregister(entry.Handle)
				entry.Channel.Close(CloseGoingAway, "send failed")
			}
		})
	}

	broadcastLatency.Observe(time.Since(start).Seconds())
	s.logger.Debug().
		Int(logging.FieldSubscribers, len(entries)).
		Int(logging.FieldSize, len(payload)).
		Msg("webhook broadcast")
}
