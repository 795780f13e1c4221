// Package subscriber maintains the long-lived channel to the relay,
// transparently reconnecting with backoff on any loss, and hands each
// received envelope to the forwarding dispatcher.
//
// Dispatch is serialized: envelopes are forwarded one at a time, in receipt
// order, on a single worker. Downstream services therefore see per-channel
// ordering at the cost of forward throughput, which suits webhook consumers
// that assume ordered delivery.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/hookline/hookline/envelope"
	"github.com/hookline/hookline/forward"
	"github.com/hookline/hookline/logging"
)

const (
	// dialTimeout bounds one connection attempt to the relay.
	dialTimeout = 10 * time.Second

	// reconnectBaseDelay is the initial reconnect backoff.
	reconnectBaseDelay = 1 * time.Second

	// reconnectMaxDelay caps the reconnect backoff.
	reconnectMaxDelay = 30 * time.Second

	// wsWriteWait is the time allowed to write a control message.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed between reads before the connection is
	// considered dead. Refreshed on every message and pong.
	wsPongWait = 30 * time.Second

	// wsPingPeriod is how often pings are sent. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10
)

// State is the connection state of the subscriber client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Subscriber is the reconnecting relay client.
type Subscriber struct {
	logger     logging.Logger
	config     Config
	dispatcher *forward.Dispatcher
	dialer     *websocket.Dialer

	// dispatchPool has exactly one worker; see the package comment for the
	// ordering policy.
	dispatchPool pond.Pool

	state atomic.Int32

	// conn is the current connection, guarded by connMu so Close can write
	// a clean close frame from another goroutine.
	conn   *websocket.Conn
	connMu sync.Mutex

	ctx      context.Context
	cancelFn context.CancelFunc
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// New creates a subscriber client.
func New(logger logging.Logger, config Config) (*Subscriber, error) {
	if config.RelayURL == "" {
		return nil, fmt.Errorf("relay URL is required")
	}

	dispatcher, err := forward.NewDispatcher(logger, config.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	return &Subscriber{
		logger:     logging.ForComponent(logger, logging.ComponentSubscriber),
		config:     config,
		dispatcher: dispatcher,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  dialTimeout,
			EnableCompression: true,
		},
		dispatchPool: pond.NewPool(1),
	}, nil
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// Start begins the connection loop. It returns immediately; use Close to
// stop.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("subscriber is closed")
	}
	s.ctx, s.cancelFn = context.WithCancel(ctx)

	s.wg.Add(1)
	go logging.RecoverGoRoutine(s.logger, "subscriber_connection_loop", func(ctx context.Context) {
		defer s.wg.Done()
		s.connectionLoop(ctx)
	})(s.ctx)

	s.logger.Info().
		Str(logging.FieldURL, redactToken(s.config.RelayURL)).
		Str(logging.FieldTarget, s.config.Target.URL).
		Msg("subscriber started")
	return nil
}

// connectionLoop dials the relay and processes messages until shutdown,
// reconnecting with exponential backoff on any loss.
func (s *Subscriber) connectionLoop(ctx context.Context) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = reconnectBaseDelay
	expBackoff.MaxInterval = reconnectMaxDelay

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.setState(StateConnecting)
		conn, resp, err := s.dialer.DialContext(ctx, s.config.RelayURL, nil)
		if err != nil {
			s.setState(StateDisconnected)
			delay := expBackoff.NextBackOff()
			attempt++

			evt := s.logger.Warn().Err(err).Int(logging.FieldAttempt, attempt).Dur("retry_in", delay)
			if resp != nil {
				evt = evt.Int(logging.FieldStatus, resp.StatusCode)
			}
			evt.Msg("failed to connect to relay, will retry")
			reconnectsTotal.Inc()

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		// Reset backoff on successful connect.
		expBackoff.Reset()
		attempt = 0
		s.setConn(conn)
		s.setState(StateConnected)
		s.logger.Info().Msg("channel established")

		s.readLoop(ctx, conn)
		s.setConn(nil)

		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("channel closed (shutting down)")
			return
		default:
			s.setState(StateDisconnected)
			delay := expBackoff.NextBackOff()
			s.logger.Warn().Dur("retry_in", delay).Msg("channel lost, reconnecting")
			reconnectsTotal.Inc()

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// readLoop processes messages from one connection until it dies. Decode and
// dispatch failures affect only the message they belong to, never the
// channel.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		s.logger.Debug().Err(err).Msg("failed to set initial read deadline")
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go logging.RecoverGoRoutine(s.logger, "subscriber_ping_loop", func(ctx context.Context) {
		s.pingLoop(ctx, conn)
	})(pingCtx)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				s.logCloseError(err)
			}
			return
		}

		// Reset read deadline on each message, not just pongs.
		if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			s.logger.Debug().Err(err).Msg("failed to reset read deadline")
		}

		messagesReceived.Inc()
		s.handleMessage(payload)
	}
}

// handleMessage decodes one payload and queues it for dispatch. A malformed
// payload indicates a protocol mismatch; it is logged and dropped.
func (s *Subscriber) handleMessage(payload []byte) {
	env, err := envelope.Decode(payload)
	if err != nil {
		decodeFailures.Inc()
		s.logger.Warn().
			Err(err).
			Int(logging.FieldSize, len(payload)).
			Msg("dropping malformed message")
		return
	}

	s.dispatchPool.Submit(func() {
		// Dispatch outcomes are observed for logging only; the dispatcher
		// has already logged details.
		_ = s.dispatcher.Dispatch(s.ctx, env)
	})
}

// pingLoop keeps the connection alive from the client side.
func (s *Subscriber) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.logger.Debug().Err(err).Msg("ping failed - connection may be dead")
				_ = conn.Close()
				return
			}
		}
	}
}

// logCloseError logs an unexpected connection loss with the close code when
// the peer sent one.
func (s *Subscriber) logCloseError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		s.logger.Warn().
			Int(logging.FieldCloseCode, closeErr.Code).
			Str(logging.FieldReason, closeErr.Text).
			Msg("relay closed the channel")
		return
	}
	s.logger.Warn().Err(err).Msg("channel read failed")
}

// Close shuts the subscriber down cleanly: it writes a normal-closure frame,
// stops reconnecting, and waits for in-flight dispatches. Safe to call
// multiple times.
func (s *Subscriber) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.setState(StateShuttingDown)

	s.connMu.Lock()
	if s.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutting down")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}
	s.connMu.Unlock()

	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.wg.Wait()
	s.dispatchPool.StopAndWait()

	s.logger.Info().Msg("subscriber stopped")
}

func (s *Subscriber) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Subscriber) setState(state State) {
	// Shutdown is terminal; the connection loop must not overwrite it while
	// winding down.
	if s.closed.Load() && state != StateShuttingDown {
		return
	}
	old := State(s.state.Swap(int32(state)))
	if old != state {
		connectionState.Set(float64(state))
		s.logger.Debug().
			Str("old_state", old.String()).
			Str(logging.FieldState, state.String()).
			Msg("connection state changed")
	}
}

// redactToken hides the token query parameter in logged URLs.
func redactToken(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
