package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hookline/hookline/logging"
)

// WebSocket timeout constants for connection keep-alive. Subscriber channels
// are long-lived and session-based; these are fixed values for ping/pong
// health checks, not request/response timeouts.
const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to wait for the next pong message.
	wsPongWait = 30 * time.Second

	// wsPingPeriod is how often pings are sent. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// sendEnqueueWait bounds how long a broadcast waits to enqueue a message
	// on one channel's outbound queue. A subscriber that cannot drain its
	// queue within this window is treated as failed.
	sendEnqueueWait = 5 * time.Second

	// outboundQueueSize is the per-channel outbound buffer. Bursts beyond it
	// eat into sendEnqueueWait before the channel is declared slow.
	outboundQueueSize = 256
)

// RFC 6455 close codes used by the relay, plus names for logging.
const (
	CloseNormalClosure = 1000 // clean shutdown initiated by a peer
	CloseGoingAway     = 1001 // endpoint going away (relay shutdown, dead peer)
	CloseInternalError = 1011 // unexpected relay-side condition
)

func closeCodeName(code int) string {
	switch code {
	case CloseNormalClosure:
		return "NormalClosure"
	case CloseGoingAway:
		return "GoingAway"
	case CloseInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// errChannelClosed is returned by Send after the channel has been torn down.
var errChannelClosed = errors.New("subscriber channel is closed")

// errSendTimeout is returned by Send when the outbound queue stays full for
// longer than sendEnqueueWait.
var errSendTimeout = errors.New("subscriber channel send timed out")

// channel is one live subscriber connection. It owns the websocket conn
// exclusively: a single write pump drains the outbound queue, a read loop
// discards inbound data (nothing business-relevant arrives on an open
// channel) and detects closure, and a ping loop keeps the connection alive.
//
// It implements registry.Channel.
type channel struct {
	logger   logging.Logger
	conn     *websocket.Conn
	outbound chan []byte

	// onClose runs exactly once when the channel dies, however it dies.
	// The server uses it to unregister the channel.
	onClose func()

	ctx      context.Context
	cancelFn context.CancelFunc
	closed   atomic.Bool
	wg       sync.WaitGroup
}

func newChannel(logger logging.Logger, conn *websocket.Conn, onClose func()) *channel {
	ctx, cancelFn := context.WithCancel(context.Background())
	return &channel{
		logger:   logging.ForComponent(logger, logging.ComponentChannel).With().Str(logging.FieldRemoteAddr, conn.RemoteAddr().String()).Logger(),
		conn:     conn,
		outbound: make(chan []byte, outboundQueueSize),
		onClose:  onClose,
		ctx:      ctx,
		cancelFn: cancelFn,
	}
}

// start installs the keepalive handlers and spawns the channel's pumps. The
// pong handler must be set before the read loop starts; it runs on the
// reader goroutine.
func (c *channel) start() {
	if err := c.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	c.wg.Add(3)
	go logging.RecoverGoRoutine(c.logger, "channel_write_pump", func(ctx context.Context) {
		c.writePump(ctx)
	})(c.ctx)
	go logging.RecoverGoRoutine(c.logger, "channel_read_loop", func(ctx context.Context) {
		c.readLoop(ctx)
	})(c.ctx)
	go logging.RecoverGoRoutine(c.logger, "channel_ping_loop", func(ctx context.Context) {
		c.pingLoop(ctx)
	})(c.ctx)
}

// Send enqueues one encoded envelope for delivery. It never blocks longer
// than sendEnqueueWait, so a slow subscriber cannot stall a broadcast.
func (c *channel) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return errChannelClosed
	}

	timer := time.NewTimer(sendEnqueueWait)
	defer timer.Stop()

	select {
	case c.outbound <- payload:
		return nil
	case <-c.ctx.Done():
		return errChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errSendTimeout
	}
}

// Close tears down the channel. Idempotent; the first caller writes a close
// frame so the peer can distinguish deliberate closure from network failure.
func (c *channel) Close(code int, reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.logger.Debug().
		Int(logging.FieldCloseCode, code).
		Str(logging.FieldReason, reason).
		Msgf("closing subscriber channel (%s)", closeCodeName(code))

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to write close frame")
	}

	c.cancelFn()
	_ = c.conn.Close()

	if c.onClose != nil {
		c.onClose()
	}
}

// writePump drains the outbound queue onto the wire.
func (c *channel) writePump(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-c.outbound:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				c.Close(CloseGoingAway, "write deadline failed")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("write failed - subscriber gone")
				c.Close(CloseGoingAway, "write failed")
				return
			}
			messagesDelivered.Inc()
		}
	}
}

// readLoop consumes inbound frames. Subscribers are not expected to send
// anything; data frames are ignored, and any read error means the channel
// is gone.
func (c *channel) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			select {
			case <-ctx.Done():
				// expected during shutdown
			default:
				c.logger.Debug().Err(err).Msg("subscriber channel closed")
			}
			c.Close(CloseGoingAway, "peer disconnected")
			return
		}

		// Reset read deadline on each frame, not just pongs.
		if err := c.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			c.logger.Debug().Err(err).Msg("failed to reset read deadline")
		}
	}
}

// pingLoop sends periodic pings to detect dead peers.
func (c *channel) pingLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed - connection may be dead")
				c.Close(CloseGoingAway, "ping timeout")
				return
			}
		}
	}
}
