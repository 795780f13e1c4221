//go:build test

package subscriber

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/envelope"
	"github.com/hookline/hookline/forward"
	"github.com/hookline/hookline/logging"
	"github.com/hookline/hookline/registry"
	"github.com/hookline/hookline/relay"
)

const testToken = "test-secret"

func testLogger() logging.Logger {
	return logging.NewLoggerFromConfig(logging.Config{Level: "error", Format: "json", Async: false})
}

// forwardedRequest is one request observed by the fake local target.
type forwardedRequest struct {
	method string
	uri    string
	body   []byte
}

// testStack is a real relay plus a capture target for end-to-end tests.
type testStack struct {
	wsURL     string
	reg       *registry.Registry
	relayTS   *httptest.Server
	targetURL string
	forwarded chan forwardedRequest
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	reg := registry.New()
	server, err := relay.NewServer(testLogger(), relay.Config{
		ListenAddr:    ":0",
		Token:         testToken,
		UpgradeSuffix: relay.DefaultUpgradeSuffix,
	}, reg)
	require.NoError(t, err)

	relayTS := httptest.NewServer(server.Handler())
	t.Cleanup(relayTS.Close)

	forwarded := make(chan forwardedRequest, 16)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		forwarded <- forwardedRequest{method: r.Method, uri: r.RequestURI, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.Close)

	return &testStack{
		wsURL:     "ws" + strings.TrimPrefix(relayTS.URL, "http") + "/ws?token=" + testToken,
		reg:       reg,
		relayTS:   relayTS,
		targetURL: target.URL,
		forwarded: forwarded,
	}
}

func waitForSubscribers(t *testing.T, reg *registry.Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return reg.Len() == n },
		5*time.Second, 10*time.Millisecond, "expected %d registered subscribers", n)
}

func receiveForward(t *testing.T, forwarded chan forwardedRequest, within time.Duration) forwardedRequest {
	t.Helper()
	select {
	case got := <-forwarded:
		return got
	case <-time.After(within):
		t.Fatalf("no forwarded request within %s", within)
		return forwardedRequest{}
	}
}

// TestSubscriber_EndToEnd verifies a broadcast webhook reaches the local
// target with method, path, query, and body intact.
func TestSubscriber_EndToEnd(t *testing.T) {
	stack := newTestStack(t)

	sub, err := New(testLogger(), Config{
		RelayURL: stack.wsURL,
		Target:   forward.TargetConfig{URL: stack.targetURL},
	})
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(sub.Close)

	waitForSubscribers(t, stack.reg, 1)

	body := []byte{0x00, 0x01, 'x'}
	resp, err := http.Post(stack.relayTS.URL+"/hook/dev?x=1", "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()

	got := receiveForward(t, stack.forwarded, 3*time.Second)
	require.Equal(t, "POST", got.method)
	require.Equal(t, "/hook/dev?x=1", got.uri)
	require.Equal(t, body, got.body)
}

// TestSubscriber_ReconnectLiveness verifies that a forcibly closed channel is
// re-established within the backoff window and subsequent broadcasts are
// received; messages sent during the gap are lost by design.
func TestSubscriber_ReconnectLiveness(t *testing.T) {
	stack := newTestStack(t)

	sub, err := New(testLogger(), Config{
		RelayURL: stack.wsURL,
		Target:   forward.TargetConfig{URL: stack.targetURL},
	})
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(sub.Close)

	waitForSubscribers(t, stack.reg, 1)

	// Force-close the channel from the relay side.
	for _, entry := range stack.reg.Snapshot() {
		entry.Channel.Close(relay.CloseGoingAway, "forced by test")
	}
	waitForSubscribers(t, stack.reg, 0)

	// The client must come back on its own.
	waitForSubscribers(t, stack.reg, 1)
	require.Equal(t, StateConnected, sub.State())

	resp, err := http.Post(stack.relayTS.URL+"/hook/after", "text/plain", strings.NewReader("post-reconnect"))
	require.NoError(t, err)
	_ = resp.Body.Close()

	got := receiveForward(t, stack.forwarded, 3*time.Second)
	require.Equal(t, []byte("post-reconnect"), got.body)
}

// TestSubscriber_MalformedMessageKeepsChannelAlive verifies a decode failure
// drops only the offending message.
func TestSubscriber_MalformedMessageKeepsChannelAlive(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	send := make(chan []byte, 4)

	relayStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for payload := range send {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}
	}))
	t.Cleanup(relayStub.Close)

	forwarded := make(chan forwardedRequest, 4)
	targetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		forwarded <- forwardedRequest{method: r.Method, uri: r.RequestURI, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(targetServer.Close)

	sub, err := New(testLogger(), Config{
		RelayURL: "ws" + strings.TrimPrefix(relayStub.URL, "http") + "/ws",
		Target:   forward.TargetConfig{URL: targetServer.URL},
	})
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(sub.Close)

	require.Eventually(t, func() bool { return sub.State() == StateConnected },
		3*time.Second, 10*time.Millisecond)

	send <- []byte("not an envelope")

	valid, err := envelope.Encode(&envelope.Envelope{
		SourceURL: "https://relay.example/hook/ok",
		Method:    "POST",
		Headers:   map[string]string{},
		Body:      []byte("survived"),
	})
	require.NoError(t, err)
	send <- valid

	got := receiveForward(t, forwarded, 3*time.Second)
	require.Equal(t, []byte("survived"), got.body)
	close(send)
}

// TestSubscriber_CloseIdempotent verifies Close is safe to call repeatedly.
func TestSubscriber_CloseIdempotent(t *testing.T) {
	stack := newTestStack(t)

	sub, err := New(testLogger(), Config{
		RelayURL: stack.wsURL,
		Target:   forward.TargetConfig{URL: stack.targetURL},
	})
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	waitForSubscribers(t, stack.reg, 1)

	sub.Close()
	sub.Close()
	require.Equal(t, StateShuttingDown, sub.State())

	// The relay sees a clean departure.
	waitForSubscribers(t, stack.reg, 0)
}

// TestNormalizeRelayURL verifies http(s) schemes map to ws(s).
func TestNormalizeRelayURL(t *testing.T) {
	cases := map[string]string{
		"http://relay.example/ws?token=s":  "ws://relay.example/ws?token=s",
		"https://relay.example/ws?token=s": "wss://relay.example/ws?token=s",
		"ws://relay.example/ws":            "ws://relay.example/ws",
	}
	for in, want := range cases {
		got, err := normalizeRelayURL(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	for _, bad := range []string{"ftp://x/ws", "ws://"} {
		_, err := normalizeRelayURL(bad)
		require.Error(t, err, "url %q should be rejected", bad)
	}
}
