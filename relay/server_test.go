package relay

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/envelope"
	"github.com/hookline/hookline/logging"
	"github.com/hookline/hookline/registry"
)

const testToken = "test-secret"

// newTestRelay mounts a relay handler on an httptest server and returns it
// together with its registry and websocket base URL.
func newTestRelay(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	logger := logging.NewLoggerFromConfig(logging.Config{Level: "error", Format: "json", Async: false})
	reg := registry.New()
	server, err := NewServer(logger, Config{
		ListenAddr:    ":0",
		Token:         testToken,
		UpgradeSuffix: DefaultUpgradeSuffix,
	}, reg)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, reg
}

func wsURL(ts *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
}

func dialSubscriber(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, token), nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, reg *registry.Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return reg.Len() == n },
		2*time.Second, 10*time.Millisecond, "expected %d registered subscribers", n)
}

// TestChannelOpen_Unauthorized verifies missing and wrong tokens are rejected
// with 401 before any channel is registered.
func TestChannelOpen_Unauthorized(t *testing.T) {
	ts, reg := newTestRelay(t)

	for _, token := range []string{"", "wrong"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, token), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	}
	require.Zero(t, reg.Len())
}

// TestChannelOpen_NotUpgrade verifies a plain request on the upgrade suffix
// gets a 426.
func TestChannelOpen_NotUpgrade(t *testing.T) {
	ts, _ := newTestRelay(t)

	resp, err := http.Get(ts.URL + "/ws?token=" + testToken)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

// TestChannelOpen_Success verifies an authenticated upgrade registers a
// channel, and that closing the connection unregisters it.
func TestChannelOpen_Success(t *testing.T) {
	ts, reg := newTestRelay(t)

	conn := dialSubscriber(t, ts, testToken)
	waitForSubscribers(t, reg, 1)

	_ = conn.Close()
	waitForSubscribers(t, reg, 0)
}

// TestWebhook_ZeroSubscribers verifies a callback with no subscribers is
// still acknowledged with 202.
func TestWebhook_ZeroSubscribers(t *testing.T) {
	ts, _ := newTestRelay(t)

	resp, err := http.Post(ts.URL+"/hook/orphan", "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

// readEnvelope reads one message off a subscriber connection and decodes it.
func readEnvelope(t *testing.T, conn *websocket.Conn) *envelope.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := envelope.Decode(payload)
	require.NoError(t, err)
	return env
}

// TestBroadcast_FanOut verifies every registered subscriber receives exactly
// one message whose decoded contents equal the inbound request's.
func TestBroadcast_FanOut(t *testing.T) {
	ts, reg := newTestRelay(t)

	a := dialSubscriber(t, ts, testToken)
	b := dialSubscriber(t, ts, testToken)
	waitForSubscribers(t, reg, 2)

	body := []byte{0x01, 0x00, 0xfe, '{', '}'}
	req, err := http.NewRequest("POST", ts.URL+"/hook/abc?x=1", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Hook-Id", "42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	relayHost := strings.TrimPrefix(ts.URL, "http://")
	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		require.Equal(t, "POST", env.Method)
		require.Equal(t, "http://"+relayHost+"/hook/abc?x=1", env.SourceURL)
		require.Equal(t, body, env.Body)
		require.Equal(t, "application/octet-stream", env.Headers["Content-Type"])
		require.Equal(t, "42", env.Headers["X-Hook-Id"])
	}
}

// TestBroadcast_SlowSubscriberIsolation verifies a dead subscriber does not
// delay delivery to a healthy one.
func TestBroadcast_SlowSubscriberIsolation(t *testing.T) {
	ts, reg := newTestRelay(t)

	dead := dialSubscriber(t, ts, testToken)
	healthy := dialSubscriber(t, ts, testToken)
	waitForSubscribers(t, reg, 2)

	// Sever the first connection abruptly (no close frame).
	_ = dead.UnderlyingConn().Close()

	resp, err := http.Post(ts.URL+"/hook/iso", "text/plain", strings.NewReader("still here"))
	require.NoError(t, err)
	_ = resp.Body.Close()

	env := readEnvelope(t, healthy)
	require.Equal(t, []byte("still here"), env.Body)
}

// TestHealthz verifies the liveness endpoint bypasses webhook handling.
func TestHealthz(t *testing.T) {
	ts, _ := newTestRelay(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

// TestWebhook_AbsentBody verifies a bodyless GET propagates an absent (null)
// body rather than an empty one.
func TestWebhook_AbsentBody(t *testing.T) {
	ts, reg := newTestRelay(t)

	conn := dialSubscriber(t, ts, testToken)
	waitForSubscribers(t, reg, 1)

	req, err := http.NewRequest("GET", ts.URL+"/hook/ping", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	env := readEnvelope(t, conn)
	require.Equal(t, "GET", env.Method)
	require.False(t, env.HasBody())
}
