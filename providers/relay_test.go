package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/auth"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type stubVerifier struct {
	err error
}

func (s stubVerifier) Verify(context.Context, auth.Credentials) error { return s.err }

type testRelay struct {
	provider *RelayProvider
	ln       *fasthttputil.InmemoryListener
	dialer   *websocket.Dialer
}

// newTestRelay serves a fully activated relay over an in-memory listener.
func newTestRelay(t *testing.T, mutate func(*config.RelayConfig), opts ...Option) *testRelay {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{
		WithVerifier(auth.AllowAll{}),
		WithRegistry(prometheus.NewRegistry()),
	}, opts...)

	p := NewRelayProvider(cfg, zerolog.Nop(), opts...)
	require.NoError(t, p.Activate())

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: p.Handler()}
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		_ = p.Deactivate()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.ShutdownWithContext(ctx)
	})

	return &testRelay{
		provider: p,
		ln:       ln,
		dialer: &websocket.Dialer{
			NetDial:          func(string, string) (net.Conn, error) { return ln.Dial() },
			HandshakeTimeout: time.Second,
		},
	}
}

func (r *testRelay) dial(t *testing.T, clientID string) *websocket.Conn {
	t.Helper()
	conn, _, err := r.dialer.Dial(fmt.Sprintf("ws://relay.test/ws?client_id=%s&sign=sig&ts=1700000000", clientID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (r *testRelay) waitClients(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.provider.Hub().ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func (r *testRelay) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return r.ln.Dial() }}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://relay.test" + path)
	req.Header.SetMethod(method)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	require.NoError(t, client.DoTimeout(req, resp, 2*time.Second))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

func read(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	return data
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	var ev types.Event
	require.NoError(t, json.Unmarshal(read(t, conn), &ev))
	return ev
}

func TestRelayScenario(t *testing.T) {
	r := newTestRelay(t, nil)

	a := r.dial(t, "A")
	r.waitClients(t, 1)

	b := r.dial(t, "B")
	ev := readEvent(t, a)
	assert.Equal(t, types.EventConnect, ev.Type)
	assert.Equal(t, "B", ev.ClientID)
	assert.InDelta(t, time.Now().Unix(), ev.Time, 2)

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"x":1}`)))
	assert.JSONEq(t, `{"x":1,"client_id":"B"}`, string(read(t, a)))

	// B's first delivery is A's message, not an echo of its own.
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"y":2,"client_id":"B"}`)))
	assert.JSONEq(t, `{"y":2,"client_id":"A"}`, string(read(t, b)))

	require.NoError(t, b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	ev = readEvent(t, a)
	assert.Equal(t, types.EventDisconnect, ev.Type)
	assert.Equal(t, "B", ev.ClientID)
	r.waitClients(t, 1)
}

func TestRelayMalformedMessageKeepsSessionAlive(t *testing.T) {
	r := newTestRelay(t, nil)

	a := r.dial(t, "A")
	r.waitClients(t, 1)
	b := r.dial(t, "B")
	readEvent(t, a)

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`[1,2]`)))
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"valid":true}`)))

	assert.JSONEq(t, `{"valid":true,"client_id":"B"}`, string(read(t, a)))
	assert.Equal(t, 2, r.provider.Hub().ClientCount())
}

func TestRelayHeartbeatTimeout(t *testing.T) {
	r := newTestRelay(t, func(c *config.RelayConfig) {
		c.PingInterval = 50 * time.Millisecond
		c.ClientTimeout = 150 * time.Millisecond
	})

	// A keeps reading, so its client answers pings automatically.
	a := r.dial(t, "A")
	r.waitClients(t, 1)

	// S never reads, so it never answers a ping.
	r.dial(t, "S")
	ev := readEvent(t, a)
	assert.Equal(t, types.EventConnect, ev.Type)

	ev = readEvent(t, a)
	assert.Equal(t, types.EventDisconnect, ev.Type)
	assert.Equal(t, "S", ev.ClientID)
	r.waitClients(t, 1)
}

func TestUpgradeRejectsMissingSignature(t *testing.T) {
	r := newTestRelay(t, nil)

	_, resp, err := r.dialer.Dial("ws://relay.test/ws?client_id=A&ts=1700000000", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, fasthttp.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, r.provider.Hub().ClientCount())
}

func TestUpgradeRejectsInvalidTimestamp(t *testing.T) {
	r := newTestRelay(t, nil)

	_, resp, err := r.dialer.Dial("ws://relay.test/ws?client_id=A&sign=s&ts=soon", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, fasthttp.StatusUnauthorized, resp.StatusCode)
}

func TestUpgradeAcceptsHeaderCredentials(t *testing.T) {
	r := newTestRelay(t, nil)

	header := map[string][]string{
		auth.HeaderClientID:  {"H"},
		auth.HeaderSign:      {"sig"},
		auth.HeaderTimestamp: {"1700000000"},
	}
	conn, _, err := r.dialer.Dial("ws://relay.test/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	r.waitClients(t, 1)
	assert.Equal(t, "H", r.provider.Hub().Clients()[0].ClientID)
}

func TestUpgradeDistinguishesServiceUnavailable(t *testing.T) {
	r := newTestRelay(t, nil, WithVerifier(stubVerifier{err: fmt.Errorf("%w: down", types.ErrAuthServiceUnreachable)}))

	_, resp, err := r.dialer.Dial("ws://relay.test/ws?client_id=A&sign=s&ts=1", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, resp.StatusCode)
}

func TestUpgradeRejectedByVerifier(t *testing.T) {
	r := newTestRelay(t, nil, WithVerifier(stubVerifier{err: types.ErrAuthRejected}))

	_, resp, err := r.dialer.Dial("ws://relay.test/ws?client_id=A&sign=s&ts=1", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, fasthttp.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, r.provider.Hub().ClientCount())
}

func TestUpgradeConnectionLimit(t *testing.T) {
	r := newTestRelay(t, func(c *config.RelayConfig) { c.MaxConnections = 1 })

	r.dial(t, "A")
	r.waitClients(t, 1)

	_, resp, err := r.dialer.Dial("ws://relay.test/ws?client_id=B&sign=s&ts=1", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, resp.StatusCode)
}

func TestPlainRequestToWebSocketPath(t *testing.T) {
	r := newTestRelay(t, nil)

	status, body := r.do(t, fasthttp.MethodGet, PathWebSocket, "")
	assert.Equal(t, fasthttp.StatusUpgradeRequired, status)
	assert.JSONEq(t, `{"error":"upgrade_required","message":"WebSocket upgrade required"}`, string(body))
}

func TestInfoAndClientsRoutes(t *testing.T) {
	r := newTestRelay(t, nil)
	r.dial(t, "A")
	r.waitClients(t, 1)

	status, body := r.do(t, fasthttp.MethodGet, "/ws/info", "")
	require.Equal(t, fasthttp.StatusOK, status)
	var info map[string]any
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, PathWebSocket, info["endpoint"])
	assert.Equal(t, float64(1), info["clients"])
	assert.Equal(t, r.provider.InstanceID(), info["instance_id"])
	assert.Equal(t, false, info["bridged"])

	status, body = r.do(t, fasthttp.MethodGet, "/ws/clients", "")
	require.Equal(t, fasthttp.StatusOK, status)
	var list struct {
		Clients []types.ClientInfo `json:"clients"`
		Count   int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "A", list.Clients[0].ClientID)
}

func TestPublishRoute(t *testing.T) {
	r := newTestRelay(t, nil)
	a := r.dial(t, "A")
	r.waitClients(t, 1)

	status, _ := r.do(t, fasthttp.MethodPost, "/ws/publish", `{"notice":"maintenance"}`)
	assert.Equal(t, fasthttp.StatusAccepted, status)
	assert.JSONEq(t, `{"notice":"maintenance","client_id":"system"}`, string(read(t, a)))

	status, _ = r.do(t, fasthttp.MethodPost, "/ws/publish", `[1,2]`)
	assert.Equal(t, fasthttp.StatusBadRequest, status)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRelay(t, nil)
	r.dial(t, "A")
	r.waitClients(t, 1)

	status, body := r.do(t, fasthttp.MethodGet, "/healthz", "")
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	status, body = r.do(t, fasthttp.MethodGet, PathMetrics, "")
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.True(t, strings.Contains(string(body), "relay_hub_active_sessions 1"))
	assert.Contains(t, string(body), `relay_auth_results_total{result="ok"} 1`)
}

func TestActivateTwice(t *testing.T) {
	r := newTestRelay(t, nil)
	assert.True(t, r.provider.IsActive())
	assert.Error(t, r.provider.Activate())
}

func TestDeactivateEndsSessions(t *testing.T) {
	r := newTestRelay(t, nil)
	a := r.dial(t, "A")
	r.waitClients(t, 1)

	require.NoError(t, r.provider.Deactivate())
	assert.False(t, r.provider.IsActive())
	require.NoError(t, r.provider.Deactivate())

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	assert.Error(t, err)
}

func TestHealthReportsInactiveDuringDeactivate(t *testing.T) {
	r := newTestRelay(t, nil)

	// Health checks run on server workers while shutdown runs elsewhere.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.provider.Deactivate()
	}()
	for i := 0; i < 5; i++ {
		status, _ := r.do(t, fasthttp.MethodGet, "/healthz", "")
		assert.Contains(t, []int{fasthttp.StatusOK, fasthttp.StatusServiceUnavailable}, status)
	}
	<-done

	status, body := r.do(t, fasthttp.MethodGet, "/healthz", "")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, status)
	assert.JSONEq(t, `{"status":"inactive"}`, string(body))
}
