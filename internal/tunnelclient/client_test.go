package tunnelclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmux/tunnelmux/internal/config"
	"github.com/tunnelmux/tunnelmux/internal/tunnelproto"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func localPort(t *testing.T, hs *httptest.Server) int {
	t.Helper()
	u := strings.TrimPrefix(hs.URL, "http://")
	parts := strings.Split(u, ":")
	require.Len(t, parts, 2)
	port, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return port
}

func TestForwardLocalHappyPath(t *testing.T) {
	t.Parallel()

	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hello", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hi there"))
	}))
	defer local.Close()

	c := New(config.ClientConfig{LocalPort: localPort(t, local), RequestTimeout: time.Second}, testLogger())

	resp := c.forwardLocal(context.Background(), tunnelproto.HTTPRequest{
		RequestID: "r1",
		Method:    "GET",
		Path:      "/hello",
	})

	assert.Equal(t, 200, resp.StatusCode)
	body, err := tunnelproto.DecodeBody(resp.BodyB64)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(body))
}

func TestForwardLocalForwardsQueryString(t *testing.T) {
	t.Parallel()

	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "q=go&page=2", r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
	}))
	defer local.Close()

	c := New(config.ClientConfig{LocalPort: localPort(t, local), RequestTimeout: time.Second}, testLogger())

	resp := c.forwardLocal(context.Background(), tunnelproto.HTTPRequest{
		RequestID: "r1",
		Method:    "GET",
		Path:      "/search",
		Query:     "q=go&page=2",
	})

	assert.Equal(t, 200, resp.StatusCode)
}

func TestForwardLocalConnectionRefusedReturns502(t *testing.T) {
	t.Parallel()

	c := New(config.ClientConfig{LocalPort: 1, RequestTimeout: time.Second}, testLogger())

	resp := c.forwardLocal(context.Background(), tunnelproto.HTTPRequest{RequestID: "r1", Method: "GET", Path: "/"})

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, _ := tunnelproto.DecodeBody(resp.BodyB64)
	assert.Contains(t, string(body), "Failed to reach local server")
}

func TestForwardLocalStripsHopByHopHeaders(t *testing.T) {
	t.Parallel()

	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Connection"))
		w.WriteHeader(http.StatusOK)
	}))
	defer local.Close()

	c := New(config.ClientConfig{LocalPort: localPort(t, local), RequestTimeout: time.Second}, testLogger())

	resp := c.forwardLocal(context.Background(), tunnelproto.HTTPRequest{
		RequestID: "r1",
		Method:    "GET",
		Path:      "/",
		Headers:   map[string][]string{"Connection": {"keep-alive"}, "X-Test": {"yes"}},
	})
	assert.Equal(t, 200, resp.StatusCode)
}

// fakeRelay is a minimal relay-side WS handshake stub for exercising the
// client's dial/reconnect loop without depending on internal/relay.
func fakeRelay(t *testing.T, onConnect func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	router := mux.NewRouter()
	router.HandleFunc("/tunnel", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		onConnect(conn)
	})
	return httptest.NewServer(router)
}

func TestClientConnectsAndEmitsConnectedEvent(t *testing.T) {
	t.Parallel()

	relay := fakeRelay(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteJSON(tunnelproto.Message{
			Kind: tunnelproto.KindConnected,
			Connected: &tunnelproto.Connected{
				TunnelID:  "t1",
				Subdomain: "brave-otter-1",
				PublicURL: "http://relay.example/t/brave-otter-1",
			},
		})
		// keep the conn open briefly so the client observes StateOpen
		time.Sleep(100 * time.Millisecond)
	})
	defer relay.Close()

	c := New(config.ClientConfig{
		ServerURL:            relay.URL,
		LocalPort:            9999,
		MaxReconnectAttempts: 1,
		RequestTimeout:       time.Second,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = c.Run(ctx) }()

	var ev Event
	select {
	case ev = <-c.Events():
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, "brave-otter-1", ev.Subdomain)
}

func TestClientDialFailureEmitsReconnectingThenGivesUp(t *testing.T) {
	t.Parallel()

	c := New(config.ClientConfig{
		ServerURL:            "http://127.0.0.1:1",
		LocalPort:            9999,
		MaxReconnectAttempts: 1,
		RequestTimeout:       time.Second,
	}, testLogger())

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateClosed, c.State())

	ev := <-c.Events()
	assert.Equal(t, EventReconnecting, ev.Kind)
}

func TestClientRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	relay := fakeRelay(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteJSON(tunnelproto.Message{
			Kind:      tunnelproto.KindConnected,
			Connected: &tunnelproto.Connected{TunnelID: "t1", Subdomain: "s1", PublicURL: "http://x/t/s1"},
		})
		time.Sleep(5 * time.Second)
	})
	defer relay.Close()

	c := New(config.ClientConfig{
		ServerURL:      relay.URL,
		LocalPort:      9999,
		RequestTimeout: time.Second,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateClosed, c.State())
}

func TestBuildWSURLIncludesQueryParams(t *testing.T) {
	t.Parallel()

	c := New(config.ClientConfig{
		ServerURL:          "https://relay.example",
		LocalPort:          3000,
		PreferredSubdomain: "my-app",
		TunnelID:           "abc",
	}, testLogger())

	u, err := c.buildWSURL()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "wss://relay.example/tunnel?"))
	assert.Contains(t, u, "port=3000")
	assert.Contains(t, u, "subdomain=my-app")
	assert.Contains(t, u, "tunnelId=abc")
}
