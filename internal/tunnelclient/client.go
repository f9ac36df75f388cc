// Package tunnelclient implements the tunnel client controller: it dials
// the relay's control channel, forwards incoming requests to a local
// port, and reconnects with backoff when the channel drops, the way
// koltyakov-expose's internal/client package drives its own Client.Run
// reconnect loop -- adapted here to the relay's inline query-parameter
// handshake and without the WebSocket-passthrough or TLS-provisioning
// retry branches this tool does not support.
package tunnelclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tunnelmux/tunnelmux/internal/config"
	"github.com/tunnelmux/tunnelmux/internal/netutil"
	"github.com/tunnelmux/tunnelmux/internal/obslog"
	"github.com/tunnelmux/tunnelmux/internal/tunnelproto"
)

const (
	localForwardMaxBytes = 10 << 20
	wsReadLimit          = 32 << 20
	writeTimeout         = 5 * time.Second
	handshakeTimeout     = 10 * time.Second
)

// Client connects to a relay and proxies its public traffic to a local
// port, reconnecting with exponential backoff when the control channel
// drops.
type Client struct {
	cfg config.ClientConfig
	log logrus.FieldLogger

	fwd *http.Client

	events chan Event
	state  atomic.Value // State

	mu       sync.Mutex
	tunnelID string
}

// New builds a Client bound to cfg, logging through log as given.
func New(cfg config.ClientConfig, log logrus.FieldLogger) *Client {
	c := &Client{
		cfg:      cfg,
		log:      log,
		tunnelID: cfg.TunnelID,
		fwd: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		events: make(chan Event, 32),
	}
	c.state.Store(StateIdle)
	return c
}

// Events returns the channel Event values are published on. The channel
// is never closed; callers should stop reading once Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	return c.state.Load().(State)
}

func (c *Client) setState(s State) {
	c.state.Store(s)
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		// slow consumer: drop rather than block the proxy loop.
	}
}

// Run dials the relay and services traffic until ctx is cancelled or
// reconnection is exhausted. It blocks until the session ends for good.
func (c *Client) Run(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	maxAttempts := c.cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}

		c.setState(StateConnecting)
		conn, connected, err := c.dial(ctx)
		if err != nil {
			attempt++
			if attempt > maxAttempts {
				c.setState(StateClosed)
				c.emit(Event{Kind: EventError, Message: "reconnect attempts exhausted", Err: err})
				return errors.Wrap(err, "tunnel client: reconnect attempts exhausted")
			}
			c.setState(StateReconnecting)
			c.emit(Event{Kind: EventReconnecting, Attempt: attempt, Err: err})
			c.log.WithError(err).WithField("attempt", attempt).Warn("tunnel dial failed, retrying")

			select {
			case <-ctx.Done():
				c.setState(StateClosed)
				return nil
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}

		attempt = 0
		bo.Reset()
		c.mu.Lock()
		c.tunnelID = connected.TunnelID
		c.mu.Unlock()
		c.setState(StateOpen)
		c.emit(Event{
			Kind:      EventConnected,
			TunnelID:  connected.TunnelID,
			Subdomain: connected.Subdomain,
			PublicURL: connected.PublicURL,
		})
		c.log.WithField("public_url", connected.PublicURL).Info("tunnel connected")

		sessionErr := c.runSession(ctx, conn)
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}

		c.setState(StateReconnecting)
		c.emit(Event{Kind: EventDisconnected, Err: sessionErr})
		c.log.WithError(sessionErr).Warn("tunnel disconnected, reconnecting")
	}
}

// dial performs the control-channel handshake: upgrade to a WebSocket at
// <serverURL>/tunnel with tunnelId/port/subdomain query parameters, then
// read the server's `connected` acknowledgement frame.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, tunnelproto.Connected, error) {
	u, err := c.buildWSURL()
	if err != nil {
		return nil, tunnelproto.Connected{}, errors.Wrap(err, "invalid server URL")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, u, nil)
	if err != nil {
		return nil, tunnelproto.Connected{}, errors.Wrap(err, "websocket dial")
	}
	conn.SetReadLimit(wsReadLimit)

	var msg tunnelproto.Message
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.Close()
		return nil, tunnelproto.Connected{}, errors.Wrap(err, "reading handshake response")
	}

	switch msg.Kind {
	case tunnelproto.KindConnected:
		if msg.Connected == nil {
			_ = conn.Close()
			return nil, tunnelproto.Connected{}, errors.New("handshake response missing connected payload")
		}
		return conn, *msg.Connected, nil
	case tunnelproto.KindError:
		_ = conn.Close()
		return nil, tunnelproto.Connected{}, errors.Errorf("relay rejected handshake: %s", msg.Error)
	default:
		_ = conn.Close()
		return nil, tunnelproto.Connected{}, errors.Errorf("unexpected handshake frame: %s", msg.Kind)
	}
}

func (c *Client) buildWSURL() (string, error) {
	base := strings.TrimSpace(c.cfg.ServerURL)
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/tunnel"

	q := url.Values{}
	q.Set("port", strconv.Itoa(c.cfg.LocalPort))
	c.mu.Lock()
	tunnelID := c.tunnelID
	c.mu.Unlock()
	if tunnelID != "" {
		q.Set("tunnelId", tunnelID)
	}
	if c.cfg.PreferredSubdomain != "" {
		q.Set("subdomain", c.cfg.PreferredSubdomain)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// runSession services one live control-channel connection: reads frames,
// dispatches `request` frames to the local forwarder, and sends periodic
// pings. It returns once the connection drops or ctx is cancelled.
func (c *Client) runSession(ctx context.Context, conn *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pump := tunnelproto.NewWSWritePump(conn, writeTimeout, 8, 256)
	defer pump.Close()

	var wg sync.WaitGroup
	readErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			var msg tunnelproto.Message
			if err := conn.ReadJSON(&msg); err != nil {
				if tunnelproto.IsFrameDecodeError(err) {
					c.log.WithError(err).Warn("malformed frame from relay, skipping")
					continue
				}
				readErr <- err
				return
			}

			switch msg.Kind {
			case tunnelproto.KindRequest:
				if msg.Request == nil {
					continue
				}
				req := *msg.Request
				wg.Add(1)
				go func() {
					defer wg.Done()
					c.handleRequest(sessionCtx, pump, req)
				}()
			case tunnelproto.KindPing:
				_ = pump.WriteJSON(tunnelproto.Message{Kind: tunnelproto.KindPong})
			case tunnelproto.KindPong:
				// liveness only.
			default:
				c.log.WithField("kind", msg.Kind).Warn("unknown frame kind from relay")
			}
		}
	}()

	pingInterval := c.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sessionCtx.Done():
			break loop
		case <-ticker.C:
			if err := pump.WriteJSON(tunnelproto.Message{Kind: tunnelproto.KindPing}); err != nil {
				cancel()
				break loop
			}
		}
	}

	_ = conn.Close()
	wg.Wait()

	select {
	case err := <-readErr:
		return err
	default:
		return ctx.Err()
	}
}

// handleRequest forwards one tunneled request to the local server and
// sends the resulting response frame back to the relay, per spec.md
// §4.D steps 1-7: decode the body, build a local HTTP request, apply a
// per-request timeout, and fall back to a 502 on any local failure.
func (c *Client) handleRequest(ctx context.Context, pump *tunnelproto.WSWritePump, req tunnelproto.HTTPRequest) {
	started := time.Now()
	resp := c.forwardLocal(ctx, req)
	status := resp.StatusCode

	c.emit(Event{Kind: EventRequest, Method: req.Method, Path: req.Path, StatusCode: status})
	obslog.Request(c.log, "forwarded request", logrus.Fields{
		"method":   req.Method,
		"path":     req.Path,
		"status":   status,
		"duration": time.Since(started).String(),
	}, nil)

	if err := pump.WriteData(tunnelproto.Message{Kind: tunnelproto.KindResponse, Response: resp}); err != nil {
		c.log.WithError(err).WithField("request_id", req.RequestID).Warn("failed to send response to relay")
	}
}

func (c *Client) forwardLocal(ctx context.Context, req tunnelproto.HTTPRequest) *tunnelproto.HTTPResponse {
	body, err := tunnelproto.DecodeBody(req.BodyB64)
	if err != nil {
		return badGatewayResponse(req.RequestID, "malformed request body")
	}

	target := fmt.Sprintf("http://localhost:%d%s", c.cfg.LocalPort, req.Path)
	if req.Query != "" {
		target += "?" + req.Query
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	localReq, err := http.NewRequestWithContext(reqCtx, req.Method, target, bytes.NewReader(body))
	if err != nil {
		return badGatewayResponse(req.RequestID, "failed to build local request")
	}

	headers := tunnelproto.CloneHeaders(req.Headers)
	netutil.StripHopByHopMap(headers)
	for k, vals := range headers {
		for _, v := range vals {
			localReq.Header.Add(k, v)
		}
	}
	localReq.Header.Del("Host")

	resp, err := c.fwd.Do(localReq)
	if err != nil {
		return badGatewayResponse(req.RequestID, "Failed to reach local server: "+err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, localForwardMaxBytes+1))
	if err != nil {
		return badGatewayResponse(req.RequestID, "failed to read local response")
	}
	if len(respBody) > localForwardMaxBytes {
		return badGatewayResponse(req.RequestID, "local response too large")
	}

	netutil.StripHopByHop(resp.Header)
	respHeaders := tunnelproto.CloneHeaders(resp.Header)
	respHeaders["Content-Length"] = []string{strconv.Itoa(len(respBody))}

	return &tunnelproto.HTTPResponse{
		RequestID:  req.RequestID,
		StatusCode: resp.StatusCode,
		Headers:    respHeaders,
		BodyB64:    tunnelproto.EncodeBody(respBody),
	}
}

func badGatewayResponse(requestID, message string) *tunnelproto.HTTPResponse {
	return &tunnelproto.HTTPResponse{
		RequestID:  requestID,
		StatusCode: http.StatusBadGateway,
		Headers:    map[string][]string{"Content-Type": {"text/plain; charset=utf-8"}},
		BodyB64:    tunnelproto.EncodeBody([]byte(message)),
	}
}
