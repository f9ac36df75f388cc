package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/tunnelmux/tunnelmux/internal/domain"
	"github.com/tunnelmux/tunnelmux/internal/tunnelproto"
)

// pendingEntry is one in-flight visitor request awaiting a response frame,
// generalizing the teacher's bare `chan *tunnelproto.HTTPResponse` into a
// record with an exactly-once completion sink, per spec's pending request
// record type.
type pendingEntry struct {
	respCh chan *tunnelproto.HTTPResponse
	once   sync.Once
}

func (p *pendingEntry) complete(resp *tunnelproto.HTTPResponse) {
	p.once.Do(func() {
		p.respCh <- resp
		close(p.respCh)
	})
}

// session is the relay's live view of one connected tunnel: its control
// channel (via a serializing write pump), its pending-request table, and
// liveness bookkeeping for the janitor sweep. Adapted from the teacher's
// server.session, generalized from a sync.Map of bare channels to a typed
// pendingEntry and from a single lastSeenUnixNano/closing pair to the same
// fields plus the domain.Tunnel's request counter.
type session struct {
	tunnelID  string
	slug      string
	localPort int

	conn *websocket.Conn
	pump *tunnelproto.WSWritePump

	mu      sync.Mutex
	pending map[string]*pendingEntry

	connectedAt      time.Time
	lastSeenUnixNano atomic.Int64
	requestCount     atomic.Uint64
	closing          atomic.Bool

	stopPing chan struct{}
}

func newSession(tunnelID, slug string, localPort int, conn *websocket.Conn, writeTimeout time.Duration) *session {
	sess := &session{
		tunnelID:    tunnelID,
		slug:        slug,
		localPort:   localPort,
		conn:        conn,
		pending:     map[string]*pendingEntry{},
		connectedAt: time.Now(),
		stopPing:    make(chan struct{}),
	}
	sess.pump = tunnelproto.NewWSWritePump(conn, writeTimeout, 8, 256)
	sess.touch()
	return sess
}

func (s *session) touch() {
	s.lastSeenUnixNano.Store(time.Now().UnixNano())
}

func (s *session) lastSeen() time.Time {
	n := s.lastSeenUnixNano.Load()
	if n == 0 {
		return time.Unix(0, 0)
	}
	return time.Unix(0, n)
}

func (s *session) tunnel() domain.Tunnel {
	return domain.Tunnel{
		ID:           s.tunnelID,
		Slug:         s.slug,
		LocalPort:    s.localPort,
		ConnectedAt:  s.connectedAt,
		RequestCount: s.requestCount.Load(),
	}
}

// registerPending installs a pending entry for requestID, returning its
// response channel. Exactly one of resolvePending, releasePending or
// teardown will ever send on it.
func (s *session) registerPending(requestID string) chan *tunnelproto.HTTPResponse {
	entry := &pendingEntry{respCh: make(chan *tunnelproto.HTTPResponse, 1)}
	s.mu.Lock()
	s.pending[requestID] = entry
	s.mu.Unlock()
	return entry.respCh
}

// resolvePending completes the pending entry for a response frame's
// RequestID, dropping the frame silently if no entry exists (already
// timed out or torn down).
func (s *session) resolvePending(resp *tunnelproto.HTTPResponse) {
	s.mu.Lock()
	entry, ok := s.pending[resp.RequestID]
	if ok {
		delete(s.pending, resp.RequestID)
	}
	s.mu.Unlock()
	if ok {
		entry.complete(resp)
	}
}

// releasePending removes and fails the pending entry for requestID, used on
// timeout or send failure so a later, stale response frame is dropped.
func (s *session) releasePending(requestID string) {
	s.mu.Lock()
	entry, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if ok {
		entry.complete(nil)
	}
}

// pendingCount reports the number of in-flight requests, for tests.
func (s *session) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// teardown fails every pending entry with a nil (disconnected) completion
// and closes the underlying connection. Safe to call more than once.
func (s *session) teardown() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	entries := make([]*pendingEntry, 0, len(s.pending))
	for id, e := range s.pending {
		entries = append(entries, e)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.complete(nil)
	}

	close(s.stopPing)
	s.pump.Close()
	_ = s.conn.Close()
}

func (s *session) sendRequest(msg tunnelproto.Message) error {
	if s.closing.Load() {
		return &domain.TunnelError{TunnelID: s.tunnelID, Op: "send-request", Err: domain.ErrTunnelDisconnected}
	}
	if err := s.pump.WriteData(msg); err != nil {
		return &domain.TunnelError{TunnelID: s.tunnelID, Op: "send-request", Err: errors.Wrap(domain.ErrTunnelDisconnected, err.Error())}
	}
	return nil
}

func (s *session) sendControl(msg tunnelproto.Message) error {
	return s.pump.WriteJSON(msg)
}
