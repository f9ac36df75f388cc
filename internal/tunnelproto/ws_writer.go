package tunnelproto

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var ErrWSWritePumpClosed = errors.New("websocket write pump closed")
var ErrWSWritePumpBackpressure = errors.New("websocket write pump backpressure")

const (
	defaultWSWriteControlEnqueueTimeout = 2 * time.Second
	defaultWSWriteDataEnqueueTimeout    = 500 * time.Millisecond
)

type wsWriteRequest struct {
	msg  Message
	done chan error
}

// WSWritePump serializes websocket writes on a single control channel so
// that concurrent senders (the request dispatcher, the keepalive ticker,
// the handshake/error path) never interleave partial frames on the wire
// (spec.md §5: "each control-channel write must be serialized"). Control
// frames (connected/error/ping/pong) are prioritized ahead of bulk
// request/response traffic so liveness is never starved by a backlog of
// in-flight visitor requests.
type WSWritePump struct {
	writeFn     func(wsWriteRequest) error
	closeFn     func()
	high        chan wsWriteRequest
	low         chan wsWriteRequest
	stop        chan struct{}
	done        chan struct{}
	closed      atomic.Bool
	stopOnce    sync.Once
	highTimeout time.Duration
	lowTimeout  time.Duration
}

// NewWSWritePump creates a write pump bound to a live websocket connection.
func NewWSWritePump(conn *websocket.Conn, writeTimeout time.Duration, highCap, lowCap int) *WSWritePump {
	return newWSWritePumpWithWriter(func(req wsWriteRequest) error {
		if conn == nil {
			return ErrWSWritePumpClosed
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			_ = conn.Close()
			return err
		}
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()

		if err := conn.WriteJSON(req.msg); err != nil {
			_ = conn.Close()
			return err
		}
		return nil
	}, func() {
		if conn != nil {
			_ = conn.Close()
		}
	}, highCap, lowCap)
}

func newWSWritePumpWithWriter(writeFn func(wsWriteRequest) error, closeFn func(), highCap, lowCap int) *WSWritePump {
	if highCap <= 0 {
		highCap = 1
	}
	if lowCap <= 0 {
		lowCap = 1
	}
	p := &WSWritePump{
		writeFn:     writeFn,
		closeFn:     closeFn,
		high:        make(chan wsWriteRequest, highCap),
		low:         make(chan wsWriteRequest, lowCap),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		highTimeout: defaultWSWriteControlEnqueueTimeout,
		lowTimeout:  defaultWSWriteDataEnqueueTimeout,
	}
	go p.run()
	return p
}

// WriteJSON enqueues a control-priority frame (connected, error, ping, pong).
func (p *WSWritePump) WriteJSON(msg Message) error {
	return p.enqueue(wsWriteRequest{msg: msg, done: make(chan error, 1)}, true)
}

// WriteData enqueues a data-priority frame (request, response).
func (p *WSWritePump) WriteData(msg Message) error {
	return p.enqueue(wsWriteRequest{msg: msg, done: make(chan error, 1)}, false)
}

// Close stops the pump and fails any in-flight or queued writes.
func (p *WSWritePump) Close() {
	p.closed.Store(true)
	p.signalStop()
	<-p.done
}

func (p *WSWritePump) enqueue(req wsWriteRequest, high bool) error {
	if p.closed.Load() {
		return ErrWSWritePumpClosed
	}

	target, wait := p.low, p.lowTimeout
	if high {
		target, wait = p.high, p.highTimeout
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-p.stop:
		return ErrWSWritePumpClosed
	case target <- req:
	case <-timer.C:
		p.triggerBackpressure()
		return ErrWSWritePumpBackpressure
	}

	return <-req.done
}

func (p *WSWritePump) run() {
	defer close(p.done)

	for {
		req, ok := p.next()
		if !ok {
			p.failPending(ErrWSWritePumpClosed)
			return
		}
		err := p.writeFn(req)
		req.done <- err
		if err != nil {
			p.closed.Store(true)
			p.signalStop()
			p.failPending(err)
			return
		}
		if p.closed.Load() {
			p.signalStop()
			p.failPending(ErrWSWritePumpClosed)
			return
		}
	}
}

func (p *WSWritePump) next() (wsWriteRequest, bool) {
	select {
	case req := <-p.high:
		return req, true
	default:
	}

	select {
	case <-p.stop:
		return wsWriteRequest{}, false
	case req := <-p.high:
		return req, true
	case req := <-p.low:
		return req, true
	}
}

func (p *WSWritePump) failPending(err error) {
	for {
		select {
		case req := <-p.high:
			req.done <- err
		case req := <-p.low:
			req.done <- err
		default:
			return
		}
	}
}

func (p *WSWritePump) signalStop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

func (p *WSWritePump) triggerBackpressure() {
	if p.closed.Swap(true) {
		return
	}
	if p.closeFn != nil {
		p.closeFn()
	}
	p.signalStop()
}
