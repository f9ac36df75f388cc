// Package stats tracks in-process counters for the relay's /health and
// /stats endpoints and optionally mirrors them to a statsd backend, the
// way passage's stats package wraps a statsd.ClientInterface with
// prefix/tag composition and logging fallback. Here the primary audience
// is the JSON endpoints themselves; statsd is an optional mirror.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/sirupsen/logrus"
)

// Recorder holds the relay's live counters plus an optional statsd sink.
type Recorder struct {
	startedAt  time.Time
	maxTunnels int

	activeTunnels int64
	totalRequests int64
	totalErrors   int64

	client statsd.ClientInterface
	logger logrus.FieldLogger
}

// New creates a Recorder. client may be nil, in which case statsd mirroring
// is a no-op; NewStatsdClient builds one from a configured address.
func New(maxTunnels int, client statsd.ClientInterface, logger logrus.FieldLogger) *Recorder {
	return &Recorder{
		startedAt:  time.Now(),
		maxTunnels: maxTunnels,
		client:     client,
		logger:     logger,
	}
}

// NewStatsdClient builds a statsd client for the given "host:port" address,
// or returns nil, nil if addr is empty (mirroring disabled).
func NewStatsdClient(addr string) (statsd.ClientInterface, error) {
	if addr == "" {
		return nil, nil
	}
	return statsd.New(addr, statsd.WithNamespace("tunnelmux."))
}

// TunnelConnected records a new live tunnel.
func (r *Recorder) TunnelConnected() {
	n := atomic.AddInt64(&r.activeTunnels, 1)
	r.gauge("tunnels.active", float64(n))
	r.incr("tunnels.connected")
}

// TunnelDisconnected records a tunnel leaving the registry.
func (r *Recorder) TunnelDisconnected() {
	n := atomic.AddInt64(&r.activeTunnels, -1)
	if n < 0 {
		atomic.StoreInt64(&r.activeTunnels, 0)
		n = 0
	}
	r.gauge("tunnels.active", float64(n))
	r.incr("tunnels.disconnected")
}

// RequestServed records one visitor request/response cycle.
func (r *Recorder) RequestServed(statusCode int) {
	atomic.AddInt64(&r.totalRequests, 1)
	r.incr("requests.total")
	if statusCode >= 500 {
		atomic.AddInt64(&r.totalErrors, 1)
		r.incr("requests.errors")
	}
}

// ActiveTunnels returns the current live-tunnel count.
func (r *Recorder) ActiveTunnels() int {
	return int(atomic.LoadInt64(&r.activeTunnels))
}

// Uptime returns elapsed time since the Recorder was created.
func (r *Recorder) Uptime() time.Duration {
	return time.Since(r.startedAt)
}

// HealthSnapshot matches spec's `{status, tunnels, uptime}` /health body.
type HealthSnapshot struct {
	Status  string `json:"status"`
	Tunnels int    `json:"tunnels"`
	Uptime  int64  `json:"uptime"`
}

// Health returns the current /health payload.
func (r *Recorder) Health() HealthSnapshot {
	return HealthSnapshot{
		Status:  "ok",
		Tunnels: r.ActiveTunnels(),
		Uptime:  int64(r.Uptime().Seconds()),
	}
}

// StatsSnapshot matches spec's `{activeTunnels, maxTunnels, uptime}` /stats
// body.
type StatsSnapshot struct {
	ActiveTunnels int   `json:"activeTunnels"`
	MaxTunnels    int   `json:"maxTunnels"`
	Uptime        int64 `json:"uptime"`
}

// Stats returns the current /stats payload.
func (r *Recorder) Stats() StatsSnapshot {
	return StatsSnapshot{
		ActiveTunnels: r.ActiveTunnels(),
		MaxTunnels:    r.maxTunnels,
		Uptime:        int64(r.Uptime().Seconds()),
	}
}

func (r *Recorder) incr(name string) {
	if r.client == nil {
		return
	}
	if err := r.client.Incr(name, nil, 1); err != nil && r.logger != nil {
		r.logger.WithError(err).Warn("statsd incr failed")
	}
}

func (r *Recorder) gauge(name string, value float64) {
	if r.client == nil {
		return
	}
	if err := r.client.Gauge(name, value, nil, 1); err != nil && r.logger != nil {
		r.logger.WithError(err).Warn("statsd gauge failed")
	}
}
