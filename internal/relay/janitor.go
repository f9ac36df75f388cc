package relay

import (
	"context"
	"time"
)

// runJanitor periodically expires sessions whose last observed frame is
// older than the configured heartbeat timeout, independent of the
// per-tunnel keepalive ping — reclaiming a half-open TCP connection that
// never surfaces a read error on its own.
func (s *Server) runJanitor(ctx context.Context) {
	interval := s.cfg.HeartbeatCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireStaleSessions()
		}
	}
}

func (s *Server) expireStaleSessions() {
	timeout := s.cfg.ClientPingTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	now := time.Now()
	for _, sess := range s.hub.snapshot() {
		if now.Sub(sess.lastSeen()) <= timeout {
			continue
		}
		s.log.WithField("tunnel_id", sess.tunnelID).WithField("last_seen", sess.lastSeen()).
			Warn("client heartbeat timeout, evicting session")
		s.teardownTunnel(sess)
	}
}
