package relay

import (
	"time"

	"github.com/tunnelmux/tunnelmux/internal/tunnelproto"
)

const keepalivePeriod = 30 * time.Second

// pingLoop sends a `ping` control frame every keepalivePeriod until the
// session tears down, giving the client a transport-level liveness probe
// independent of the janitor's coarser heartbeat sweep.
func (s *Server) pingLoop(sess *session) {
	ticker := time.NewTicker(keepalivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stopPing:
			return
		case <-ticker.C:
			if err := sess.sendControl(tunnelproto.Message{Kind: tunnelproto.KindPing}); err != nil {
				return
			}
		}
	}
}
