package relay

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelmux/tunnelmux/internal/obslog"
	"github.com/tunnelmux/tunnelmux/internal/tunnelproto"
)

const writeTimeoutDefault = 5 * time.Second

// handleTunnelUpgrade accepts a client's control-channel handshake: parses
// tunnelId/port/subdomain query parameters, enforces capacity, allocates a
// slug, and either sends `connected` or `error`+close.
func (s *Server) handleTunnelUpgrade(w http.ResponseWriter, r *http.Request) {
	log := obslog.FromContext(r.Context())

	tunnelID := strings.TrimSpace(r.URL.Query().Get("tunnelId"))
	if tunnelID == "" {
		tunnelID = uuid.NewString()
	}

	portStr := r.URL.Query().Get("port")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		log.WithField("port", portStr).Warn("malformed handshake: invalid port")
		conn, upErr := wsUpgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		_ = conn.WriteJSON(tunnelproto.Message{Kind: tunnelproto.KindError, Error: "invalid port"})
		_ = conn.Close()
		return
	}

	if s.hub.count() >= s.cfg.MaxTunnels {
		conn, upErr := wsUpgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		_ = conn.WriteJSON(tunnelproto.Message{Kind: tunnelproto.KindError, Error: "relay at capacity"})
		_ = conn.Close()
		return
	}

	preferred := strings.TrimSpace(r.URL.Query().Get("subdomain"))

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := newSession(tunnelID, "", port, conn, writeTimeoutDefault)

	if err := allocateSlug(s.hub, sess, preferred); err != nil {
		_ = conn.WriteJSON(tunnelproto.Message{Kind: tunnelproto.KindError, Error: err.Error()})
		_ = conn.Close()
		log.WithError(err).Warn("handshake rejected")
		return
	}

	base, err := s.baseURL(r)
	if err != nil {
		log.WithError(err).Error("failed to derive base URL")
		base = ""
	}
	publicURL := base + "/t/" + sess.slug

	if err := sess.sendControl(tunnelproto.Message{
		Kind: tunnelproto.KindConnected,
		Connected: &tunnelproto.Connected{
			TunnelID:  sess.tunnelID,
			Subdomain: sess.slug,
			PublicURL: publicURL,
		},
	}); err != nil {
		s.hub.remove(sess.tunnelID)
		sess.teardown()
		return
	}

	if s.stats != nil {
		s.stats.TunnelConnected()
	}
	log.WithField("tunnel_id", sess.tunnelID).WithField("slug", sess.slug).Info("tunnel connected")

	go s.readLoop(sess)
	go s.pingLoop(sess)
}

func (s *Server) readLoop(sess *session) {
	defer s.teardownTunnel(sess)

	for {
		var msg tunnelproto.Message
		if err := sess.conn.ReadJSON(&msg); err != nil {
			if tunnelproto.IsFrameDecodeError(err) {
				s.log.WithError(err).WithField("tunnel_id", sess.tunnelID).Warn("malformed frame, skipping")
				continue
			}
			return
		}
		sess.touch()

		switch msg.Kind {
		case tunnelproto.KindResponse:
			if msg.Response == nil {
				continue
			}
			sess.resolvePending(msg.Response)
		case tunnelproto.KindPong:
			// liveness only; touch() above already recorded it.
		default:
			s.log.WithField("kind", msg.Kind).WithField("tunnel_id", sess.tunnelID).Warn("unknown frame kind")
		}
	}
}

func (s *Server) teardownTunnel(sess *session) {
	removed := s.hub.remove(sess.tunnelID)
	if removed == nil {
		return
	}
	sess.teardown()
	if s.stats != nil {
		s.stats.TunnelDisconnected()
	}
	s.log.WithField("tunnel_id", sess.tunnelID).Info("tunnel disconnected")
}
