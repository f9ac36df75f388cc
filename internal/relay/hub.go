package relay

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/tunnelmux/tunnelmux/internal/domain"
)

// hub is the tunnel registry and slug index: a single guarded structure
// (one sync.RWMutex) so registration/removal of a tunnel and its slug are
// always atomic together, matching the teacher's server.hub shape
// (internal/server/server.go) generalized from a single sessions map to a
// slug-indexed pair of maps.
type hub struct {
	mu        sync.RWMutex
	tunnels   map[string]*session // tunnel_id -> session
	bySlug    map[string]*session // slug -> session
	maxTunnel int
}

func newHub(maxTunnels int) *hub {
	return &hub{
		tunnels:   map[string]*session{},
		bySlug:    map[string]*session{},
		maxTunnel: maxTunnels,
	}
}

// count returns the number of live tunnels.
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tunnels)
}

// register installs sess under its tunnel ID and slug, enforcing capacity
// and slug uniqueness atomically. Returns domain.ErrCapacityExceeded or
// domain.ErrSlugTaken if the insert cannot proceed.
func (h *hub) register(sess *session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.tunnels) >= h.maxTunnel {
		return errors.WithStack(domain.ErrCapacityExceeded)
	}
	if _, taken := h.bySlug[sess.slug]; taken {
		return errors.WithStack(domain.ErrSlugTaken)
	}

	h.tunnels[sess.tunnelID] = sess
	h.bySlug[sess.slug] = sess
	return nil
}

// lookup returns the session owning slug, or nil if none.
func (h *hub) lookup(slug string) *session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bySlug[slug]
}

// remove unregisters a tunnel by ID, returning the removed session (or nil
// if it was already gone, e.g. a double-close race).
func (h *hub) remove(tunnelID string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.tunnels[tunnelID]
	if !ok {
		return nil
	}
	delete(h.tunnels, tunnelID)
	delete(h.bySlug, sess.slug)
	return sess
}

// snapshot returns a stable copy of all live sessions, for the janitor
// sweep and the landing-page listing — taking the lock briefly rather
// than holding it for the duration of a slow per-session operation.
func (h *hub) snapshot() []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*session, 0, len(h.tunnels))
	for _, sess := range h.tunnels {
		out = append(out, sess)
	}
	return out
}
