// Package domain defines the core data types shared across the relay,
// tunnel protocol, and client controller layers.
package domain

import "time"

// Tunnel is the relay's view of one live control channel: a slug, the
// informational local port the client is forwarding to, and bookkeeping
// for observability and teardown.
type Tunnel struct {
	ID          string
	Slug        string
	LocalPort   int
	ConnectedAt time.Time

	// RequestCount is a monotonically non-decreasing counter of visitor
	// requests accepted on this tunnel. Only ever read/written under the
	// owning hub's lock or via atomic ops — see relay.session.
	RequestCount uint64
}

// PublicURL builds the visitor-facing mount point for this tunnel given a
// base URL such as "https://relay.example.com".
func (t Tunnel) PublicURL(base string) string {
	return base + "/t/" + t.Slug
}
