package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries. Callers should use [errors.Is] to match these.
var (
	// ErrSlugTaken indicates the requested slug is already live.
	ErrSlugTaken = errors.New("slug already in use")

	// ErrSlugExhausted means random slug generation collided past its
	// retry budget.
	ErrSlugExhausted = errors.New("could not allocate a unique slug")

	// ErrInvalidSlug means a client-requested slug failed the character
	// class or length check.
	ErrInvalidSlug = errors.New("invalid slug")

	// ErrCapacityExceeded is returned when accepting a handshake would
	// push the live tunnel count past max_tunnels.
	ErrCapacityExceeded = errors.New("max tunnels exceeded")

	// ErrTunnelNotFound means no live tunnel owns the given slug.
	ErrTunnelNotFound = errors.New("tunnel not found")

	// ErrTunnelDisconnected means the tunnel's control channel is not
	// writable (closed mid-request or during teardown).
	ErrTunnelDisconnected = errors.New("tunnel disconnected")

	// ErrRequestTimeout means no response frame arrived within the
	// request deadline.
	ErrRequestTimeout = errors.New("request timeout")
)

// TunnelError wraps an underlying error with tunnel context for logging.
type TunnelError struct {
	TunnelID string
	Op       string
	Err      error
}

func (e *TunnelError) Error() string {
	if e.TunnelID != "" {
		return fmt.Sprintf("tunnel %s: %s: %v", e.TunnelID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}
