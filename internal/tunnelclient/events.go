package tunnelclient

// EventKind identifies the category of a Client lifecycle Event.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
	EventRequest      EventKind = "request"
	EventReconnecting EventKind = "reconnecting"
)

// Event is published on the Client's event bus so an embedding UI (editor
// extension, CLI status line) can observe tunnel lifecycle transitions
// without depending on the controller's internals.
type Event struct {
	Kind    EventKind
	Message string

	// Populated for EventConnected.
	TunnelID  string
	Subdomain string
	PublicURL string

	// Populated for EventRequest.
	Method     string
	Path       string
	StatusCode int

	// Populated for EventReconnecting.
	Attempt int

	Err error
}
