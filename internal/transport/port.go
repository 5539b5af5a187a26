package transport

import "errors"

// ErrPortClosed is returned when posting on a closed port.
var ErrPortClosed = errors.New("transport: port closed")

// Port is one end of a bidirectional message channel. Delivery to the
// handler is FIFO and happens on a goroutine owned by the port; handlers
// must not block for long.
type Port interface {
	// PostMessage sends a frame to the other end.
	PostMessage(data []byte) error
	// SetHandler installs the receive handler. Frames that arrived while no
	// handler was set are delivered once one is. A nil handler pauses
	// delivery.
	SetHandler(h func(data []byte))
	// Close shuts this end down. Frames posted to a closed end are dropped.
	Close() error
}

// Event is one inbound message on a Context.
type Event struct {
	Data   []byte
	Origin string
	Ports  []Port
}

// Context is a window-like execution context that can be observed.
type Context interface {
	// Origin is the context's own origin.
	Origin() string
	// AddListener registers an observer and returns its removal func.
	AddListener(fn func(Event)) (remove func())
}

// Target posts messages into a remote context on behalf of a sender.
type Target interface {
	// PostMessage delivers data to the remote context if its origin matches
	// targetOrigin ("*" matches any), transferring ports along with it.
	PostMessage(data []byte, targetOrigin string, ports []Port) error
}
