package window

import "errors"

// State is the channel lifecycle of a Messenger.
type State int

const (
	StateIdle State = iota
	StateListening
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyConnected  = errors.New("window: already connected")
	ErrAlreadyConnecting = errors.New("window: already connecting")
	ErrAlreadyListening  = errors.New("window: already listening")
	ErrInvalidOrigins    = errors.New("window: allowed origins must be a non-empty list of origins")
	ErrNoLocalContext    = errors.New("window: no local context to listen on")
	ErrNoRemote          = errors.New("window: remote context is required")
	ErrNoOrigin          = errors.New("window: expected remote origin is required")
	ErrNotConnected      = errors.New("window: not connected")
	ErrClosed            = errors.New("window: messenger closed")
)
