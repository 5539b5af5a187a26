// Package host describes the browser-side APIs the bridges consume:
// notification permission, the service worker container seen by a page,
// the controller reference and the worker's own client list.
//
// Callbacks registered here run on the owning context's event loop, one at
// a time, in the order the host raised them.
package host

import (
	"context"
	"errors"

	"github.com/crystaldolphin/pushbridge/internal/bus"
)

// Worker lifecycle states reported by Controller.State.
const (
	StateInstalling = "installing"
	StateInstalled  = "installed"
	StateActivating = "activating"
	StateActivated  = "activated"
	StateRedundant  = "redundant"
)

// ErrScriptNotFound is returned by Register for a script URL the host
// cannot load.
var ErrScriptNotFound = errors.New("host: worker script not found")

// Permissions reports the page's notification permission.
type Permissions interface {
	NotificationPermission() string
}

// Controller is the worker currently controlling a page.
type Controller interface {
	ScriptURL() string
	State() string
	// OnStateChange observes lifecycle transitions of this worker.
	OnStateChange(fn func(state string)) (remove func())
	// PostMessage delivers a frame to the worker.
	PostMessage(data []byte) error
}

// Container is the page's view of its service worker registration.
type Container interface {
	// Controller returns nil while no worker controls the page.
	Controller() Controller
	OnControllerChange(fn func()) (remove func())
	// OnMessage observes frames posted by the worker to this page.
	OnMessage(fn func(data []byte)) (remove func())
	// Register installs the script at scriptURL. It returns once the
	// registration exists; activation and claiming happen afterwards.
	Register(ctx context.Context, scriptURL string, opts bus.RegistrationOptions) error
}

// Client is a page as seen from inside the worker.
type Client interface {
	ID() string
	PostMessage(data []byte) error
}

// WorkerScope is the worker's global scope.
type WorkerScope interface {
	OnMessage(fn func(from Client, data []byte)) (remove func())
	// Clients returns the pages this worker controls.
	Clients() []Client
}
