// Package window implements the window messenger: a handshake that binds a
// dedicated port between two window-like contexts, and a request/reply
// multiplexer running over that port.
//
// One side calls [Messenger.Listen] with an origin allow-list; the other
// calls [Messenger.Connect] with the remote context and its expected
// origin. The connecting side creates a fresh message channel and
// transfers one end with a CONNECT_HANDSHAKE envelope; the listening side
// binds the first transferred port whose sender origin is allowed and
// echoes the handshake back over it. Everything else a listener receives
// while waiting is dropped without error.
//
// Once connected, [Messenger.Send] tags each request with a random
// correlation id. The reply carrying the same id resolves the returned
// [Exchange]; replies can themselves be replied to, to any depth.
// Non-reply envelopes are dispatched by topic to the handlers registered
// with [Messenger.On] and [Messenger.Once], in registration order.
//
// Handlers run on the port's delivery goroutine. They must not block:
// waiting there for a reply on the same channel deadlocks it.
package window
