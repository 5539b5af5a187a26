// Package transport provides the cross-context messaging primitives the
// messengers are built on.
//
// A [Port] is one end of a two-ended channel: frames posted on one end are
// delivered, in order, to the handler of the other end. [NewMessageChannel]
// creates an in-process pair. Frames posted before a handler is set are
// queued and delivered once one is.
//
// A [Context] is a window-like execution context that observers can listen
// on; each [Event] carries the frame, the sender origin as reported by the
// transport, and any ports transferred with it. A [Target] is the sending
// side of a context, bound to the sender's origin.
//
// [Window] is the in-process Context used by tests and the simulator. The
// websocket implementation ([Server], [Dial]) carries the same protocol
// between processes: every accepted socket surfaces as one Event whose
// origin is the upgrade request's Origin header and whose single port is
// the socket itself.
package transport
