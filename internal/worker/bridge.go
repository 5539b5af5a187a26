// Package worker carries request/reply traffic between a page and the
// service worker that controls it.
//
// Worker messages have no correlation id. A reply is matched to its
// request by command alone, so callers must keep at most one request per
// command in flight; two concurrent requests on the same command may each
// receive the other's reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/host"
	"github.com/crystaldolphin/pushbridge/internal/registry"
	"github.com/crystaldolphin/pushbridge/internal/shared/stringutils"
)

// ErrControlLost is returned by Unicast when the controller disappears
// between readiness and posting.
var ErrControlLost = errors.New("worker: page no longer controlled")

// Handler receives the payload of a worker message.
type Handler func(payload json.RawMessage)

// Subscription identifies a registered Handler.
type Subscription = *registry.Listener[Handler]

// Bridge is the page side of the worker channel.
type Bridge struct {
	container host.Container
	listeners *registry.Registry[Handler]

	listenOnce sync.Once
	removeObs  func()
}

// NewBridge returns a Bridge over container.
func NewBridge(container host.Container) *Bridge {
	return &Bridge{
		container: container,
		listeners: registry.New[Handler](),
	}
}

// IsControlled reports whether an activated worker controls the page.
func (b *Bridge) IsControlled() bool {
	return controls(b.container.Controller())
}

func controls(ctrl host.Controller) bool {
	return ctrl != nil && ctrl.State() == host.StateActivated
}

// WaitUntilControlled returns once an activated worker controls the page.
// A controllerchange alone is not enough: the new controller must also
// reach "activated". The wait never fails on its own; only ctx ends it.
func (b *Bridge) WaitUntilControlled(ctx context.Context) error {
	if b.IsControlled() {
		return nil
	}

	ready := make(chan struct{})
	var once sync.Once
	signal := func() { once.Do(func() { close(ready) }) }

	var mu sync.Mutex
	var stopState func()
	watch := func(ctrl host.Controller) {
		if ctrl == nil {
			return
		}
		stop := ctrl.OnStateChange(func(state string) {
			if state == host.StateActivated {
				signal()
			}
		})
		mu.Lock()
		if stopState != nil {
			stopState()
		}
		stopState = stop
		mu.Unlock()
		if ctrl.State() == host.StateActivated {
			signal()
		}
	}

	stopChange := b.container.OnControllerChange(func() {
		watch(b.container.Controller())
	})
	defer func() {
		stopChange()
		mu.Lock()
		if stopState != nil {
			stopState()
		}
		mu.Unlock()
	}()

	// A controller that was claimed before we subscribed never raises
	// controllerchange again, so its state is watched directly.
	watch(b.container.Controller())

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unicast waits for control and posts {command: topic, payload} to the
// controller. Register the reply handler with Once before calling Unicast,
// and keep one request per topic in flight.
func (b *Bridge) Unicast(ctx context.Context, topic bus.Topic, payload any) error {
	if err := b.WaitUntilControlled(ctx); err != nil {
		return err
	}
	msg, err := bus.NewWorkerMessage(topic, payload)
	if err != nil {
		return err
	}
	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal worker message: %w", err)
	}

	ctrl := b.container.Controller()
	if ctrl == nil {
		return ErrControlLost
	}
	if err := ctrl.PostMessage(raw); err != nil {
		return fmt.Errorf("unicast %s: %w", topic, err)
	}
	slog.Debug("worker: unicast", "command", topic, "script", ctrl.ScriptURL())
	return nil
}

// Listen waits for control and then attaches the inbound observer. Later
// calls return nil without attaching again.
func (b *Bridge) Listen(ctx context.Context) error {
	if err := b.WaitUntilControlled(ctx); err != nil {
		return err
	}
	b.listenOnce.Do(func() {
		b.removeObs = b.container.OnMessage(b.onMessage)
		slog.Debug("worker: bridge listening")
	})
	return nil
}

func (b *Bridge) onMessage(raw []byte) {
	msg, err := bus.ParseWorkerMessage(raw)
	if err != nil {
		slog.Debug("worker: malformed frame dropped", "frame", stringutils.Preview(raw))
		return
	}
	listeners := b.listeners.Take(string(msg.Command))
	if len(listeners) == 0 {
		slog.Debug("worker: no listener for command", "command", msg.Command)
		return
	}
	for _, l := range listeners {
		l.Callback(msg.Payload)
	}
}

// On registers a persistent handler for topic.
func (b *Bridge) On(topic bus.Topic, h Handler) Subscription {
	return b.listeners.Add(string(topic), h, false)
}

// Once registers a handler for the next message on topic only. Because
// replies are matched by topic, a Once handler takes whichever message on
// topic arrives first.
func (b *Bridge) Once(topic bus.Topic, h Handler) Subscription {
	return b.listeners.Add(string(topic), h, true)
}

// Off removes sub from topic; a nil sub clears the topic.
func (b *Bridge) Off(topic bus.Topic, sub Subscription) {
	if sub == nil {
		b.listeners.RemoveAll(string(topic))
		return
	}
	b.listeners.Remove(string(topic), sub)
}

// Close detaches the inbound observer.
func (b *Bridge) Close() {
	b.listenOnce.Do(func() {})
	if b.removeObs != nil {
		b.removeObs()
	}
}
