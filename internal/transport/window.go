package transport

import (
	"log/slog"
	"sync"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/shared/urlutils"
)

// Window is an in-process window-like Context. Events are dispatched in
// arrival order to the listeners registered at dispatch time; an event that
// finds no listener is lost.
type Window struct {
	origin string
	inbox  *Inbox[Event]

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Event)
	order     []int
}

// NewWindow creates a Window with the given origin.
func NewWindow(origin string) *Window {
	w := &Window{
		origin:    origin,
		inbox:     NewInbox[Event](),
		listeners: make(map[int]func(Event)),
	}
	w.inbox.SetHandler(w.dispatch)
	return w
}

func (w *Window) Origin() string { return w.origin }

func (w *Window) AddListener(fn func(Event)) (remove func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.order = append(w.order, id)
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.listeners, id)
			for i, existing := range w.order {
				if existing == id {
					w.order = append(w.order[:i:i], w.order[i+1:]...)
					break
				}
			}
		})
	}
}

// TargetFrom returns a Target that posts into w with sender's origin.
func (w *Window) TargetFrom(sender Context) Target {
	return &windowTarget{to: w, from: sender.Origin()}
}

// Close stops event delivery.
func (w *Window) Close() {
	w.inbox.Close()
}

func (w *Window) dispatch(ev Event) {
	w.mu.Lock()
	fns := make([]func(Event), 0, len(w.order))
	for _, id := range w.order {
		fns = append(fns, w.listeners[id])
	}
	w.mu.Unlock()

	if len(fns) == 0 {
		slog.Debug("window: event without listener dropped", "origin", w.origin, "from", ev.Origin)
		return
	}
	for _, fn := range fns {
		fn(ev)
	}
}

type windowTarget struct {
	to   *Window
	from string
}

func (t *windowTarget) PostMessage(data []byte, targetOrigin string, ports []Port) error {
	if targetOrigin != bus.WildcardOrigin && !urlutils.SameOrigin(targetOrigin, t.to.origin) {
		slog.Debug("window: target origin mismatch, message not delivered",
			"target", targetOrigin, "actual", t.to.origin)
		return nil
	}
	t.to.inbox.Push(Event{Data: clone(data), Origin: t.from, Ports: ports})
	return nil
}
