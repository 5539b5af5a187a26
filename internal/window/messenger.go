package window

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/registry"
	"github.com/crystaldolphin/pushbridge/internal/shared/stringutils"
	"github.com/crystaldolphin/pushbridge/internal/shared/urlutils"
	"github.com/crystaldolphin/pushbridge/internal/transport"
)

// Subscription is the record returned by On and Once, used to unregister.
type Subscription = *registry.Listener[Handler]

// Messenger owns at most one bound channel to a single remote context.
type Messenger struct {
	local transport.Context
	name  string

	listeners *registry.Registry[Handler]
	newID     func() string

	mu             sync.Mutex
	state          State
	closed         bool
	port           transport.Port
	allowed        map[string]struct{}
	removeObserver func()
	pending        map[string]*Exchange
	connected      chan struct{}
}

// New returns an idle Messenger observing local. local may be nil for a
// messenger that only ever connects.
func New(local transport.Context, name string) *Messenger {
	return &Messenger{
		local:     local,
		name:      name,
		listeners: registry.New[Handler](),
		newID:     uuid.NewString,
		pending:   make(map[string]*Exchange),
		connected: make(chan struct{}),
	}
}

// State returns the current channel state.
func (m *Messenger) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected is closed when the channel is bound on this side.
func (m *Messenger) Connected() <-chan struct{} { return m.connected }

// WaitConnected blocks until the channel is bound or ctx ends.
func (m *Messenger) WaitConnected(ctx context.Context) error {
	select {
	case <-m.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen waits for a handshake from one of allowedOrigins and blocks until
// the channel is bound or ctx ends. Usage errors are returned before any
// state changes. If ctx ends first the messenger keeps listening; the
// channel may still bind later and WaitConnected observes it.
func (m *Messenger) Listen(ctx context.Context, allowedOrigins []string) error {
	allowed, err := normalizeOrigins(allowedOrigins)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if err := m.checkIdleLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.local == nil {
		m.mu.Unlock()
		return ErrNoLocalContext
	}
	m.allowed = allowed
	m.state = StateListening
	m.removeObserver = m.local.AddListener(m.onContextEvent)
	m.mu.Unlock()

	slog.Debug("window: listening", "messenger", m.name, "allowed", allowedOrigins)
	return m.WaitConnected(ctx)
}

// Connect binds a channel to remote, which must report expectedOrigin
// ("*" for any), and blocks until the handshake echo arrives or ctx ends.
func (m *Messenger) Connect(ctx context.Context, remote transport.Target, expectedOrigin string) error {
	if remote == nil {
		return ErrNoRemote
	}
	if expectedOrigin == "" {
		return ErrNoOrigin
	}

	m.mu.Lock()
	if err := m.checkIdleLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	local, transferred := transport.NewMessageChannel()
	m.port = local
	m.state = StateConnecting
	m.mu.Unlock()

	local.SetHandler(m.onPortMessage)

	handshake, err := bus.Envelope{Topic: bus.TopicConnectHandshake}.Marshal()
	if err == nil {
		err = remote.PostMessage(handshake, expectedOrigin, []transport.Port{transferred})
	}
	if err != nil {
		m.mu.Lock()
		m.port = nil
		m.state = StateIdle
		m.mu.Unlock()
		local.Close()
		transferred.Close()
		return fmt.Errorf("post handshake: %w", err)
	}

	slog.Debug("window: handshake sent", "messenger", m.name, "target", expectedOrigin)
	return m.WaitConnected(ctx)
}

func (m *Messenger) checkIdleLocked() error {
	if m.closed {
		return ErrClosed
	}
	switch m.state {
	case StateConnected:
		return ErrAlreadyConnected
	case StateConnecting:
		return ErrAlreadyConnecting
	case StateListening:
		return ErrAlreadyListening
	}
	return nil
}

func normalizeOrigins(origins []string) (map[string]struct{}, error) {
	if len(origins) == 0 {
		return nil, ErrInvalidOrigins
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		n := urlutils.NormalizeOrigin(o)
		if n == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOrigins, o)
		}
		allowed[n] = struct{}{}
	}
	return allowed, nil
}

// onContextEvent is the transport-level observer installed by Listen.
func (m *Messenger) onContextEvent(ev transport.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateListening || m.closed {
		return
	}
	origin := urlutils.NormalizeOrigin(ev.Origin)
	if _, ok := m.allowed[origin]; !ok {
		slog.Debug("window: message from disallowed origin dropped", "messenger", m.name, "origin", ev.Origin)
		return
	}
	env, err := bus.ParseEnvelope(ev.Data)
	if err != nil || env.Topic != bus.TopicConnectHandshake {
		slog.Debug("window: non-handshake message dropped", "messenger", m.name, "frame", stringutils.Preview(ev.Data))
		return
	}
	if len(ev.Ports) == 0 {
		slog.Debug("window: handshake without port dropped", "messenger", m.name, "origin", ev.Origin)
		return
	}

	m.removeObserver()
	m.removeObserver = nil

	port := ev.Ports[0]
	m.port = port
	port.SetHandler(m.onPortMessage)

	// The echo goes out before the state flips so that nothing sent by
	// this side can overtake it on the port.
	echo, _ := bus.Envelope{Topic: bus.TopicConnectHandshake}.Marshal()
	if err := port.PostMessage(echo); err != nil {
		slog.Warn("window: handshake echo failed", "messenger", m.name, "err", err)
	}
	m.state = StateConnected
	close(m.connected)

	slog.Info("window: connected", "messenger", m.name, "origin", origin)
}

// onPortMessage handles every frame arriving on the bound port.
func (m *Messenger) onPortMessage(raw []byte) {
	env, err := bus.ParseEnvelope(raw)
	if err != nil {
		slog.Debug("window: malformed frame dropped", "messenger", m.name, "err", err)
		return
	}

	m.mu.Lock()
	if m.state == StateConnecting {
		if env.Topic == bus.TopicConnectHandshake {
			m.state = StateConnected
			close(m.connected)
			m.mu.Unlock()
			slog.Info("window: connected", "messenger", m.name)
			return
		}
		m.mu.Unlock()
		slog.Debug("window: frame before handshake dropped", "messenger", m.name, "topic", env.Topic)
		return
	}
	if env.IsReply {
		x, ok := m.pending[env.ID]
		if ok {
			delete(m.pending, env.ID)
		}
		m.mu.Unlock()

		if !ok {
			slog.Debug("window: unmatched reply dropped", "messenger", m.name, "id", env.ID, "topic", env.Topic)
			return
		}
		x.resolve(m.message(env))
		return
	}
	m.mu.Unlock()

	if env.Topic == bus.TopicConnectHandshake {
		slog.Debug("window: repeated handshake ignored", "messenger", m.name)
		return
	}

	listeners := m.listeners.Take(string(env.Topic))
	if len(listeners) == 0 {
		slog.Debug("window: no listener for topic", "messenger", m.name, "topic", env.Topic)
		return
	}
	msg := m.message(env)
	for _, l := range listeners {
		l.Callback(msg)
	}
}

func (m *Messenger) message(env bus.Envelope) *Message {
	return &Message{Topic: env.Topic, Data: env.Data, id: env.ID, m: m}
}

// Send transmits data under topic with a fresh correlation id. The returned
// Exchange resolves with the matching reply.
func (m *Messenger) Send(topic bus.Topic, data any) (*Exchange, error) {
	return m.post(m.newID(), topic, data, false, true)
}

// Request is Send followed by Wait.
func (m *Messenger) Request(ctx context.Context, topic bus.Topic, data any) (*Message, error) {
	x, err := m.Send(topic, data)
	if err != nil {
		return nil, err
	}
	return x.Wait(ctx)
}

func (m *Messenger) post(id string, topic bus.Topic, data any, isReply, await bool) (*Exchange, error) {
	env, err := bus.NewEnvelope(id, topic, data)
	if err != nil {
		return nil, err
	}
	env.IsReply = isReply
	raw, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", topic, err)
	}

	var x *Exchange
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.state != StateConnected {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	if await {
		x = newExchange(id, topic)
		m.pending[id] = x
	}
	port := m.port
	m.mu.Unlock()

	if err := port.PostMessage(raw); err != nil {
		if x != nil {
			m.mu.Lock()
			if m.pending[id] == x {
				delete(m.pending, id)
			}
			m.mu.Unlock()
		}
		return nil, fmt.Errorf("post %s: %w", topic, err)
	}
	return x, nil
}

// Pending returns the number of exchanges still awaiting a reply.
func (m *Messenger) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// On registers a persistent handler for topic.
func (m *Messenger) On(topic bus.Topic, h Handler) Subscription {
	return m.listeners.Add(string(topic), h, false)
}

// Once registers a handler removed after its first invocation.
func (m *Messenger) Once(topic bus.Topic, h Handler) Subscription {
	return m.listeners.Add(string(topic), h, true)
}

// Off removes sub from topic; a nil sub clears every handler for topic.
func (m *Messenger) Off(topic bus.Topic, sub Subscription) {
	if sub == nil {
		m.listeners.RemoveAll(string(topic))
		return
	}
	m.listeners.Remove(string(topic), sub)
}

// Close releases the bound port, or the observer when still listening.
// Pending exchanges are left unresolved.
func (m *Messenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.removeObserver != nil {
		m.removeObserver()
		m.removeObserver = nil
	}
	if m.port != nil {
		return m.port.Close()
	}
	return nil
}
