package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/shared/stringutils"
	"github.com/crystaldolphin/pushbridge/internal/shared/urlutils"
)

// DefaultClaimTimeout is how long an accepted socket may wait for an
// observer to bind its port before the server closes it.
const DefaultClaimTimeout = 10 * time.Second

// socketPort adapts a websocket connection to a Port. gorilla/websocket
// allows one concurrent writer, so writes are serialised.
type socketPort struct {
	conn  *websocket.Conn
	inbox *Inbox[[]byte]

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newSocketPort(conn *websocket.Conn) *socketPort {
	p := &socketPort{
		conn:   conn,
		inbox:  NewInbox[[]byte](),
		closed: make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *socketPort) readLoop() {
	defer p.Close()
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("socket: read ended", "remote", p.conn.RemoteAddr(), "err", err)
			}
			return
		}
		p.inbox.Push(raw)
	}
}

func (p *socketPort) PostMessage(data []byte) error {
	select {
	case <-p.closed:
		return ErrPortClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write socket frame: %w", err)
	}
	return nil
}

func (p *socketPort) SetHandler(h func([]byte)) {
	p.inbox.SetHandler(h)
}

func (p *socketPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		p.inbox.Close()
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}

// Done is closed once the socket has shut down.
func (p *socketPort) Done() <-chan struct{} { return p.closed }

// Server accepts websocket connections and surfaces each one as an Event
// on itself. It is the listening side of the socket transport.
type Server struct {
	origin       string
	claimTimeout time.Duration
	upgrader     websocket.Upgrader
	window       *Window
}

// NewServer returns a Server whose own origin is origin. claimTimeout <= 0
// uses DefaultClaimTimeout.
func NewServer(origin string, claimTimeout time.Duration) *Server {
	if claimTimeout <= 0 {
		claimTimeout = DefaultClaimTimeout
	}
	return &Server{
		origin:       origin,
		claimTimeout: claimTimeout,
		upgrader: websocket.Upgrader{
			// Origin policy belongs to whoever observes the event.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		window: NewWindow(origin),
	}
}

func (s *Server) Origin() string { return s.origin }

func (s *Server) AddListener(fn func(Event)) (remove func()) {
	return s.window.AddListener(fn)
}

// ServeHTTP upgrades the request and waits for the first frame, which is
// delivered as an Event together with the socket's port.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("socket: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.claimTimeout))
	_, first, err := conn.ReadMessage()
	if err != nil {
		slog.Debug("socket: no opening frame", "remote", r.RemoteAddr, "err", err)
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	port := newSocketPort(conn)
	origin := r.Header.Get("Origin")
	slog.Debug("socket: accepted", "remote", r.RemoteAddr, "origin", origin, "frame", stringutils.Preview(first))

	s.window.inbox.Push(Event{Data: first, Origin: origin, Ports: []Port{port}})

	time.AfterFunc(s.claimTimeout, func() {
		if !port.inbox.HasHandler() {
			slog.Debug("socket: port never bound, closing", "remote", r.RemoteAddr)
			port.Close()
		}
	})
}

// Close stops event delivery. Sockets already bound stay open.
func (s *Server) Close() {
	s.window.Close()
}

// SocketTarget is the dialling side of the socket transport. The first
// PostMessage opens the conversation; a port transferred with it is pumped
// over the socket from then on.
type SocketTarget struct {
	conn         *websocket.Conn
	remoteOrigin string

	mu     sync.Mutex
	port   *socketPort
	pumped Port
}

// Dial connects to a socket Server at endpoint, presenting origin as the
// sender origin.
func Dial(ctx context.Context, endpoint, origin string) (*SocketTarget, error) {
	header := http.Header{}
	header.Set("Origin", origin)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &SocketTarget{
		conn:         conn,
		remoteOrigin: urlutils.SocketOrigin(endpoint),
		port:         newSocketPort(conn),
	}, nil
}

// DialRetry is Dial with exponential backoff, for helpers that are still
// starting up. It gives up after maxRetries further attempts or when ctx ends.
func DialRetry(ctx context.Context, endpoint, origin string, maxRetries uint64) (*SocketTarget, error) {
	var target *SocketTarget
	attempt := 0
	op := func() error {
		attempt++
		t, err := Dial(ctx, endpoint, origin)
		if err != nil {
			slog.Debug("socket: dial failed", "endpoint", endpoint, "attempt", attempt, "err", err)
			return err
		}
		target = t
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)); err != nil {
		return nil, err
	}
	return target, nil
}

// RemoteOrigin is the http(s) origin of the dialled endpoint.
func (t *SocketTarget) RemoteOrigin() string { return t.remoteOrigin }

func (t *SocketTarget) PostMessage(data []byte, targetOrigin string, ports []Port) error {
	if targetOrigin != bus.WildcardOrigin && !urlutils.SameOrigin(targetOrigin, t.remoteOrigin) {
		slog.Warn("socket: target origin mismatch, message not delivered",
			"target", targetOrigin, "actual", t.remoteOrigin)
		return nil
	}
	if len(ports) > 1 {
		return errors.New("socket: at most one port can be transferred")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(ports) == 1 {
		if t.pumped != nil {
			return errors.New("socket: a port is already transferred")
		}
		t.pumped = ports[0]
		local := ports[0]
		// Frames written on the transferred port go out over the socket;
		// frames read from the socket are posted back through it.
		local.SetHandler(func(frame []byte) {
			if err := t.port.PostMessage(frame); err != nil {
				slog.Debug("socket: forward failed", "err", err)
			}
		})
		t.port.SetHandler(func(frame []byte) {
			if err := local.PostMessage(frame); err != nil {
				slog.Debug("socket: deliver failed", "err", err)
			}
		})
	}
	return t.port.PostMessage(data)
}

// Done is closed when the socket shuts down.
func (t *SocketTarget) Done() <-chan struct{} { return t.port.Done() }

// Close shuts the socket and any transferred port down.
func (t *SocketTarget) Close() error {
	t.mu.Lock()
	pumped := t.pumped
	t.mu.Unlock()
	if pumped != nil {
		pumped.Close()
	}
	return t.port.Close()
}
