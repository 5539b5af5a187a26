package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/registry"
	"github.com/crystaldolphin/pushbridge/internal/transport"
)

// ErrNoWorker is returned by the lifecycle steps when nothing is registered.
var ErrNoWorker = errors.New("host: no registered worker")

// Event names used on the simulator's listener registries.
const (
	eventControllerChange = "controllerchange"
	eventMessage          = "message"
	eventStateChange      = "statechange"
)

// BootFunc is a worker script. It runs once when the script is first
// evaluated and is where the worker attaches its message observer.
type BootFunc func(scope WorkerScope)

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	// Permission is the initial notification permission (default "default").
	Permission string
	// ManualLifecycle stops a registration at "installed"; the caller
	// drives Claim and Activate.
	ManualLifecycle bool
}

// Simulator is an in-process host with one page and at most one active
// worker. The page and the worker each run their own event loop.
type Simulator struct {
	page   *transport.Inbox[func()]
	worker *transport.Inbox[func()]

	pageEvents    *registry.Registry[func()]
	pageMessages  *registry.Registry[func([]byte)]
	scopeMessages *registry.Registry[func(Client, []byte)]

	client *pageClient
	manual bool

	mu         sync.Mutex
	permission string
	scripts    map[string]BootFunc
	failure    error
	active     *simWorker
	controller *simWorker
	held       [][]byte
}

// NewSimulator starts the page and worker event loops.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Permission == "" {
		opts.Permission = bus.PermissionDefault
	}
	s := &Simulator{
		page:          transport.NewInbox[func()](),
		worker:        transport.NewInbox[func()](),
		pageEvents:    registry.New[func()](),
		pageMessages:  registry.New[func([]byte)](),
		scopeMessages: registry.New[func(Client, []byte)](),
		manual:        opts.ManualLifecycle,
		permission:    opts.Permission,
		scripts:       make(map[string]BootFunc),
	}
	s.client = &pageClient{sim: s, id: uuid.NewString()}
	run := func(task func()) { task() }
	s.page.SetHandler(run)
	s.worker.SetHandler(run)
	return s
}

// Serve makes boot loadable under scriptURL.
func (s *Simulator) Serve(scriptURL string, boot BootFunc) {
	s.mu.Lock()
	s.scripts[scriptURL] = boot
	s.mu.Unlock()
}

// FailRegistrations makes every later Register fail with err. A nil err
// restores normal behaviour.
func (s *Simulator) FailRegistrations(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// SetPermission changes the reported notification permission.
func (s *Simulator) SetPermission(p string) {
	s.mu.Lock()
	s.permission = p
	s.mu.Unlock()
}

func (s *Simulator) NotificationPermission() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Scope is the worker-side view of the simulator.
func (s *Simulator) Scope() WorkerScope { return workerScope{s} }

// Close stops both event loops.
func (s *Simulator) Close() {
	s.page.Close()
	s.worker.Close()
}

func (s *Simulator) Controller() Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controller == nil {
		return nil
	}
	return s.controller
}

func (s *Simulator) OnControllerChange(fn func()) (remove func()) {
	l := s.pageEvents.Add(eventControllerChange, fn, false)
	return func() { s.pageEvents.Remove(eventControllerChange, l) }
}

// OnMessage observes frames from the worker. Frames posted while the page
// had no observer are held and flushed, in order, to the first one.
func (s *Simulator) OnMessage(fn func(data []byte)) (remove func()) {
	s.mu.Lock()
	l := s.pageMessages.Add(eventMessage, fn, false)
	s.page.Push(s.flushHeld)
	s.mu.Unlock()
	return func() { s.pageMessages.Remove(eventMessage, l) }
}

func (s *Simulator) Register(ctx context.Context, scriptURL string, opts bus.RegistrationOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.failure != nil {
		err := s.failure
		s.mu.Unlock()
		return fmt.Errorf("register %s: %w", scriptURL, err)
	}
	boot, ok := s.scripts[scriptURL]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("register %s: %w", scriptURL, ErrScriptNotFound)
	}
	if s.active != nil && s.active.scriptURL == scriptURL {
		s.mu.Unlock()
		return nil
	}
	w := &simWorker{sim: s, scriptURL: scriptURL, state: StateInstalling, listeners: registry.New[func(string)]()}
	prev := s.active
	s.active = w
	s.mu.Unlock()

	if prev != nil {
		s.transition(prev, StateRedundant)
		// The new script gets a fresh global scope.
		s.scopeMessages.RemoveAll(eventMessage)
	}
	boot(s.Scope())
	s.transition(w, StateInstalled)
	slog.Info("host: worker registered", "script", scriptURL, "scope", opts.Scope)

	if !s.manual {
		if err := s.Claim(); err != nil {
			return err
		}
		return s.Activate()
	}
	return nil
}

// Claim makes the registered worker the page's controller and raises
// controllerchange. The worker is left "activating".
func (s *Simulator) Claim() error {
	s.mu.Lock()
	w := s.active
	s.mu.Unlock()
	if w == nil {
		return ErrNoWorker
	}

	s.transition(w, StateActivating)
	s.page.Push(func() {
		s.mu.Lock()
		changed := s.controller != w
		s.controller = w
		s.mu.Unlock()
		if !changed {
			return
		}
		for _, l := range s.pageEvents.Find(eventControllerChange) {
			l.Callback()
		}
	})
	return nil
}

// Activate moves the registered worker to "activated".
func (s *Simulator) Activate() error {
	s.mu.Lock()
	w := s.active
	s.mu.Unlock()
	if w == nil {
		return ErrNoWorker
	}
	s.transition(w, StateActivated)
	return nil
}

// transition applies a state change on the page loop, where statechange
// listeners observe it.
func (s *Simulator) transition(w *simWorker, state string) {
	s.page.Push(func() {
		w.mu.Lock()
		w.state = state
		w.mu.Unlock()
		for _, l := range w.listeners.Find(eventStateChange) {
			l.Callback(state)
		}
	})
}

func (s *Simulator) deliverToPage(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page.Push(func() {
		s.mu.Lock()
		if len(s.held) > 0 || s.pageMessages.Len(eventMessage) == 0 {
			s.held = append(s.held, data)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.dispatchToPage(data)
	})
}

func (s *Simulator) flushHeld() {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()
	for _, data := range held {
		s.dispatchToPage(data)
	}
}

func (s *Simulator) dispatchToPage(data []byte) {
	for _, l := range s.pageMessages.Find(eventMessage) {
		l.Callback(data)
	}
}

// simWorker is both the registration's worker and, once claimed, the
// page's Controller.
type simWorker struct {
	sim       *Simulator
	scriptURL string
	listeners *registry.Registry[func(string)]

	mu    sync.Mutex
	state string
}

func (w *simWorker) ScriptURL() string { return w.scriptURL }

func (w *simWorker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *simWorker) OnStateChange(fn func(state string)) (remove func()) {
	l := w.listeners.Add(eventStateChange, fn, false)
	return func() { w.listeners.Remove(eventStateChange, l) }
}

func (w *simWorker) PostMessage(data []byte) error {
	if w.State() == StateRedundant {
		return fmt.Errorf("post to %s: worker is redundant", w.scriptURL)
	}
	frame := append([]byte(nil), data...)
	client := w.sim.client
	w.sim.worker.Push(func() {
		for _, l := range w.sim.scopeMessages.Find(eventMessage) {
			l.Callback(client, frame)
		}
	})
	return nil
}

type workerScope struct{ sim *Simulator }

func (sc workerScope) OnMessage(fn func(from Client, data []byte)) (remove func()) {
	l := sc.sim.scopeMessages.Add(eventMessage, fn, false)
	return func() { sc.sim.scopeMessages.Remove(eventMessage, l) }
}

func (sc workerScope) Clients() []Client {
	sc.sim.mu.Lock()
	defer sc.sim.mu.Unlock()
	if sc.sim.controller == nil {
		return nil
	}
	return []Client{sc.sim.client}
}

type pageClient struct {
	sim *Simulator
	id  string
}

func (c *pageClient) ID() string { return c.id }

func (c *pageClient) PostMessage(data []byte) error {
	c.sim.deliverToPage(append([]byte(nil), data...))
	return nil
}
