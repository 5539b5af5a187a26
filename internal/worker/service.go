package worker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/host"
	"github.com/crystaldolphin/pushbridge/internal/registry"
)

// Command is one inbound message as seen by the worker.
type Command struct {
	Topic   bus.Topic
	Payload json.RawMessage
	From    host.Client
}

// Decode unmarshals the payload into v.
func (c Command) Decode(v any) error {
	return bus.Decode(c.Payload, v)
}

// CommandHandler serves one command inside the worker.
type CommandHandler func(cmd Command)

// Service is the worker side of the channel. Handlers are registered with
// On; Install attaches the scope observer and must run while the worker
// script is first evaluated.
type Service struct {
	handlers *registry.Registry[CommandHandler]

	mu    sync.Mutex
	scope host.WorkerScope
}

// NewService returns a Service with no handlers.
func NewService() *Service {
	return &Service{handlers: registry.New[CommandHandler]()}
}

// Install attaches the inbound observer to scope. Only the first call has
// any effect.
func (s *Service) Install(scope host.WorkerScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scope != nil {
		return
	}
	s.scope = scope
	scope.OnMessage(s.onMessage)
	slog.Debug("worker: service installed")
}

// On registers h for topic.
func (s *Service) On(topic bus.Topic, h CommandHandler) {
	s.handlers.Add(string(topic), h, false)
}

func (s *Service) onMessage(from host.Client, raw []byte) {
	msg, err := bus.ParseWorkerMessage(raw)
	if err != nil {
		slog.Debug("worker: service dropped malformed frame", "err", err)
		return
	}
	handlers := s.handlers.Find(string(msg.Command))
	if len(handlers) == 0 {
		slog.Debug("worker: service has no handler", "command", msg.Command)
		return
	}
	cmd := Command{Topic: msg.Command, Payload: msg.Payload, From: from}
	for _, h := range handlers {
		h.Callback(cmd)
	}
}

// Broadcast posts {command: topic, payload} to every client the worker
// controls. It returns the first delivery error, after trying them all.
func (s *Service) Broadcast(topic bus.Topic, payload any) error {
	s.mu.Lock()
	scope := s.scope
	s.mu.Unlock()
	if scope == nil {
		return fmt.Errorf("broadcast %s: service not installed", topic)
	}

	msg, err := bus.NewWorkerMessage(topic, payload)
	if err != nil {
		return err
	}
	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal worker message: %w", err)
	}

	var first error
	clients := scope.Clients()
	for _, c := range clients {
		if err := c.PostMessage(raw); err != nil && first == nil {
			first = fmt.Errorf("broadcast %s to %s: %w", topic, c.ID(), err)
		}
	}
	slog.Debug("worker: broadcast", "command", topic, "clients", len(clients))
	return first
}
