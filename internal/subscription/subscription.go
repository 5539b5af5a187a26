// Package subscription implements the push worker's subscription commands.
// Every command is answered by broadcasting a message on the same topic.
package subscription

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/host"
	"github.com/crystaldolphin/pushbridge/internal/worker"
)

// DefaultEndpointBase prefixes the endpoints handed out by Store.
const DefaultEndpointBase = "https://push.example/send/"

// Subscription is the worker's push subscription record.
type Subscription struct {
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store holds at most one subscription in memory.
type Store struct {
	endpointBase string

	mu  sync.Mutex
	sub *Subscription
}

// NewStore returns an empty Store. An empty endpointBase uses
// DefaultEndpointBase.
func NewStore(endpointBase string) *Store {
	if endpointBase == "" {
		endpointBase = DefaultEndpointBase
	}
	if !strings.HasSuffix(endpointBase, "/") {
		endpointBase += "/"
	}
	return &Store{endpointBase: endpointBase}
}

// Current returns a copy of the subscription, or nil.
func (s *Store) Current() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	cp := *s.sub
	return &cp
}

// Subscribe creates a subscription unless one exists and returns it.
func (s *Store) Subscribe() Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		s.sub = &Subscription{
			Endpoint:  s.endpointBase + uuid.NewString(),
			CreatedAt: time.Now(),
		}
	}
	return *s.sub
}

// Unsubscribe drops the subscription and reports whether one existed.
func (s *Store) Unsubscribe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.sub != nil
	s.sub = nil
	return had
}

// Register wires the subscription commands onto svc.
func Register(svc *worker.Service, store *Store) {
	svc.On(bus.TopicSubscriptionState, func(cmd worker.Command) {
		reply(svc, cmd.Topic, store.Current() != nil)
	})
	svc.On(bus.TopicSubscribe, func(cmd worker.Command) {
		sub := store.Subscribe()
		slog.Info("subscription: subscribed", "endpoint", sub.Endpoint)
		reply(svc, cmd.Topic, nil)
	})
	svc.On(bus.TopicUnsubscribe, func(cmd worker.Command) {
		if store.Unsubscribe() {
			slog.Info("subscription: unsubscribed")
		}
		reply(svc, cmd.Topic, nil)
	})
}

func reply(svc *worker.Service, topic bus.Topic, payload any) {
	if err := svc.Broadcast(topic, payload); err != nil {
		slog.Warn("subscription: broadcast failed", "command", topic, "err", err)
	}
}

// Script returns the push worker script. The service observer is installed
// first, before any command handler is registered.
func Script(store *Store) host.BootFunc {
	return func(scope host.WorkerScope) {
		svc := worker.NewService()
		svc.Install(scope)
		Register(svc, store)
	}
}
