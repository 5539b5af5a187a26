// Package dependency wires the helper process using go.uber.org/dig.
package dependency

import (
	"time"

	"go.uber.org/dig"

	"github.com/crystaldolphin/pushbridge/internal/config"
	"github.com/crystaldolphin/pushbridge/internal/helper"
	"github.com/crystaldolphin/pushbridge/internal/host"
	"github.com/crystaldolphin/pushbridge/internal/subscription"
	"github.com/crystaldolphin/pushbridge/internal/transport"
	"github.com/crystaldolphin/pushbridge/internal/window"
	"github.com/crystaldolphin/pushbridge/internal/worker"
)

// Container holds the resolved helper process singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	host    *host.Simulator
	server  *transport.Server
	embed   *window.Messenger
	helper  *helper.Bridge
	store   *subscription.Store
	allowed AllowedOrigin
}

func (c *Container) Host() *host.Simulator              { return c.host }
func (c *Container) Server() *transport.Server          { return c.server }
func (c *Container) Embedder() *window.Messenger        { return c.embed }
func (c *Container) Helper() *helper.Bridge             { return c.helper }
func (c *Container) Subscriptions() *subscription.Store { return c.store }
func (c *Container) AllowedOrigin() string              { return string(c.allowed) }

// Close stops the socket server and the host event loops.
func (c *Container) Close() {
	c.server.Close()
	c.host.Close()
}

// AllowedOrigin is a named string type so dig can distinguish the embedder
// origin from other strings.
type AllowedOrigin string

// New builds and wires the helper process from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(newStore); err != nil {
		return nil, err
	}
	if err := d.Provide(newHost); err != nil {
		return nil, err
	}
	if err := d.Provide(newServer); err != nil {
		return nil, err
	}
	if err := d.Provide(newEmbedderMessenger); err != nil {
		return nil, err
	}
	if err := d.Provide(newWorkerBridge); err != nil {
		return nil, err
	}
	if err := d.Provide(newHelperBridge); err != nil {
		return nil, err
	}
	if err := d.Provide(resolveAllowedOrigin); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		sim *host.Simulator,
		server *transport.Server,
		embed *window.Messenger,
		bridge *helper.Bridge,
		store *subscription.Store,
		allowed AllowedOrigin,
	) {
		result = &Container{
			host:    sim,
			server:  server,
			embed:   embed,
			helper:  bridge,
			store:   store,
			allowed: allowed,
		}
	})
	return result, err
}

func newStore(cfg *config.Config) *subscription.Store {
	return subscription.NewStore(cfg.Worker.EndpointBase)
}

func newHost(cfg *config.Config, store *subscription.Store) *host.Simulator {
	sim := host.NewSimulator(host.SimulatorOptions{Permission: cfg.Worker.Permission})
	sim.Serve(cfg.Worker.ScriptURL, subscription.Script(store))
	return sim
}

func newServer(cfg *config.Config) *transport.Server {
	timeout := time.Duration(cfg.Helper.ClaimTimeoutSeconds) * time.Second
	return transport.NewServer(cfg.HelperOrigin(), timeout)
}

func newEmbedderMessenger(server *transport.Server) *window.Messenger {
	return window.New(server, "helper")
}

func newWorkerBridge(sim *host.Simulator) *worker.Bridge {
	return worker.NewBridge(sim)
}

func newHelperBridge(cfg *config.Config, m *window.Messenger, wb *worker.Bridge, sim *host.Simulator) *helper.Bridge {
	return helper.NewBridge(m, wb, sim, sim, helper.Options{
		LegacyRegistrationReplies: cfg.Helper.LegacyRegistrationReplies,
	})
}

func resolveAllowedOrigin(cfg *config.Config) AllowedOrigin {
	if cfg.Helper.AllowedOrigin != "" {
		return AllowedOrigin(cfg.Helper.AllowedOrigin)
	}
	return AllowedOrigin(cfg.Embedder.Origin)
}
