// Package helper runs the helper frame: it answers embedder queries about
// notification permission and the service worker, and relays worker
// queries to the controlling worker.
package helper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/host"
	"github.com/crystaldolphin/pushbridge/internal/metrics"
	"github.com/crystaldolphin/pushbridge/internal/window"
	"github.com/crystaldolphin/pushbridge/internal/worker"
)

// Validation errors reported to the embedder as success:false.
var (
	ErrMissingWorkerURL           = errors.New("workerUrl is required")
	ErrMissingRegistrationOptions = errors.New("registrationOptions is required")
	ErrMissingTopic               = errors.New("topic is required")
)

// Options tune the dispatch table.
type Options struct {
	// LegacyRegistrationReplies reports registration failures inside a
	// successful reply as {"error": "..."}, for embedders deployed against
	// older helpers.
	LegacyRegistrationReplies bool
}

// Bridge owns the embedder-facing messenger and the worker-facing bridge.
type Bridge struct {
	embedder  *window.Messenger
	worker    *worker.Bridge
	container host.Container
	perms     host.Permissions
	opts      Options

	wireOnce sync.Once
	ctx      context.Context
}

// NewBridge assembles a Bridge.
func NewBridge(embedder *window.Messenger, wb *worker.Bridge, container host.Container, perms host.Permissions, opts Options) *Bridge {
	return &Bridge{
		embedder:  embedder,
		worker:    wb,
		container: container,
		perms:     perms,
		opts:      opts,
		ctx:       context.Background(),
	}
}

// Start installs the dispatch table, starts the worker bridge listening in
// the background and blocks until the embedder at allowedOrigin connects.
// ctx bounds the whole helper lifetime, including work started by handlers.
func (b *Bridge) Start(ctx context.Context, allowedOrigin string) error {
	b.wireOnce.Do(func() {
		b.ctx = ctx
		b.embedder.On(bus.TopicNotificationPermissionState, b.onPermission)
		b.embedder.On(bus.TopicServiceWorkerState, b.onWorkerState)
		b.embedder.On(bus.TopicServiceWorkerRegistration, b.onRegistration)
		b.embedder.On(bus.TopicServiceWorkerQuery, b.onWorkerQuery)

		go func() {
			if err := b.worker.Listen(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("helper: worker bridge not listening", "err", err)
			}
		}()
	})

	slog.Info("helper: waiting for embedder", "origin", allowedOrigin)
	if err := b.embedder.Listen(ctx, []string{allowedOrigin}); err != nil {
		return fmt.Errorf("listen for embedder: %w", err)
	}
	return nil
}

// Run is Start followed by waiting for ctx to end.
func (b *Bridge) Run(ctx context.Context, allowedOrigin string) error {
	if err := b.Start(ctx, allowedOrigin); err != nil {
		return err
	}
	<-ctx.Done()
	slog.Info("helper: stopped")
	return ctx.Err()
}

func (b *Bridge) onPermission(msg *window.Message) {
	b.succeed(msg, time.Now(), b.perms.NotificationPermission())
}

func (b *Bridge) onWorkerState(msg *window.Message) {
	started := time.Now()
	var state bus.WorkerState
	if ctrl := b.container.Controller(); ctrl != nil {
		url, st := ctrl.ScriptURL(), ctrl.State()
		state = bus.WorkerState{IsControllingFrame: true, URL: &url, State: &st}
	}
	b.succeed(msg, started, state)
}

func (b *Bridge) onRegistration(msg *window.Message) {
	started := time.Now()
	var req bus.RegistrationRequest
	if err := msg.Decode(&req); err != nil {
		b.fail(msg, started, fmt.Errorf("decode registration request: %w", err))
		return
	}
	if req.WorkerURL == "" {
		b.fail(msg, started, ErrMissingWorkerURL)
		return
	}
	if req.RegistrationOptions == nil {
		b.fail(msg, started, ErrMissingRegistrationOptions)
		return
	}

	go func() {
		err := b.container.Register(b.ctx, req.WorkerURL, *req.RegistrationOptions)
		if err != nil {
			slog.Warn("helper: worker registration failed", "url", req.WorkerURL, "err", err)
		}
		if b.opts.LegacyRegistrationReplies {
			var outcome bus.RegistrationOutcome
			if err != nil {
				s := err.Error()
				outcome.Error = &s
			}
			b.succeed(msg, started, outcome)
			return
		}
		if err != nil {
			b.fail(msg, started, err)
			return
		}
		b.succeed(msg, started, nil)
	}()
}

func (b *Bridge) onWorkerQuery(msg *window.Message) {
	started := time.Now()
	var q bus.WorkerQuery
	if err := msg.Decode(&q); err != nil {
		b.fail(msg, started, fmt.Errorf("decode worker query: %w", err))
		return
	}
	if q.Topic == "" {
		b.fail(msg, started, ErrMissingTopic)
		return
	}

	metrics.WorkerQueriesInFlight.Inc()
	sub := b.worker.Once(q.Topic, func(payload json.RawMessage) {
		metrics.WorkerQueriesInFlight.Dec()
		b.succeed(msg, started, payload)
	})
	go func() {
		if err := b.worker.Unicast(b.ctx, q.Topic, q.Payload); err != nil {
			metrics.WorkerQueriesInFlight.Dec()
			b.worker.Off(q.Topic, sub)
			b.fail(msg, started, fmt.Errorf("query worker: %w", err))
		}
	}()
}

func (b *Bridge) succeed(msg *window.Message, started time.Time, v any) {
	res, err := bus.Succeed(v)
	if err != nil {
		b.fail(msg, started, err)
		return
	}
	metrics.ObserveRequest(string(msg.Topic), metrics.OutcomeSuccess, started)
	b.respond(msg, res)
}

func (b *Bridge) fail(msg *window.Message, started time.Time, err error) {
	slog.Debug("helper: request failed", "topic", msg.Topic, "err", err)
	metrics.ObserveRequest(string(msg.Topic), metrics.OutcomeFailure, started)
	b.respond(msg, bus.Fail(err))
}

func (b *Bridge) respond(msg *window.Message, res bus.Result) {
	if err := msg.Respond(res); err != nil {
		slog.Warn("helper: reply not sent", "topic", msg.Topic, "err", err)
	}
}
