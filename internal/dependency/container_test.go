package dependency

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/config"
	"github.com/crystaldolphin/pushbridge/internal/helper"
	"github.com/crystaldolphin/pushbridge/internal/transport"
	"github.com/crystaldolphin/pushbridge/internal/window"
)

func TestNew_WiresHelperProcess(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Helper.AllowedOrigin = ""
	cfg.Embedder.Origin = "https://publisher.example"
	cfg.Worker.Permission = bus.PermissionDenied

	c, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.Helper() == nil || c.Server() == nil || c.Subscriptions() == nil {
		t.Fatal("container has unresolved services")
	}
	if got := c.AllowedOrigin(); got != "https://publisher.example" {
		t.Errorf("allowed origin = %q", got)
	}
	if got := c.Host().NotificationPermission(); got != bus.PermissionDenied {
		t.Errorf("permission = %q", got)
	}
	if got := c.Server().Origin(); got != cfg.Helper.Origin {
		t.Errorf("server origin = %q", got)
	}
}

func TestHelperOverSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ts := httptest.NewUnstartedServer(nil)
	helperOrigin := "http://" + ts.Listener.Addr().String()

	cfg := config.DefaultConfig()
	cfg.Helper.Origin = helperOrigin
	cfg.Helper.AllowedOrigin = "https://publisher.example"
	cfg.Worker.ScriptURL = helperOrigin + "/sw.js"

	c, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ts.Config.Handler = c.Server()
	ts.Start()
	defer ts.Close()

	go func() { _ = c.Helper().Run(ctx, c.AllowedOrigin()) }()
	for c.Embedder().State() != window.StateListening {
		if ctx.Err() != nil {
			t.Fatal("helper never started listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	endpoint := "ws://" + ts.Listener.Addr().String() + "/"

	// A socket presenting the wrong origin never completes the handshake.
	evilTarget, err := transport.Dial(ctx, endpoint, "https://evil.example")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer evilTarget.Close()
	evil := window.New(nil, "evil")
	evilCtx, evilCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer evilCancel()
	if err := evil.Connect(evilCtx, evilTarget, helperOrigin); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("evil connect: expected deadline, got %v", err)
	}

	target, err := transport.Dial(ctx, endpoint, "https://publisher.example")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer target.Close()
	m := window.New(nil, "embedder")
	if err := m.Connect(ctx, target, helperOrigin); err != nil {
		t.Fatalf("connect: %v", err)
	}
	client := helper.NewClient(m)

	st, err := client.ServiceWorkerState(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.IsControllingFrame || st.URL != nil || st.State != nil {
		t.Errorf("expected no controller, got %+v", st)
	}

	if err := client.RegisterServiceWorker(ctx, cfg.Worker.ScriptURL, bus.RegistrationOptions{Scope: "/"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	subscribed, err := client.SubscriptionState(ctx)
	if err != nil {
		t.Fatalf("subscription state: %v", err)
	}
	if subscribed {
		t.Error("expected no subscription")
	}
	if err := client.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if c.Subscriptions().Current() == nil {
		t.Error("worker store should hold the subscription")
	}
}
