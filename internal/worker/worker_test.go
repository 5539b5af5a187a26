package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/host"
)

const script = "https://helper.example/sw.js"

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

// newControlledPage registers svc as the worker script and waits until it
// controls the page.
func newControlledPage(t *testing.T, svc *Service) (*host.Simulator, *Bridge) {
	t.Helper()
	sim := host.NewSimulator(host.SimulatorOptions{})
	t.Cleanup(sim.Close)
	sim.Serve(script, svc.Install)
	if err := sim.Register(testContext(t), script, bus.RegistrationOptions{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	b := NewBridge(sim)
	if err := b.Listen(testContext(t)); err != nil {
		t.Fatalf("listen: %v", err)
	}
	return sim, b
}

func TestWaitUntilControlled_NeedsActivation(t *testing.T) {
	sim := host.NewSimulator(host.SimulatorOptions{ManualLifecycle: true})
	defer sim.Close()
	sim.Serve(script, func(host.WorkerScope) {})
	b := NewBridge(sim)

	done := make(chan error, 1)
	go func() { done <- b.WaitUntilControlled(testContext(t)) }()

	if err := sim.Register(context.Background(), script, bus.RegistrationOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := sim.Claim(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		t.Fatalf("resolved before activation: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if b.IsControlled() {
		t.Fatal("IsControlled before activation")
	}

	if err := sim.Activate(); err != nil {
		t.Fatal(err)
	}
	if err := recv(t, done); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !b.IsControlled() {
		t.Error("expected IsControlled after activation")
	}

	// Already controlled: returns at once, even on a finished context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.WaitUntilControlled(ctx); err != nil {
		t.Errorf("controlled wait failed: %v", err)
	}
}

func TestWaitUntilControlled_OnlyContextEndsIt(t *testing.T) {
	sim := host.NewSimulator(host.SimulatorOptions{})
	defer sim.Close()
	b := NewBridge(sim)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.WaitUntilControlled(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestUnicast_WorkerBroadcastReply(t *testing.T) {
	svc := NewService()
	svc.On(bus.TopicSubscriptionState, func(cmd Command) {
		if !bus.IsNull(cmd.Payload) {
			t.Errorf("payload = %s", cmd.Payload)
		}
		_ = svc.Broadcast(cmd.Topic, true)
	})
	_, b := newControlledPage(t, svc)

	got := make(chan json.RawMessage, 1)
	b.Once(bus.TopicSubscriptionState, func(p json.RawMessage) { got <- p })
	if err := b.Unicast(testContext(t), bus.TopicSubscriptionState, nil); err != nil {
		t.Fatalf("unicast: %v", err)
	}
	if p := recv(t, got); string(p) != "true" {
		t.Errorf("reply payload = %s", p)
	}
}

func TestOnceAndOn_Dispatch(t *testing.T) {
	svc := NewService()
	svc.On("echo", func(cmd Command) { _ = svc.Broadcast("echo", cmd.Payload) })
	_, b := newControlledPage(t, svc)

	// Listening twice must not double deliveries.
	if err := b.Listen(testContext(t)); err != nil {
		t.Fatal(err)
	}

	var onceCalls atomic.Int32
	persistent := make(chan string, 4)
	b.Once("echo", func(json.RawMessage) { onceCalls.Add(1) })
	b.On("echo", func(p json.RawMessage) { persistent <- string(p) })

	for _, n := range []string{"1", "2"} {
		if err := b.Unicast(testContext(t), "echo", json.RawMessage(n)); err != nil {
			t.Fatal(err)
		}
		if got := recv(t, persistent); got != n {
			t.Errorf("persistent handler got %s, want %s", got, n)
		}
	}
	select {
	case extra := <-persistent:
		t.Errorf("duplicate delivery %s", extra)
	case <-time.After(30 * time.Millisecond):
	}
	if onceCalls.Load() != 1 {
		t.Errorf("once handler called %d times", onceCalls.Load())
	}
}

func TestOff_NilClearsTopic(t *testing.T) {
	svc := NewService()
	svc.On("echo", func(cmd Command) { _ = svc.Broadcast("echo", cmd.Payload) })
	svc.On("sync", func(cmd Command) { _ = svc.Broadcast("sync", nil) })
	_, b := newControlledPage(t, svc)

	var calls atomic.Int32
	sub := b.On("echo", func(json.RawMessage) { calls.Add(1) })
	b.On("echo", func(json.RawMessage) { calls.Add(1) })
	b.Off("echo", sub)
	b.Off("echo", nil)

	synced := make(chan struct{}, 1)
	b.Once("sync", func(json.RawMessage) { synced <- struct{}{} })
	_ = b.Unicast(testContext(t), "echo", 1)
	_ = b.Unicast(testContext(t), "sync", nil)
	recv(t, synced)

	if calls.Load() != 0 {
		t.Errorf("cleared topic still dispatched %d times", calls.Load())
	}
}

func TestService_BroadcastBeforeInstall(t *testing.T) {
	if err := NewService().Broadcast("x", nil); err == nil {
		t.Error("expected error broadcasting from an uninstalled service")
	}
}
