package window

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/transport"
)

const (
	embedderOrigin = "https://publisher.example"
	helperOrigin   = "https://helper.example"
	testTimeout    = 2 * time.Second
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func waitState(t *testing.T, m *Messenger, want State) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("messenger %s: state = %s, want %s", m.name, m.State(), want)
}

func startListening(t *testing.T, m *Messenger, origins ...string) <-chan error {
	t.Helper()
	ctx := testContext(t)
	errc := make(chan error, 1)
	go func() { errc <- m.Listen(ctx, origins) }()
	waitState(t, m, StateListening)
	return errc
}

// connectPair binds a helper-side listener and an embedder-side connector.
func connectPair(t *testing.T) (listener, connector *Messenger) {
	t.Helper()
	helperWin := transport.NewWindow(helperOrigin)
	embedderWin := transport.NewWindow(embedderOrigin)

	listener = New(helperWin, "helper")
	connector = New(embedderWin, "embedder")
	t.Cleanup(func() {
		listener.Close()
		connector.Close()
	})

	errc := startListening(t, listener, embedderOrigin)
	if err := connector.Connect(testContext(t), helperWin.TargetFrom(embedderWin), helperOrigin); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("listen: %v", err)
	}
	return listener, connector
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func decodeString(t *testing.T, msg *Message) string {
	t.Helper()
	var s string
	if err := msg.Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return s
}

func TestHandshake_BothSidesConnected(t *testing.T) {
	listener, connector := connectPair(t)

	if listener.State() != StateConnected {
		t.Errorf("listener state = %s", listener.State())
	}
	if connector.State() != StateConnected {
		t.Errorf("connector state = %s", connector.State())
	}

	if err := listener.Listen(testContext(t), []string{embedderOrigin}); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second listen: expected ErrAlreadyConnected, got %v", err)
	}
	target := transport.NewWindow(helperOrigin).TargetFrom(transport.NewWindow(embedderOrigin))
	if err := connector.Connect(testContext(t), target, helperOrigin); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second connect: expected ErrAlreadyConnected, got %v", err)
	}
	if listener.State() != StateConnected || connector.State() != StateConnected {
		t.Error("rejected calls must not alter channel state")
	}
}

// The permission dialog connects back to the embedder that opened it,
// targeting any origin; the embedder listens for the dialog's origin.
func TestHandshake_DialogConnectsToEmbedder(t *testing.T) {
	embedderWin := transport.NewWindow(embedderOrigin)
	dialogWin := transport.NewWindow(helperOrigin)
	embedder := New(embedderWin, "embedder")
	dialog := New(dialogWin, "dialog")
	defer embedder.Close()
	defer dialog.Close()

	errc := startListening(t, embedder, helperOrigin)
	if err := dialog.Connect(testContext(t), embedderWin.TargetFrom(dialogWin), bus.WildcardOrigin); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("listen: %v", err)
	}

	embedder.On("permission-result", func(msg *Message) { _ = msg.Respond("ack") })
	reply, err := dialog.Request(testContext(t), "permission-result", "granted")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := decodeString(t, reply); got != "ack" {
		t.Errorf("reply = %q", got)
	}
}

func TestListen_IgnoresDisallowedOriginsAndNoise(t *testing.T) {
	helperWin := transport.NewWindow(helperOrigin)
	listener := New(helperWin, "helper")
	errc := startListening(t, listener, "https://other.example", embedderOrigin+"/some/path")

	// A hostile frame with a valid handshake shape but the wrong origin.
	evilWin := transport.NewWindow("https://evil.example")
	evil := New(evilWin, "evil")
	evilCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := evil.Connect(evilCtx, helperWin.TargetFrom(evilWin), helperOrigin); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("evil connect: expected deadline, got %v", err)
	}

	// Allowed origin, wrong topic.
	embedderWin := transport.NewWindow(embedderOrigin)
	_, stray := transport.NewMessageChannel()
	noise, _ := bus.Envelope{Topic: "NOT_A_HANDSHAKE"}.Marshal()
	_ = helperWin.TargetFrom(embedderWin).PostMessage(noise, helperOrigin, []transport.Port{stray})
	// Allowed origin, garbage payload.
	_ = helperWin.TargetFrom(embedderWin).PostMessage([]byte("{{{"), helperOrigin, nil)

	time.Sleep(50 * time.Millisecond)
	if listener.State() != StateListening {
		t.Fatalf("expected listener to stay listening, got %s", listener.State())
	}

	connector := New(embedderWin, "embedder")
	if err := connector.Connect(testContext(t), helperWin.TargetFrom(embedderWin), helperOrigin); err != nil {
		t.Fatalf("allowed connect: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("listen: %v", err)
	}
	if evil.State() != StateConnecting {
		t.Errorf("evil messenger should never connect, state = %s", evil.State())
	}
}

func TestListen_SecondHandshakeIgnored(t *testing.T) {
	helperWin := transport.NewWindow(helperOrigin)
	listener := New(helperWin, "helper")
	errc := startListening(t, listener, embedderOrigin)

	embedderWin := transport.NewWindow(embedderOrigin)
	first := New(embedderWin, "first")
	if err := first.Connect(testContext(t), helperWin.TargetFrom(embedderWin), helperOrigin); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	<-errc

	second := New(embedderWin, "second")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := second.Connect(ctx, helperWin.TargetFrom(embedderWin), helperOrigin); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second connect: expected deadline, got %v", err)
	}
}

func TestListen_TwiceRejects(t *testing.T) {
	listener := New(transport.NewWindow(helperOrigin), "helper")
	startListening(t, listener, embedderOrigin)

	err := listener.Listen(testContext(t), []string{embedderOrigin})
	if !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("expected ErrAlreadyListening, got %v", err)
	}
	if listener.State() != StateListening {
		t.Errorf("state changed to %s", listener.State())
	}
}

func TestUsageErrors(t *testing.T) {
	m := New(transport.NewWindow(helperOrigin), "helper")
	ctx := testContext(t)

	if err := m.Listen(ctx, nil); !errors.Is(err, ErrInvalidOrigins) {
		t.Errorf("nil origins: got %v", err)
	}
	if err := m.Listen(ctx, []string{"not an origin"}); !errors.Is(err, ErrInvalidOrigins) {
		t.Errorf("bad origin: got %v", err)
	}
	if err := m.Connect(ctx, nil, helperOrigin); !errors.Is(err, ErrNoRemote) {
		t.Errorf("nil remote: got %v", err)
	}
	target := transport.NewWindow(helperOrigin).TargetFrom(transport.NewWindow(embedderOrigin))
	if err := m.Connect(ctx, target, ""); !errors.Is(err, ErrNoOrigin) {
		t.Errorf("empty origin: got %v", err)
	}
	if _, err := m.Send("topic", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send before connect: got %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("usage errors must leave state idle, got %s", m.State())
	}

	connectOnly := New(nil, "connect-only")
	if err := connectOnly.Listen(ctx, []string{embedderOrigin}); !errors.Is(err, ErrNoLocalContext) {
		t.Errorf("listen without context: got %v", err)
	}
}

func TestSend_ReplyResolvesOnce(t *testing.T) {
	listener, connector := connectPair(t)

	listener.On("greet", func(msg *Message) {
		_ = msg.Respond("hello " + decodeString(t, msg))
		// A second reply on the same id must be dropped by the sender.
		_ = msg.Respond("again")
	})

	x, err := connector.Send("greet", "world")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := x.Wait(testContext(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := decodeString(t, reply); got != "hello world" {
		t.Errorf("reply = %q", got)
	}

	// Round-trip a second request so the duplicate has certainly arrived.
	if _, err := connector.Request(testContext(t), "greet", "again"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if n := connector.Pending(); n != 0 {
		t.Errorf("expected no pending exchanges, got %d", n)
	}
	if got := decodeString(t, x.msg); got != "hello world" {
		t.Errorf("exchange re-resolved with %q", got)
	}
}

func TestReplyChain_ThreeHops(t *testing.T) {
	listener, connector := connectPair(t)
	ctx := testContext(t)

	hop3 := make(chan string, 1)
	listener.On("chain", func(msg *Message) {
		x, err := msg.Reply("hop1")
		if err != nil {
			t.Errorf("reply: %v", err)
			return
		}
		go func() {
			back, err := x.Wait(ctx)
			if err != nil {
				t.Errorf("wait hop2: %v", err)
				return
			}
			hop3 <- decodeString(t, back)
			x3, err := back.Reply("hop3")
			if err != nil {
				t.Errorf("reply hop3: %v", err)
				return
			}
			_ = x3
		}()
	})

	first, err := connector.Request(ctx, "chain", "hop0")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := decodeString(t, first); got != "hop1" {
		t.Fatalf("hop1 = %q", got)
	}
	x2, err := first.Reply("hop2")
	if err != nil {
		t.Fatalf("reply hop2: %v", err)
	}
	if got := recv(t, hop3); got != "hop2" {
		t.Fatalf("listener saw %q, want hop2", got)
	}
	third, err := x2.Wait(ctx)
	if err != nil {
		t.Fatalf("wait hop3: %v", err)
	}
	if got := decodeString(t, third); got != "hop3" {
		t.Errorf("hop3 = %q", got)
	}
}

func TestOnce_InvokedForFirstMessageOnly(t *testing.T) {
	listener, connector := connectPair(t)

	var onceCalls, onCalls atomic.Int32
	seen := make(chan struct{}, 4)
	listener.Once("tick", func(*Message) { onceCalls.Add(1) })
	listener.On("tick", func(*Message) {
		onCalls.Add(1)
		seen <- struct{}{}
	})

	for i := 0; i < 2; i++ {
		if _, err := connector.Send("tick", i); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	recv(t, seen)
	recv(t, seen)

	if onceCalls.Load() != 1 {
		t.Errorf("once listener called %d times", onceCalls.Load())
	}
	if onCalls.Load() != 2 {
		t.Errorf("on listener called %d times", onCalls.Load())
	}
}

func TestOff_ClearsTopic(t *testing.T) {
	listener, connector := connectPair(t)

	var calls atomic.Int32
	sub := listener.On("t", func(*Message) { calls.Add(1) })
	listener.On("t", func(*Message) { calls.Add(1) })
	listener.Off("t", sub)
	listener.Off("t", nil)

	done := make(chan struct{})
	listener.On("sync", func(msg *Message) {
		_ = msg.Respond(nil)
		close(done)
	})
	_, _ = connector.Send("t", nil)
	if _, err := connector.Request(testContext(t), "sync", nil); err != nil {
		t.Fatalf("sync: %v", err)
	}
	recv(t, done)
	if calls.Load() != 0 {
		t.Errorf("expected cleared topic, got %d calls", calls.Load())
	}
}

func TestConcurrentExchanges_CompleteOutOfOrder(t *testing.T) {
	listener, connector := connectPair(t)

	release := make(chan struct{})
	listener.On("slow", func(msg *Message) {
		go func() {
			<-release
			_ = msg.Respond("slow")
		}()
	})
	listener.On("fast", func(msg *Message) { _ = msg.Respond("fast") })

	slow, err := connector.Send("slow", nil)
	if err != nil {
		t.Fatal(err)
	}
	fast, err := connector.Send("fast", nil)
	if err != nil {
		t.Fatal(err)
	}
	if slow.ID() == fast.ID() {
		t.Fatal("correlation ids must be unique")
	}

	msg, err := fast.Wait(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeString(t, msg); got != "fast" {
		t.Errorf("fast = %q", got)
	}
	select {
	case <-slow.Done():
		t.Fatal("slow exchange resolved early")
	default:
	}

	close(release)
	msg, err = slow.Wait(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeString(t, msg); got != "slow" {
		t.Errorf("slow = %q", got)
	}
}

func TestClose_RejectsFurtherSends(t *testing.T) {
	_, connector := connectPair(t)
	if err := connector.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := connector.Send("x", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
