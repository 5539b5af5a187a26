package transport

import "sync"

// Inbox is an unbounded FIFO delivered on its own goroutine. Items are held
// while no handler is installed.
type Inbox[T any] struct {
	mu      sync.Mutex
	queue   []T
	handler func(T)
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewInbox starts an Inbox with no handler.
func NewInbox[T any]() *Inbox[T] {
	in := &Inbox[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go in.run()
	return in
}

// Push queues item. It reports false when the inbox is closed.
func (in *Inbox[T]) Push(item T) bool {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}
	in.queue = append(in.queue, item)
	in.mu.Unlock()

	in.signal()
	return true
}

// SetHandler installs (or with nil, removes) the delivery handler.
func (in *Inbox[T]) SetHandler(h func(T)) {
	in.mu.Lock()
	in.handler = h
	in.mu.Unlock()

	in.signal()
}

// HasHandler reports whether a handler is installed.
func (in *Inbox[T]) HasHandler() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.handler != nil
}

// Close stops delivery and drops anything still queued.
func (in *Inbox[T]) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	in.queue = nil
	close(in.done)
}

// Closed reports whether Close has been called.
func (in *Inbox[T]) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

func (in *Inbox[T]) signal() {
	select {
	case in.wake <- struct{}{}:
	default:
	}
}

func (in *Inbox[T]) run() {
	for {
		select {
		case <-in.done:
			return
		case <-in.wake:
		}
		for {
			in.mu.Lock()
			if in.closed || in.handler == nil || len(in.queue) == 0 {
				in.mu.Unlock()
				break
			}
			item := in.queue[0]
			var zero T
			in.queue[0] = zero
			in.queue = in.queue[1:]
			h := in.handler
			in.mu.Unlock()

			h(item)
		}
	}
}
