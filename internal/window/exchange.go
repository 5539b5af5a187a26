package window

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/crystaldolphin/pushbridge/internal/bus"
)

// Handler receives a new (non-reply) message.
type Handler func(msg *Message)

// Message is an inbound envelope together with the means to answer it.
type Message struct {
	Topic bus.Topic
	Data  json.RawMessage

	id string
	m  *Messenger
}

// ID is the correlation id the message belongs to.
func (msg *Message) ID() string { return msg.id }

// Decode unmarshals the payload into v.
func (msg *Message) Decode(v any) error {
	return bus.Decode(msg.Data, v)
}

// Reply sends a correlated reply and returns an Exchange that resolves if
// the other side replies to the reply.
func (msg *Message) Reply(data any) (*Exchange, error) {
	return msg.m.post(msg.id, msg.Topic, data, true, true)
}

// Respond sends a correlated reply without waiting for an answer to it. A
// reply to a response is dropped as unmatched.
func (msg *Message) Respond(data any) error {
	_, err := msg.m.post(msg.id, msg.Topic, data, true, false)
	return err
}

// Exchange is one in-flight request awaiting its reply.
type Exchange struct {
	id    string
	topic bus.Topic

	once sync.Once
	done chan struct{}
	msg  *Message
}

func newExchange(id string, topic bus.Topic) *Exchange {
	return &Exchange{id: id, topic: topic, done: make(chan struct{})}
}

func (x *Exchange) ID() string       { return x.id }
func (x *Exchange) Topic() bus.Topic { return x.topic }

// Done is closed when the reply arrives.
func (x *Exchange) Done() <-chan struct{} { return x.done }

// Wait blocks until the reply arrives or ctx ends. An exchange whose remote
// never answers stays pending; ctx is the only way out.
func (x *Exchange) Wait(ctx context.Context) (*Message, error) {
	select {
	case <-x.done:
		return x.msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (x *Exchange) resolve(msg *Message) {
	x.once.Do(func() {
		x.msg = msg
		close(x.done)
	})
}
