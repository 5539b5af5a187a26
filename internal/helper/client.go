package helper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/window"
)

// Client is the embedder side of the helper protocol.
type Client struct {
	m *window.Messenger
}

// NewClient wraps a messenger connected to a helper.
func NewClient(m *window.Messenger) *Client {
	return &Client{m: m}
}

// QueryHelper sends data under topic and unwraps the helper's Result. A
// success:false reply comes back as a *bus.RemoteError.
func (c *Client) QueryHelper(ctx context.Context, topic bus.Topic, data any) (json.RawMessage, error) {
	reply, err := c.m.Request(ctx, topic, data)
	if err != nil {
		return nil, err
	}
	var res bus.Result
	if err := reply.Decode(&res); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", topic, err)
	}
	return res.Unwrap()
}

// QueryServiceWorker relays {topic, payload} to the worker through the
// helper and returns the worker's reply payload. Keep one query per topic
// in flight.
func (c *Client) QueryServiceWorker(ctx context.Context, topic bus.Topic, payload any) (json.RawMessage, error) {
	raw, err := bus.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return c.QueryHelper(ctx, bus.TopicServiceWorkerQuery, bus.WorkerQuery{Topic: topic, Payload: raw})
}

func (c *Client) NotificationPermission(ctx context.Context) (string, error) {
	var p string
	if err := c.query(ctx, bus.TopicNotificationPermissionState, nil, &p); err != nil {
		return "", err
	}
	return p, nil
}

func (c *Client) ServiceWorkerState(ctx context.Context) (bus.WorkerState, error) {
	var st bus.WorkerState
	err := c.query(ctx, bus.TopicServiceWorkerState, nil, &st)
	return st, err
}

// RegisterServiceWorker asks the helper to register scriptURL. Failures are
// returned as *bus.RemoteError whichever reply style the helper uses.
func (c *Client) RegisterServiceWorker(ctx context.Context, scriptURL string, opts bus.RegistrationOptions) error {
	req := bus.RegistrationRequest{WorkerURL: scriptURL, RegistrationOptions: &opts}
	var outcome bus.RegistrationOutcome
	if err := c.query(ctx, bus.TopicServiceWorkerRegistration, req, &outcome); err != nil {
		return err
	}
	if outcome.Error != nil {
		return &bus.RemoteError{Message: *outcome.Error}
	}
	return nil
}

// SubscriptionState reports whether the worker holds a push subscription.
func (c *Client) SubscriptionState(ctx context.Context) (bool, error) {
	raw, err := c.QueryServiceWorker(ctx, bus.TopicSubscriptionState, nil)
	if err != nil {
		return false, err
	}
	var subscribed bool
	if err := bus.Decode(raw, &subscribed); err != nil {
		return false, fmt.Errorf("decode subscription state: %w", err)
	}
	return subscribed, nil
}

func (c *Client) Subscribe(ctx context.Context) error {
	_, err := c.QueryServiceWorker(ctx, bus.TopicSubscribe, nil)
	return err
}

func (c *Client) Unsubscribe(ctx context.Context) error {
	_, err := c.QueryServiceWorker(ctx, bus.TopicUnsubscribe, nil)
	return err
}

func (c *Client) query(ctx context.Context, topic bus.Topic, data, out any) error {
	raw, err := c.QueryHelper(ctx, topic, data)
	if err != nil {
		return err
	}
	if err := bus.Decode(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", topic, err)
	}
	return nil
}
