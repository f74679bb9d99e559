package network

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/dataports/natsclient"
)

// NATSTransport carries adapter traffic over a natsclient.Client. The client
// is owned by the caller and stays open after Close.
type NATSTransport struct {
	client *natsclient.Client

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSTransport creates a transport on a connected client
func NewNATSTransport(client *natsclient.Client) *NATSTransport {
	return &NATSTransport{client: client}
}

// Publish implements Transport
func (t *NATSTransport) Publish(ctx context.Context, subject string, data []byte) error {
	return t.client.Publish(ctx, subject, data)
}

// Subscribe implements Transport
func (t *NATSTransport) Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error) {
	sub, err := t.client.Subscribe(ctx, subject, h)
	if err != nil {
		return nil, err
	}
	t.track(sub)
	return sub, nil
}

// Request implements Transport
func (t *NATSTransport) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	return t.client.Request(ctx, subject, data)
}

// Serve implements Transport
func (t *NATSTransport) Serve(ctx context.Context, subject string, h RequestHandler) (Subscription, error) {
	sub, err := t.client.Reply(ctx, subject, natsclient.ReplyHandler(h))
	if err != nil {
		return nil, err
	}
	t.track(sub)
	return sub, nil
}

func (t *NATSTransport) track(sub *nats.Subscription) {
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
}

// Close removes every subscription made through the transport
func (t *NATSTransport) Close(_ context.Context) error {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		if sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	return nil
}
